package api

import (
	"net/http"
	"strconv"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/types"
)

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetServer(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.deps.Store.ListPluginsByServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSearchPlugins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.writeError(w, r, apierr.Validation("q", "search query is required"))
		return
	}
	source := types.PluginSource(q.Get("source"))
	if source == "" {
		source = types.SourceModrinth
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apierr.Validation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	results, err := s.deps.Plugins.Search(r.Context(), source, query, q.Get("version"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Store.GetServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req plugins.InstallRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Plugins.Install(r.Context(), srv, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

// serverPlugin resolves the {id}/{pluginID} pair and rejects records that
// belong to a different server than the path names.
func (s *Server) serverPlugin(r *http.Request) (*types.Server, *types.Plugin, error) {
	serverID, err := pathID(r, "id")
	if err != nil {
		return nil, nil, err
	}
	pluginID, err := pathID(r, "pluginID")
	if err != nil {
		return nil, nil, err
	}
	srv, err := s.deps.Store.GetServer(serverID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.deps.Store.GetPlugin(pluginID)
	if err != nil {
		return nil, nil, err
	}
	if rec.ServerID != srv.ID {
		return nil, nil, apierr.NotFound("plugin")
	}
	return srv, rec, nil
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	s.setPluginEnabled(w, r, true)
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	s.setPluginEnabled(w, r, false)
}

func (s *Server) setPluginEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	srv, rec, err := s.serverPlugin(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.deps.Plugins.SetEnabled(srv, rec, enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUninstallPlugin(w http.ResponseWriter, r *http.Request) {
	srv, rec, err := s.serverPlugin(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Plugins.Uninstall(srv, rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
