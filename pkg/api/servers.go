package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/properties"
	"github.com/craftd/msm/pkg/types"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.deps.Store.ListServers()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
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
	s.writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var spec types.CreateServerSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Engine.Create(r.Context(), &spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleImportServer(w http.ResponseWriter, r *http.Request) {
	var spec types.ImportServerSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Engine.Import(r.Context(), &spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var spec types.UpdateServerSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Engine.Update(id, &spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	keepFiles := r.URL.Query().Get("keep_files") == "true"
	if err := s.deps.Engine.Delete(id, keepFiles); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Watchdog.Cancel(id)
	s.writeJSON(w, http.StatusNoContent, nil)
}

// pidResponse answers start and restart.
type pidResponse struct {
	PID int32 `json:"pid"`
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pid, err := s.deps.Engine.Start(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pidResponse{PID: pid})
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Operator intent: a crash-loop restart pending for this server must
	// not undo the stop.
	s.deps.Watchdog.Cancel(id)
	if err := s.deps.Engine.Stop(r.Context(), id, s.cfg.StopGrace); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRestartServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pid, err := s.deps.Engine.Restart(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pidResponse{PID: pid})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.deps.Engine.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type versionsResponse struct {
	Distro   types.Distro `json:"distro"`
	Versions []string     `json:"versions"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	d := types.Distro(chi.URLParam(r, "distro"))
	if !d.Valid() {
		s.writeError(w, r, apierr.Validation("distro", "unknown distribution"))
		return
	}
	snapshots := r.URL.Query().Get("snapshots") == "true"
	versions, err := s.deps.Versions.Versions(r.Context(), d, snapshots)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, versionsResponse{Distro: d, Versions: versions})
}

func (s *Server) handleGetProperties(w http.ResponseWriter, r *http.Request) {
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
	file, err := properties.Load(srv.Dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, file.All())
}

// handlePatchProperties merges key/value pairs into server.properties. A
// server-port change goes through the engine first so the database row and
// the file can never disagree.
func (s *Server) handlePatchProperties(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, r, apierr.Validation("body", "invalid json: "+err.Error()))
		return
	}
	if len(patch) == 0 {
		s.writeError(w, r, apierr.Validation("body", "no properties to set"))
		return
	}

	for key, value := range patch {
		if err := properties.Validate(key, value); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	srv, err := s.deps.Store.GetServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if raw, ok := patch["server-port"]; ok {
		port, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apierr.Validation("server-port", "must be an integer"))
			return
		}
		if port != srv.Port {
			if _, err := s.deps.Engine.Update(id, &types.UpdateServerSpec{Port: &port}); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
	}

	file, err := properties.Load(srv.Dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for key, value := range patch {
		file.Set(key, value)
	}
	if err := file.Save(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, file.All())
}
