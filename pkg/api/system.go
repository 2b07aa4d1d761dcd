package api

import (
	"net/http"

	"github.com/craftd/msm/pkg/types"
)

func (s *Server) handleListJava(w http.ResponseWriter, r *http.Request) {
	installs := s.deps.Java.Detect()
	if installs == nil {
		installs = []types.JavaInstall{}
	}
	s.writeJSON(w, http.StatusOK, installs)
}

type installJavaRequest struct {
	Major int `json:"major" validate:"required,min=8"`
}

func (s *Server) handleInstallJava(w http.ResponseWriter, r *http.Request) {
	var req installJavaRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	install, err := s.deps.Java.Install(r.Context(), req.Major)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, install)
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Auth.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

type createAPIKeyRequest struct {
	Label       string           `json:"label" validate:"required"`
	Permissions types.Permission `json:"permissions" validate:"required"`
}

// issuedKey is the one response that ever carries a raw key.
type issuedKey struct {
	*types.APIKey
	Key string `json:"key"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, raw, err := s.deps.Auth.Issue(req.Label, req.Permissions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, issuedKey{APIKey: rec, Key: raw})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Auth.Revoke(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
