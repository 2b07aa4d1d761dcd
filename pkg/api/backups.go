package api

import (
	"net/http"

	"github.com/craftd/msm/pkg/backup"
	"github.com/craftd/msm/pkg/types"
)

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.deps.Store.ListBackups()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backup.MarkBroken(backups))
}

func (s *Server) handleListServerBackups(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetServer(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	backups, err := s.deps.Store.ListBackupsByServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backup.MarkBroken(backups))
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
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
	rec, err := s.deps.Backups.Create(r.Context(), srv, types.BackupManual)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Store.GetBackup(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	srv, err := s.deps.Store.GetServer(rec.ServerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Backups.Restore(r.Context(), rec, srv); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Store.GetBackup(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Backups.Delete(rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

type pruneResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handlePruneBackups(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetServer(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := s.deps.Backups.Prune(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pruneResponse{Removed: removed})
}
