package api

import (
	"net/http"
	"time"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/scheduler"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.deps.Store.ListSchedules()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleListServerSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetServer(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	schedules, err := s.deps.Store.ListSchedulesByServer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedules)
}

// handleCreateSchedule validates the cron expression and action up front and
// seeds next_run so the schedule fires without waiting for a daemon restart.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	serverID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Store.GetServer(serverID); err != nil {
		s.writeError(w, r, err)
		return
	}

	var spec types.CreateScheduleSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !spec.Action.Valid() {
		s.writeError(w, r, apierr.Validation("action", "unknown schedule action"))
		return
	}
	if err := scheduler.ValidateCron(spec.Cron); err != nil {
		s.writeError(w, r, err)
		return
	}
	if spec.Action == types.ActionCommand {
		if _, err := scheduler.CommandPayload(spec.Payload); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sc := &types.Schedule{
		ServerID:  serverID,
		Action:    spec.Action,
		Cron:      spec.Cron,
		Payload:   spec.Payload,
		Enabled:   spec.Enabled,
		CreatedAt: time.Now().UTC(),
	}
	if sc.Enabled {
		next, err := scheduler.NextAfter(sc.Cron, time.Now().UTC())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sc.NextRun = &next
	}

	err = s.deps.Store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertSchedule(sc)
		if err != nil {
			return err
		}
		sc.ID = id
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var spec types.UpdateScheduleSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	if spec.Action != nil && !spec.Action.Valid() {
		s.writeError(w, r, apierr.Validation("action", "unknown schedule action"))
		return
	}
	if spec.Cron != nil {
		if err := scheduler.ValidateCron(*spec.Cron); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	var updated *types.Schedule
	err = s.deps.Store.WithTx(func(tx *storage.Tx) error {
		sc, err := tx.GetSchedule(id)
		if err != nil {
			return err
		}
		recompute := false
		if spec.Action != nil {
			sc.Action = *spec.Action
		}
		if spec.Cron != nil && *spec.Cron != sc.Cron {
			sc.Cron = *spec.Cron
			recompute = true
		}
		if spec.Payload != nil {
			sc.Payload = *spec.Payload
		}
		if spec.Enabled != nil && *spec.Enabled != sc.Enabled {
			sc.Enabled = *spec.Enabled
			// Re-enabling recomputes from now so a stale fire time from
			// before the disable cannot trigger immediately.
			recompute = sc.Enabled
		}
		if sc.Action == types.ActionCommand {
			if _, err := scheduler.CommandPayload(sc.Payload); err != nil {
				return err
			}
		}
		if recompute {
			next, err := scheduler.NextAfter(sc.Cron, time.Now().UTC())
			if err != nil {
				return err
			}
			sc.NextRun = &next
		}
		if err := tx.UpdateSchedule(sc); err != nil {
			return err
		}
		updated = sc
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.deps.Store.WithTx(func(tx *storage.Tx) error {
		if _, err := tx.GetSchedule(id); err != nil {
			return err
		}
		return tx.DeleteSchedule(id)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
