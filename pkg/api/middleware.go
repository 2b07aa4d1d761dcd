package api

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/types"
)

// requirePermission gates a route group behind the key tiers. With no
// active keys the API is open and every caller is implicitly admin; the
// first issued key flips the whole surface to enforced.
func (s *Server) requirePermission(need types.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enforced, err := s.deps.Auth.Enabled()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !enforced {
				next.ServeHTTP(w, r)
				return
			}

			// Browser WebSocket clients cannot set headers; those carry
			// the key as a query parameter instead.
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				raw = r.URL.Query().Get("api_key")
			}

			key, err := s.deps.Auth.Verify(raw)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !key.Permissions.Allows(need) {
				s.writeError(w, r, apierr.Refused("api key lacks "+string(need)+" permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// logRequests emits one debug line per request. chi's wrapper is used so
// Hijack still reaches the websocket upgrader underneath.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Hijacked connections (websockets) never write a status.
			status = http.StatusSwitchingProtocols
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(timer.Duration().Seconds())
	})
}
