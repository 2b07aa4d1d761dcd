package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/storage"
)

// errorBody is the wire shape of every failure: {"error": {code, message,
// details?}}.
type errorBody struct {
	Error *apierr.Error `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError renders any error through the taxonomy. Storage not-found
// errors map to 404 here so no handler can forget; everything else the
// engine already classified.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apierr.Error
	if storage.IsNotFound(err) {
		ae = &apierr.Error{Kind: apierr.KindNotFound, Code: "not_found", Message: err.Error()}
	} else {
		ae = apierr.As(err)
	}

	status := ae.HTTPStatus()
	evt := s.logger.Debug()
	if status >= 500 {
		evt = s.logger.Error()
	}
	evt.Err(err).Str("method", r.Method).Str("path", r.URL.Path).
		Int("status", status).Msg("request failed")

	s.writeJSON(w, status, errorBody{Error: ae})
}

// decode parses and validates a JSON request body.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("body", "invalid json: "+err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apierr.Validation(strings.ToLower(fe.Field()), "failed "+fe.Tag()+" constraint")
		}
		return apierr.Validation("body", err.Error())
	}
	return nil
}

// pathID extracts a numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation(name, "must be a positive integer")
	}
	return id, nil
}
