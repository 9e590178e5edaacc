package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a domain error onto its HTTP status. Server-side
// failures log at error level; everything the client can act on stays
// at debug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Get(logging.CategoryAPI).Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logging.APIDebug("%s %s -> %d: %v", r.Method, r.URL.Path, status, err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(types.Classify(err))})
}

// writeBadRequest rejects malformed or invalid request bodies.
func (s *Server) writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	logging.APIDebug("%s %s rejected: %v", r.Method, r.URL.Path, err)
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "bad_request"})
}

// statusFor maps the error taxonomy onto HTTP statuses: busy lanes are
// 429 so clients back off, stale state is 409 so they re-read, and
// conditions the operator can fix in the request are 422.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBusy):
		return http.StatusTooManyRequests
	}
	switch types.Classify(err) {
	case types.KindConflict, types.KindCancelled:
		return http.StatusConflict
	case types.KindOperator, types.KindInvalidData, types.KindCostCap:
		return http.StatusUnprocessableEntity
	case types.KindTransient:
		return http.StatusServiceUnavailable
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads the JSON body into dst, rejecting unknown fields, then
// runs the struct's validation tags.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return s.validate.Struct(dst)
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// actor resolves the operator identity for attribution. The header is
// trusted once the token check passed; authentication proper lives in
// front of this service.
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Operator")); a != "" {
		return a
	}
	return "operator"
}
