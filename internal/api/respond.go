package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/labelmint/labelmint/internal/domain"
)

// WorkerHeader carries the calling worker's id, set by the upstream auth layer.
const WorkerHeader = "X-Worker-ID"

type ctxKey int

const workerKey ctxKey = iota

// requireWorker rejects requests without a worker identity.
func requireWorker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(WorkerHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", WorkerHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workerKey, id)))
	})
}

// workerFrom returns the worker id set by requireWorker, or the raw header.
func workerFrom(r *http.Request) string {
	if id, ok := r.Context().Value(workerKey).(string); ok {
		return id
	}
	return strings.TrimSpace(r.Header.Get(WorkerHeader))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    kind,
		},
	})
}

// writeEngineError maps an engine error to its HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	writeError(w, statusFor(kind), kind, err.Error())
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind string) int {
	switch kind {
	case "task_not_found", "worker_not_found":
		return http.StatusNotFound
	case "task_already_assigned", "duplicate_submission", "task_closed",
		"invalid_transition", "version_conflict", "no_eligible_worker":
		return http.StatusConflict
	case "reputation_too_low":
		return http.StatusForbidden
	case "invalid_confidence", "invalid_task_data":
		return http.StatusUnprocessableEntity
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v and validates it. An empty body decodes
// as {}. It writes the error response itself and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", describe(err))
		return false
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
