package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

type errorResp struct {
	Error *engine.EngineError `json:"error"`
}

// statusFor maps an error class onto an HTTP status.
func statusFor(err error) int {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Class {
	case engine.ErrorClassInvalid:
		return http.StatusBadRequest
	case engine.ErrorClassMissing:
		return http.StatusNotFound
	case engine.ErrorClassConflict:
		return http.StatusConflict
	case engine.ErrorClassDenied:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as {"error": {...}}. Unclassified errors are logged
// and reported without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		telemetry.FromContext(r.Context()).WithError(err).Error("Request failed")
		ee = &engine.EngineError{Code: "INTERNAL", Message: "internal error"}
	} else if status >= http.StatusInternalServerError {
		telemetry.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	writeJSON(w, status, errorResp{Error: ee})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string, cause error) {
	writeError(w, r, engine.NewValidationError(msg, cause))
}

// decodeJSON decodes the request body into v, rejecting trailing data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
