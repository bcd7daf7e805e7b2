// Package httputil holds the JSON response helpers shared by every handler.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "provote/pkg/domain-errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError maps a coded error onto its HTTP status and stable error body.
// Internal and transient errors omit the description so storage details never
// reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: errorToken(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodeTransientStorage {
		body.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeDuplicateVote:
		return http.StatusConflict
	case dErrors.CodeFraudRejected:
		return http.StatusForbidden
	// Geo rejections answer like any other invalid request; the distinct
	// token keeps the cause visible to callers that care.
	case dErrors.CodeInvalidPollState, dErrors.CodeGeoRestricted:
		return http.StatusBadRequest
	case dErrors.CodeTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorToken(code dErrors.Code) string {
	switch code {
	case dErrors.CodeInvalidInput:
		return "invalid_input"
	case dErrors.CodeUnauthorized:
		return "unauthorized"
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeInvalidPollState:
		return "invalid_poll_state"
	case dErrors.CodeDuplicateVote:
		return "duplicate_vote"
	case dErrors.CodeFraudRejected:
		return "fraud_rejected"
	case dErrors.CodeGeoRestricted:
		return "geo_restricted"
	case dErrors.CodeTransientStorage:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// Decode reads a JSON request body into T, rejecting unknown fields.
func Decode[T any](r *http.Request) (T, error) {
	var payload T
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return payload, dErrors.New(dErrors.CodeInvalidInput, "malformed request body")
	}
	return payload, nil
}
