package api

import (
	"encoding/json"
	"net/http"

	"fieldops-portal/internal/faults"
)

// envelope is the uniform response shape: success with data, or an error
// object carrying the fault code.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *errorDoc `json:"error,omitempty"`
}

type errorDoc struct {
	Code    faults.Code `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	code := faults.CodeOf(err)
	writeJSON(w, statusFor(code), envelope{Success: false, Error: &errorDoc{
		Code:    code,
		Message: err.Error(),
	}})
}

// writeAuthErr is the middleware rejection path; a missing or invalid
// session is 401 regardless of the underlying fault code.
func writeAuthErr(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: &errorDoc{
		Code:    faults.CodeUnauthorized,
		Message: err.Error(),
	}})
}

func statusFor(code faults.Code) int {
	switch code {
	case faults.CodeNotFound:
		return http.StatusNotFound
	case faults.CodeUnauthorized, faults.CodeForbidden:
		return http.StatusForbidden
	case faults.CodeValidationFailed:
		return http.StatusBadRequest
	case faults.CodeInvalidState, faults.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return faults.Validation("invalid json body")
	}
	return nil
}
