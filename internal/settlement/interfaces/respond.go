package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"route-ledger/internal/auth"
	settlement "route-ledger/internal/settlement/domain"
	"route-ledger/internal/settlement/infrastructure/lock"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case settlement.IsNotFound(err):
		return http.StatusNotFound
	case settlement.IsConflict(err),
		errors.Is(err, settlement.ErrCycleImmutable),
		errors.Is(err, settlement.ErrCycleNotOpen):
		return http.StatusConflict
	case settlement.IsComputation(err):
		return http.StatusUnprocessableEntity
	case settlement.IsValidation(err), errors.Is(err, settlement.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrRouteForbidden):
		return http.StatusForbidden
	case errors.Is(err, lock.ErrNotObtained):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func validationFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
