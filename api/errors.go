package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	var verr *loyalty.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loyalty.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, loyalty.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loyalty.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, loyalty.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, loyalty.ErrAlreadyRedeemed),
		errors.Is(err, loyalty.ErrOutOfStock),
		errors.Is(err, loyalty.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, loyalty.ErrStorageConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the mapped status for err. Server-side failures are logged
// and their details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(message,
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}
