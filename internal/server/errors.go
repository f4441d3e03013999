package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/httputil"
	"github.com/promorec/promorec/internal/submit"
	"github.com/promorec/promorec/internal/upload"
)

func statusFor(err error) int {
	var (
		deviceErr     *capture.DeviceAccessError
		locationErr   *geo.LocationError
		transportErr  *upload.TransportError
		rejectedErr   *upload.RejectedError
		validationErr *submit.ValidationError
	)
	switch {
	case errors.As(err, &deviceErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &locationErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.As(err, &rejectedErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validationErr), errors.Is(err, capture.ErrUnknownTier):
		return http.StatusBadRequest
	case errors.Is(err, submit.ErrSubmitInProgress),
		errors.Is(err, capture.ErrTierLocked),
		errors.Is(err, capture.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeActionError answers with the user-facing notice for err. The full
// error only goes to the log.
func writeActionError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("server: action failed", "status", status, "error", err)
	}
	httputil.WriteError(w, status, submit.Notice(err))
}
