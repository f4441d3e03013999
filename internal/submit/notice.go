package submit

import (
	"errors"
	"strings"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/upload"
)

// Notice turns an error from any kiosk action into the short text shown to
// the person holding the tablet.
func Notice(err error) string {
	if err == nil {
		return ""
	}

	var (
		deviceErr     *capture.DeviceAccessError
		locationErr   *geo.LocationError
		transportErr  *upload.TransportError
		rejectedErr   *upload.RejectedError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &deviceErr):
		return "Could not access the camera or microphone"
	case errors.As(err, &locationErr):
		return "Could not determine the location"
	case errors.As(err, &transportErr):
		return "Check the internet connection and try again"
	case errors.As(err, &rejectedErr):
		return rejectionNotice(rejectedErr.Reason)
	case errors.As(err, &validationErr):
		return validationErr.Message
	case errors.Is(err, ErrSubmitInProgress):
		return "The video is already being sent"
	case errors.Is(err, capture.ErrTierLocked):
		return "Quality cannot change while recording"
	case errors.Is(err, capture.ErrUnknownTier):
		return "Unknown quality setting"
	case errors.Is(err, capture.ErrInvalidTransition):
		return "That action is not available right now"
	}
	return "Something went wrong"
}

func rejectionNotice(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "chat not found"):
		return "Recipient not found"
	case strings.Contains(lower, "bot token"), strings.Contains(lower, "unauthorized"):
		return "Invalid bot token"
	case strings.Contains(lower, "forbidden"), strings.Contains(lower, "blocked"):
		return "The recipient blocked the bot or has not started a chat with it"
	case strings.Contains(lower, "too large"):
		return "The video is too large to send"
	}
	return "Sending failed: " + reason
}
