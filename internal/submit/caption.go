package submit

import (
	"errors"
	"fmt"
	"math"
	"mime"
	"strings"
	"time"

	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/validate"
)

// FormFields are the optional details typed in next to the recording.
type FormFields struct {
	PromoterName string `json:"promoterName"`
	GuardianName string `json:"guardianName"`
	ChildName    string `json:"childName"`
	ChildAge     string `json:"childAge"`
	Phone        string `json:"phone"`
}

// ValidationError reports a form field the kiosk should highlight.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (f FormFields) normalize() FormFields {
	return FormFields{
		PromoterName: strings.TrimSpace(f.PromoterName),
		GuardianName: strings.TrimSpace(f.GuardianName),
		ChildName:    strings.TrimSpace(f.ChildName),
		ChildAge:     strings.TrimSpace(f.ChildAge),
		Phone:        strings.TrimSpace(f.Phone),
	}
}

func (f FormFields) validate() error {
	checks := []struct {
		field string
		msg   string
	}{
		{"promoterName", validate.PromoterName(f.PromoterName)},
		{"guardianName", validate.GuardianName(f.GuardianName)},
		{"childName", validate.ChildName(f.ChildName)},
		{"childAge", validate.ChildAge(f.ChildAge)},
		{"phone", validate.Phone(f.Phone)},
	}
	for _, c := range checks {
		if c.msg != "" {
			return &ValidationError{Field: c.field, Message: c.msg}
		}
	}
	return nil
}

// Caption renders one line per populated field, then the location. It is
// empty when there is nothing to say.
func Caption(f FormFields, fix *geo.Fix) string {
	f = f.normalize()

	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Promoter", f.PromoterName)
	add("Guardian", f.GuardianName)
	add("Child", f.ChildName)
	if f.ChildAge != "" {
		add("Child age", f.ChildAge+" y.o.")
	}
	add("Phone", f.Phone)

	if fix != nil {
		lines = append(lines, fmt.Sprintf("Location: %.6f, %.6f https://maps.google.com/?q=%.6f,%.6f",
			fix.Latitude, fix.Longitude, fix.Latitude, fix.Longitude))
		if fix.AccuracyMeters != nil {
			lines = append(lines, fmt.Sprintf("Accuracy: %d m", int(math.Round(*fix.AccuracyMeters))))
		}
	}
	return strings.Join(lines, "\n")
}

const (
	defaultMIMEType  = "video/webm"
	defaultExtension = ".webm"
)

var extensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
}

// ContainerFor reduces a MIME type with codec parameters to its container
// type and file extension. Unknown types fall back to WebM. Recorder types
// carry unquoted codec lists ("codecs=h264,aac") which the mime package
// reports as an invalid parameter; the media type is still usable.
func ContainerFor(mimeType string) (container, ext string) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err == nil || errors.Is(err, mime.ErrInvalidMediaParameter) {
		if ext, ok := extensions[mediaType]; ok {
			return mediaType, ext
		}
	}
	return defaultMIMEType, defaultExtension
}

// Filename names an asset after its container and creation time.
func Filename(mimeType string, at time.Time) string {
	_, ext := ContainerFor(mimeType)
	return fmt.Sprintf("video_%d%s", at.UnixMilli(), ext)
}
