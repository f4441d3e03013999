package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/upload"
	"github.com/promorec/promorec/internal/validate"
)

var ErrSubmitInProgress = errors.New("submission already in progress")

type Config struct {
	Session     *capture.Session
	Locator     *geo.Locator
	Uploader    upload.Uploader
	Destination string
}

// Preparer turns a reviewed recording plus the form into a payload and
// hands it to the uploader. It owns the form fields; the location fix
// belongs to the Locator and survives resets.
type Preparer struct {
	mu          sync.Mutex
	session     *capture.Session
	locator     *geo.Locator
	uploader    upload.Uploader
	destination string
	fields      FormFields
	uploading   bool
	now         func() time.Time
}

func New(cfg Config) *Preparer {
	return &Preparer{
		session:     cfg.Session,
		locator:     cfg.Locator,
		uploader:    cfg.Uploader,
		destination: cfg.Destination,
		now:         time.Now,
	}
}

func (p *Preparer) Fields() FormFields {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fields
}

// SetFields replaces the form after trimming and validating it. On a
// validation error the previous fields are kept.
func (p *Preparer) SetFields(f FormFields) error {
	f = f.normalize()
	if err := f.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.fields = f
	p.mu.Unlock()
	return nil
}

func (p *Preparer) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploading
}

// Retake discards the recording and keeps the form.
func (p *Preparer) Retake() {
	p.session.Reset()
}

// Reset discards the recording and clears the form.
func (p *Preparer) Reset() {
	p.session.Reset()
	p.mu.Lock()
	p.fields = FormFields{}
	p.mu.Unlock()
}

// Payload assembles what would be sent for asset right now.
func (p *Preparer) Payload(asset *capture.Asset, fields FormFields) upload.Payload {
	var fix *geo.Fix
	if p.locator != nil {
		fix = p.locator.Current()
	}
	container, _ := ContainerFor(asset.MIMEType)
	return upload.Payload{
		Asset:       asset.Data,
		Filename:    Filename(container, asset.CreatedAt),
		MIMEType:    container,
		Caption:     Caption(fields, fix),
		Destination: p.destination,
	}
}

// Submit uploads the reviewed recording. On success the session moves to
// submitted and the form is cleared; on failure nothing changes and the
// error is an *upload.TransportError or *upload.RejectedError.
func (p *Preparer) Submit(ctx context.Context) error {
	p.mu.Lock()
	if p.uploading {
		p.mu.Unlock()
		return ErrSubmitInProgress
	}
	snap := p.session.Snapshot()
	if snap.State != capture.StateReviewing || snap.Asset == nil {
		p.mu.Unlock()
		return fmt.Errorf("submit while %s: %w", snap.State, capture.ErrInvalidTransition)
	}
	fields := p.fields
	p.uploading = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.uploading = false
		p.mu.Unlock()
	}()

	payload := p.Payload(snap.Asset, fields)
	if msg := validate.Caption(payload.Caption); msg != "" {
		return &ValidationError{Field: "caption", Message: msg}
	}

	if err := p.uploader.Upload(ctx, payload); err != nil {
		err = classify(err)
		slog.Warn("submit: upload failed", "recording_id", snap.RecordingID, "error", err)
		return err
	}

	if !p.session.MarkSubmitted(snap.Generation) {
		slog.Info("submit: session moved on during upload, result ignored", "recording_id", snap.RecordingID)
		return nil
	}

	p.mu.Lock()
	p.fields = FormFields{}
	p.mu.Unlock()

	slog.Info("submit: recording delivered",
		"recording_id", snap.RecordingID,
		"filename", payload.Filename,
		"size", len(payload.Asset),
		"with_location", p.locator != nil && p.locator.Current() != nil,
	)
	return nil
}

// classify keeps uploader errors inside the two upload kinds.
func classify(err error) error {
	var te *upload.TransportError
	var re *upload.RejectedError
	if errors.As(err, &te) || errors.As(err, &re) {
		return err
	}
	return &upload.TransportError{Err: err}
}
