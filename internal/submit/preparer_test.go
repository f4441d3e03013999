package submit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/upload"
)

type stubStream struct{}

func (stubStream) ID() string { return "cam0" }

type stubCapture struct {
	fragments chan []byte
	once      sync.Once
}

func (c *stubCapture) Fragments() <-chan []byte { return c.fragments }
func (c *stubCapture) MIMEType() string         { return "" }
func (c *stubCapture) Stop() error {
	c.once.Do(func() { close(c.fragments) })
	return nil
}

type stubDevice struct {
	data [][]byte
}

func (d *stubDevice) Acquire(context.Context, capture.Constraints) (capture.Stream, error) {
	return stubStream{}, nil
}
func (d *stubDevice) Release(capture.Stream) error { return nil }
func (d *stubDevice) Supported(m string) bool      { return m == "video/mp4;codecs=h264,aac" }
func (d *stubDevice) StartCapture(context.Context, capture.Stream, capture.CaptureOptions) (capture.Capture, error) {
	c := &stubCapture{fragments: make(chan []byte, len(d.data)+1)}
	for _, f := range d.data {
		c.fragments <- f
	}
	return c, nil
}

type mockUploader struct {
	mu      sync.Mutex
	err     error
	calls   int
	payload upload.Payload
	started chan struct{}
	release chan struct{}
}

func (m *mockUploader) Upload(ctx context.Context, p upload.Payload) error {
	m.mu.Lock()
	m.calls++
	m.payload = p
	started, release := m.started, m.release
	m.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return m.err
}

func reviewedPreparer(t *testing.T, uploader upload.Uploader, locator *geo.Locator) (*Preparer, *capture.Session) {
	t.Helper()
	d := &stubDevice{data: [][]byte{[]byte("abc"), []byte("def")}}
	session, err := capture.NewSession(d, capture.DefaultProfile())
	if err != nil {
		t.Fatal(err)
	}
	if err := session.Start(context.Background(), nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if _, err := session.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	p := New(Config{Session: session, Locator: locator, Uploader: uploader, Destination: "5215501225"})
	return p, session
}

func TestSubmit_TransportFailureKeepsEverything(t *testing.T) {
	uploader := &mockUploader{err: &upload.TransportError{Err: errors.New("connection reset")}}
	p, session := reviewedPreparer(t, uploader, nil)
	if err := p.SetFields(FormFields{PromoterName: "Ivan"}); err != nil {
		t.Fatal(err)
	}
	before := session.Snapshot().Asset

	err := p.Submit(context.Background())

	var te *upload.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	snap := session.Snapshot()
	if snap.State != capture.StateReviewing {
		t.Errorf("expected reviewing, got %s", snap.State)
	}
	if snap.Asset != before {
		t.Error("expected the same asset to remain current")
	}
	if p.Fields().PromoterName != "Ivan" {
		t.Errorf("expected fields kept, got %+v", p.Fields())
	}
	if p.Uploading() {
		t.Error("expected uploading flag cleared")
	}
}

func TestSubmit_RejectedErrorSurfacedVerbatim(t *testing.T) {
	uploader := &mockUploader{err: &upload.RejectedError{Code: 403, Reason: "Forbidden: bot was blocked by the user"}}
	p, session := reviewedPreparer(t, uploader, nil)

	err := p.Submit(context.Background())

	var re *upload.RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if re.Reason != "Forbidden: bot was blocked by the user" {
		t.Errorf("unexpected reason %q", re.Reason)
	}
	if session.State() != capture.StateReviewing {
		t.Errorf("expected reviewing, got %s", session.State())
	}
}

func TestSubmit_UnclassifiedErrorBecomesTransport(t *testing.T) {
	uploader := &mockUploader{err: context.DeadlineExceeded}
	p, _ := reviewedPreparer(t, uploader, nil)

	err := p.Submit(context.Background())

	var te *upload.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be preserved")
	}
}

func TestSubmit_SuccessMarksSubmittedAndClearsFields(t *testing.T) {
	uploader := &mockUploader{}
	locator := geo.NewLocator(geo.LocatorConfig{})
	if _, err := locator.Locate(context.Background(), geo.Reported{Fix: geo.Fix{Latitude: 55.75, Longitude: 37.62}}); err != nil {
		t.Fatal(err)
	}
	p, session := reviewedPreparer(t, uploader, locator)
	_ = p.SetFields(FormFields{GuardianName: " Anna ", ChildAge: "7"})

	if err := p.Submit(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if session.State() != capture.StateSubmitted {
		t.Errorf("expected submitted, got %s", session.State())
	}
	if p.Fields() != (FormFields{}) {
		t.Errorf("expected fields cleared, got %+v", p.Fields())
	}
	if locator.Current() == nil {
		t.Error("expected location fix to survive submission")
	}

	got := uploader.payload
	if string(got.Asset) != "abcdef" {
		t.Errorf("unexpected asset %q", got.Asset)
	}
	if got.MIMEType != "video/mp4" {
		t.Errorf("expected container video/mp4, got %q", got.MIMEType)
	}
	if !strings.HasSuffix(got.Filename, ".mp4") {
		t.Errorf("expected .mp4 filename, got %q", got.Filename)
	}
	if got.Destination != "5215501225" {
		t.Errorf("unexpected destination %q", got.Destination)
	}
	if !strings.Contains(got.Caption, "Guardian: Anna\n") || !strings.Contains(got.Caption, "Location: 55.750000, 37.620000") {
		t.Errorf("unexpected caption %q", got.Caption)
	}

	if err := p.Submit(context.Background()); !errors.Is(err, capture.ErrInvalidTransition) {
		t.Errorf("expected resubmit from submitted to be refused, got %v", err)
	}
	if uploader.calls != 1 {
		t.Errorf("expected one upload, got %d", uploader.calls)
	}
}

func TestSubmit_RequiresReviewing(t *testing.T) {
	session, _ := capture.NewSession(&stubDevice{}, capture.DefaultProfile())
	uploader := &mockUploader{}
	p := New(Config{Session: session, Uploader: uploader})

	if err := p.Submit(context.Background()); !errors.Is(err, capture.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if uploader.calls != 0 {
		t.Errorf("expected no upload, got %d", uploader.calls)
	}
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	uploader := &mockUploader{started: make(chan struct{}), release: make(chan struct{})}
	p, _ := reviewedPreparer(t, uploader, nil)

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background()) }()
	<-uploader.started

	if !p.Uploading() {
		t.Error("expected uploading flag while in flight")
	}
	if err := p.Submit(context.Background()); !errors.Is(err, ErrSubmitInProgress) {
		t.Errorf("expected ErrSubmitInProgress, got %v", err)
	}

	close(uploader.release)
	if err := <-done; err != nil {
		t.Fatalf("expected first submission to succeed, got %v", err)
	}
}

func TestSubmit_RetakeDuringUploadIgnoresResult(t *testing.T) {
	uploader := &mockUploader{started: make(chan struct{}), release: make(chan struct{})}
	p, session := reviewedPreparer(t, uploader, nil)
	_ = p.SetFields(FormFields{PromoterName: "Ivan"})

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background()) }()
	<-uploader.started

	p.Retake()
	close(uploader.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit did not return")
	}

	if session.State() != capture.StateIdle {
		t.Errorf("expected late success to leave session idle, got %s", session.State())
	}
	if p.Fields().PromoterName != "Ivan" {
		t.Errorf("expected fields untouched by stale result, got %+v", p.Fields())
	}
}

func TestRetakeKeepsFieldsResetClearsThem(t *testing.T) {
	p, session := reviewedPreparer(t, &mockUploader{}, nil)
	_ = p.SetFields(FormFields{PromoterName: "Ivan"})

	p.Retake()
	if session.State() != capture.StateIdle || session.Snapshot().Asset != nil {
		t.Errorf("expected idle with no asset after retake")
	}
	if p.Fields().PromoterName != "Ivan" {
		t.Errorf("expected retake to keep fields, got %+v", p.Fields())
	}

	p.Reset()
	if p.Fields() != (FormFields{}) {
		t.Errorf("expected reset to clear fields, got %+v", p.Fields())
	}
}

func TestSetFieldsValidation(t *testing.T) {
	p, _ := reviewedPreparer(t, &mockUploader{}, nil)
	_ = p.SetFields(FormFields{PromoterName: "Ivan"})

	err := p.SetFields(FormFields{ChildAge: "seven"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "childAge" {
		t.Errorf("expected childAge field, got %q", ve.Field)
	}
	if p.Fields().PromoterName != "Ivan" {
		t.Errorf("expected previous fields kept, got %+v", p.Fields())
	}
}

type blockingArchive struct {
	started chan struct{}
	release chan struct{}
}

func (a *blockingArchive) Upload(ctx context.Context, p upload.Payload) error {
	close(a.started)
	<-a.release
	return nil
}

func TestSubmit_PrimarySuccessDecidesOutcomeWhileArchiving(t *testing.T) {
	primary := &mockUploader{}
	archive := &blockingArchive{started: make(chan struct{}), release: make(chan struct{})}
	multi := upload.NewMulti(primary, archive)
	p, session := reviewedPreparer(t, multi, nil)
	_ = p.SetFields(FormFields{PromoterName: "Ivan"})

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit waited for the archive")
	}
	<-archive.started

	if session.State() != capture.StateSubmitted {
		t.Errorf("expected submitted while archive in flight, got %s", session.State())
	}
	if p.Fields() != (FormFields{}) {
		t.Errorf("expected fields cleared, got %+v", p.Fields())
	}
	if p.Uploading() {
		t.Error("expected uploading flag cleared")
	}

	p.Retake()
	close(archive.release)
	if err := multi.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("expected one primary upload, got %d", primary.calls)
	}
}
