package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateReviewing
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateReviewing:
		return "reviewing"
	case StateSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Asset is the finalized recording. It is never modified after Stop
// returns it.
type Asset struct {
	RecordingID string
	Data        []byte
	MIMEType    string
	CreatedAt   time.Time
}

func (a *Asset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Snapshot is a consistent view of the session at one instant.
type Snapshot struct {
	State         State
	Tier          Tier
	Encoding      string
	RecordingID   string
	BytesCaptured int64
	Asset         *Asset
	Generation    uint64
}

// Session is the record, review, submit state machine for one kiosk. It
// owns the stream handle and chunk buffer of the recording in progress.
type Session struct {
	mu      sync.Mutex
	device  Device
	profile Profile
	tier    Tier
	state   State
	gen     uint64
	rec     *recording
	asset   *Asset
	now     func() time.Time
}

type recording struct {
	id       string
	stream   Stream
	capture  Capture
	mimeType string
	chunks   [][]byte
	bytes    atomic.Int64
	done     chan struct{}
}

func NewSession(device Device, profile Profile) (*Session, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	tier, _ := profile.Tier(profile.DefaultTier)
	return &Session{
		device:  device,
		profile: profile,
		tier:    tier,
		state:   StateIdle,
		now:     time.Now,
	}, nil
}

func (s *Session) Profile() Profile {
	return s.profile
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:      s.state,
		Tier:       s.tier,
		Asset:      s.asset,
		Generation: s.gen,
	}
	if s.rec != nil {
		snap.Encoding = s.rec.mimeType
		snap.RecordingID = s.rec.id
		snap.BytesCaptured = s.rec.bytes.Load()
	} else if s.asset != nil {
		snap.Encoding = s.asset.MIMEType
		snap.RecordingID = s.asset.RecordingID
		snap.BytesCaptured = int64(len(s.asset.Data))
	}
	return snap
}

// SetTier switches the active quality tier. Not allowed while recording.
func (s *Session) SetTier(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		return ErrTierLocked
	}
	tier, ok := s.profile.Tier(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	s.tier = tier
	return nil
}

// Start acquires the camera and microphone and begins recording. A nil
// preferences slice uses the profile's list. On any device failure the
// session stays idle and holds no stream.
func (s *Session) Start(ctx context.Context, preferences []string) error {
	if preferences == nil {
		preferences = s.profile.Preferences
	}
	// Supported may probe the device, so Snapshot must not wait on it.
	mimeType, negotiated := Negotiate(preferences, s.device.Supported)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return transitionError("start", s.state)
	}

	tier := s.tier
	stream, err := s.device.Acquire(ctx, Constraints{
		Width:              tier.Width,
		Height:             tier.Height,
		Facing:             s.profile.Facing,
		VideoBitsPerSecond: tier.VideoBitsPerSecond,
		AudioBitsPerSecond: s.profile.AudioBitsPerSecond,
	})
	if err != nil {
		return deviceError("acquire", err)
	}

	if !negotiated {
		slog.Info("capture: no preferred encoding supported, using device default", "tier", tier.Name)
	}

	c, err := s.device.StartCapture(ctx, stream, CaptureOptions{
		MIMEType:           mimeType,
		Interval:           s.profile.Interval,
		VideoBitsPerSecond: tier.VideoBitsPerSecond,
		AudioBitsPerSecond: s.profile.AudioBitsPerSecond,
	})
	if err != nil {
		s.release(stream)
		return deviceError("start capture", err)
	}

	rec := &recording{
		id:       uuid.NewString(),
		stream:   stream,
		capture:  c,
		mimeType: mimeType,
		done:     make(chan struct{}),
	}
	go rec.collect()

	s.gen++
	s.rec = rec
	s.asset = nil
	s.state = StateRecording

	slog.Info("capture: recording started", "recording_id", rec.id, "tier", tier.Name, "encoding", mimeType)
	return nil
}

// Stop finalizes the recording into a single asset and releases the
// stream. A recording with no fragments still yields an (empty) asset.
func (s *Session) Stop() (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil, transitionError("stop", s.state)
	}

	rec := s.rec
	rec.halt()
	s.release(rec.stream)

	asset := rec.finalize(s.now())
	s.rec = nil
	s.asset = asset
	s.state = StateReviewing

	slog.Info("capture: recording stopped",
		"recording_id", rec.id,
		"size", len(asset.Data),
		"chunks", len(rec.chunks),
		"mime_type", asset.MIMEType,
	)
	return asset, nil
}

// Reset discards any recording from whatever state the session is in and
// returns it to idle. A live capture is stopped and its stream released.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording && s.rec != nil {
		s.rec.halt()
		s.release(s.rec.stream)
	}
	s.rec = nil
	s.asset = nil
	s.state = StateIdle
	s.gen++
}

// MarkSubmitted moves a reviewed recording to submitted. It refuses when
// the session has moved on since generation gen was observed, so a late
// upload result cannot resurrect a discarded recording.
func (s *Session) MarkSubmitted(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateReviewing {
		return false
	}
	s.state = StateSubmitted
	return true
}

func (s *Session) release(stream Stream) {
	if err := s.device.Release(stream); err != nil {
		slog.Warn("capture: failed to release stream", "stream", stream.ID(), "error", err)
	}
}

func (r *recording) collect() {
	defer close(r.done)
	for fragment := range r.capture.Fragments() {
		if len(fragment) == 0 {
			continue
		}
		r.chunks = append(r.chunks, fragment)
		r.bytes.Add(int64(len(fragment)))
	}
}

// halt stops the capture and waits for the last fragment to be collected.
func (r *recording) halt() {
	if err := r.capture.Stop(); err != nil {
		slog.Warn("capture: stop reported an error", "recording_id", r.id, "error", err)
	}
	<-r.done
}

func (r *recording) finalize(at time.Time) *Asset {
	mimeType := r.capture.MIMEType()
	if mimeType == "" {
		mimeType = r.mimeType
	}
	if mimeType == "" {
		mimeType = FallbackMIMEType
	}
	data := bytes.Join(r.chunks, nil)
	if data == nil {
		data = []byte{}
	}
	return &Asset{
		RecordingID: r.id,
		Data:        data,
		MIMEType:    mimeType,
		CreatedAt:   at,
	}
}
