// Package ffmpeg records the kiosk camera and microphone through an ffmpeg
// subprocess that writes a fragmented container to stdout.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promorec/promorec/internal/capture"
)

const (
	DefaultBinary      = "ffmpeg"
	DefaultVideoDevice = "/dev/video0"
	DefaultAudioDevice = "default"

	probeTimeout = 10 * time.Second
	stopTimeout  = 5 * time.Second
	readSize     = 32 * 1024
)

var ErrDeviceBusy = errors.New("capture device already in use")

type Config struct {
	Binary string
	// VideoDevice is the rear camera node; FrontVideoDevice, when set, is
	// used for a "user" facing request.
	VideoDevice      string
	FrontVideoDevice string
	AudioDevice      string
	VideoFormat      string
	AudioFormat      string
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Device implements capture.Device on top of V4L2 and ALSA inputs.
type Device struct {
	cfg Config
	run runFunc

	mu   sync.Mutex
	held string

	probeOnce sync.Once
	encoders  map[string]bool
	muxers    map[string]bool
}

func New(cfg Config) *Device {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.VideoDevice == "" {
		cfg.VideoDevice = DefaultVideoDevice
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "alsa"
	}
	if cfg.VideoFormat == "" {
		cfg.VideoFormat = "v4l2"
	}
	return &Device{cfg: cfg, run: runOutput}
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type stream struct {
	id          string
	videoDevice string
	width       int
	height      int
}

func (s *stream) ID() string { return s.id }

// Acquire checks that the camera node can be opened and claims the device
// for this process.
func (d *Device) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node := d.cfg.VideoDevice
	if c.Facing == "user" && d.cfg.FrontVideoDevice != "" {
		node = d.cfg.FrontVideoDevice
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held != "" {
		return nil, ErrDeviceBusy
	}

	f, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("camera %s not found: %w", node, err)
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("camera %s permission denied: %w", node, err)
		}
		return nil, fmt.Errorf("open camera %s: %w", node, err)
	}
	_ = f.Close()

	s := &stream{id: uuid.NewString(), videoDevice: node, width: c.Width, height: c.Height}
	d.held = s.id
	slog.Info("ffmpeg: camera acquired", "device", node, "stream", s.id, "width", c.Width, "height", c.Height)
	return s, nil
}

// Release frees the claim taken by Acquire. Releasing twice is a no-op.
func (d *Device) Release(s capture.Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s == nil || d.held != s.ID() {
		return nil
	}
	d.held = ""
	slog.Info("ffmpeg: camera released", "stream", s.ID())
	return nil
}

// Supported reports whether the local ffmpeg build can produce mimeType.
func (d *Device) Supported(mimeType string) bool {
	p, err := planFor(mimeType)
	if err != nil {
		return false
	}
	d.probeOnce.Do(d.probe)
	return d.muxers[p.muxer] && d.encoders[p.videoCodec] && d.encoders[p.audioCodec]
}

func (d *Device) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	d.encoders = map[string]bool{}
	d.muxers = map[string]bool{}
	if out, err := d.run(ctx, d.cfg.Binary, "-hide_banner", "-encoders"); err != nil {
		slog.Warn("ffmpeg: failed to list encoders", "error", err)
	} else {
		d.encoders = parseCodecList(string(out))
	}
	if out, err := d.run(ctx, d.cfg.Binary, "-hide_banner", "-muxers"); err != nil {
		slog.Warn("ffmpeg: failed to list muxers", "error", err)
	} else {
		d.muxers = parseCodecList(string(out))
	}
	slog.Info("ffmpeg: probed build", "encoders", len(d.encoders), "muxers", len(d.muxers))
}

// parseCodecList reads the table printed by -encoders or -muxers: a legend,
// a dashed separator, then one "FLAGS name description" row per entry.
func parseCodecList(out string) map[string]bool {
	names := map[string]bool{}
	inTable := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inTable {
			if strings.HasPrefix(trimmed, "--") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}

// StartCapture launches ffmpeg for one recording. The process is not bound
// to ctx: it outlives the request that started it and ends on Stop.
func (d *Device) StartCapture(ctx context.Context, s capture.Stream, opts capture.CaptureOptions) (capture.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := s.(*stream)
	if !ok {
		return nil, fmt.Errorf("start capture: foreign stream %T", s)
	}
	d.mu.Lock()
	held := d.held == st.id
	d.mu.Unlock()
	if !held {
		return nil, fmt.Errorf("start capture: stream %s not acquired", st.id)
	}

	p, err := planFor(opts.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}

	cmd := exec.Command(d.cfg.Binary, buildArgs(d.cfg, st, p, opts)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &recorder{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		mimeType:  p.mimeType,
		fragments: make(chan []byte, 16),
		readDone:  make(chan struct{}),
	}
	go c.read(stdout)

	slog.Info("ffmpeg: capture started", "stream", st.id, "mime_type", p.mimeType, "pid", cmd.Process.Pid)
	return c, nil
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
