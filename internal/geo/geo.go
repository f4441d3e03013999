// Package geo holds the single location fix attached to submissions.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxAge  = 60 * time.Second
)

// Fix is one location reading. AccuracyMeters is nil when unknown.
type Fix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy,omitempty"`
	FixedAt        time.Time `json:"fixedAt"`
}

// Provider yields a one-shot location fix.
type Provider interface {
	CurrentFix(ctx context.Context) (Fix, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Fix, error)

func (f ProviderFunc) CurrentFix(ctx context.Context) (Fix, error) {
	return f(ctx)
}

// LocationError means no fix could be obtained. It never blocks recording
// or submission.
type LocationError struct {
	Reason string
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location unavailable: %s: %v", e.Reason, e.Err)
	}
	return "location unavailable: " + e.Reason
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

// Store persists the current fix across restarts.
type Store interface {
	Load() (*Fix, error)
	Save(fix Fix) error
}

type LocatorConfig struct {
	Timeout time.Duration
	MaxAge  time.Duration
	Store   Store
}

// Locator holds at most one fix. A successful request replaces it; a failed
// one keeps it and records an error message instead.
type Locator struct {
	mu      sync.Mutex
	fix     *Fix
	lastErr string
	timeout time.Duration
	maxAge  time.Duration
	store   Store
	now     func() time.Time
}

func NewLocator(cfg LocatorConfig) *Locator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	l := &Locator{
		timeout: cfg.Timeout,
		maxAge:  cfg.MaxAge,
		store:   cfg.Store,
		now:     time.Now,
	}
	if cfg.Store != nil {
		fix, err := cfg.Store.Load()
		if err != nil {
			slog.Warn("geo: failed to load saved fix", "error", err)
		} else if fix != nil {
			l.fix = fix
		}
	}
	return l
}

func (l *Locator) MaxAge() time.Duration {
	return l.maxAge
}

// Current returns the held fix, or nil.
func (l *Locator) Current() *Fix {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fix == nil {
		return nil
	}
	fix := *l.fix
	return &fix
}

// LastError is the user-facing message of the last failed request.
func (l *Locator) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Locate asks p for a fix, waiting at most the configured timeout.
func (l *Locator) Locate(ctx context.Context, p Provider) (Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	fix, err := p.CurrentFix(ctx)
	if err != nil {
		var le *LocationError
		if !errors.As(err, &le) {
			if errors.Is(err, context.DeadlineExceeded) {
				le = &LocationError{Reason: "timed out", Err: err}
			} else {
				le = &LocationError{Reason: "provider failed", Err: err}
			}
		}
		l.mu.Lock()
		l.lastErr = le.Error()
		l.mu.Unlock()
		slog.Warn("geo: fix failed", "error", le)
		return Fix{}, le
	}

	if fix.FixedAt.IsZero() {
		fix.FixedAt = l.now()
	}

	// The saved fix must be the one held in memory, so overlapping
	// requests persist in the same order they are applied.
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = &fix
	l.lastErr = ""
	if l.store != nil {
		if err := l.store.Save(fix); err != nil {
			slog.Warn("geo: failed to persist fix", "error", err)
		}
	}
	return fix, nil
}

// Reported is a fix measured by the controlling browser and posted to the
// kiosk. A cached browser fix is accepted up to MaxAge old.
type Reported struct {
	Fix    Fix
	MaxAge time.Duration
	Now    func() time.Time
}

func (r Reported) CurrentFix(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	if r.Fix.Latitude < -90 || r.Fix.Latitude > 90 || r.Fix.Longitude < -180 || r.Fix.Longitude > 180 {
		return Fix{}, &LocationError{Reason: "coordinates out of range"}
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if !r.Fix.FixedAt.IsZero() && r.MaxAge > 0 && now().Sub(r.Fix.FixedAt) > r.MaxAge {
		return Fix{}, &LocationError{Reason: "reported fix is too old"}
	}
	return r.Fix, nil
}
