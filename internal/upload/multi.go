package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

var _ Uploader = (*Multi)(nil)

// DefaultArchiveTimeout bounds the archive phase of one delivery.
const DefaultArchiveTimeout = 2 * time.Minute

// Multi delivers to a primary destination and then to archives. Only the
// primary decides the outcome: Upload returns as soon as the primary
// accepts the payload and the archives run in the background. Archive
// failures are logged.
type Multi struct {
	primary        Uploader
	archives       []Uploader
	archiveTimeout time.Duration
	wg             sync.WaitGroup
}

// NewMulti creates an uploader that copies every successful primary upload
// to the given archives.
func NewMulti(primary Uploader, archives ...Uploader) *Multi {
	return &Multi{primary: primary, archives: archives, archiveTimeout: DefaultArchiveTimeout}
}

func (m *Multi) Upload(ctx context.Context, p Payload) error {
	if err := m.primary.Upload(ctx, p); err != nil {
		return err
	}
	if len(m.archives) == 0 {
		return nil
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.archiveTimeout)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		for _, a := range m.archives {
			if err := a.Upload(archiveCtx, p); err != nil {
				slog.Error("multi-uploader: archive upload failed", "filename", p.Filename, "error", err)
			}
		}
	}()
	return nil
}

// Wait blocks until archive uploads already started have finished or ctx
// is done.
func (m *Multi) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
