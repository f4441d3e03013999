package ffmpeg

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

type recorder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *tailBuffer
	mimeType  string
	fragments chan []byte
	readDone  chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (r *recorder) Fragments() <-chan []byte { return r.fragments }

func (r *recorder) MIMEType() string { return r.mimeType }

func (r *recorder) read(stdout io.Reader) {
	defer close(r.readDone)
	defer close(r.fragments)
	buf := make([]byte, readSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			r.fragments <- fragment
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("ffmpeg: stdout read failed", "error", err)
			}
			return
		}
	}
}

// Stop asks ffmpeg to finish the container and waits for the last bytes.
// A process that ignores the request is killed after stopTimeout.
func (r *recorder) Stop() error {
	r.stopOnce.Do(func() {
		if _, err := io.WriteString(r.stdin, "q"); err != nil {
			slog.Warn("ffmpeg: failed to send quit", "error", err)
		}
		_ = r.stdin.Close()

		select {
		case <-r.readDone:
		case <-time.After(stopTimeout):
			slog.Warn("ffmpeg: did not exit in time, killing", "pid", r.cmd.Process.Pid)
			_ = r.cmd.Process.Kill()
			<-r.readDone
		}

		if err := r.cmd.Wait(); err != nil {
			r.stopErr = fmt.Errorf("ffmpeg exited: %w: %s", err, r.stderr.String())
		}
	})
	return r.stopErr
}
