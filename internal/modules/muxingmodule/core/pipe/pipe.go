// Package pipe provides named pipes (FIFOs) used to feed substreams to the
// muxing child process.
package pipe

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

const (
	openPollMin = 5 * time.Millisecond
	openPollMax = 100 * time.Millisecond
)

// errNoReader is returned by openWriter while no process has the read end open
var errNoReader = errors.New("no reader on pipe")

// NamedPipe is the write side of a FIFO. Open waits for a reader by polling a
// non-blocking open so that Close can abort it at any time.
type NamedPipe struct {
	path string

	mu   sync.Mutex
	file *os.File

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a FIFO with a unique name in dir (os.TempDir when empty)
func New(dir string) (*NamedPipe, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "muxpipe-"+uuid.NewString())
	if err := mkfifo(path); err != nil {
		return nil, muxerrors.PipeError("mkfifo", err).WithDetail("path", path)
	}

	return &NamedPipe{
		path:   path,
		closed: make(chan struct{}),
	}, nil
}

// Factory returns a PipeFactory creating pipes in dir
func Factory(dir string) types.PipeFactory {
	return func() (types.Pipe, error) {
		return New(dir)
	}
}

// Path returns the FIFO path
func (p *NamedPipe) Path() string {
	return p.path
}

// Open blocks until a reader opens the FIFO or the pipe is closed
func (p *NamedPipe) Open() error {
	wait := openPollMin

	for {
		select {
		case <-p.closed:
			return muxerrors.PipeError("open", muxerrors.ErrPipeClosed)
		default:
		}

		f, err := openWriter(p.path)
		if err == nil {
			p.mu.Lock()
			defer p.mu.Unlock()

			select {
			case <-p.closed:
				f.Close()
				return muxerrors.PipeError("open", muxerrors.ErrPipeClosed)
			default:
			}

			p.file = f
			return nil
		}

		if !errors.Is(err, errNoReader) {
			return muxerrors.PipeError("open", err).WithDetail("path", p.path)
		}

		select {
		case <-p.closed:
			return muxerrors.PipeError("open", muxerrors.ErrPipeClosed)
		case <-time.After(wait):
		}

		if wait *= 2; wait > openPollMax {
			wait = openPollMax
		}
	}
}

// Write writes to the FIFO. It fails with ErrPipeClosed before Open succeeds
// and after Close.
func (p *NamedPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	f := p.file
	p.mu.Unlock()

	if f == nil {
		return 0, muxerrors.ErrPipeClosed
	}
	return f.Write(b)
}

// Close closes the write end and aborts a pending Open. Only the first call
// does any work.
func (p *NamedPipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)

		p.mu.Lock()
		f := p.file
		p.mu.Unlock()

		if f != nil {
			p.closeErr = f.Close()
		}
	})
	return p.closeErr
}

// Remove unlinks the FIFO. Removing a missing FIFO is not an error.
func (p *NamedPipe) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return muxerrors.PipeError("remove", err).WithDetail("path", p.path)
	}
	return nil
}
