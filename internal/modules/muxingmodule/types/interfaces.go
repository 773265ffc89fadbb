// Package types provides types and interfaces for the muxing module.
package types

import "io"

// Substream is an upstream byte stream feeding one muxer input.
// Read follows io.Reader: io.EOF marks the end of the stream. Once Closed
// reports true, Read returns 0, io.EOF. Implementations may also implement
// io.Closer; the muxer closes them during teardown when they do.
type Substream interface {
	io.Reader
	Closed() bool
}

// Source opens a Substream. Opening may block briefly (network handshakes).
type Source interface {
	Open() (Substream, error)
}

// Session is the read-only, string-keyed tunables store.
// Unknown keys report ok=false.
type Session interface {
	Option(key string) (value interface{}, ok bool)
}

// Pipe is a single-writer named pipe handed to the child process by path.
type Pipe interface {
	// Path is the filesystem path passed to the child as an input
	Path() string
	// Open blocks until the child opens the read end, or the pipe is closed
	Open() error
	// Write writes to the pipe; it fails once the reader is gone
	Write(p []byte) (int, error)
	// Close closes the write end and aborts a pending Open; safe to call twice
	Close() error
	// Remove unlinks the pipe from the filesystem
	Remove() error
}

// PipeFactory allocates a new Pipe
type PipeFactory func() (Pipe, error)

// MuxedOutput is a running mux as seen by its consumer. Read yields the
// container stream; Close tears the mux down and never fails.
type MuxedOutput interface {
	io.ReadCloser
	ID() string
	Args() []string
	ExitCode() int
	Exited() <-chan struct{}
}
