package types

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ReaderSubstream adapts an io.Reader into a closable Substream
type ReaderSubstream struct {
	r      io.Reader
	closed atomic.Bool
	once   sync.Once
	err    error
}

// NewReaderSubstream wraps r. If r is an io.Closer it is closed with the substream.
func NewReaderSubstream(r io.Reader) *ReaderSubstream {
	return &ReaderSubstream{r: r}
}

// Read reads from the underlying reader until the substream is closed
func (s *ReaderSubstream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}
	n, err := s.r.Read(p)
	if err != nil && s.closed.Load() {
		return n, io.EOF
	}
	return n, err
}

// Closed reports whether Close has been called
func (s *ReaderSubstream) Closed() bool {
	return s.closed.Load()
}

// Close marks the substream closed and closes the underlying reader once
func (s *ReaderSubstream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		if c, ok := s.r.(io.Closer); ok {
			s.err = c.Close()
		}
	})
	return s.err
}

// FileSource opens a local file as a substream
type FileSource struct {
	Path string
}

// Open opens the file for reading
func (f FileSource) Open() (Substream, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	return NewReaderSubstream(file), nil
}

// ReaderSource hands out an already-open reader as a substream
type ReaderSource struct {
	Reader io.Reader
}

// Open wraps the reader
func (r ReaderSource) Open() (Substream, error) {
	return NewReaderSubstream(r.Reader), nil
}
