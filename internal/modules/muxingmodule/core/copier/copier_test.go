package copier

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

type fakePipe struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   []int
	openErr  error
	writeErr error
	closes   int32
}

func (p *fakePipe) Path() string  { return "/tmp/fake-pipe" }
func (p *fakePipe) Open() error   { return p.openErr }
func (p *fakePipe) Remove() error { return nil }

func (p *fakePipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, len(b))
	return p.buf.Write(b)
}

func (p *fakePipe) Close() error {
	atomic.AddInt32(&p.closes, 1)
	return errors.New("close errors are swallowed")
}

type fakeProcess struct {
	running atomic.Bool
}

func (p *fakeProcess) Running() bool { return p.running.Load() }

func runningProcess() *fakeProcess {
	p := &fakeProcess{}
	p.running.Store(true)
	return p
}

type flakySubstream struct {
	data   []byte
	err    error
	closed atomic.Bool
}

func (s *flakySubstream) Read(b []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(b, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	return 0, s.err
}

func (s *flakySubstream) Closed() bool { return s.closed.Load() }

func startAndJoin(t *testing.T, c *Copier) {
	t.Helper()
	c.Start()
	require.True(t, c.Join(2*time.Second), "copier did not exit")
}

func TestCopier_CopiesUntilEOF(t *testing.T) {
	payload := strings.Repeat("x", 3*types.CopyChunkSize+100)
	stream := types.NewReaderSubstream(strings.NewReader(payload))
	pipe := &fakePipe{}

	var finished struct {
		index   int
		written int64
		err     error
	}
	c := New(2, stream, pipe, runningProcess(), hclog.NewNullLogger())
	c.OnFinish(func(index int, written int64, err error) {
		finished.index, finished.written, finished.err = index, written, err
	})

	startAndJoin(t, c)

	assert.Equal(t, payload, pipe.buf.String())
	for _, n := range pipe.writes {
		assert.LessOrEqual(t, n, types.CopyChunkSize)
	}
	assert.Equal(t, int64(len(payload)), c.Written())
	assert.NoError(t, c.Err())
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.closes))
	assert.Equal(t, 2, finished.index)
	assert.Equal(t, int64(len(payload)), finished.written)
	assert.NoError(t, finished.err)
}

func TestCopier_ReadErrorStopsCopy(t *testing.T) {
	readErr := errors.New("connection reset")
	stream := &flakySubstream{data: []byte("partial"), err: readErr}
	pipe := &fakePipe{}

	c := New(0, stream, pipe, runningProcess(), hclog.NewNullLogger())
	startAndJoin(t, c)

	assert.Equal(t, "partial", pipe.buf.String())
	assert.Equal(t, readErr, c.Err())
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.closes))
}

func TestCopier_WriteErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		streamClosed bool
		childRunning bool
		nilProcess   bool
		wantErr      bool
	}{
		{name: "child running, stream open", childRunning: true, wantErr: true},
		{name: "stream closed", streamClosed: true, childRunning: true},
		{name: "child exited", childRunning: false},
		{name: "child never started", nilProcess: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := &flakySubstream{data: []byte("data"), err: io.EOF}
			stream.closed.Store(tt.streamClosed)
			pipe := &fakePipe{writeErr: errors.New("broken pipe")}

			var proc ProcessState
			if !tt.nilProcess {
				p := &fakeProcess{}
				p.running.Store(tt.childRunning)
				proc = p
			}

			c := New(0, stream, pipe, proc, hclog.NewNullLogger())
			startAndJoin(t, c)

			if tt.wantErr {
				assert.Error(t, c.Err())
				assert.Equal(t, muxerrors.ErrorTypePipe, muxerrors.GetType(c.Err()))
			} else {
				assert.NoError(t, c.Err())
			}
			assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.closes))
		})
	}
}

func TestCopier_AbortedOpen(t *testing.T) {
	pipe := &fakePipe{openErr: muxerrors.PipeError("open", muxerrors.ErrPipeClosed)}
	stream := types.NewReaderSubstream(strings.NewReader("never copied"))

	c := New(1, stream, pipe, runningProcess(), hclog.NewNullLogger())
	startAndJoin(t, c)

	assert.NoError(t, c.Err())
	assert.Equal(t, 0, pipe.buf.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&pipe.closes))
}

func TestCopier_FailedOpen(t *testing.T) {
	pipe := &fakePipe{openErr: errors.New("permission denied")}
	stream := types.NewReaderSubstream(strings.NewReader("never copied"))

	c := New(1, stream, pipe, runningProcess(), hclog.NewNullLogger())
	startAndJoin(t, c)

	assert.Error(t, c.Err())
}

func TestCopier_JoinTimeout(t *testing.T) {
	blocker, writer := io.Pipe()
	defer writer.Close()

	c := New(0, types.NewReaderSubstream(blocker), &fakePipe{}, runningProcess(), hclog.NewNullLogger())
	c.Start()
	c.Start()

	assert.False(t, c.Join(30*time.Millisecond))

	writer.Close()
	assert.True(t, c.Join(0))
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
