package muxer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/pipe"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// catScript concatenates every -i input to stdout, in order
const catScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-i" ]; then
    shift
    cat "$1"
  fi
  shift
done
`

const sleepScript = `#!/bin/sh
exec sleep 30
`

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires named pipes and shell scripts")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func scriptResolver(path string) *binary.Resolver {
	return binary.NewResolver(hclog.NewNullLogger(), binary.ResolverConfig{Candidates: []string{path}})
}

func noValidation(extra map[string]interface{}) *types.Options {
	opts := types.NewOptions(extra)
	opts.Set(types.OptFFmpegNoValidation, true)
	return opts
}

type fakePipe struct {
	path    string
	once    sync.Once
	closed  chan struct{}
	removed bool
	mu      sync.Mutex
}

func (p *fakePipe) Path() string { return p.path }

func (p *fakePipe) Open() error {
	<-p.closed
	return muxerrors.ErrPipeClosed
}

func (p *fakePipe) Write(b []byte) (int, error) { return 0, muxerrors.ErrPipeClosed }

func (p *fakePipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePipe) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = true
	return nil
}

func (p *fakePipe) wasRemoved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

func fakePipes() (types.PipeFactory, *[]*fakePipe) {
	var created []*fakePipe
	factory := func() (types.Pipe, error) {
		p := &fakePipe{path: fmt.Sprintf("/p%d", len(created)), closed: make(chan struct{})}
		created = append(created, p)
		return p, nil
	}
	return factory, &created
}

func substreams(contents ...string) []types.Substream {
	out := make([]types.Substream, len(contents))
	for i, c := range contents {
		out[i] = types.NewReaderSubstream(strings.NewReader(c))
	}
	return out
}

func TestNew_ToolUnavailable(t *testing.T) {
	bus := events.NewBus(nil)
	got := make(chan events.MuxEvent, 1)
	bus.Subscribe(events.ToolUnavailable, func(e events.MuxEvent) error {
		got <- e
		return nil
	})

	factory, created := fakePipes()
	m, err := New(nil, substreams("a"), types.MuxOptions{},
		WithResolver(scriptResolver("no-such-muxer-binary")),
		WithPipeFactory(factory),
		WithEventBus(bus),
		WithLogger(hclog.NewNullLogger()))

	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, muxerrors.ErrToolUnavailable))
	assert.True(t, muxerrors.IsStreamError(err))
	assert.Empty(t, *created, "no pipes allocated without a binary")
	assert.Equal(t, events.ToolUnavailable, (<-got).Type)
}

func TestNew_Args(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)
	factory, _ := fakePipes()

	var md types.Metadata
	md.Set("s:s:0", "language=eng")

	m, err := New(noValidation(nil), substreams("v", "a", "s"), types.MuxOptions{
		Maps:     []string{"0", "1", "2"},
		Metadata: md,
	},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(factory),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	defer m.Close()

	want := []string{
		bin, "-y", "-nostats", "-loglevel", "info",
		"-i", "/p0", "-i", "/p1", "-i", "/p2",
		"-c:v", "copy", "-c:a", "copy",
		"-map", "0", "-map", "1", "-map", "2",
		"-metadata:s:s:0", "language=eng",
		"-f", "matroska", "pipe:1",
	}
	assert.Equal(t, want, m.Args())
	assert.Equal(t, SinkNull, m.Sink().Kind)
	assert.False(t, m.Running())
	assert.Equal(t, 0, m.PID())
	assert.Equal(t, -1, m.ExitCode())
}

func TestNew_SkipsAbsentSubstreams(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)
	factory, created := fakePipes()

	streams := []types.Substream{nil, types.NewReaderSubstream(strings.NewReader("x"))}
	m, err := New(noValidation(nil), streams, types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(factory),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	defer m.Close()

	assert.Len(t, *created, 1)
	assert.Equal(t, []string{"-i", "/p0"}, m.Args()[5:7])
}

func TestNew_InvalidMap(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)
	factory, created := fakePipes()

	_, err := New(noValidation(nil), substreams("a"), types.MuxOptions{Maps: []string{"3:a"}},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(factory),
		WithLogger(hclog.NewNullLogger()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, muxerrors.ErrInvalidCommand))
	require.Len(t, *created, 1)
	assert.True(t, (*created)[0].wasRemoved())
}

func TestClose_BeforeOpen(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)
	factory, created := fakePipes()

	m, err := New(noValidation(nil), substreams("a", "b"), types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(factory),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())

	for _, p := range *created {
		assert.True(t, p.wasRemoved())
	}

	err = m.Open()
	require.Error(t, err)
	assert.True(t, errors.Is(err, muxerrors.ErrClosed))

	n, err := m.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestMux_EndToEnd(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)

	bus := events.NewBus(nil)
	var mu sync.Mutex
	var seen []events.MuxEventType
	bus.Subscribe(events.AllEvents, func(e events.MuxEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	})

	registry := process.NewRegistry(hclog.NewNullLogger(), process.RegistryConfig{})
	defer registry.Shutdown(t.Context())

	m, err := New(noValidation(nil), substreams("hello ", "world"), types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(pipe.Factory(t.TempDir())),
		WithRegistry(registry),
		WithEventBus(bus),
		WithID("mux-e2e"),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	assert.Equal(t, "mux-e2e", m.ID())

	require.NoError(t, m.Open())
	assert.Greater(t, m.PID(), 0)

	err = m.Open()
	assert.True(t, errors.Is(err, muxerrors.ErrAlreadyOpen))

	out, err := io.ReadAll(m)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))

	select {
	case <-m.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	assert.False(t, m.Running())
	assert.Equal(t, 0, m.ExitCode())

	require.NoError(t, m.Close())
	assert.Equal(t, int64(len("hello world")), m.BytesIn())
	assert.Equal(t, 0, registry.Count())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.MuxStarted)
	assert.Equal(t, events.MuxClosed, seen[len(seen)-1])
}

func TestClose_UnblocksConsumer(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, sleepScript)

	// The child never opens its inputs and the upstream never produces data
	upstreamR, upstreamW := io.Pipe()
	defer upstreamW.Close()
	streams := []types.Substream{types.NewReaderSubstream(upstreamR)}

	m, err := New(noValidation(map[string]interface{}{types.OptStreamTimeout: 5}), streams, types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(pipe.Factory(t.TempDir())),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	var mu sync.Mutex
	var steps []string
	m.trace = func(step string) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
	}

	require.NoError(t, m.Open())
	assert.True(t, m.Running())

	readErr := make(chan error, 1)
	go func() {
		_, err := m.Read(make([]byte, 1024))
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()

	select {
	case err := <-readErr:
		assert.Equal(t, io.EOF, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reader was not released by Close")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.True(t, streams[0].Closed())
	assert.False(t, m.Running())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"kill", "stdout_closed", "substreams_closed", "copiers_joined", "sink_closed"}, steps)
}

func TestNew_StreamTimeout(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)

	tests := []struct {
		name    string
		options map[string]interface{}
		want    time.Duration
	}{
		{"unset waits indefinitely", nil, 0},
		{"zero waits indefinitely", map[string]interface{}{types.OptStreamTimeout: 0}, 0},
		{"seconds", map[string]interface{}{types.OptStreamTimeout: 5}, 5 * time.Second},
		{"duration string", map[string]interface{}{types.OptStreamTimeout: "250ms"}, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, _ := fakePipes()
			m, err := New(noValidation(tt.options), substreams("a"), types.MuxOptions{},
				WithResolver(scriptResolver(bin)),
				WithPipeFactory(factory),
				WithLogger(hclog.NewNullLogger()))
			require.NoError(t, err)
			defer m.Close()

			assert.Equal(t, tt.want, m.joinTimeout())
		})
	}
}

func TestClose_NotRunningOnceKilled(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, sleepScript)

	upstreamR, upstreamW := io.Pipe()
	defer upstreamW.Close()

	m, err := New(noValidation(map[string]interface{}{types.OptStreamTimeout: 5}),
		[]types.Substream{types.NewReaderSubstream(upstreamR)}, types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(pipe.Factory(t.TempDir())),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	// Copiers consult Running while teardown is in progress, before the
	// child has been reaped
	runningAtKill := true
	m.trace = func(step string) {
		if step == "kill" {
			runningAtKill = m.Running()
		}
	}

	require.NoError(t, m.Open())
	require.True(t, m.Running())

	require.NoError(t, m.Close())
	assert.False(t, runningAtKill)
	assert.False(t, m.Running())
}

func TestOpen_SpawnFailure(t *testing.T) {
	requirePosix(t)
	// Executable, but not a valid program image
	bin := writeScript(t, "\x00\x01\x02not a program")
	factory, created := fakePipes()

	streams := substreams("a")
	m, err := New(noValidation(nil), streams, types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(factory),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	err = m.Open()
	require.Error(t, err)
	assert.Equal(t, muxerrors.ErrorTypeProcess, muxerrors.GetType(err))
	assert.Equal(t, "spawn", muxerrors.GetOperation(err))

	assert.True(t, streams[0].Closed())
	assert.True(t, (*created)[0].wasRemoved())
	assert.NoError(t, m.Close())
}

func TestSink_VerbosePathOwned(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, "#!/bin/sh\necho diagnostics >&2\n")
	logPath := filepath.Join(t.TempDir(), "mux.log")

	m, err := New(noValidation(map[string]interface{}{types.OptFFmpegVerbosePath: logPath}), nil, types.MuxOptions{},
		WithResolver(scriptResolver(bin)),
		WithPipeFactory(pipe.Factory(t.TempDir())),
		WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	assert.Equal(t, SinkOwned, m.Sink().Kind)

	require.NoError(t, m.Open())
	_, err = io.ReadAll(m)
	require.NoError(t, err)
	<-m.Exited()
	require.NoError(t, m.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "diagnostics\n", string(data))

	_, err = m.Sink().file.Write([]byte("late"))
	assert.Error(t, err, "owned sink is closed with the muxer")
}

func TestResolveSink(t *testing.T) {
	sink, err := ResolveSink(types.NewOptions(nil))
	require.NoError(t, err)
	assert.Equal(t, SinkNull, sink.Kind)
	assert.Nil(t, sink.Writer())

	sink, err = ResolveSink(types.NewOptions(map[string]interface{}{types.OptFFmpegVerbose: true}))
	require.NoError(t, err)
	assert.Equal(t, SinkStderr, sink.Kind)
	assert.Equal(t, os.Stderr, sink.Writer())
	assert.NoError(t, sink.Close())

	_, err = ResolveSink(types.NewOptions(map[string]interface{}{
		types.OptFFmpegVerbosePath: filepath.Join(t.TempDir(), "missing", "mux.log"),
	}))
	assert.Error(t, err)
}

func TestIsUsable(t *testing.T) {
	requirePosix(t)
	bin := writeScript(t, catScript)

	assert.True(t, IsUsable(noValidation(nil), scriptResolver(bin)))
	assert.False(t, IsUsable(noValidation(nil), scriptResolver("no-such-muxer-binary")))
}
