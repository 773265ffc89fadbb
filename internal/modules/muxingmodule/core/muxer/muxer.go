// Package muxer drives the muxing child process. It owns the named pipes,
// the copiers feeding them, the child itself and its error-log sink, and
// exposes the child's stdout as the muxed output stream.
package muxer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/command"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/copier"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/pipe"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// Option configures a Muxer
type Option func(*Muxer)

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(m *Muxer) { m.logger = l }
}

// WithResolver sets the binary resolver; the process-wide one is the default
func WithResolver(r *binary.Resolver) Option {
	return func(m *Muxer) { m.resolver = r }
}

// WithPipeFactory sets how pipes are allocated
func WithPipeFactory(f types.PipeFactory) Option {
	return func(m *Muxer) { m.pipeFactory = f }
}

// WithRegistry tracks the child in a process registry
func WithRegistry(r *process.Registry) Option {
	return func(m *Muxer) { m.registry = r }
}

// WithEventBus publishes lifecycle events on bus
func WithEventBus(bus *events.Bus) Option {
	return func(m *Muxer) { m.bus = bus }
}

// WithID sets the muxer ID instead of a random one
func WithID(id string) Option {
	return func(m *Muxer) { m.id = id }
}

// Muxer composes N substreams into one container stream
type Muxer struct {
	id          string
	session     types.Session
	logger      hclog.Logger
	resolver    *binary.Resolver
	pipeFactory types.PipeFactory
	registry    *process.Registry
	bus         *events.Bus

	streams []types.Substream
	pipes   []types.Pipe
	copiers []*copier.Copier
	args    []string
	sink    Sink
	timeout time.Duration

	cmd    *exec.Cmd
	stdout *os.File
	stdin  *os.File

	started  atomic.Bool
	killing  atomic.Bool
	exited   chan struct{}
	exitCode atomic.Int64
	bytesIn  atomic.Int64

	// closeMu serializes Open and Close
	closeMu sync.Mutex
	opened  bool
	closed  atomic.Bool

	// trace observes teardown steps in tests
	trace func(step string)
}

// IsUsable reports whether the session's binary resolves. A nil resolver
// means the process-wide one.
func IsUsable(session types.Session, resolver *binary.Resolver) bool {
	if resolver == nil {
		resolver = binary.Default()
	}
	preferred, _ := types.SessionString(session, types.OptFFmpegBinary)
	return resolver.IsAvailable(preferred, !types.SessionBool(session, types.OptFFmpegNoValidation))
}

// New prepares a muxer: it resolves the binary, allocates one pipe and one
// unstarted copier per substream, builds the command line and resolves the
// error-log sink. Nothing runs until Open.
func New(session types.Session, streams []types.Substream, opts types.MuxOptions, options ...Option) (*Muxer, error) {
	m := &Muxer{
		session: session,
		exited:  make(chan struct{}),
		trace:   func(string) {},
	}
	m.exitCode.Store(-1)

	for _, opt := range options {
		opt(m)
	}

	if m.id == "" {
		m.id = uuid.NewString()
	}
	if m.logger == nil {
		m.logger = logger.Named("muxer")
	}
	m.logger = m.logger.With("mux_id", m.id)
	if m.resolver == nil {
		m.resolver = binary.Default()
	}
	if m.pipeFactory == nil {
		m.pipeFactory = pipe.Factory("")
	}

	preferred, _ := types.SessionString(session, types.OptFFmpegBinary)
	bin := m.resolver.Resolve(preferred, !types.SessionBool(session, types.OptFFmpegNoValidation))
	if bin == "" {
		m.bus.Publish(events.MuxEvent{Type: events.ToolUnavailable, MuxID: m.id})
		return nil, muxerrors.StreamError("new_muxer", muxerrors.ErrToolUnavailable).WithMux(m.id)
	}

	for i, s := range streams {
		if s == nil {
			m.logger.Warn("skipping absent substream", "position", i)
			continue
		}
		m.streams = append(m.streams, s)
	}

	paths := make([]string, 0, len(m.streams))
	for range m.streams {
		p, err := m.pipeFactory()
		if err != nil {
			m.removePipes()
			return nil, muxerrors.Wrap(err, muxerrors.ErrorTypePipe, "new_muxer")
		}
		m.pipes = append(m.pipes, p)
		paths = append(paths, p.Path())
	}

	for i, s := range m.streams {
		c := copier.New(i, s, m.pipes[i], m, m.logger.Named("copier"))
		c.OnFinish(func(index int, written int64, err error) {
			m.bytesIn.Add(written)
			m.bus.PublishInput(m.id, index, written, err)
		})
		m.copiers = append(m.copiers, c)
	}

	m.args = command.Build(bin, paths, command.Resolve(session, opts))
	if err := command.Validate(m.args, len(paths)); err != nil {
		m.removePipes()
		return nil, err
	}

	sink, err := ResolveSink(session)
	if err != nil {
		m.removePipes()
		return nil, err
	}
	m.sink = sink
	m.timeout = types.SessionDuration(session, types.OptStreamTimeout, 0)

	m.logger.Debug("muxer prepared", "args", m.args, "inputs", len(m.pipes), "log_sink", m.sink.Kind.String())
	return m, nil
}

// ID returns the muxer ID
func (m *Muxer) ID() string { return m.id }

// Args returns the child's argument vector, binary first
func (m *Muxer) Args() []string {
	return append([]string(nil), m.args...)
}

// Sink returns the resolved error-log sink
func (m *Muxer) Sink() Sink { return m.sink }

// PID returns the child's process ID, or 0 before Open
func (m *Muxer) PID() int {
	if !m.started.Load() {
		return 0
	}
	return m.cmd.Process.Pid
}

// ExitCode returns the child's exit code, or -1 while it runs
func (m *Muxer) ExitCode() int {
	return int(m.exitCode.Load())
}

// BytesIn returns the number of substream bytes delivered to the child
func (m *Muxer) BytesIn() int64 {
	return m.bytesIn.Load()
}

// Running reports whether the child has been spawned and is neither exited
// nor being killed
func (m *Muxer) Running() bool {
	if !m.started.Load() || m.killing.Load() {
		return false
	}
	select {
	case <-m.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the child has exited
func (m *Muxer) Exited() <-chan struct{} {
	return m.exited
}

// Open starts the copiers and spawns the child with stdout and stdin as
// pipes and stderr to the sink. A spawn failure tears the muxer down.
func (m *Muxer) Open() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return muxerrors.ProcessError("open", muxerrors.ErrClosed).WithMux(m.id)
	}
	if m.opened {
		return muxerrors.ProcessError("open", muxerrors.ErrAlreadyOpen).WithMux(m.id)
	}
	m.opened = true

	for _, c := range m.copiers {
		c.Start()
	}

	if err := m.spawn(); err != nil {
		m.logger.Error("failed to start muxer process", "binary", m.args[0], "error", err)
		m.closeLocked()
		return muxerrors.ProcessError("spawn", err).WithMux(m.id)
	}

	pid := m.cmd.Process.Pid
	if m.registry != nil {
		if err := m.registry.Register(pid, m.id, binary.ToolName, m.args); err != nil {
			m.logger.Warn("failed to register muxer process", "pid", pid, "error", err)
		}
	}

	m.logger.Debug("muxer process started", "pid", pid)
	m.bus.PublishStarted(m.id, pid, m.args)
	return nil
}

func (m *Muxer) spawn() error {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return err
	}
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return err
	}

	cmd := exec.Command(m.args[0], m.args[1:]...)
	cmd.Stdout = stdoutW
	cmd.Stdin = stdinR
	if w := m.sink.Writer(); w != nil {
		cmd.Stderr = w
	}

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stdinR.Close()
		stdinW.Close()
		return err
	}

	// The child holds its own copies now
	stdoutW.Close()
	stdinR.Close()

	m.cmd = cmd
	m.stdout = stdoutR
	m.stdin = stdinW
	m.started.Store(true)

	go m.wait()
	return nil
}

func (m *Muxer) wait() {
	err := m.cmd.Wait()
	if m.cmd.ProcessState != nil {
		m.exitCode.Store(int64(m.cmd.ProcessState.ExitCode()))
	}
	if m.registry != nil {
		_ = m.registry.Unregister(m.cmd.Process.Pid)
	}

	m.logger.Debug("muxer process exited", "exit_code", m.ExitCode(), "error", err)
	close(m.exited)
}

// Read reads muxed output from the child's stdout. io.EOF means the mux is
// complete, or the muxer was closed.
func (m *Muxer) Read(p []byte) (int, error) {
	if !m.started.Load() {
		if m.closed.Load() {
			return 0, io.EOF
		}
		return 0, muxerrors.ProcessError("read", errors.New("muxer not open")).WithMux(m.id)
	}

	n, err := m.stdout.Read(p)
	if err != nil && (errors.Is(err, os.ErrClosed) || m.closed.Load()) {
		return n, io.EOF
	}
	return n, err
}

// Close tears the muxer down. It is idempotent and always returns nil;
// failures along the way are logged.
//
// Order: kill the child, close its stdout, close the substreams in parallel,
// join the copiers in parallel (each bounded by stream-timeout when set), close an
// owned error-log sink, remove the pipes.
func (m *Muxer) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	m.closeLocked()
	return nil
}

func (m *Muxer) closeLocked() {
	if m.closed.Load() {
		return
	}

	if m.started.Load() {
		m.killing.Store(true)
		if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.logger.Debug("failed to kill muxer process", "error", err)
		}
		m.trace("kill")

		m.stdout.Close()
		m.stdin.Close()
		m.trace("stdout_closed")
	}

	if m.opened {
		m.closeSubstreams()
		m.trace("substreams_closed")

		// Pending pipe opens never complete once the child is gone
		for _, p := range m.pipes {
			_ = p.Close()
		}

		m.joinCopiers()
		m.trace("copiers_joined")
	}

	if m.started.Load() {
		if timeout := m.joinTimeout(); timeout > 0 {
			select {
			case <-m.exited:
			case <-time.After(timeout):
				m.logger.Warn("muxer process was not reaped in time")
			}
		} else {
			<-m.exited
		}
	}

	if err := m.sink.Close(); err != nil {
		m.logger.Error("failed to close muxer log", "path", m.sink.Path, "error", err)
	}
	m.trace("sink_closed")

	m.removePipes()

	m.closed.Store(true)
	m.logger.Debug("closed muxer", "bytes_in", m.bytesIn.Load())
	m.bus.PublishClosed(m.id, m.ExitCode(), m.bytesIn.Load())
}

func (m *Muxer) closeSubstreams() {
	var g errgroup.Group
	g.SetLimit(poolSize(len(m.streams)))

	for i, s := range m.streams {
		closer, ok := s.(io.Closer)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := closer.Close(); err != nil {
				m.logger.Debug("failed to close substream", "input", i, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Muxer) joinCopiers() {
	timeout := m.joinTimeout()

	var g errgroup.Group
	g.SetLimit(poolSize(len(m.copiers)))

	for _, c := range m.copiers {
		g.Go(func() error {
			if !c.Join(timeout) {
				m.logger.Warn("copier did not exit in time", "input", c.Index(), "timeout", timeout)
				return fmt.Errorf("copier %d: %w", c.Index(), muxerrors.ErrTimeout)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// joinTimeout bounds each copier join; zero or less waits indefinitely
func (m *Muxer) joinTimeout() time.Duration {
	return m.timeout
}

func (m *Muxer) removePipes() {
	for _, p := range m.pipes {
		if err := p.Remove(); err != nil {
			m.logger.Debug("failed to remove pipe", "path", p.Path(), "error", err)
		}
	}
}

func poolSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
