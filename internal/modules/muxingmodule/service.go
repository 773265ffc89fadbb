package muxingmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/database"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/muxer"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/pipe"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/repository"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/stream"
	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// SessionOptions converts the loaded configuration into session options.
// Unset values are left out so per-call options still apply.
func SessionOptions(cfg *config.Config) map[string]interface{} {
	opts := map[string]interface{}{}
	set := func(key string, v interface{}) {
		if types.Truthy(v) {
			opts[key] = v
		}
	}

	set(types.OptFFmpegBinary, cfg.FFmpeg.Path)
	set(types.OptFFmpegNoValidation, cfg.FFmpeg.NoValidation)
	set(types.OptFFmpegLogLevel, cfg.FFmpeg.LogLevel)
	set(types.OptFFmpegFormat, cfg.FFmpeg.Format)
	set(types.OptFFmpegVideoCodec, cfg.FFmpeg.VideoCodec)
	set(types.OptFFmpegAudioCodec, cfg.FFmpeg.AudioCodec)
	set(types.OptFFmpegCopyTS, cfg.FFmpeg.CopyTS)
	set(types.OptFFmpegStartAtZero, cfg.FFmpeg.StartAtZero)
	set(types.OptFFmpegVerbose, cfg.FFmpeg.Verbose)
	set(types.OptFFmpegVerbosePath, cfg.FFmpeg.VerbosePath)
	set(types.OptStreamTimeout, cfg.Stream.Timeout)

	return opts
}

// Service runs muxers for local media files and records their history
type Service struct {
	session  *types.Options
	resolver *binary.Resolver
	registry *process.Registry
	bus      *events.Bus
	repo     *repository.MuxRepository
	logger   hclog.Logger

	cfgMu     sync.RWMutex
	mediaRoot string
	pipeDir   string

	mu     sync.Mutex
	active map[string]*muxer.Muxer

	unsubscribe []func()
}

// NewService creates the muxing service. repo may be nil, which disables
// session history.
func NewService(cfg *config.Config, resolver *binary.Resolver, registry *process.Registry, bus *events.Bus, repo *repository.MuxRepository, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if resolver == nil {
		resolver = binary.Default()
	}
	s := &Service{
		session:  types.NewOptions(SessionOptions(cfg)),
		resolver: resolver,
		registry: registry,
		bus:      bus,
		repo:     repo,
		logger:   logger.Named("service"),
		active:   make(map[string]*muxer.Muxer),
	}
	s.applyPaths(cfg)
	s.subscribe()
	return s
}

// UpdateConfig replaces the session options after a configuration reload
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.session.Replace(SessionOptions(cfg))
	s.applyPaths(cfg)
	s.logger.Info("muxing configuration updated")
}

func (s *Service) applyPaths(cfg *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.mediaRoot = cfg.Server.MediaRoot
	s.pipeDir = cfg.Stream.PipeDir
}

// Session returns the live session options
func (s *Service) Session() types.Session {
	return s.session
}

// Status reports binary availability and current activity
func (s *Service) Status() types.Status {
	preferred, _ := types.SessionString(s.session, types.OptFFmpegBinary)
	validate := !types.SessionBool(s.session, types.OptFFmpegNoValidation)
	result := s.resolver.Lookup(preferred, validate)

	s.mu.Lock()
	active := len(s.active)
	s.mu.Unlock()

	status := types.Status{
		Available:      result.Path != "",
		Binary:         result.Path,
		Version:        result.Version,
		Validated:      validate,
		ActiveMuxers:   active,
		HistoryEnabled: s.repo != nil,
	}
	if s.registry != nil {
		status.TrackedProcesses = s.registry.Count()
	}
	return status
}

// Mux opens the requested files and starts a muxer. The caller reads the
// muxed output and must Close the muxer; cancelling ctx closes it too.
func (s *Service) Mux(ctx context.Context, req types.MuxRequest) (types.MuxedOutput, error) {
	if len(req.Inputs) == 0 && len(req.Subtitles) == 0 {
		return nil, muxerrors.ValidationError("mux", fmt.Errorf("%w: no inputs", muxerrors.ErrInvalidInput))
	}

	s.cfgMu.RLock()
	root, pipeDir := s.mediaRoot, s.pipeDir
	s.cfgMu.RUnlock()

	inputs := make([]types.Input, len(req.Inputs))
	for i, p := range req.Inputs {
		if p == "" {
			inputs[i] = types.Absent()
			continue
		}
		path, err := resolveMediaPath(root, p)
		if err != nil {
			return nil, err
		}
		inputs[i] = types.Present(types.FileSource{Path: path})
	}

	opts := types.MuxOptions{
		Format:      req.Format,
		VCodec:      req.VideoCodec,
		ACodec:      req.AudioCodec,
		CopyTS:      req.CopyTS,
		StartAtZero: req.StartAtZero,
		Maps:        req.Maps,
		OutPath:     req.OutPath,
		Metadata:    metadataFromMap(req.Metadata),
	}
	for _, sub := range req.Subtitles {
		path, err := resolveMediaPath(root, sub.Path)
		if err != nil {
			return nil, err
		}
		opts.Subtitles = append(opts.Subtitles, types.Subtitle{Language: sub.Language, Source: types.FileSource{Path: path}})
	}

	ms := stream.NewMuxedStream(s.session, inputs, opts,
		muxer.WithResolver(s.resolver),
		muxer.WithRegistry(s.registry),
		muxer.WithEventBus(s.bus),
		muxer.WithPipeFactory(pipe.Factory(pipeDir)),
		muxer.WithLogger(s.logger.Named("muxer")),
	).WithLogger(s.logger.Named("stream"))

	m, err := ms.Open()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[m.ID()] = m
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.logger.Debug("mux request cancelled", "mux_id", m.ID())
			m.Close()
		case <-m.Exited():
		}
	}()

	return m, nil
}

// Stop closes an active muxer
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	m, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return muxerrors.ProcessError("stop", muxerrors.ErrNotFound).WithMux(id)
	}
	return m.Close()
}

// Processes lists the tracked muxing children
func (s *Service) Processes() []*process.ProcessInfo {
	if s.registry == nil {
		return nil
	}
	return s.registry.GetAllProcesses()
}

// ProcessStats samples resource usage of a tracked child
func (s *Service) ProcessStats(ctx context.Context, pid int) (*process.Stats, error) {
	if s.registry == nil {
		return nil, muxerrors.ProcessError("stats", muxerrors.ErrNotFound)
	}
	return s.registry.Stats(ctx, pid)
}

// History returns the most recent mux sessions
func (s *Service) History(ctx context.Context, limit int) ([]*database.MuxSession, error) {
	if s.repo == nil {
		return nil, muxerrors.StorageError("history", muxerrors.ErrUnsupported)
	}
	return s.repo.GetRecent(ctx, limit)
}

// GetSession returns one recorded session
func (s *Service) GetSession(ctx context.Context, id string) (*database.MuxSession, error) {
	if s.repo == nil {
		return nil, muxerrors.StorageError("get_session", muxerrors.ErrUnsupported)
	}
	return s.repo.GetByID(ctx, id)
}

// Stats summarizes the session history
func (s *Service) Stats(ctx context.Context) (*repository.Stats, error) {
	if s.repo == nil {
		return nil, muxerrors.StorageError("session_stats", muxerrors.ErrUnsupported)
	}
	return s.repo.GetStats(ctx)
}

// CleanupHistory removes finished sessions older than maxAge
func (s *Service) CleanupHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.CleanupOld(ctx, maxAge)
}

// Subscribe forwards every mux event to handler until the returned func is called
func (s *Service) Subscribe(handler events.Handler) func() {
	return s.bus.Subscribe(events.AllEvents, handler)
}

// Shutdown closes every active muxer and stops recording events
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	active := make([]*muxer.Muxer, 0, len(s.active))
	for _, m := range s.active {
		active = append(active, m)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, m := range active {
			m.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	return nil
}

func (s *Service) subscribe() {
	s.unsubscribe = append(s.unsubscribe,
		s.bus.Subscribe(events.MuxStarted, s.onStarted),
		s.bus.Subscribe(events.MuxClosed, s.onClosed),
		s.bus.Subscribe(events.InputFailed, s.onInputFailed),
	)
}

func (s *Service) onStarted(e events.MuxEvent) error {
	if s.repo == nil {
		return nil
	}

	args, _ := e.Data["args"].([]string)
	pid, _ := e.Data["pid"].(int)
	inputs, _ := e.Data["inputs"].(int)

	record := &database.MuxSession{
		ID:        e.MuxID,
		PID:       pid,
		Inputs:    inputs,
		Status:    database.MuxStatusRunning,
		StartTime: e.Timestamp,
	}
	if len(args) > 0 {
		record.Binary = args[0]
	}
	if err := record.SetArgs(args); err != nil {
		return err
	}
	return s.repo.Create(context.Background(), record)
}

func (s *Service) onClosed(e events.MuxEvent) error {
	s.mu.Lock()
	delete(s.active, e.MuxID)
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	exitCode, _ := e.Data["exit_code"].(int)
	bytesIn, _ := e.Data["bytes_in"].(int64)

	status := database.MuxStatusCompleted
	if exitCode != 0 {
		status = database.MuxStatusFailed
	}

	return s.repo.UpdateFields(context.Background(), e.MuxID, map[string]interface{}{
		"status":    status,
		"end_time":  e.Timestamp,
		"exit_code": exitCode,
		"bytes_in":  bytesIn,
	})
}

func (s *Service) onInputFailed(e events.MuxEvent) error {
	if s.repo == nil {
		return nil
	}
	msg, _ := e.Data["error"].(string)
	index, _ := e.Data["index"].(int)
	return s.repo.UpdateFields(context.Background(), e.MuxID, map[string]interface{}{
		"error": fmt.Sprintf("input %d: %s", index, msg),
	})
}

// resolveMediaPath confines p to root. An empty root allows any path.
func resolveMediaPath(root, p string) (string, error) {
	path := filepath.Clean(p)
	if root != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", muxerrors.ValidationError("resolve_path", fmt.Errorf("%w: %s is outside the media root", muxerrors.ErrInvalidInput, p))
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", muxerrors.ValidationError("resolve_path", fmt.Errorf("%w: %v", muxerrors.ErrInvalidInput, err))
	}
	if info.IsDir() {
		return "", muxerrors.ValidationError("resolve_path", fmt.Errorf("%w: %s is a directory", muxerrors.ErrInvalidInput, p))
	}
	return path, nil
}

// metadataFromMap orders request metadata by selector
func metadataFromMap(m map[string][]string) types.Metadata {
	if len(m) == 0 {
		return nil
	}
	selectors := make([]string, 0, len(m))
	for sel := range m {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	var md types.Metadata
	for _, sel := range selectors {
		md.Set(sel, m[sel]...)
	}
	return md
}
