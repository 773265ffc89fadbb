package binary

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/muxpipe/internal/logger"
)

// DefaultCandidates are the program names tried when no binary is preferred
var DefaultCandidates = []string{ToolName}

// Result is a memoized resolution. An empty Path means no usable binary.
type Result struct {
	Path    string `json:"path"`
	Version string `json:"version,omitempty"`
}

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	Candidates   []string
	ProbeTimeout time.Duration
}

type cacheKey struct {
	preferred string
	validate  bool
}

// Resolver finds and validates the muxing binary. Results are memoized per
// (preferred, validate) pair for the life of the resolver; the first
// resolution of a pair runs under the resolver lock so concurrent callers
// never probe twice.
type Resolver struct {
	mu     sync.Mutex
	cache  map[cacheKey]Result
	config ResolverConfig
	logger hclog.Logger

	lookPath func(name string) (string, error)
	validate func(ctx context.Context, path string) (string, error)
}

// NewResolver creates a resolver
func NewResolver(log hclog.Logger, config ResolverConfig) *Resolver {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if len(config.Candidates) == 0 {
		config.Candidates = DefaultCandidates
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	r := &Resolver{
		cache:    make(map[cacheKey]Result),
		config:   config,
		logger:   log.Named("resolver"),
		lookPath: exec.LookPath,
	}
	r.validate = r.probeVersion
	return r
}

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// Default returns the process-wide resolver
func Default() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver(logger.Default(), ResolverConfig{})
	})
	return defaultResolver
}

// Resolve returns the path of a usable binary or "" when there is none
func (r *Resolver) Resolve(preferred string, validate bool) string {
	return r.Lookup(preferred, validate).Path
}

// IsAvailable reports whether Resolve would return a path
func (r *Resolver) IsAvailable(preferred string, validate bool) bool {
	return r.Resolve(preferred, validate) != ""
}

// Lookup returns the memoized resolution for (preferred, validate)
func (r *Resolver) Lookup(preferred string, validate bool) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey{preferred: preferred, validate: validate}
	if res, ok := r.cache[key]; ok {
		return res
	}

	res := r.resolve(preferred, validate)
	r.cache[key] = res
	return res
}

func (r *Resolver) resolve(preferred string, validate bool) Result {
	names := r.config.Candidates
	if preferred != "" {
		names = []string{preferred}
	}

	var path string
	for _, name := range names {
		if p, err := r.lookPath(name); err == nil {
			path = p
			break
		}
	}

	if path == "" {
		r.logger.Warn("no muxing binary found, muxed streams are unavailable", "candidates", names)
		return Result{}
	}

	if !validate {
		return Result{Path: path}
	}

	version, err := r.validate(context.Background(), path)
	if err != nil {
		r.logger.Error("could not validate muxing binary", "path", path, "error", err)
		r.logger.Error("set ffmpeg-no-validation to skip the version check")
		return Result{}
	}

	r.logger.Debug("muxing binary validated", "path", path, "version", version)
	return Result{Path: path, Version: version}
}

func (r *Resolver) probeVersion(ctx context.Context, path string) (string, error) {
	probe := NewVersionProbe(path, r.config.ProbeTimeout)
	if err := probe.Run(ctx); err != nil {
		return "", err
	}

	for _, line := range probe.Output() {
		r.logger.Trace(line)
	}
	return probe.Version(), nil
}
