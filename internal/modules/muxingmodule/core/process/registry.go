// Package process tracks the muxing child processes spawned by this service.
// It provides a thread-safe registry with orphan cleanup and resource stats.
package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gops "github.com/shirou/gopsutil/v4/process"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
)

// ProcessInfo holds information about a tracked child
type ProcessInfo struct {
	PID       int       `json:"pid"`
	MuxID     string    `json:"mux_id"`
	Tool      string    `json:"tool"`
	Args      []string  `json:"args"`
	StartTime time.Time `json:"start_time"`
}

// Stats is a point-in-time resource sample of a child
type Stats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Running    bool    `json:"running"`
}

// RegistryConfig contains configuration for the process registry
type RegistryConfig struct {
	// CleanupInterval enables the background cleanup loop when > 0
	CleanupInterval time.Duration
	// MaxProcessAge is how long a child may run before cleanup kills it; 0 disables
	MaxProcessAge time.Duration
}

// DefaultRegistryConfig returns default configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		CleanupInterval: 5 * time.Minute,
		MaxProcessAge:   12 * time.Hour,
	}
}

// Registry provides thread-safe tracking of muxing children
type Registry struct {
	processes map[int]*ProcessInfo // PID -> info
	byMux     map[string]int       // MuxID -> PID

	mu sync.RWMutex

	maxProcessAge time.Duration

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup

	// kill is replaceable in tests
	kill func(pid int) error

	logger hclog.Logger
}

// NewRegistry creates a new process registry
func NewRegistry(logger hclog.Logger, config RegistryConfig) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := &Registry{
		processes:     make(map[int]*ProcessInfo),
		byMux:         make(map[string]int),
		maxProcessAge: config.MaxProcessAge,
		shutdownCh:    make(chan struct{}),
		kill:          TerminateProcess,
		logger:        logger.Named("process-registry"),
	}

	if config.CleanupInterval > 0 {
		r.shutdownWg.Add(1)
		go r.runCleanupLoop(config.CleanupInterval)
	}

	return r
}

// Register adds a child to the registry
func (r *Registry) Register(pid int, muxID, tool string, args []string) error {
	if pid <= 0 {
		return muxerrors.ValidationError("register", fmt.Errorf("%w: pid %d", muxerrors.ErrInvalidInput, pid))
	}
	if muxID == "" {
		return muxerrors.ValidationError("register", fmt.Errorf("%w: empty mux id", muxerrors.ErrInvalidInput))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.processes[pid]; exists {
		return muxerrors.ProcessError("register", fmt.Errorf("process %d already registered for mux %s", pid, existing.MuxID))
	}

	r.processes[pid] = &ProcessInfo{
		PID:       pid,
		MuxID:     muxID,
		Tool:      tool,
		Args:      append([]string(nil), args...),
		StartTime: time.Now(),
	}
	r.byMux[muxID] = pid

	r.logger.Debug("registered process", "pid", pid, "mux_id", muxID, "tool", tool)
	return nil
}

// Unregister removes a child from the registry
func (r *Registry) Unregister(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(pid) {
		return muxerrors.ProcessError("unregister", fmt.Errorf("%w: process %d", muxerrors.ErrNotFound, pid))
	}
	return nil
}

func (r *Registry) removeLocked(pid int) bool {
	info, exists := r.processes[pid]
	if !exists {
		return false
	}

	delete(r.processes, pid)
	if r.byMux[info.MuxID] == pid {
		delete(r.byMux, info.MuxID)
	}

	r.logger.Debug("unregistered process", "pid", pid, "mux_id", info.MuxID)
	return true
}

// GetProcess returns information about a specific child
func (r *Registry) GetProcess(pid int) (*ProcessInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.processes[pid]
	return info, exists
}

// GetByMux returns the child of a muxer
func (r *Registry) GetByMux(muxID string) (*ProcessInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pid, ok := r.byMux[muxID]
	if !ok {
		return nil, false
	}
	info, exists := r.processes[pid]
	return info, exists
}

// GetAllProcesses returns all tracked children, oldest first
func (r *Registry) GetAllProcesses() []*ProcessInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProcessInfo, 0, len(r.processes))
	for _, info := range r.processes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Count returns the number of tracked children
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

// StopProcess terminates a child and forgets it
func (r *Registry) StopProcess(pid int) error {
	if err := r.kill(pid); err != nil {
		return muxerrors.ProcessError("stop", fmt.Errorf("failed to stop process %d: %w", pid, err))
	}

	r.mu.Lock()
	r.removeLocked(pid)
	r.mu.Unlock()
	return nil
}

// Stats samples CPU and memory usage of a tracked child
func (r *Registry) Stats(ctx context.Context, pid int) (*Stats, error) {
	if _, ok := r.GetProcess(pid); !ok {
		return nil, muxerrors.ProcessError("stats", fmt.Errorf("%w: process %d", muxerrors.ErrNotFound, pid))
	}

	p, err := gops.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return &Stats{PID: pid, Running: false}, nil
	}

	stats := &Stats{PID: pid}
	stats.Running, _ = p.IsRunningWithContext(ctx)

	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}

	return stats, nil
}

// CleanupOrphaned forgets dead children and kills those older than the
// configured maximum age. It returns the number of killed children.
func (r *Registry) CleanupOrphaned() int {
	now := time.Now()

	var dead, stale []int
	r.mu.RLock()
	for pid, info := range r.processes {
		if !isProcessAlive(pid) {
			dead = append(dead, pid)
			continue
		}
		if r.maxProcessAge > 0 && now.Sub(info.StartTime) > r.maxProcessAge {
			stale = append(stale, pid)
		}
	}
	r.mu.RUnlock()

	killed := 0
	for _, pid := range stale {
		r.logger.Warn("killing long-running process", "pid", pid, "max_age", r.maxProcessAge)
		if err := r.kill(pid); err != nil {
			r.logger.Error("failed to kill long-running process", "pid", pid, "error", err)
			continue
		}
		killed++
		dead = append(dead, pid)
	}

	r.mu.Lock()
	for _, pid := range dead {
		r.removeLocked(pid)
	}
	r.mu.Unlock()

	if len(dead) > 0 {
		r.logger.Info("cleanup completed", "killed_processes", killed, "removed", len(dead))
	}
	return killed
}

// GetRegistryStats returns summary statistics about the registry
func (r *Registry) GetRegistryStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]interface{}{
		"total_processes": len(r.processes),
	}

	var oldest time.Time
	for _, info := range r.processes {
		if oldest.IsZero() || info.StartTime.Before(oldest) {
			oldest = info.StartTime
		}
	}
	if !oldest.IsZero() {
		stats["oldest_process"] = oldest
	}

	return stats
}

func (r *Registry) runCleanupLoop(interval time.Duration) {
	defer r.shutdownWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.CleanupOrphaned()
		case <-r.shutdownCh:
			return
		}
	}
}

// Shutdown stops every tracked child and the cleanup loop
func (r *Registry) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down process registry")

	r.shutdownOnce.Do(func() {
		close(r.shutdownCh)
	})

	for _, info := range r.GetAllProcesses() {
		if err := r.StopProcess(info.PID); err != nil {
			r.logger.Error("failed to stop process during shutdown", "pid", info.PID, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("process registry shutdown completed")
		return nil
	case <-ctx.Done():
		r.logger.Warn("process registry shutdown timed out")
		return ctx.Err()
	}
}
