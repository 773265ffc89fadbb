package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// FileWatcher reloads the managed config file when it changes on disk
type FileWatcher struct {
	manager *ConfigManager
	logger  hclog.Logger

	watcher       *fsnotify.Watcher
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerMu sync.Mutex
	pending *time.Timer
}

// NewFileWatcher creates a watcher for the manager's config file
func NewFileWatcher(manager *ConfigManager, logger hclog.Logger, debounceDelay time.Duration) (*FileWatcher, error) {
	if debounceDelay <= 0 {
		debounceDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileWatcher{
		manager:       manager,
		logger:        logger.Named("config-watcher"),
		watcher:       watcher,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start watches the directory holding the config file. Editors often replace
// files instead of writing them in place, so the directory is watched.
func (fw *FileWatcher) Start() error {
	path := fw.manager.ConfigPath()
	if path == "" {
		return fmt.Errorf("no config path set")
	}

	if err := fw.watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	fw.wg.Add(1)
	go fw.eventLoop(filepath.Clean(path))

	fw.logger.Info("watching config file", "path", path)
	return nil
}

// Stop stops watching and cancels a pending reload
func (fw *FileWatcher) Stop() error {
	fw.cancel()
	err := fw.watcher.Close()

	fw.timerMu.Lock()
	if fw.pending != nil {
		fw.pending.Stop()
	}
	fw.timerMu.Unlock()

	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) eventLoop(path string) {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fw.scheduleReload(path)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("config watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) scheduleReload(path string) {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.pending != nil {
		fw.pending.Stop()
	}

	fw.pending = time.AfterFunc(fw.debounceDelay, func() {
		if fw.ctx.Err() != nil {
			return
		}
		if err := fw.manager.LoadConfig(path); err != nil {
			fw.logger.Error("config reload failed, keeping previous config", "path", path, "error", err)
			return
		}
		fw.logger.Info("config reloaded", "path", path)
	})
}
