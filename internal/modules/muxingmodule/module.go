// Package muxingmodule composes elementary media streams into a single
// container stream by driving ffmpeg over named pipes.
//
// The module supports:
//   - Resolving and validating the ffmpeg binary
//   - Muxing local files on request, streamed back over HTTP
//   - Tracking muxing children and their resource usage
//   - Recording mux session history
//
// Architecture:
//
//	MuxedStream → Muxer → [Copier → NamedPipe]×N → ffmpeg → consumer
package muxingmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/database"
	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/api"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/repository"
)

const (
	// ModuleID is the unique identifier for the muxing module
	ModuleID = "system.muxing"

	// ModuleName is the display name for the muxing module
	ModuleName = "Muxing Manager"

	// ModuleVersion is the version of the muxing module
	ModuleVersion = "1.0.0"

	reloadDebounce = 500 * time.Millisecond
)

// Module implements the muxing functionality as a module
type Module struct {
	configManager *config.ConfigManager
	db            *gorm.DB
	logger        hclog.Logger

	resolver *binary.Resolver
	registry *process.Registry
	bus      *events.Bus
	service  *Service
	watcher  *config.FileWatcher
}

// NewModule creates a new muxing module. db may be nil, which disables
// session history.
func NewModule(configManager *config.ConfigManager, db *gorm.DB) *Module {
	if configManager == nil {
		configManager = config.GetConfigManager()
	}
	return &Module{
		configManager: configManager,
		db:            db,
		logger:        logger.Named("muxing"),
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	m.logger.Info("migrating muxing database schema")
	return database.Migrate(db)
}

// Init builds the module's components from the current configuration
func (m *Module) Init() error {
	cfg := m.configManager.GetConfig()

	m.resolver = binary.NewResolver(m.logger, binary.ResolverConfig{
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
	})
	m.registry = process.NewRegistry(m.logger, process.RegistryConfig{
		CleanupInterval: cfg.Process.CleanupInterval,
		MaxProcessAge:   cfg.Process.MaxAge,
	})
	m.bus = events.NewBus(m.logger)

	var repo *repository.MuxRepository
	if m.db != nil {
		if err := m.Migrate(m.db); err != nil {
			return fmt.Errorf("failed to migrate muxing schema: %w", err)
		}
		repo = repository.NewMuxRepository(m.db)
	} else {
		m.logger.Warn("no database configured, mux history disabled")
	}

	m.service = NewService(cfg, m.resolver, m.registry, m.bus, repo, m.logger)

	m.configManager.AddWatcher(func(oldConfig, newConfig *config.Config) {
		m.service.UpdateConfig(newConfig)
	})

	if cfg.HotReload && m.configManager.ConfigPath() != "" {
		watcher, err := config.NewFileWatcher(m.configManager, m.logger, reloadDebounce)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		m.watcher = watcher
	}

	status := m.service.Status()
	if status.Available {
		m.logger.Info("muxing module initialized", "binary", status.Binary, "version", status.Version)
	} else {
		m.logger.Warn("muxing module initialized without a usable ffmpeg")
	}
	return nil
}

// Service returns the muxing service; nil before Init
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes registers all muxing module HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if m.service == nil {
		m.logger.Error("cannot register routes: muxing service is nil")
		return
	}
	api.RegisterRoutes(router, api.NewAPIHandler(m.service, m.logger))
}

// Shutdown stops active muxers, the config watcher and the process registry
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down muxing module")

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("failed to stop config watcher", "error", err)
		}
	}

	var firstErr error
	if m.service != nil {
		if err := m.service.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if m.registry != nil {
		if err := m.registry.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
