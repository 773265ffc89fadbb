package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/database"
	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/middleware"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the muxing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.GetConfigManager(), !noHistory)
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record mux sessions in the database")
	return cmd
}

func serve(ctx context.Context, manager *config.ConfigManager, history bool) error {
	cfg := manager.GetConfig()
	log := logger.Named("server")

	var db *gorm.DB
	if history {
		var err error
		db, err = database.Open(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	module := muxingmodule.NewModule(manager, db)
	if err := module.Init(); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
	}

	if cfg.Logging.Level != "debug" && cfg.Logging.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log, "/health"), middleware.ErrorLogger(log))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	module.RegisterRoutes(router)

	// No write timeout: mux responses stream for as long as the media lasts
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Active muxes hold their HTTP responses open; close them first
	if err := module.Shutdown(shutdownCtx); err != nil {
		log.Warn("muxing module shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}

	return serveErr
}
