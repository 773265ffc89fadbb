// Package database opens the mux session history database.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/logger"
)

// Dialector returns the gorm dialector for the configured database type
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "sqlite", "":
		path := cfg.DatabasePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "muxpipe.db")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// PostgresDSN builds the connection string. An explicit URL wins.
func PostgresDSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		host, cfg.Username, cfg.Password, cfg.Database, port)
}

// Open connects to the database and migrates the schema
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	logMode := gormLogger.Silent
	if cfg.LogQueries {
		logMode = gormLogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("database initialized", "type", dbType(cfg))
	return db, nil
}

// Migrate creates or updates the history tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MuxSession{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func dbType(cfg config.DatabaseConfig) string {
	if cfg.Type == "" {
		return "sqlite"
	}
	return cfg.Type
}
