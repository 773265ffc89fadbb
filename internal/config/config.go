package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mantonx/muxpipe/internal/logger"
)

// Config holds the complete application configuration
type Config struct {
	// FFmpeg tool options; empty values leave the per-call options in charge
	FFmpeg FFmpegConfig `yaml:"ffmpeg" json:"ffmpeg"`

	// Stream teardown configuration
	Stream StreamConfig `yaml:"stream" json:"stream"`

	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Child process housekeeping
	Process ProcessConfig `yaml:"process" json:"process"`

	// HotReload reloads the config file when it changes on disk
	HotReload bool `yaml:"hot_reload" json:"hot_reload" env:"MUXPIPE_HOT_RELOAD"`
}

// FFmpegConfig holds muxing tool configuration
type FFmpegConfig struct {
	Path         string        `yaml:"path" json:"path" env:"MUXPIPE_FFMPEG_PATH"`
	NoValidation bool          `yaml:"no_validation" json:"no_validation" env:"MUXPIPE_FFMPEG_NO_VALIDATION"`
	LogLevel     string        `yaml:"loglevel" json:"loglevel" env:"MUXPIPE_FFMPEG_LOGLEVEL"`
	Format       string        `yaml:"fout" json:"fout" env:"MUXPIPE_FFMPEG_FOUT"`
	VideoCodec   string        `yaml:"video_transcode" json:"video_transcode" env:"MUXPIPE_FFMPEG_VIDEO_TRANSCODE"`
	AudioCodec   string        `yaml:"audio_transcode" json:"audio_transcode" env:"MUXPIPE_FFMPEG_AUDIO_TRANSCODE"`
	CopyTS       bool          `yaml:"copyts" json:"copyts" env:"MUXPIPE_FFMPEG_COPYTS"`
	StartAtZero  bool          `yaml:"start_at_zero" json:"start_at_zero" env:"MUXPIPE_FFMPEG_START_AT_ZERO"`
	Verbose      bool          `yaml:"verbose" json:"verbose" env:"MUXPIPE_FFMPEG_VERBOSE"`
	VerbosePath  string        `yaml:"verbose_path" json:"verbose_path" env:"MUXPIPE_FFMPEG_VERBOSE_PATH"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"MUXPIPE_FFMPEG_PROBE_TIMEOUT"`
}

// StreamConfig holds stream teardown settings
type StreamConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"MUXPIPE_STREAM_TIMEOUT"`
	PipeDir string        `yaml:"pipe_dir" json:"pipe_dir" env:"MUXPIPE_PIPE_DIR"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host        string        `yaml:"host" json:"host" env:"MUXPIPE_HOST"`
	Port        int           `yaml:"port" json:"port" env:"MUXPIPE_PORT"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"MUXPIPE_READ_TIMEOUT"`
	MediaRoot   string        `yaml:"media_root" json:"media_root" env:"MUXPIPE_MEDIA_ROOT"`
}

// DatabaseConfig holds session history storage configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE"`
	URL          string `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"MUXPIPE_DATA_DIR"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"MUXPIPE_DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
}

// ProcessConfig controls the child process registry
type ProcessConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"MUXPIPE_PROCESS_CLEANUP_INTERVAL"`
	MaxAge          time.Duration `yaml:"max_age" json:"max_age" env:"MUXPIPE_PROCESS_MAX_AGE"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		FFmpeg: FFmpegConfig{
			ProbeTimeout: 4 * time.Second,
		},
		Stream: StreamConfig{
			Timeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "muxpipe",
			Database: "muxpipe",
			DataDir:  "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Process: ProcessConfig{
			CleanupInterval: 5 * time.Minute,
			MaxAge:          12 * time.Hour,
		},
	}
}

// LoadConfig builds a configuration from defaults, the file at configPath
// (when it exists) and the environment, then swaps it in and notifies the
// watchers. The current configuration is kept when any step fails.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	next, err := buildConfig(configPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	prev := cm.config
	cm.config = next
	cm.configPath = configPath
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	for _, w := range watchers {
		go w(prev, next)
	}

	logger.Info("configuration loaded", "path", configPath)
	return nil
}

func buildConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" && fileExists(path) {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		logger.Debug("configuration file read", "path", path)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(cfg)
	return cfg, nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the path passed to the last LoadConfig call
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return saveToFile(cm.configPath, cm.config)
}

// fileCodec reads and writes one configuration file format
type fileCodec struct {
	decode func(data []byte, v interface{}) error
	encode func(v interface{}) ([]byte, error)
}

var fileCodecs = map[string]fileCodec{
	".yaml": {decode: yaml.Unmarshal, encode: yaml.Marshal},
	".yml":  {decode: yaml.Unmarshal, encode: yaml.Marshal},
	".json": {decode: json.Unmarshal, encode: func(v interface{}) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}},
}

func codecFor(path string) (fileCodec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	codec, ok := fileCodecs[ext]
	if !ok {
		return fileCodec{}, fmt.Errorf("unsupported config file format %q", ext)
	}
	return codec, nil
}

func loadFromFile(path string, config *Config) error {
	codec, err := codecFor(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return codec.decode(data, config)
}

// saveToFile replaces path atomically via a temporary sibling file
func saveToFile(path string, config *Config) error {
	codec, err := codecFor(path)
	if err != nil {
		return err
	}
	data, err := codec.encode(config)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStructFromEnv overrides fields carrying an env tag. Unset or empty
// variables leave the file or default value in place.
func loadStructFromEnv(v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		field, meta := v.Field(i), v.Type().Field(i)
		switch {
		case !field.CanSet():
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
		default:
			name := meta.Tag.Get("env")
			if name == "" {
				continue
			}
			raw := os.Getenv(name)
			if raw == "" {
				continue
			}
			if err := parseInto(field, raw); err != nil {
				return fmt.Errorf("%s (%s): %w", name, meta.Name, err)
			}
		}
	}
	return nil
}

func parseInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("cannot set %s from the environment", field.Kind())
	}
	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Stream.Timeout < 0 {
		return fmt.Errorf("invalid stream timeout: %s", config.Stream.Timeout)
	}

	return validateSchema(config)
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "muxpipe.db")
	}

	if config.FFmpeg.VerbosePath != "" {
		config.FFmpeg.VerbosePath = filepath.Clean(config.FFmpeg.VerbosePath)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
