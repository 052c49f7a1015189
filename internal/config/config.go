// Package config loads the orchestrator's environment knobs through
// viper: BindEnv per setting, AutomaticEnv as a catch-all, and a
// package-level loadedConfig cached for Loaded.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var loadedConfig *Config

// Config is the orchestrator's full set of environment knobs.
type Config struct {
	DatabaseURL string
	APIPort     int
	Debug       bool

	// Event bus
	RingBufferCount  int
	RingBufferAge    time.Duration
	ClientInboxSize  int
	StreamHeartbeat  time.Duration

	// Broker bridge
	BrokerURL string

	// Scheduler / shutdown
	GracefulShutdownTimeout time.Duration
	ProgressPollInterval    time.Duration

	// Document storage (external collaborator; path is opaque here)
	StorageRoot  string
	MaxUploadBytes int64

	// Plugin discovery
	PluginDir string
}

// Load reads configuration from the environment (and an optional config
// file discovered by viper's normal search path), applying defaults for
// every knob.
func Load() (*Config, error) {
	viper.SetConfigName("docpipe")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // absence of a config file is not an error

	viper.AutomaticEnv()

	viper.BindEnv("database_url", "DOCPIPE_DATABASE_URL", "DATABASE_URL")
	viper.BindEnv("api_port", "DOCPIPE_API_PORT", "API_PORT")
	viper.BindEnv("debug", "DOCPIPE_DEBUG", "DEBUG")
	viper.BindEnv("ring_buffer_count", "DOCPIPE_RING_BUFFER_COUNT")
	viper.BindEnv("ring_buffer_age_seconds", "DOCPIPE_RING_BUFFER_AGE_SECONDS")
	viper.BindEnv("client_inbox_size", "DOCPIPE_CLIENT_INBOX_SIZE")
	viper.BindEnv("stream_heartbeat_seconds", "DOCPIPE_STREAM_HEARTBEAT_SECONDS")
	viper.BindEnv("broker_url", "DOCPIPE_BROKER_URL", "NATS_URL")
	viper.BindEnv("graceful_shutdown_seconds", "DOCPIPE_GRACEFUL_SHUTDOWN_SECONDS")
	viper.BindEnv("progress_poll_seconds", "DOCPIPE_PROGRESS_POLL_SECONDS")
	viper.BindEnv("storage_root", "DOCPIPE_STORAGE_ROOT")
	viper.BindEnv("max_upload_bytes", "DOCPIPE_MAX_UPLOAD_BYTES")
	viper.BindEnv("plugin_dir", "DOCPIPE_PLUGIN_DIR")

	viper.SetDefault("database_url", "docpipe.db")
	viper.SetDefault("api_port", 8080)
	viper.SetDefault("debug", false)
	viper.SetDefault("ring_buffer_count", 1000)
	viper.SetDefault("ring_buffer_age_seconds", 900) // 15 minutes
	viper.SetDefault("client_inbox_size", 100)
	viper.SetDefault("stream_heartbeat_seconds", 15)
	viper.SetDefault("broker_url", "nats://127.0.0.1:4222")
	viper.SetDefault("graceful_shutdown_seconds", 30)
	viper.SetDefault("progress_poll_seconds", 2)
	viper.SetDefault("storage_root", "./data/storage")
	viper.SetDefault("max_upload_bytes", int64(100*1024*1024))
	viper.SetDefault("plugin_dir", "./plugins")

	cfg := &Config{
		DatabaseURL:             viper.GetString("database_url"),
		APIPort:                 viper.GetInt("api_port"),
		Debug:                   viper.GetBool("debug"),
		RingBufferCount:         viper.GetInt("ring_buffer_count"),
		RingBufferAge:           time.Duration(viper.GetInt("ring_buffer_age_seconds")) * time.Second,
		ClientInboxSize:         viper.GetInt("client_inbox_size"),
		StreamHeartbeat:         time.Duration(viper.GetInt("stream_heartbeat_seconds")) * time.Second,
		BrokerURL:               viper.GetString("broker_url"),
		GracefulShutdownTimeout: time.Duration(viper.GetInt("graceful_shutdown_seconds")) * time.Second,
		ProgressPollInterval:    time.Duration(viper.GetInt("progress_poll_seconds")) * time.Second,
		StorageRoot:             viper.GetString("storage_root"),
		MaxUploadBytes:          viper.GetInt64("max_upload_bytes"),
		PluginDir:               viper.GetString("plugin_dir"),
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return nil, fmt.Errorf("config: invalid api_port %d", cfg.APIPort)
	}

	loadedConfig = cfg
	return cfg, nil
}

// Loaded returns the most recently loaded configuration, or nil if Load
// has not been called yet.
func Loaded() *Config { return loadedConfig }
