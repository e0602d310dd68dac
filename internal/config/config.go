// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort                = 8080
	defaultServerHost                = "0.0.0.0"
	defaultReadTimeout               = 30 * time.Second
	defaultWriteTimeout              = 30 * time.Second
	defaultDatabasePath              = "./data/cadence.db"
	defaultDatabaseConnectionTimeout = 5 * time.Second
	defaultDatabaseEnableWAL         = true
	defaultLogLevel                  = "info"
	defaultLogPretty                 = false

	defaultPlaybackVolume             = 50
	defaultPlaybackMaxPlaylistEntries = 50
	defaultPlaybackClearGracePeriod   = 2 * time.Second
	defaultPlaybackIdleTimeout        = 5 * time.Minute
	defaultPlaybackReaperInterval     = 30 * time.Second

	defaultResolverMode             = "stream"
	defaultResolverArtifactDir      = "./data/artifacts"
	defaultResolverTimeout          = 60 * time.Second
	defaultResolverWorkers          = 4
	defaultResolverRateLimit        = 2.0
	defaultResolverRateBurst        = 4
	defaultResolverCircuitThreshold = 5
	defaultResolverCircuitReset     = 60 * time.Second

	defaultDeviceFFmpegPath   = "ffmpeg"
	defaultDeviceOutputFormat = "null"
	defaultDeviceOutputTarget = "-"
	defaultDeviceRealtime     = true

	envPrefix = "CADENCE"
)

// Resolver modes
const (
	ResolverModeStream   = "stream"
	ResolverModeDownload = "download"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Playback PlaybackConfig
	Resolver ResolverConfig
	Device   DeviceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Path              string
	ConnectionTimeout time.Duration
	EnableWAL         bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// PlaybackConfig holds session queue and playback lifecycle settings
type PlaybackConfig struct {
	DefaultVolume      int           // percent, 0-100
	MaxPlaylistEntries int           // cap on entries resolved per bulk load
	ClearGracePeriod   time.Duration // how long the bulk-load cancel flag stays raised after a clear
	IdleTimeout        time.Duration // how long a session may sit with no listeners before it is reaped
	ReaperInterval     time.Duration
}

// ResolverConfig holds media resolution settings
type ResolverConfig struct {
	Mode             string // "stream" or "download"
	ArtifactDir      string
	Proxy            string
	Timeout          time.Duration
	Workers          int
	RateLimit        float64 // resolutions per second
	RateBurst        int
	CircuitThreshold int
	CircuitReset     time.Duration
}

// DeviceConfig holds output device settings.
// OutputTarget may contain "{session}" which is replaced by the session id.
type DeviceConfig struct {
	FFmpegPath   string
	OutputFormat string
	OutputTarget string
	Realtime     bool
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cadence")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.connectiontimeout", defaultDatabaseConnectionTimeout)
	v.SetDefault("database.enablewal", defaultDatabaseEnableWAL)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	v.SetDefault("playback.defaultvolume", defaultPlaybackVolume)
	v.SetDefault("playback.maxplaylistentries", defaultPlaybackMaxPlaylistEntries)
	v.SetDefault("playback.cleargraceperiod", defaultPlaybackClearGracePeriod)
	v.SetDefault("playback.idletimeout", defaultPlaybackIdleTimeout)
	v.SetDefault("playback.reaperinterval", defaultPlaybackReaperInterval)

	v.SetDefault("resolver.mode", defaultResolverMode)
	v.SetDefault("resolver.artifactdir", defaultResolverArtifactDir)
	v.SetDefault("resolver.proxy", "")
	v.SetDefault("resolver.timeout", defaultResolverTimeout)
	v.SetDefault("resolver.workers", defaultResolverWorkers)
	v.SetDefault("resolver.ratelimit", defaultResolverRateLimit)
	v.SetDefault("resolver.rateburst", defaultResolverRateBurst)
	v.SetDefault("resolver.circuitthreshold", defaultResolverCircuitThreshold)
	v.SetDefault("resolver.circuitreset", defaultResolverCircuitReset)

	v.SetDefault("device.ffmpegpath", defaultDeviceFFmpegPath)
	v.SetDefault("device.outputformat", defaultDeviceOutputFormat)
	v.SetDefault("device.outputtarget", defaultDeviceOutputTarget)
	v.SetDefault("device.realtime", defaultDeviceRealtime)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be > 0)", c.Server.WriteTimeout)
	}
	if c.Database.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid database connection timeout: %v (must be > 0)", c.Database.ConnectionTimeout)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	if err := c.Playback.validate(); err != nil {
		return err
	}
	if err := c.Resolver.validate(); err != nil {
		return err
	}

	if c.Device.FFmpegPath == "" {
		return errors.New("device ffmpeg path cannot be empty")
	}
	if c.Device.OutputFormat == "" {
		return errors.New("device output format cannot be empty")
	}

	return nil
}

func (p PlaybackConfig) validate() error {
	if p.DefaultVolume < 0 || p.DefaultVolume > 100 {
		return fmt.Errorf("invalid default volume: %d (must be between 0 and 100)", p.DefaultVolume)
	}
	if p.MaxPlaylistEntries < 1 {
		return fmt.Errorf("invalid max playlist entries: %d (must be >= 1)", p.MaxPlaylistEntries)
	}
	if p.ClearGracePeriod < 0 {
		return fmt.Errorf("invalid clear grace period: %v (must be >= 0)", p.ClearGracePeriod)
	}
	if p.IdleTimeout <= 0 {
		return fmt.Errorf("invalid idle timeout: %v (must be > 0)", p.IdleTimeout)
	}
	if p.ReaperInterval <= 0 {
		return fmt.Errorf("invalid reaper interval: %v (must be > 0)", p.ReaperInterval)
	}
	return nil
}

func (r ResolverConfig) validate() error {
	if r.Mode != ResolverModeStream && r.Mode != ResolverModeDownload {
		return fmt.Errorf("invalid resolver mode: %s (must be %s or %s)", r.Mode, ResolverModeStream, ResolverModeDownload)
	}
	if r.Mode == ResolverModeDownload && r.ArtifactDir == "" {
		return errors.New("resolver artifact dir is required in download mode")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("invalid resolver timeout: %v (must be > 0)", r.Timeout)
	}
	if r.Workers < 1 {
		return fmt.Errorf("invalid resolver workers: %d (must be >= 1)", r.Workers)
	}
	if r.RateLimit <= 0 || r.RateBurst < 1 {
		return fmt.Errorf("invalid resolver rate limit: %v/s burst %d", r.RateLimit, r.RateBurst)
	}
	if r.CircuitThreshold < 1 {
		return fmt.Errorf("invalid resolver circuit threshold: %d (must be >= 1)", r.CircuitThreshold)
	}
	return nil
}
