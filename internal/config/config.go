// Package config loads the process settings of the voice client from flags,
// VOICECLIENT_* environment variables, an optional .env file and an optional
// config.yaml in the data directory.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/satriahrh/arunika/client/adapters/backend"
	"github.com/satriahrh/arunika/client/domain/entities"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "VOICECLIENT"

// ConfigFileName is looked up in the data directory
const ConfigFileName = "config.yaml"

// Settings are the process level options. Backend URL and model are user
// settings and live in the persistent store instead.
type Settings struct {
	DataDir            string        `mapstructure:"data_dir" yaml:"data_dir"`
	Platform           string        `mapstructure:"platform" yaml:"platform"`
	ListenAddr         string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	AutoPlay           string        `mapstructure:"auto_play" yaml:"auto_play"`
	ResolveMode        string        `mapstructure:"resolve_mode" yaml:"resolve_mode"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PreflightTimeout   time.Duration `mapstructure:"preflight_timeout" yaml:"preflight_timeout"`
	StatusTimeout      time.Duration `mapstructure:"status_timeout" yaml:"status_timeout"`
	RecorderCommand    string        `mapstructure:"recorder_command" yaml:"recorder_command"`
	PlayerCommand      string        `mapstructure:"player_command" yaml:"player_command"`
	CacheMaxAge        time.Duration `mapstructure:"cache_max_age" yaml:"cache_max_age"`
	CacheSweepInterval time.Duration `mapstructure:"cache_sweep_interval" yaml:"cache_sweep_interval"`
	Verbose            bool          `mapstructure:"verbose" yaml:"verbose"`
	// AllowedOrigins lists the browser origins that may drive the companion
	// server. Empty allows loopback pages only; "*" allows any page.
	AllowedOrigins     []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LoadOptions controls where Load looks for settings
type LoadOptions struct {
	// EnvFile is loaded into the environment when it exists. Defaults to ".env".
	EnvFile string
	// ConfigFile overrides <data_dir>/config.yaml.
	ConfigFile string
	// Flags are bound by their names with '-' read as '_'.
	Flags *pflag.FlagSet
}

func defaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("platform", string(entities.PlatformNative))
	v.SetDefault("listen_addr", "127.0.0.1:8787")
	v.SetDefault("auto_play", string(entities.AutoPlayAll))
	v.SetDefault("resolve_mode", string(backend.ResolveBuffered))
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("preflight_timeout", 5*time.Second)
	v.SetDefault("status_timeout", 5*time.Second)
	v.SetDefault("recorder_command", "")
	v.SetDefault("player_command", "")
	v.SetDefault("cache_max_age", 24*time.Hour)
	v.SetDefault("cache_sweep_interval", 30*time.Minute)
	v.SetDefault("verbose", false)
	v.SetDefault("allowed_origins", []string{})
}

// DefaultDataDir returns the per-user directory for the store and caches
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".voiceclient"
	}
	return filepath.Join(dir, "voiceclient")
}

// Load resolves settings. Precedence, highest first: flags, environment,
// config file, defaults.
func Load(opts LoadOptions) (*Settings, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		candidate := filepath.Join(v.GetString("data_dir"), ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	switch entities.Platform(strings.ToLower(s.Platform)) {
	case entities.PlatformWeb, entities.PlatformNative:
	default:
		return fmt.Errorf("invalid platform %q, expected web or native", s.Platform)
	}
	if _, err := entities.ParseAutoPlayScope(s.AutoPlay); err != nil {
		return err
	}
	if _, err := backend.ParseResolveMode(s.ResolveMode); err != nil {
		return err
	}
	if s.RequestTimeout <= 0 || s.PreflightTimeout <= 0 || s.StatusTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if s.CacheMaxAge < 0 || s.CacheSweepInterval < 0 {
		return errors.New("cache durations must not be negative")
	}
	for _, origin := range s.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid allowed origin %q, expected scheme://host[:port] or *", origin)
		}
	}
	return nil
}

// OriginAllowed reports whether a page served from origin may use the
// companion server. Requests without an Origin header do not come from a
// browser page and are allowed.
func (s *Settings) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if len(s.AllowedOrigins) == 0 {
		return isLoopbackOrigin(origin)
	}
	for _, allowed := range s.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// PlatformValue returns the parsed platform
func (s *Settings) PlatformValue() entities.Platform {
	return entities.ParsePlatform(s.Platform)
}

// AutoPlayScope returns the parsed auto-play scope
func (s *Settings) AutoPlayScope() entities.AutoPlayScope {
	scope, err := entities.ParseAutoPlayScope(s.AutoPlay)
	if err != nil {
		return entities.AutoPlayNone
	}
	return scope
}

// ResolveModeValue returns the parsed resolve mode
func (s *Settings) ResolveModeValue() backend.ResolveMode {
	mode, err := backend.ParseResolveMode(s.ResolveMode)
	if err != nil {
		return backend.ResolveBuffered
	}
	return mode
}

// RecorderArgs splits the recorder command; nil selects the built-in one
func (s *Settings) RecorderArgs() []string {
	return commandArgs(s.RecorderCommand)
}

// PlayerArgs splits the player command; nil selects the built-in one
func (s *Settings) PlayerArgs() []string {
	return commandArgs(s.PlayerCommand)
}

func commandArgs(command string) []string {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil
	}
	return args
}

// StoreDir holds the badger database
func (s *Settings) StoreDir() string {
	return filepath.Join(s.DataDir, "store")
}

// CacheDir holds downloaded answer audio
func (s *Settings) CacheDir() string {
	return filepath.Join(s.DataDir, "cache")
}

// RecordingsDir holds microphone captures
func (s *Settings) RecordingsDir() string {
	return filepath.Join(s.DataDir, "recordings")
}
