// Package config defines environment-specific settings for the POS printer service.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "PosPrinter"
	// TokenHashB64 is a base64-encoded bcrypt hash of the call token injected via ldflags.
	TokenHashB64 = ""
	// AuthToken is injected via ldflags.
	// If both AuthToken and TokenHashB64 are empty, calls are accepted without token validation.
	AuthToken = ""
	// ServerPort is the default port for the service, can be overridden by environment config.
	ServerPort = "8767"
	// AllowedOrigins is a comma-separated list of allowed origins injected via ldflags.
	// Example: "https://pos.example.com,http://localhost:*"
	AllowedOrigins = ""
)

// ConfigFileName is the optional override file looked up by Load, without extension.
const ConfigFileName = "pos_printer"

// EnvPrefix prefixes every environment override, e.g. POSPRINTER_LISTEN_ADDR.
const EnvPrefix = "POSPRINTER"

// Environment holds environment-specific settings
type Environment struct {
	// Identificación
	Name        string
	ServiceName string

	// Red
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Cola
	QueueCapacity        int
	PrintRatePerMinute   int
	ConnectRatePerMinute int

	// Logging
	Verbose      bool
	LogMaxSizeMB int // zero disables rotation
	LogKeepLines int

	// Impresora
	DefaultPrinter string
	DocName        string
	IOTimeout      time.Duration
	DiscoveryTTL   time.Duration

	// Security
	AllowedOrigins []string
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <programData>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(programData string) string {
	return filepath.Join(programData, e.ServiceName, e.ServiceName+".log")
}

// CallTimeout bounds a whole dispatched call: waiting for the session lock
// plus the spooler I/O itself.
func (e Environment) CallTimeout() time.Duration {
	if e.IOTimeout <= 0 {
		return 0
	}
	return 2 * e.IOTimeout
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	"remote": {
		Name:                 "REMOTO",
		ServiceName:          ServiceName,
		ListenAddr:           "0.0.0.0:" + ServerPort,
		ReadTimeout:          15 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		QueueCapacity:        50,
		PrintRatePerMinute:   30,
		ConnectRatePerMinute: 10,
		Verbose:              false,
		LogMaxSizeMB:         5,
		LogKeepLines:         1000,
		DefaultPrinter:       "",
		DocName:              "POS RAW Document",
		IOTimeout:            30 * time.Second,
		DiscoveryTTL:         30 * time.Second,
		// By default, restrict to localhost and file (Electron) for security
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*", "file://*"},
	},
	"local": {
		Name:                 "LOCAL",
		ServiceName:          ServiceName,
		ListenAddr:           "localhost:" + ServerPort,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
		IdleTimeout:          120 * time.Second,
		QueueCapacity:        50,
		PrintRatePerMinute:   120,
		ConnectRatePerMinute: 30,
		Verbose:              true,
		LogMaxSizeMB:         5,
		LogKeepLines:         1000,
		DefaultPrinter:       "",
		DocName:              "POS RAW Document",
		IOTimeout:            30 * time.Second,
		DiscoveryTTL:         30 * time.Second,
		// Allow all in local dev mode for convenience, but can be overridden
		AllowedOrigins: []string{"*"},
	},
}

// GetEnvironment returns config for the specified environment.
func GetEnvironment(env string) Environment {
	cfg, ok := environments[env]
	if !ok {
		log.Printf("[!] Unknown environment '%s', defaulting to 'local'", env)
		cfg = environments["local"]
	}

	// Override allowed origins from ldflags if provided
	if AllowedOrigins != "" {
		cfg.AllowedOrigins = strings.Split(AllowedOrigins, ",")
	}

	return cfg
}

// Load returns the preset for env with runtime overrides applied.
//
// Overrides come from an optional pos_printer.toml (working directory, then
// <programData>/<ServiceName>) and from POSPRINTER_* environment variables,
// the latter taking precedence. Keys use snake_case, e.g. listen_addr or
// io_timeout = "10s".
func Load(env, programData string) (Environment, error) {
	cfg := GetEnvironment(env)

	v := viper.New()
	setDefaults(v, cfg)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if programData != "" {
		v.AddConfigPath(filepath.Join(programData, cfg.ServiceName))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("error reading %s config: %w", ConfigFileName, err)
		}
	} else {
		log.Printf("[CONFIG] 📄 Overrides loaded from %s", v.ConfigFileUsed())
	}

	cfg.ListenAddr = v.GetString("listen_addr")
	cfg.ReadTimeout = v.GetDuration("read_timeout")
	cfg.WriteTimeout = v.GetDuration("write_timeout")
	cfg.IdleTimeout = v.GetDuration("idle_timeout")
	cfg.QueueCapacity = v.GetInt("queue_capacity")
	cfg.PrintRatePerMinute = v.GetInt("print_rate_per_minute")
	cfg.ConnectRatePerMinute = v.GetInt("connect_rate_per_minute")
	cfg.Verbose = v.GetBool("verbose")
	cfg.LogMaxSizeMB = v.GetInt("log_max_size_mb")
	cfg.LogKeepLines = v.GetInt("log_keep_lines")
	cfg.DefaultPrinter = v.GetString("default_printer")
	cfg.DocName = v.GetString("doc_name")
	cfg.IOTimeout = v.GetDuration("io_timeout")
	cfg.DiscoveryTTL = v.GetDuration("discovery_ttl")
	cfg.AllowedOrigins = v.GetStringSlice("allowed_origins")

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Environment) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("read_timeout", cfg.ReadTimeout)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("queue_capacity", cfg.QueueCapacity)
	v.SetDefault("print_rate_per_minute", cfg.PrintRatePerMinute)
	v.SetDefault("connect_rate_per_minute", cfg.ConnectRatePerMinute)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_keep_lines", cfg.LogKeepLines)
	v.SetDefault("default_printer", cfg.DefaultPrinter)
	v.SetDefault("doc_name", cfg.DocName)
	v.SetDefault("io_timeout", cfg.IOTimeout)
	v.SetDefault("discovery_ttl", cfg.DiscoveryTTL)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
}

func (e Environment) validate() error {
	switch {
	case e.ListenAddr == "":
		return errors.New("listen_addr must not be empty")
	case e.QueueCapacity <= 0:
		return fmt.Errorf("queue_capacity must be positive, got %d", e.QueueCapacity)
	case e.PrintRatePerMinute <= 0:
		return fmt.Errorf("print_rate_per_minute must be positive, got %d", e.PrintRatePerMinute)
	case e.LogMaxSizeMB < 0:
		return fmt.Errorf("log_max_size_mb must not be negative, got %d", e.LogMaxSizeMB)
	case e.LogKeepLines <= 0:
		return fmt.Errorf("log_keep_lines must be positive, got %d", e.LogKeepLines)
	case e.ConnectRatePerMinute <= 0:
		return fmt.Errorf("connect_rate_per_minute must be positive, got %d", e.ConnectRatePerMinute)
	case e.IOTimeout < 0:
		return fmt.Errorf("io_timeout must not be negative, got %v", e.IOTimeout)
	}
	return nil
}

// ProgramData returns the machine-wide data directory used for logs and
// the optional override file.
func ProgramData() string {
	if pd := os.Getenv("PROGRAMDATA"); pd != "" {
		return pd
	}
	return "C:\\ProgramData"
}
