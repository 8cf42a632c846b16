package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "DIAGRAMSYNC"
	defaultDebounceMillis  = 2000
	defaultTimeoutSeconds  = 15
	defaultCatalogPath     = "diagrams.db"
	defaultServerAddress   = "0.0.0.0:8080"
	defaultServerDatabase  = "diagramsync-server.db"
	defaultCacheTTLSeconds = 300
	defaultLogLevel        = "info"
)

// SyncConfig describes the remote sync endpoint and client behaviour.
type SyncConfig struct {
	APIURL           string
	Enabled          bool
	DefaultDiagramID string
	DebounceWindow   time.Duration
	Timeout          time.Duration
}

// ServerConfig describes the reference sync server.
type ServerConfig struct {
	Address      string
	DatabasePath string
	CacheTTL     time.Duration
}

// AppConfig captures runtime configuration for the CLI and server.
type AppConfig struct {
	Sync        SyncConfig
	CatalogPath string
	Server      ServerConfig
	LogLevel    string
	LogFile     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("sync.api_url", "")
	configViper.SetDefault("sync.enabled", false)
	configViper.SetDefault("sync.default_diagram_id", "")
	configViper.SetDefault("sync.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("sync.timeout_seconds", defaultTimeoutSeconds)
	configViper.SetDefault("catalog.path", defaultCatalogPath)
	configViper.SetDefault("server.address", defaultServerAddress)
	configViper.SetDefault("server.database_path", defaultServerDatabase)
	configViper.SetDefault("server.cache_ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
}

// LoadEnvFile populates the process environment from a dotenv file. Variables
// already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	debounceMillis := configViper.GetInt("sync.debounce_ms")
	timeoutSeconds := configViper.GetInt("sync.timeout_seconds")
	cacheSeconds := configViper.GetInt("server.cache_ttl_seconds")

	cfg := AppConfig{
		Sync: SyncConfig{
			APIURL:           strings.TrimSpace(configViper.GetString("sync.api_url")),
			Enabled:          configViper.GetBool("sync.enabled"),
			DefaultDiagramID: strings.TrimSpace(configViper.GetString("sync.default_diagram_id")),
			DebounceWindow:   time.Duration(debounceMillis) * time.Millisecond,
			Timeout:          time.Duration(timeoutSeconds) * time.Second,
		},
		CatalogPath: configViper.GetString("catalog.path"),
		Server: ServerConfig{
			Address:      configViper.GetString("server.address"),
			DatabasePath: configViper.GetString("server.database_path"),
			CacheTTL:     time.Duration(cacheSeconds) * time.Second,
		},
		LogLevel: configViper.GetString("log.level"),
		LogFile:  configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if strings.TrimSpace(c.Server.DatabasePath) == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if c.Sync.APIURL != "" {
		parsed, err := url.Parse(c.Sync.APIURL)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("sync.api_url must be an absolute http(s) URL")
		}
	}
	if c.Sync.DebounceWindow <= 0 {
		return fmt.Errorf("sync.debounce_ms must be positive")
	}
	if c.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout_seconds must not be negative")
	}
	if c.Server.CacheTTL < 0 {
		return fmt.Errorf("server.cache_ttl_seconds must not be negative")
	}
	return nil
}
