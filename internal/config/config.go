package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CHARTFALL"

	defaultHTTPAddress       = "0.0.0.0:4000"
	defaultDatabasePath      = "chartfall.db"
	defaultLogLevel          = "info"
	defaultStorageBackend    = "local"
	defaultStoragePath       = "./repository"
	defaultSessionTTLMinutes = 30
	defaultRendererTimeout   = 20
	defaultRendererAttempts  = 3
	defaultIngestTimeout     = 120
	defaultCacheTTLSeconds   = 300
	defaultFfmpegPath        = "ffmpeg"
	defaultBackupDir         = "./backup"
)

// StorageBackend enumerates supported content-store backends.
type StorageBackend string

const (
	StorageBackendLocal  StorageBackend = "local"
	StorageBackendBadger StorageBackend = "badger"
	StorageBackendRemote StorageBackend = "remote"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	SessionTTL    time.Duration

	StorageBackend StorageBackend
	StoragePath    string
	// StorageBaseURL prefixes redirect locations when the remote backend is
	// selected.
	StorageBaseURL string
	// PublicBaseURL is the externally resolvable address of this server,
	// handed to the background renderer so it can fetch covers.
	PublicBaseURL string

	RendererURL         string
	RendererCallTimeout time.Duration
	RendererMaxAttempts int
	FfmpegPath          string
	IngestTimeout       time.Duration

	CacheTTL  time.Duration
	BackupDir string

	// WebhookURLs receive first-publish announcements. Empty disables the
	// fan-out.
	WebhookURLs []string
	// AdminHandles are granted the admin claim when minting sessions.
	AdminHandles []int64
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_base_url", "http://localhost:4000")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.session_ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("storage.base_url", "")
	configViper.SetDefault("renderer.url", "http://localhost:4003")
	configViper.SetDefault("renderer.timeout_seconds", defaultRendererTimeout)
	configViper.SetDefault("renderer.max_attempts", defaultRendererAttempts)
	configViper.SetDefault("ffmpeg.path", defaultFfmpegPath)
	configViper.SetDefault("ingest.timeout_seconds", defaultIngestTimeout)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("backup.dir", defaultBackupDir)
	configViper.SetDefault("newsfeed.webhook_urls", []string{})
	configViper.SetDefault("auth.admin_handles", []int{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		PublicBaseURL:       strings.TrimRight(configViper.GetString("http.public_base_url"), "/"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		SessionTTL:          time.Duration(configViper.GetInt("auth.session_ttl_minutes")) * time.Minute,
		StorageBackend:      StorageBackend(configViper.GetString("storage.backend")),
		StoragePath:         configViper.GetString("storage.path"),
		StorageBaseURL:      strings.TrimRight(configViper.GetString("storage.base_url"), "/"),
		RendererURL:         strings.TrimRight(configViper.GetString("renderer.url"), "/"),
		RendererCallTimeout: time.Duration(configViper.GetInt("renderer.timeout_seconds")) * time.Second,
		RendererMaxAttempts: configViper.GetInt("renderer.max_attempts"),
		FfmpegPath:          configViper.GetString("ffmpeg.path"),
		IngestTimeout:       time.Duration(configViper.GetInt("ingest.timeout_seconds")) * time.Second,
		CacheTTL:            time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		BackupDir:           configViper.GetString("backup.dir"),
		WebhookURLs:         configViper.GetStringSlice("newsfeed.webhook_urls"),
	}
	for _, handle := range configViper.GetIntSlice("auth.admin_handles") {
		cfg.AdminHandles = append(cfg.AdminHandles, int64(handle))
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.StorageBackend {
	case StorageBackendLocal, StorageBackendBadger, StorageBackendRemote:
	default:
		return fmt.Errorf("storage.backend must be one of local, badger, remote")
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.StorageBackend == StorageBackendRemote && strings.TrimSpace(c.StorageBaseURL) == "" {
		return fmt.Errorf("storage.base_url is required for the remote backend")
	}
	if c.RendererMaxAttempts <= 0 {
		return fmt.Errorf("renderer.max_attempts must be positive")
	}
	return nil
}
