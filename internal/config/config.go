package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type DatabaseMode string

const (
	DatabaseModeLocal  DatabaseMode = "local"
	DatabaseModeRemote DatabaseMode = "remote"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	AI            AIConfig
	Session       SessionConfig
	UI            UIConfig
	ObjectStore   ObjectStoreConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the default connection target. Requests may
// override the remote fields per call.
type DatabaseConfig struct {
	Mode           DatabaseMode
	LocalPath      string
	RemoteDriver   string
	RemoteHost     string
	RemoteUser     string
	RemotePassword string
	RemoteName     string
	PoolTTL        time.Duration
	MaxOpenConns   int
	RowLimit       int
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type SessionConfig struct {
	IdleTTL  time.Duration
	Greeting string
}

type UIConfig struct {
	SchemaSampleRows int
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ExportConfig struct {
	ArchiveEnabled bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDatabaseMode(lookup, "ASKDB_DB_MODE", &cfg.Database.Mode); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_LOCAL_PATH", &cfg.Database.LocalPath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_REMOTE_DRIVER", &cfg.Database.RemoteDriver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_REMOTE_HOST", &cfg.Database.RemoteHost); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_REMOTE_USER", &cfg.Database.RemoteUser); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_REMOTE_PASSWORD", &cfg.Database.RemotePassword); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DB_REMOTE_NAME", &cfg.Database.RemoteName); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DB_POOL_TTL", &cfg.Database.PoolTTL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DB_ROW_LIMIT", &cfg.Database.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_SESSION_IDLE_TTL", &cfg.Session.IdleTTL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_SESSION_GREETING", &cfg.Session.Greeting); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_UI_SCHEMA_SAMPLE_ROWS", &cfg.UI.SchemaSampleRows); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_EXPORT_ARCHIVE_ENABLED", &cfg.Export.ArchiveEnabled); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ASKDB_AUTH_REQUIRED", &cfg.Auth.Required); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys); err != nil {
		return Config{}, err
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	cfg.Database.RemoteDriver = strings.ToLower(cfg.Database.RemoteDriver)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.AI.Provider {
	case "openai", "ark":
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	switch cfg.Database.RemoteDriver {
	case "postgres", "mysql":
	default:
		return Config{}, fmt.Errorf("invalid ASKDB_DB_REMOTE_DRIVER: %q", cfg.Database.RemoteDriver)
	}
	if cfg.Database.PoolTTL <= 0 {
		return Config{}, fmt.Errorf("ASKDB_DB_POOL_TTL must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Mode:         DatabaseModeLocal,
			LocalPath:    "student.duckdb",
			RemoteDriver: "mysql",
			PoolTTL:      2 * time.Hour,
			MaxOpenConns: 4,
			RowLimit:     1000,
		},
		AI: AIConfig{
			Provider:    "openai",
			BaseURL:     "https://api.groq.com/openai",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:  2 * time.Hour,
			Greeting: "Hello! Ask me anything about your database.",
		},
		UI: UIConfig{
			SchemaSampleRows: 3,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askdb-exports",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Export: ExportConfig{
			ArchiveEnabled: false,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDatabaseMode(lookup LookupFunc, key string, dst *DatabaseMode) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	mode := DatabaseMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case DatabaseModeLocal, DatabaseModeRemote:
		*dst = mode
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
