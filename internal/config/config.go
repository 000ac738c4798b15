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

const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Model         ModelConfig
	Agent         AgentConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
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

// DatabaseConfig describes the database the agent queries. DSN is a Postgres
// connection string for the postgres driver and a file path (empty for
// in-memory) for duckdb.
type DatabaseConfig struct {
	Driver           string
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
	ReadOnly         bool
	RowLimit         int
	StatementTimeout time.Duration
	Schema           string
	IncludeTables    []string
	SampleRows       int
	ParquetTables    map[string][]string
}

type ModelConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
}

type AgentConfig struct {
	MaxIterations       int
	MaxWallTime         time.Duration
	ObservationRowLimit int
}

type HistoryConfig struct {
	Enabled           bool
	DSN               string
	RetentionAge      time.Duration
	RetentionInterval time.Duration
	ArchiveEnabled    bool
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
	if raw, ok := lookup("SQLAGENT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLAGENT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	// DATABASE_URL and OLLAMA_MODEL are honoured for compatibility with
	// existing .env files; the SQLAGENT_* keys win when both are set.
	appliers := []func() error{
		func() error { return applyString(lookup, "SQLAGENT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SQLAGENT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SQLAGENT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SQLAGENT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SQLAGENT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "SQLAGENT_DB_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "DATABASE_URL", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "SQLAGENT_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyInt(lookup, "SQLAGENT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "SQLAGENT_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error { return applyDuration(lookup, "SQLAGENT_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "SQLAGENT_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime) },
		func() error { return applyBool(lookup, "SQLAGENT_DB_READ_ONLY", &cfg.Database.ReadOnly) },
		func() error { return applyInt(lookup, "SQLAGENT_DB_ROW_LIMIT", &cfg.Database.RowLimit) },
		func() error { return applyDuration(lookup, "SQLAGENT_DB_STATEMENT_TIMEOUT", &cfg.Database.StatementTimeout) },
		func() error { return applyString(lookup, "SQLAGENT_DB_SCHEMA", &cfg.Database.Schema) },
		func() error { return applyList(lookup, "SQLAGENT_DB_INCLUDE_TABLES", &cfg.Database.IncludeTables) },
		func() error { return applyInt(lookup, "SQLAGENT_DB_SAMPLE_ROWS", &cfg.Database.SampleRows) },
		func() error { return applyTableFiles(lookup, "SQLAGENT_DB_PARQUET_TABLES", &cfg.Database.ParquetTables) },

		func() error { return applyString(lookup, "SQLAGENT_MODEL_PROVIDER", &cfg.Model.Provider) },
		func() error { return applyString(lookup, "SQLAGENT_MODEL_BASE_URL", &cfg.Model.BaseURL) },
		func() error { return applyString(lookup, "SQLAGENT_MODEL_API_KEY", &cfg.Model.APIKey) },
		func() error { return applyString(lookup, "OLLAMA_MODEL", &cfg.Model.Model) },
		func() error { return applyString(lookup, "SQLAGENT_MODEL_NAME", &cfg.Model.Model) },
		func() error { return applyFloat(lookup, "SQLAGENT_MODEL_TEMPERATURE", &cfg.Model.Temperature) },
		func() error { return applyDuration(lookup, "SQLAGENT_MODEL_TIMEOUT", &cfg.Model.Timeout) },
		func() error { return applyInt(lookup, "SQLAGENT_MODEL_RPM", &cfg.Model.RequestsPerMinute) },

		func() error { return applyInt(lookup, "SQLAGENT_AGENT_MAX_ITERATIONS", &cfg.Agent.MaxIterations) },
		func() error { return applyDuration(lookup, "SQLAGENT_AGENT_MAX_WALL_TIME", &cfg.Agent.MaxWallTime) },
		func() error {
			return applyInt(lookup, "SQLAGENT_AGENT_OBSERVATION_ROW_LIMIT", &cfg.Agent.ObservationRowLimit)
		},

		func() error { return applyBool(lookup, "SQLAGENT_HISTORY_ENABLED", &cfg.History.Enabled) },
		func() error { return applyString(lookup, "SQLAGENT_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyDuration(lookup, "SQLAGENT_HISTORY_RETENTION", &cfg.History.RetentionAge) },
		func() error {
			return applyDuration(lookup, "SQLAGENT_HISTORY_RETENTION_INTERVAL", &cfg.History.RetentionInterval)
		},
		func() error { return applyBool(lookup, "SQLAGENT_HISTORY_ARCHIVE_ENABLED", &cfg.History.ArchiveEnabled) },

		func() error { return applyString(lookup, "SQLAGENT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SQLAGENT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SQLAGENT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "SQLAGENT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "SQLAGENT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "SQLAGENT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SQLAGENT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SQLAGENT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "SQLAGENT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SQLAGENT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "SQLAGENT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "SQLAGENT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.History.DSN == "" && cfg.Database.Driver == DriverPostgres {
		cfg.History.DSN = cfg.Database.DSN
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverDuckDB:
	default:
		return fmt.Errorf("invalid SQLAGENT_DB_DRIVER: %q", c.Database.Driver)
	}
	switch c.Model.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid SQLAGENT_MODEL_PROVIDER: %q", c.Model.Provider)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent max iterations must be >= 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxWallTime <= 0 {
		return fmt.Errorf("agent max wall time must be > 0, got %s", c.Agent.MaxWallTime)
	}
	if len(c.Database.ParquetTables) > 0 && c.Database.Driver != DriverDuckDB {
		return fmt.Errorf("SQLAGENT_DB_PARQUET_TABLES requires the duckdb driver")
	}
	if c.Database.RowLimit < 0 {
		return fmt.Errorf("database row limit must be >= 0, got %d", c.Database.RowLimit)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlagent-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:           DriverPostgres,
			DSN:              "",
			MaxOpenConns:     10,
			MaxIdleConns:     10,
			ConnMaxIdleTime:  5 * time.Minute,
			ConnMaxLifetime:  30 * time.Minute,
			ReadOnly:         true,
			RowLimit:         200,
			StatementTimeout: 15 * time.Second,
			Schema:           "",
			SampleRows:       3,
		},
		Model: ModelConfig{
			Provider:    ProviderOllama,
			BaseURL:     "http://localhost:11434",
			Model:       "llama3",
			Temperature: 0,
			Timeout:     45 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:       10,
			MaxWallTime:         60 * time.Second,
			ObservationRowLimit: 50,
		},
		History: HistoryConfig{
			Enabled:           false,
			RetentionAge:      30 * 24 * time.Hour,
			RetentionInterval: time.Hour,
			ArchiveEnabled:    false,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sqlagent",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
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
		cfg.Database.Driver = DriverDuckDB
		cfg.Observability.LogLevel = slog.LevelWarn
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

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
	return nil
}

// applyTableFiles parses "name=path|path,name=path".
func applyTableFiles(lookup LookupFunc, key string, dst *map[string][]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	tables := map[string][]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, paths, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return fmt.Errorf("invalid %s entry %q: want name=path", key, entry)
		}
		for _, path := range strings.Split(paths, "|") {
			if path = strings.TrimSpace(path); path != "" {
				tables[name] = append(tables[name], path)
			}
		}
		if len(tables[name]) == 0 {
			return fmt.Errorf("invalid %s entry %q: no paths", key, entry)
		}
	}
	*dst = tables
	return nil
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
