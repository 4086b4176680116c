// Package config loads the agent's settings from Kubernetes secret mounts,
// secret files and environment variables.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Aliases  AliasConfig
	Schema   SchemaConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	SQL      SQLConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	GinMode         string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// Alias document backends
const (
	AliasSourceFile     = "file"
	AliasSourcePostgres = "postgres"
)

// AliasConfig selects where the alias document lives and how it is matched
type AliasConfig struct {
	Source        string // "file" or "postgres"
	ConfigPath    string
	Watch         bool
	WatchDebounce time.Duration
	WholeWord     bool
	DocumentName  string
}

// SchemaConfig points at the table and column catalog
type SchemaConfig struct {
	FilePath string
}

// DatabaseConfig holds PostgreSQL configuration for the postgres alias source
type DatabaseConfig struct {
	Host          string
	Port          string
	Database      string
	Username      string
	Password      string
	SSLMode       string
	RunMigrations bool
}

// RedisConfig holds Redis configuration. An empty Addr disables the parse cache.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ParseCacheTTL time.Duration
	// RateLimit stores rate limit counters in Redis so replicas share them
	RateLimit bool
}

// BackendConfig holds the settings of one LLM backend
type BackendConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AI modes
const (
	AIModeNone   = "none"
	AIModeOpenAI = "openai"
	AIModeOllama = "ollama"
	AIModeClaude = "claude"
	AIModeHybrid = "hybrid"
)

// AIConfig holds the parse orchestrator and LLM backend configuration
type AIConfig struct {
	Mode                string
	Timeout             time.Duration
	ConfidenceThreshold float64
	HybridLocalTimeout  time.Duration
	MaxTokens           int
	Temperature         float64
	OpenAI              BackendConfig
	AzureOpenAI         bool
	Ollama              BackendConfig
	Claude              BackendConfig
}

// SQLConfig holds the REST SQL gateway configuration
type SQLConfig struct {
	Endpoint    string
	Database    string
	AuthType    string // "none", "basic", "bearer"
	Username    string
	Password    string
	BearerToken string
	Timeout     time.Duration
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret             string
	JWTExpiry             time.Duration
	RateLimit             int
	AllowAnonymous        bool
	BootstrapClientID     string
	BootstrapClientSecret string
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader reads Kubernetes secrets when running in a pod, then
// secret files under /var/secrets, then the environment.
func NewDefaultLoader() *Loader {
	return &Loader{
		provider: NewChainProvider(
			NewK8sProvider("", ""),
			NewFileProvider("/var/secrets"),
			NewEnvProvider(),
		),
	}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:            l.getString(ctx, "PORT", "8080"),
		GinMode:         l.getString(ctx, "GIN_MODE", "debug"),
		LogLevel:        l.getString(ctx, "LOG_LEVEL", "info"),
		ShutdownTimeout: l.getDuration(ctx, "SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	cfg.Aliases = AliasConfig{
		Source:        strings.ToLower(l.getString(ctx, "ALIAS_SOURCE", AliasSourceFile)),
		ConfigPath:    l.getString(ctx, "ALIAS_CONFIG_PATH", "configs/aliases.json"),
		Watch:         l.getBool(ctx, "ALIAS_WATCH", true),
		WatchDebounce: l.getDuration(ctx, "ALIAS_WATCH_DEBOUNCE", 250*time.Millisecond),
		WholeWord:     l.getBool(ctx, "ALIAS_WHOLE_WORD", false),
		DocumentName:  l.getString(ctx, "ALIAS_DOCUMENT_NAME", "default"),
	}

	cfg.Schema = SchemaConfig{
		FilePath: l.getString(ctx, "SCHEMA_FILE_PATH", "configs/tables_and_columns.json"),
	}

	cfg.Database = DatabaseConfig{
		Host:          l.getString(ctx, "DB_HOST", "localhost"),
		Port:          l.getString(ctx, "DB_PORT", "5432"),
		Database:      l.getString(ctx, "DB_NAME", "usage_agent"),
		Username:      l.getString(ctx, "DB_USER", "usage_agent"),
		Password:      l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:       l.getString(ctx, "DB_SSLMODE", "disable"),
		RunMigrations: l.getBool(ctx, "DB_RUN_MIGRATIONS", true),
	}

	cfg.Redis = RedisConfig{
		Addr:          l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password:      l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:            l.getInt(ctx, "REDIS_DB", 0),
		ParseCacheTTL: l.getDuration(ctx, "PARSE_CACHE_TTL", 10*time.Minute),
		RateLimit:     l.getBool(ctx, "REDIS_RATE_LIMIT", false),
	}

	cfg.AI = AIConfig{
		Mode:                strings.ToLower(l.getString(ctx, "AI_MODE", AIModeNone)),
		Timeout:             l.getDuration(ctx, "AI_TIMEOUT", 30*time.Second),
		ConfidenceThreshold: l.getFloat(ctx, "AI_CONFIDENCE_THRESHOLD", 0.7),
		HybridLocalTimeout:  l.getDuration(ctx, "AI_HYBRID_LOCAL_TIMEOUT", 15*time.Second),
		MaxTokens:           l.getInt(ctx, "AI_MAX_TOKENS", 500),
		Temperature:         l.getFloat(ctx, "AI_TEMPERATURE", 0.1),
		OpenAI: BackendConfig{
			APIKey:  l.getString(ctx, "OPENAI_API_KEY", ""),
			Model:   l.getString(ctx, "OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: l.getString(ctx, "OPENAI_BASE_URL", ""),
		},
		AzureOpenAI: l.getBool(ctx, "OPENAI_AZURE", false),
		Ollama: BackendConfig{
			Model:   l.getString(ctx, "OLLAMA_MODEL", "llama3.1:8b"),
			BaseURL: l.getString(ctx, "OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		Claude: BackendConfig{
			APIKey:  l.getString(ctx, "CLAUDE_API_KEY", ""),
			Model:   l.getString(ctx, "CLAUDE_MODEL", "claude-3-5-haiku-20241022"),
			BaseURL: l.getString(ctx, "CLAUDE_BASE_URL", ""),
		},
	}

	cfg.SQL = SQLConfig{
		Endpoint:    l.getString(ctx, "SQL_ENDPOINT", ""),
		Database:    l.getString(ctx, "SQL_DATABASE", ""),
		AuthType:    strings.ToLower(l.getString(ctx, "SQL_AUTH_TYPE", "none")),
		Username:    l.getString(ctx, "SQL_USERNAME", ""),
		Password:    l.getString(ctx, "SQL_PASSWORD", ""),
		BearerToken: l.getString(ctx, "SQL_BEARER_TOKEN", ""),
		Timeout:     l.getDuration(ctx, "SQL_TIMEOUT", 30*time.Second),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:             l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:             l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		RateLimit:             l.getInt(ctx, "RATE_LIMIT", 100),
		AllowAnonymous:        l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		BootstrapClientID:     l.getString(ctx, "BOOTSTRAP_CLIENT_ID", ""),
		BootstrapClientSecret: l.getString(ctx, "BOOTSTRAP_CLIENT_SECRET", ""),
	}

	return cfg, nil
}

// Helper methods for retrieving and parsing configuration values.
// Unparseable values fall back to the default.

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value := l.getString(ctx, key, "")
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value := l.getString(ctx, key, "")
	if value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getFloat(ctx context.Context, key string, defaultValue float64) float64 {
	value := l.getString(ctx, key, "")
	if value == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value := l.getString(ctx, key, "")
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// MustLoad loads configuration and panics on error
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
