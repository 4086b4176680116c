package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields lists the failing fields in order
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

func (e *ValidationErrors) add(field, format string, args ...interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every section and returns ValidationErrors when any fail
func (c *Config) Validate() error {
	var errs ValidationErrors

	c.validateServer(&errs)
	c.validateAliases(&errs)
	c.validateSchema(&errs)
	c.validateDatabase(&errs)
	c.validateRedis(&errs)
	c.validateAI(&errs)
	c.validateSQL(&errs)
	c.validateAuth(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *Config) validateServer(errs *ValidationErrors) {
	if c.Server.Port == "" {
		errs.add("Server.Port", "server port is required")
	}

	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		errs.add("Server.GinMode", "invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode)
	}

	if c.Server.ShutdownTimeout <= 0 {
		errs.add("Server.ShutdownTimeout", "shutdown timeout must be positive")
	}
}

func (c *Config) validateAliases(errs *ValidationErrors) {
	switch c.Aliases.Source {
	case AliasSourceFile:
		if c.Aliases.ConfigPath == "" {
			errs.add("Aliases.ConfigPath", "alias config path is required for the file source")
		}
	case AliasSourcePostgres:
		if c.Aliases.DocumentName == "" {
			errs.add("Aliases.DocumentName", "document name is required for the postgres source")
		}
		if c.Aliases.Watch {
			errs.add("Aliases.Watch", "watching is only supported for the file source")
		}
	default:
		errs.add("Aliases.Source", "invalid alias source: %s (must be 'file' or 'postgres')", c.Aliases.Source)
	}

	if c.Aliases.WatchDebounce < 0 {
		errs.add("Aliases.WatchDebounce", "watch debounce must be non-negative")
	}
}

func (c *Config) validateSchema(errs *ValidationErrors) {
	if c.Schema.FilePath == "" {
		errs.add("Schema.FilePath", "schema file path is required")
	}
}

// validateDatabase only applies when aliases are stored in PostgreSQL
func (c *Config) validateDatabase(errs *ValidationErrors) {
	if c.Aliases.Source != AliasSourcePostgres {
		return
	}

	if c.Database.Host == "" {
		errs.add("Database.Host", "database host is required")
	}
	if c.Database.Port == "" {
		errs.add("Database.Port", "database port is required")
	}
	if c.Database.Database == "" {
		errs.add("Database.Database", "database name is required")
	}
	if c.Database.Username == "" {
		errs.add("Database.Username", "database username is required")
	}
}

func (c *Config) validateRedis(errs *ValidationErrors) {
	if c.Redis.ParseCacheTTL < 0 {
		errs.add("Redis.ParseCacheTTL", "parse cache TTL must be non-negative")
	}
	if c.Redis.DB < 0 {
		errs.add("Redis.DB", "redis database index must be non-negative")
	}
	if c.Redis.RateLimit && c.Redis.Addr == "" {
		errs.add("Redis.RateLimit", "redis rate limiting requires REDIS_ADDR")
	}
}

func (c *Config) validateAI(errs *ValidationErrors) {
	ai := c.AI

	switch ai.Mode {
	case AIModeNone:
	case AIModeOpenAI:
		c.requireOpenAI(errs)
	case AIModeClaude:
		if ai.Claude.APIKey == "" {
			errs.add("AI.Claude.APIKey", "Claude API key is required for AI mode claude")
		}
	case AIModeOllama:
		if ai.Ollama.BaseURL == "" {
			errs.add("AI.Ollama.BaseURL", "Ollama base URL is required for AI mode ollama")
		}
	case AIModeHybrid:
		if ai.Ollama.BaseURL == "" {
			errs.add("AI.Ollama.BaseURL", "Ollama base URL is required for AI mode hybrid")
		}
		if ai.Claude.APIKey == "" {
			c.requireOpenAI(errs)
		}
	default:
		errs.add("AI.Mode", "invalid AI mode: %s (must be none, openai, ollama, claude or hybrid)", ai.Mode)
	}

	if ai.Timeout <= 0 {
		errs.add("AI.Timeout", "AI timeout must be positive")
	}
	if ai.ConfidenceThreshold < 0 || ai.ConfidenceThreshold > 1 {
		errs.add("AI.ConfidenceThreshold", "confidence threshold must be in [0, 1], got %g", ai.ConfidenceThreshold)
	}
	if ai.Mode == AIModeHybrid && ai.HybridLocalTimeout <= 0 {
		errs.add("AI.HybridLocalTimeout", "hybrid local timeout must be positive")
	}
	if ai.MaxTokens <= 0 {
		errs.add("AI.MaxTokens", "max tokens must be positive")
	}
}

func (c *Config) requireOpenAI(errs *ValidationErrors) {
	if c.AI.OpenAI.APIKey == "" {
		errs.add("AI.OpenAI.APIKey", "OpenAI API key is required for AI mode %s", c.AI.Mode)
	}
	if c.AI.AzureOpenAI && c.AI.OpenAI.BaseURL == "" {
		errs.add("AI.OpenAI.BaseURL", "Azure OpenAI requires OPENAI_BASE_URL")
	}
}

// validateSQL allows an empty endpoint; execution tools then report a backend error
func (c *Config) validateSQL(errs *ValidationErrors) {
	if c.SQL.Endpoint == "" {
		return
	}

	if !strings.HasPrefix(c.SQL.Endpoint, "http://") && !strings.HasPrefix(c.SQL.Endpoint, "https://") {
		errs.add("SQL.Endpoint", "SQL endpoint must be an http(s) URL")
	}

	switch c.SQL.AuthType {
	case "basic":
		if c.SQL.Username == "" || c.SQL.Password == "" {
			errs.add("SQL.Auth", "basic auth requires both username and password")
		}
	case "bearer":
		if c.SQL.BearerToken == "" {
			errs.add("SQL.BearerToken", "bearer auth requires a token")
		}
	case "none":
	default:
		errs.add("SQL.AuthType", "invalid auth type: %s (must be 'none', 'basic', or 'bearer')", c.SQL.AuthType)
	}

	if c.SQL.Timeout <= 0 {
		errs.add("SQL.Timeout", "SQL timeout must be positive")
	}
}

func (c *Config) validateAuth(errs *ValidationErrors) {
	if c.Auth.JWTExpiry <= 0 {
		errs.add("Auth.JWTExpiry", "JWT expiry must be positive")
	}
	if c.Auth.RateLimit < 0 {
		errs.add("Auth.RateLimit", "rate limit must be non-negative")
	}

	id, secret := c.Auth.BootstrapClientID, c.Auth.BootstrapClientSecret
	if (id == "") != (secret == "") {
		errs.add("Auth.BootstrapClient", "bootstrap client id and secret must be set together")
	} else if secret != "" && len(secret) < 8 {
		errs.add("Auth.BootstrapClientSecret", "bootstrap client secret must be at least 8 characters")
	}
}

var insecureJWTSecrets = map[string]bool{
	"":                                     true,
	"secret":                               true,
	"jwt-secret":                           true,
	"change-this-in-production":            true,
	"your-secret-key-change-in-production": true,
}

// ValidateProduction rejects defaults that are unsafe outside development
func (c *Config) ValidateProduction() error {
	var errs ValidationErrors

	if insecureJWTSecrets[c.Auth.JWTSecret] {
		errs.add("Auth.JWTSecret", "production deployment must not use default or insecure JWT secret")
	} else if len(c.Auth.JWTSecret) < 32 {
		errs.add("Auth.JWTSecret", "JWT secret should be at least 32 characters for production use")
	}

	if c.Auth.AllowAnonymous {
		errs.add("Auth.AllowAnonymous", "production deployment should not allow anonymous access")
	}

	if c.Aliases.Source == AliasSourcePostgres && (c.Database.Password == "" || c.Database.Password == "changeme") {
		errs.add("Database.Password", "production deployment must not use default or empty database password")
	}

	if c.Redis.Addr != "" && (c.Redis.Password == "" || c.Redis.Password == "changeme") {
		errs.add("Redis.Password", "production deployment must not use default or empty Redis password")
	}

	if c.SQL.Endpoint == "" {
		errs.add("SQL.Endpoint", "production deployment requires a SQL endpoint")
	} else if c.SQL.AuthType == "none" {
		errs.add("SQL.AuthType", "production deployment should authenticate to the SQL endpoint")
	}

	if c.Server.GinMode != "release" {
		errs.add("Server.GinMode", "production deployment should use 'release' mode")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// IsProduction reports whether gin runs in release mode
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext runs Validate, then ValidateProduction in release mode
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}

	return nil
}
