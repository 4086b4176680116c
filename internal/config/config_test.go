package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TEST_SECRET", "test-value")

	provider := NewEnvProvider()

	t.Run("retrieves existing env var", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "TEST_SECRET")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "test-value" {
			t.Errorf("expected 'test-value', got '%s'", value)
		}
	})

	t.Run("returns empty for non-existent env var", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "USAGE_AGENT_NON_EXISTENT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "" {
			t.Errorf("expected empty string, got '%s'", value)
		}
	})

	if !provider.IsAvailable(ctx) {
		t.Error("env provider should always be available")
	}
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "sql-bearer-token"), []byte("gateway-token\n"), 0600); err != nil {
		t.Fatalf("failed to create secret file: %v", err)
	}

	provider := NewFileProvider(dir)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"reads trimmed file", "SQL_BEARER_TOKEN", "gateway-token"},
		{"missing file is unset", "OPENAI_API_KEY", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.GetSecret(ctx, tt.key)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if !provider.IsAvailable(ctx) {
		t.Error("provider over an existing directory should be available")
	}
	if NewFileProvider(filepath.Join(dir, "missing")).IsAvailable(ctx) {
		t.Error("provider over a missing directory should not be available")
	}
	if _, err := NewFileProvider("").GetSecret(ctx, "X"); err == nil {
		t.Error("expected error for unconfigured directory")
	}
}

func TestSecretFileName(t *testing.T) {
	tests := map[string]string{
		"CLAUDE_API_KEY":          "claude-api-key",
		"BOOTSTRAP_CLIENT_SECRET": "bootstrap-client-secret",
		"PORT":                    "port",
	}
	for key, want := range tests {
		if got := SecretFileName(key); got != want {
			t.Errorf("SecretFileName(%s) = %s, want %s", key, got, want)
		}
	}
}

type failingProvider struct{}

func (failingProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return "", errors.New("backend down")
}
func (failingProvider) Name() string                         { return "failing" }
func (failingProvider) IsAvailable(ctx context.Context) bool { return true }

func TestChainProvider(t *testing.T) {
	ctx := context.Background()

	first := StaticProvider{"PORT": "9090"}
	second := StaticProvider{"PORT": "7070", "GIN_MODE": "release"}
	chain := NewChainProvider(first, second)

	tests := []struct {
		key        string
		want       string
		wantSource string
	}{
		{"PORT", "9090", "static"},
		{"GIN_MODE", "release", "static"},
		{"UNSET", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := chain.GetSecret(ctx, tt.key)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if src := chain.Source(tt.key); src != tt.wantSource {
				t.Errorf("expected source %q, got %q", tt.wantSource, src)
			}
		})
	}

	t.Run("skips unavailable providers", func(t *testing.T) {
		chain := NewChainProvider(NewFileProvider(""), StaticProvider{"PORT": "1"})
		got, _ := chain.GetSecret(ctx, "PORT")
		if got != "1" {
			t.Errorf("expected fallback value, got %q", got)
		}
	})

	t.Run("falls through failing provider", func(t *testing.T) {
		chain := NewChainProvider(failingProvider{}, StaticProvider{"PORT": "2"})
		got, err := chain.GetSecret(ctx, "PORT")
		if err != nil || got != "2" {
			t.Errorf("expected 2, got %q (%v)", got, err)
		}
	})

	t.Run("reports error when every provider fails", func(t *testing.T) {
		chain := NewChainProvider(failingProvider{})
		if _, err := chain.GetSecret(ctx, "PORT"); err == nil {
			t.Error("expected error")
		}
	})

	if NewChainProvider(NewFileProvider("")).IsAvailable(ctx) {
		t.Error("chain with no available provider should not be available")
	}
}

func TestK8sProvider(t *testing.T) {
	ctx := context.Background()
	secrets := t.TempDir()
	account := t.TempDir()

	if err := os.WriteFile(filepath.Join(secrets, "jwt-secret"), []byte("k8s-secret"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(account, "namespace"), []byte("usage\n"), 0600); err != nil {
		t.Fatal(err)
	}

	provider := newK8sProvider(secrets, "", account)
	if provider.Namespace() != "usage" {
		t.Errorf("expected namespace from service account, got %q", provider.Namespace())
	}
	if provider.IsAvailable(ctx) {
		t.Error("provider should not be available without a service account token")
	}

	if err := os.WriteFile(filepath.Join(account, "token"), []byte("token"), 0600); err != nil {
		t.Fatal(err)
	}
	if !provider.IsAvailable(ctx) {
		t.Error("provider should be available with a token and secrets directory")
	}

	value, err := provider.GetSecret(ctx, "JWT_SECRET")
	if err != nil || value != "k8s-secret" {
		t.Errorf("expected k8s-secret, got %q (%v)", value, err)
	}

	if ns := newK8sProvider(secrets, "", t.TempDir()).Namespace(); ns != "default" {
		t.Errorf("expected default namespace, got %q", ns)
	}
	if ns := newK8sProvider(secrets, "explicit", account).Namespace(); ns != "explicit" {
		t.Errorf("expected explicit namespace, got %q", ns)
	}
}

func TestConfigLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewLoader(StaticProvider{}).Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Server.Port != "8080" || cfg.Server.GinMode != "debug" {
			t.Errorf("unexpected server defaults: %+v", cfg.Server)
		}
		if cfg.Aliases.Source != AliasSourceFile || cfg.Aliases.ConfigPath != "configs/aliases.json" {
			t.Errorf("unexpected alias defaults: %+v", cfg.Aliases)
		}
		if cfg.Aliases.WholeWord {
			t.Error("whole-word matching should default to off")
		}
		if cfg.Schema.FilePath != "configs/tables_and_columns.json" {
			t.Errorf("unexpected schema path: %s", cfg.Schema.FilePath)
		}
		if cfg.AI.Mode != AIModeNone {
			t.Errorf("expected AI mode none, got %s", cfg.AI.Mode)
		}
		if cfg.AI.ConfidenceThreshold != 0.7 {
			t.Errorf("expected threshold 0.7, got %g", cfg.AI.ConfidenceThreshold)
		}
		if cfg.AI.Timeout != 30*time.Second {
			t.Errorf("expected AI timeout 30s, got %v", cfg.AI.Timeout)
		}
		if cfg.Redis.ParseCacheTTL != 10*time.Minute {
			t.Errorf("expected parse cache TTL 10m, got %v", cfg.Redis.ParseCacheTTL)
		}
		if cfg.Auth.RateLimit != 100 {
			t.Errorf("expected rate limit 100, got %d", cfg.Auth.RateLimit)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults should validate, got %v", err)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		provider := StaticProvider{
			"PORT":                    "9000",
			"ALIAS_SOURCE":            "Postgres",
			"ALIAS_WATCH":             "false",
			"ALIAS_WHOLE_WORD":        "true",
			"AI_MODE":                 "HYBRID",
			"AI_CONFIDENCE_THRESHOLD": "0.85",
			"AI_TIMEOUT":              "5s",
			"CLAUDE_API_KEY":          "sk-ant-test",
			"SQL_ENDPOINT":            "https://sql.example.com",
			"SQL_AUTH_TYPE":           "Bearer",
			"SQL_BEARER_TOKEN":        "tok",
			"RATE_LIMIT":              "50",
			"REDIS_DB":                "2",
			"PARSE_CACHE_TTL":         "1h",
		}
		cfg, err := NewLoader(provider).Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Server.Port != "9000" {
			t.Errorf("expected port 9000, got %s", cfg.Server.Port)
		}
		if cfg.Aliases.Source != AliasSourcePostgres || cfg.Aliases.Watch || !cfg.Aliases.WholeWord {
			t.Errorf("unexpected alias config: %+v", cfg.Aliases)
		}
		if cfg.AI.Mode != AIModeHybrid || cfg.AI.ConfidenceThreshold != 0.85 || cfg.AI.Timeout != 5*time.Second {
			t.Errorf("unexpected AI config: %+v", cfg.AI)
		}
		if cfg.SQL.AuthType != "bearer" || cfg.SQL.BearerToken != "tok" {
			t.Errorf("unexpected SQL config: %+v", cfg.SQL)
		}
		if cfg.Auth.RateLimit != 50 || cfg.Redis.DB != 2 || cfg.Redis.ParseCacheTTL != time.Hour {
			t.Errorf("unexpected numeric overrides: %+v %+v", cfg.Auth, cfg.Redis)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	t.Run("unparseable values fall back to defaults", func(t *testing.T) {
		cfg, err := NewLoader(StaticProvider{
			"RATE_LIMIT":              "lots",
			"AI_TIMEOUT":              "soon",
			"ALIAS_WATCH":             "maybe",
			"AI_CONFIDENCE_THRESHOLD": "high",
		}).Load(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Auth.RateLimit != 100 || cfg.AI.Timeout != 30*time.Second || !cfg.Aliases.Watch || cfg.AI.ConfidenceThreshold != 0.7 {
			t.Errorf("expected defaults, got %+v %+v %+v", cfg.Auth, cfg.AI, cfg.Aliases)
		}
	})

	t.Run("reads the environment", func(t *testing.T) {
		t.Setenv("SCHEMA_FILE_PATH", "/etc/usage/tables.yaml")
		cfg := NewLoader(NewEnvProvider()).MustLoad(ctx)
		if cfg.Schema.FilePath != "/etc/usage/tables.yaml" {
			t.Errorf("expected env override, got %s", cfg.Schema.FilePath)
		}
	})
}
