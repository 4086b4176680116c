package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretProvider looks up one configuration value by its environment-style key
type SecretProvider interface {
	// GetSecret returns "" with a nil error when the key is simply unset
	GetSecret(ctx context.Context, key string) (string, error)
	Name() string
	IsAvailable(ctx context.Context) bool
}

// ChainProvider asks each available provider in order and keeps the first non-empty value
type ChainProvider struct {
	providers []SecretProvider

	mu      sync.Mutex
	sources map[string]string // key -> provider that supplied it
}

// NewChainProvider creates a chain over providers
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
		sources:   make(map[string]string),
	}
}

// GetSecret implements SecretProvider
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var lastErr error

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}

		value, err := provider.GetSecret(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if value != "" {
			c.mu.Lock()
			c.sources[key] = provider.Name()
			c.mu.Unlock()
			return value, nil
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("all providers failed for %s: %w", key, lastErr)
	}
	return "", nil
}

// Source reports which provider supplied key, or "" if none did
func (c *ChainProvider) Source(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources[key]
}

// Name implements SecretProvider
func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// EnvProvider reads environment variables
type EnvProvider struct{}

// NewEnvProvider creates an environment provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// GetSecret implements SecretProvider
func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return os.Getenv(key), nil
}

// Name implements SecretProvider
func (e *EnvProvider) Name() string { return "env" }

// IsAvailable implements SecretProvider
func (e *EnvProvider) IsAvailable(ctx context.Context) bool { return true }

// StaticProvider serves values from a map. Used by the CLI flags and tests.
type StaticProvider map[string]string

// GetSecret implements SecretProvider
func (s StaticProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return s[key], nil
}

// Name implements SecretProvider
func (s StaticProvider) Name() string { return "static" }

// IsAvailable implements SecretProvider
func (s StaticProvider) IsAvailable(ctx context.Context) bool { return len(s) > 0 }

// FileProvider reads one file per key from a directory, the layout Kubernetes
// uses for mounted secrets. SQL_BEARER_TOKEN is read from sql-bearer-token.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider over dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// SecretFileName maps an environment-style key to its file name
func SecretFileName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

// GetSecret implements SecretProvider. A missing file is an unset key.
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if f.dir == "" {
		return "", fmt.Errorf("secrets directory not configured")
	}

	path := filepath.Join(f.dir, SecretFileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Name implements SecretProvider
func (f *FileProvider) Name() string { return "file" }

// IsAvailable reports whether the directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.dir == "" {
		return false
	}
	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}

const serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"

// K8sProvider reads secrets mounted into a pod. It is only available when a
// service account token is present.
type K8sProvider struct {
	files          *FileProvider
	namespace      string
	serviceAccount string
}

// NewK8sProvider creates a provider over secretsPath (default /var/secrets).
// An empty namespace is read from the service account mount.
func NewK8sProvider(secretsPath, namespace string) *K8sProvider {
	return newK8sProvider(secretsPath, namespace, serviceAccountDir)
}

func newK8sProvider(secretsPath, namespace, serviceAccount string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = "/var/secrets"
	}
	if namespace == "" {
		namespace = "default"
		if ns, err := os.ReadFile(filepath.Join(serviceAccount, "namespace")); err == nil {
			if trimmed := strings.TrimSpace(string(ns)); trimmed != "" {
				namespace = trimmed
			}
		}
	}

	return &K8sProvider{
		files:          NewFileProvider(secretsPath),
		namespace:      namespace,
		serviceAccount: serviceAccount,
	}
}

// GetSecret implements SecretProvider
func (k *K8sProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return k.files.GetSecret(ctx, key)
}

// Name implements SecretProvider
func (k *K8sProvider) Name() string { return "kubernetes" }

// IsAvailable implements SecretProvider
func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(filepath.Join(k.serviceAccount, "token")); err != nil {
		return false
	}
	return k.files.IsAvailable(ctx)
}

// Namespace returns the pod namespace
func (k *K8sProvider) Namespace() string {
	return k.namespace
}
