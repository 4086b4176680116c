// Package auth authenticates tool callers with client credentials, bearer
// tokens and API keys, and enforces roles and request rates.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
)

// Roles
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

// AnonymousClientID identifies callers admitted by AllowAnonymous
const AnonymousClientID = "anonymous"

const apiKeyPrefix = "usa_"

// Client is a service account allowed to call the tools
type Client struct {
	ID         string    `json:"client_id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Roles      []string  `json:"roles"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasRole reports whether the client carries any of roles
func (c *Client) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// APIKey is a long-lived credential bound to a client
type APIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"` // plaintext, only returned on creation
	HashedKey  string    `json:"-"`
	ClientID   string    `json:"client_id"`
	RateLimit  int       `json:"rate_limit"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Active     bool      `json:"active"`
}

// Claims are the bearer token claims
type Claims struct {
	ClientID string   `json:"client_id"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	Issuer         string
	RateLimit      int // requests per minute per caller
	AllowAnonymous bool
}

// Manager owns clients and API keys
type Manager struct {
	config  Config
	clients map[string]*Client // client ID -> client
	apiKeys map[string]*APIKey // hashed key -> key
	limiter RateLimiter
	now     func() time.Time
	mu      sync.RWMutex
}

// NewManager creates a manager. A nil limiter uses the in-memory sliding window.
func NewManager(config Config, limiter RateLimiter) *Manager {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.RateLimit == 0 {
		config.RateLimit = 100
	}
	if config.Issuer == "" {
		config.Issuer = "azure-sdk-usage-agent"
	}
	if config.JWTSecret == "" {
		config.JWTSecret = generateRandomString(32)
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter()
	}

	return &Manager{
		config:  config,
		clients: make(map[string]*Client),
		apiKeys: make(map[string]*APIKey),
		limiter: limiter,
		now:     time.Now,
	}
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// RegisterClient adds a client whose secret is stored as a bcrypt hash
func (m *Manager) RegisterClient(id, name, secret string, roles []string) (*Client, error) {
	if id == "" {
		return nil, apperrors.NewMissingRequiredError("client_id")
	}
	if len(secret) < 8 {
		return nil, apperrors.NewInvalidInputError("client_secret", "must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[id]; exists {
		return nil, apperrors.NewInvalidInputError("client_id", fmt.Sprintf("client %s already exists", id))
	}
	if len(roles) == 0 {
		roles = []string{RoleReader}
	}

	client := &Client{
		ID:         id,
		Name:       name,
		SecretHash: string(hashed),
		Roles:      roles,
		Active:     true,
		CreatedAt:  m.now(),
	}
	m.clients[id] = client
	return client, nil
}

// Authenticate checks client credentials
func (m *Manager) Authenticate(id, secret string) (*Client, error) {
	m.mu.RLock()
	client, exists := m.clients[id]
	m.mu.RUnlock()

	if !exists || !client.Active {
		return nil, apperrors.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, apperrors.NewInvalidCredentialsError()
	}
	return client, nil
}

// GetClient retrieves a client by ID
func (m *Manager) GetClient(id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[id]
	if !exists {
		return nil, fmt.Errorf("client not found: %s", id)
	}
	return client, nil
}

// ListClients returns every client sorted by ID
func (m *Manager) ListClients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// DisableClient deactivates a client; its tokens and keys stop validating
func (m *Manager) DisableClient(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[id]
	if !exists {
		return fmt.Errorf("client not found: %s", id)
	}
	client.Active = false
	return nil
}

// IssueToken signs a bearer token for client
func (m *Manager) IssueToken(client *Client) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.config.JWTExpiry)

	claims := &Claims{
		ClientID: client.ID,
		Name:     client.Name,
		Roles:    client.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			Subject:   client.ID,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, apperrors.NewTokenCreationError(err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a bearer token and returns its still-active client
func (m *Manager) ValidateToken(tokenString string) (*Client, *Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.JWTSecret), nil
	}, jwt.WithIssuer(m.config.Issuer))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, nil, fmt.Errorf("invalid token")
	}

	client, err := m.activeClient(claims.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return client, claims, nil
}

// CreateAPIKey creates a key for clientID. rateLimit 0 uses the configured default.
func (m *Manager) CreateAPIKey(clientID, name string, rateLimit int, expiresIn time.Duration) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[clientID]; !exists {
		return nil, fmt.Errorf("client not found: %s", clientID)
	}
	if rateLimit <= 0 {
		rateLimit = m.config.RateLimit
	}
	if expiresIn <= 0 {
		expiresIn = 90 * 24 * time.Hour
	}

	key := generateAPIKey()
	now := m.now()
	apiKey := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		Key:       key,
		HashedKey: hashAPIKey(key),
		ClientID:  clientID,
		RateLimit: rateLimit,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
		Active:    true,
	}
	m.apiKeys[apiKey.HashedKey] = apiKey

	return apiKey, nil
}

// ValidateAPIKey returns the key and its client
func (m *Manager) ValidateAPIKey(key string) (*Client, *APIKey, error) {
	m.mu.Lock()
	apiKey, exists := m.apiKeys[hashAPIKey(key)]
	if !exists {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("invalid API key")
	}
	if !apiKey.Active {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("API key is inactive")
	}
	if m.now().After(apiKey.ExpiresAt) {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("API key has expired")
	}
	apiKey.LastUsedAt = m.now()
	clientID := apiKey.ClientID
	m.mu.Unlock()

	client, err := m.activeClient(clientID)
	if err != nil {
		return nil, nil, err
	}
	return client, apiKey, nil
}

// RevokeAPIKey deactivates a key by ID
func (m *Manager) RevokeAPIKey(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, apiKey := range m.apiKeys {
		if apiKey.ID == keyID {
			apiKey.Active = false
			return nil
		}
	}
	return fmt.Errorf("API key not found: %s", keyID)
}

// ListAPIKeys returns a client's keys without their plaintext
func (m *Manager) ListAPIKeys(clientID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*APIKey
	for _, apiKey := range m.apiKeys {
		if apiKey.ClientID == clientID {
			keyCopy := *apiKey
			keyCopy.Key = ""
			keys = append(keys, &keyCopy)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys
}

// CleanupExpired removes expired API keys
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for hash, apiKey := range m.apiKeys {
		if now.After(apiKey.ExpiresAt) {
			delete(m.apiKeys, hash)
			removed++
		}
	}
	return removed
}

func (m *Manager) activeClient(id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[id]
	if !exists {
		return nil, fmt.Errorf("client not found")
	}
	if !client.Active {
		return nil, fmt.Errorf("client is inactive")
	}
	return client, nil
}

func anonymousClient() *Client {
	return &Client{ID: AnonymousClientID, Name: "anonymous", Roles: []string{RoleReader}, Active: true}
}

// generateRandomString returns length random bytes, hex encoded
func generateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

func generateAPIKey() string {
	return apiKeyPrefix + generateRandomString(32)
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
