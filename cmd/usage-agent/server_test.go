package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	"github.com/JackTn/azure-sdk-usage-agent/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// sqlGateway records statements and answers every query with one row
type sqlGateway struct {
	mu      sync.Mutex
	queries []string
}

func (g *sqlGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.queries = append(g.queries, req.Query)
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"columns":["Product","RequestCount"],"rows":[["Python-SDK",42]]}`))
}

func (g *sqlGateway) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queries) == 0 {
		return ""
	}
	return g.queries[len(g.queries)-1]
}

type server struct {
	app     *app
	gateway *sqlGateway
	aliases string
}

func newTestServer(t *testing.T) *server {
	t.Helper()

	cfg, gateway, aliasPath := testConfig(t)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return &server{app: a, gateway: gateway, aliases: aliasPath}
}

// testConfig points the server at a copy of the sample aliases, miniredis and a fake SQL gateway
func testConfig(t *testing.T) (*config.Config, *sqlGateway, string) {
	t.Helper()

	data, err := os.ReadFile("../../configs/aliases.json")
	require.NoError(t, err)
	aliasPath := filepath.Join(t.TempDir(), "aliases.json")
	require.NoError(t, os.WriteFile(aliasPath, data, 0o644))

	mr := miniredis.RunT(t)
	gateway := &sqlGateway{}
	backend := httptest.NewServer(gateway)
	t.Cleanup(backend.Close)

	cfg := &config.Config{
		Server:  config.ServerConfig{Port: "0", GinMode: gin.TestMode, LogLevel: "error", ShutdownTimeout: time.Second},
		Aliases: config.AliasConfig{Source: config.AliasSourceFile, ConfigPath: aliasPath, DocumentName: "default"},
		Schema:  config.SchemaConfig{FilePath: "../../configs/tables_and_columns.json"},
		Redis:   config.RedisConfig{Addr: mr.Addr(), ParseCacheTTL: time.Minute},
		AI:      config.AIConfig{Mode: config.AIModeNone, Timeout: time.Second, ConfidenceThreshold: 0.7},
		SQL:     config.SQLConfig{Endpoint: backend.URL, Database: "usage", AuthType: "none", Timeout: 5 * time.Second},
		Auth: config.AuthConfig{
			JWTSecret:             "integration-secret-value",
			JWTExpiry:             time.Hour,
			RateLimit:             1000,
			BootstrapClientID:     "ops",
			BootstrapClientSecret: "ops-secret",
		},
	}
	return cfg, gateway, aliasPath
}

func TestNewApp_StartupFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name:   "missing schema file",
			mutate: func(cfg *config.Config) { cfg.Schema.FilePath = filepath.Join(t.TempDir(), "absent.json") },
		},
		{
			name:   "unknown AI mode after the cache is opened",
			mutate: func(cfg *config.Config) { cfg.AI.Mode = "telepathy" },
		},
		{
			name: "watcher on a missing directory",
			mutate: func(cfg *config.Config) {
				cfg.Aliases.ConfigPath = filepath.Join(t.TempDir(), "gone", "aliases.json")
				cfg.Aliases.Watch = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _ := testConfig(t)
			tt.mutate(cfg)

			var (
				a   *app
				err error
			)
			require.NotPanics(t, func() {
				a, err = newApp(context.Background(), cfg)
			})
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w.Code, decoded
}

func (s *server) token(t *testing.T) string {
	t.Helper()
	code, body := s.do(t, "POST", "/api/v1/auth/token", "", map[string]string{
		"client_id":     "ops",
		"client_secret": "ops-secret",
	})
	require.Equal(t, http.StatusOK, code, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func data(body map[string]interface{}) map[string]interface{} {
	d, _ := body["data"].(map[string]interface{})
	return d
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestServer_RequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "POST", "/api/v1/tools/parseUserQuery", "", map[string]string{"user_question": "usage by customer"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "NOT_AUTHENTICATED", errorCode(body))

	code, _ = s.do(t, "POST", "/api/v1/auth/token", "", map[string]string{"client_id": "ops", "client_secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestServer_ParseAndExecute(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t)

	code, body := s.do(t, "POST", "/api/v1/tools/parseUserQuery", token, map[string]string{"user_question": "usage by customer"})
	require.Equal(t, http.StatusOK, code, body)
	parsed := data(body)
	assert.Equal(t, "CustomerUsage", parsed["table_name"])
	assert.Equal(t, false, parsed["ai_parsed"])
	assert.NotEmpty(t, parsed["columns"])

	columns := []string{}
	for _, c := range parsed["columns"].([]interface{}) {
		columns = append(columns, c.(string))
	}

	code, body = s.do(t, "POST", "/api/v1/tools/executeSQLQuery", token, map[string]interface{}{
		"table_name":   parsed["table_name"],
		"columns":      columns,
		"where_clause": parsed["where_clause"],
		"order_clause": parsed["order_clause"],
		"limit_clause": parsed["limit_clause"],
	})
	require.Equal(t, http.StatusOK, code, body)
	result := data(body)
	assert.Equal(t, "CustomerUsage", result["table_used"])
	assert.Equal(t, float64(1), result["row_count"])
	assert.True(t, strings.HasPrefix(s.gateway.last(), "SELECT "))
	assert.Contains(t, s.gateway.last(), "FROM CustomerUsage")
	assert.NotContains(t, s.gateway.last(), "WHERE 1=1")
}

func TestServer_ExecutionGuards(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t)

	tests := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "direct drop is refused",
			path:       "/api/v1/tools/executeSqlQueryDirect",
			body:       map[string]string{"sql_query": "DROP TABLE ProductUsage"},
			wantStatus: http.StatusForbidden,
			wantCode:   "DISALLOWED_QUERY",
		},
		{
			name:       "disabled table is not found",
			path:       "/api/v1/tools/executeSQLQuery",
			body:       map[string]interface{}{"table_name": "LegacyUsage", "columns": []string{"Month"}},
			wantStatus: http.StatusNotFound,
			wantCode:   "TABLE_NOT_FOUND",
		},
		{
			name:       "stacked statement in clause",
			path:       "/api/v1/tools/executeSQLQuery",
			body:       map[string]interface{}{"table_name": "ProductUsage", "columns": []string{"Month"}, "where_clause": "1=1; DELETE FROM ProductUsage"},
			wantStatus: http.StatusForbidden,
			wantCode:   "DISALLOWED_QUERY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.gateway.last()
			code, body := s.do(t, "POST", tt.path, token, tt.body)
			assert.Equal(t, tt.wantStatus, code, body)
			assert.Equal(t, tt.wantCode, errorCode(body))
			assert.Equal(t, before, s.gateway.last(), "nothing should reach the backend")
		})
	}

	code, body := s.do(t, "POST", "/api/v1/tools/getSampleData", token, map[string]interface{}{"table_name": "ProductUsage", "limit": 5})
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, s.gateway.last(), "TOP 5")
}

func TestServer_AddAliasPersists(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t)

	code, body := s.do(t, "POST", "/api/v1/aliases/categories/product_aliases", token, map[string]interface{}{
		"alias":   "pip",
		"targets": []string{"Python-SDK"},
		"persist": true,
	})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = s.do(t, "GET", "/api/v1/aliases/match?text=pip+installs&category=product_aliases", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	matches := body["matches"].(map[string]interface{})
	assert.Contains(t, matches["product_aliases"], "Python-SDK")

	reloaded := alias.NewStore(alias.NewFileSource(s.aliases))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, []string{"Python-SDK"}, reloaded.Category(alias.CategoryProduct)["pip"])

	code, body = s.do(t, "POST", "/api/v1/aliases/categories/color_aliases", token, map[string]interface{}{
		"alias":   "red",
		"targets": []string{"Red"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_CATEGORY", errorCode(body))
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "healthy", body["status"])

	checks := body["checks"].(map[string]interface{})
	for _, name := range []string{"aliases", "redis", "sql_backend"} {
		assert.Contains(t, checks, name)
	}
}
