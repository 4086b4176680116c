// Package sqlexec sends finished SELECT statements to the SQL backend
package sqlexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

// Executor runs a statement and returns its rows
type Executor interface {
	Execute(ctx context.Context, sql string) (*Result, error)
}

// Result is a tabular query result
type Result struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Records maps each row onto its column names; cells beyond the header are named column_<i>
func (r *Result) Records() []map[string]interface{} {
	records := make([]map[string]interface{}, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]interface{}, len(row))
		for i, value := range row {
			name := fmt.Sprintf("column_%d", i)
			if i < len(r.Columns) {
				name = r.Columns[i]
			}
			record[name] = value
		}
		records = append(records, record)
	}
	return records
}

// AuthConfig holds authentication configuration for the SQL gateway
type AuthConfig struct {
	Type        string // "basic", "bearer", "none"
	Username    string
	Password    string
	BearerToken string
}

// Client posts statements to a REST SQL gateway:
//
//	POST {endpoint}/query {"query": "...", "database": "..."} -> {"columns": [...], "rows": [[...]]}
type Client struct {
	endpoint   string
	database   string
	auth       AuthConfig
	httpClient *http.Client
	logger     *observability.Logger
}

type queryRequest struct {
	Query    string `json:"query"`
	Database string `json:"database,omitempty"`
}

type queryResponse struct {
	Columns []string          `json:"columns"`
	Rows    []json.RawMessage `json:"rows"`
	Error   string            `json:"error,omitempty"`
}

// NewClient creates a new SQL gateway client
func NewClient(endpoint, database string, auth AuthConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		database:   database,
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
		logger:     observability.NewLogger("sql-client"),
	}
}

// Execute implements Executor
func (c *Client) Execute(ctx context.Context, sql string) (result *Result, err error) {
	start := time.Now()
	defer func() {
		rows := 0
		if result != nil {
			rows = len(result.Rows)
		}
		observability.RecordSQLMetrics(time.Since(start), rows, err)
	}()

	result, err = c.execute(ctx, sql)
	if err != nil {
		c.logger.Error(ctx, "SQL query failed", err, map[string]interface{}{
			"sql":         sql,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, apperrors.NewQueryExecutionError(err)
	}

	c.logger.Debug(ctx, "SQL query executed", map[string]interface{}{
		"rows":        len(result.Rows),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// Ping runs a trivial statement against the backend
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, "SELECT 1")
	return err
}

func (c *Client) execute(ctx context.Context, sql string) (*Result, error) {
	body, err := json.Marshal(queryRequest{Query: sql, Database: c.database})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	switch c.auth.Type {
	case "basic":
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.auth.BearerToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var qr queryResponse
	decodeErr := json.Unmarshal(respBody, &qr)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && qr.Error != "" {
			msg = qr.Error
		}
		return nil, fmt.Errorf("SQL backend returned status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if qr.Error != "" {
		return nil, fmt.Errorf("SQL backend error: %s", qr.Error)
	}

	return decodeRows(qr)
}

// decodeRows accepts rows as positional arrays or as column-keyed objects
func decodeRows(qr queryResponse) (*Result, error) {
	result := &Result{Columns: qr.Columns, Rows: make([][]interface{}, 0, len(qr.Rows))}
	if result.Columns == nil {
		result.Columns = []string{}
	}

	for i, raw := range qr.Rows {
		var positional []interface{}
		if err := json.Unmarshal(raw, &positional); err == nil {
			result.Rows = append(result.Rows, positional)
			continue
		}

		var keyed map[string]interface{}
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, fmt.Errorf("row %d is neither an array nor an object", i)
		}
		row := make([]interface{}, len(result.Columns))
		for j, col := range result.Columns {
			row[j] = keyed[col]
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}
