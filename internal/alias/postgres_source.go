package alias

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN renders the lib/pq keyword connection string
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// URL renders the postgres:// form used by golang-migrate
func (c PostgresConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// PostgresSource stores the alias document as one JSONB row in alias_documents.
// Every write archives the previous body into alias_document_history.
type PostgresSource struct {
	db   *sql.DB
	name string
}

// OpenPostgres opens and pings a connection pool
func OpenPostgres(config PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// NewPostgresSource creates a source for the named document
func NewPostgresSource(db *sql.DB, documentName string) *PostgresSource {
	return &PostgresSource{db: db, name: documentName}
}

// Name implements Source
func (ps *PostgresSource) Name() string {
	return "postgres:" + ps.name
}

// Ping checks the connection and that the alias tables are migrated
func (ps *PostgresSource) Ping(ctx context.Context) error {
	if err := ps.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alias_documents`).Scan(&count); err != nil {
		return fmt.Errorf("failed to query alias_documents table: %w", err)
	}
	return nil
}

// Read implements Source
func (ps *PostgresSource) Read(ctx context.Context) (map[string]interface{}, error) {
	var body []byte
	err := ps.db.QueryRowContext(ctx,
		`SELECT body FROM alias_documents WHERE name = $1`, ps.name,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alias document: %w", err)
	}
	return Unmarshal(body, FormatJSON)
}

// Write implements Source
func (ps *PostgresSource) Write(ctx context.Context, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode alias document: %w", err)
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alias_document_history (name, body, archived_at)
		SELECT name, body, NOW() FROM alias_documents WHERE name = $1
	`, ps.name)
	if err != nil {
		return fmt.Errorf("failed to archive alias document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alias_documents (name, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`, ps.name, body)
	if err != nil {
		return fmt.Errorf("failed to upsert alias document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History implements HistorySource
func (ps *PostgresSource) History(ctx context.Context, limit int) ([]Revision, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, body, archived_at
		FROM alias_document_history
		WHERE name = $1
		ORDER BY archived_at DESC, id DESC
		LIMIT $2
	`, ps.name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alias history: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var body []byte
		if err := rows.Scan(&rev.ID, &body, &rev.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias history row: %w", err)
		}
		if rev.Document, err = Unmarshal(body, FormatJSON); err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias history rows: %w", err)
	}
	return revisions, nil
}
