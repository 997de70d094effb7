// Package postgres is the optional append-only store for domain events.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/simplui/simplui/internal/config"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Instance  string                 `json:"instance"`
	SessionID *string                `json:"session_id,omitempty"`
}

// Client manages the Postgres connection for event storage. Rows are tagged
// with the instance name so several servers can share one database.
type Client struct {
	db       *sql.DB
	instance string
	timeout  time.Duration
}

// New connects to dsn, or to the PG* environment when dsn is empty, and
// creates the events table if needed.
func New(dsn, instance string) (*Client, error) {
	if dsn == "" {
		var err error
		if dsn, err = DSNFromEnv(); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	client := &Client{
		db:       db,
		instance: instance,
		timeout:  5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), client.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := client.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return client, nil
}

// DSNFromEnv builds a key/value connection string from PGHOST, PGPORT,
// PGUSER, PGDATABASE and PGPASSWORD (or PGPASSWORD_FILE).
func DSNFromEnv() (string, error) {
	parts := []string{
		"host=" + getEnv("PGHOST", "127.0.0.1"),
		"port=" + getEnv("PGPORT", "5432"),
		"user=" + getEnv("PGUSER", "simplui"),
		"dbname=" + getEnv("PGDATABASE", "simplui"),
	}
	password, err := config.PostgresPassword()
	if err != nil {
		return "", err
	}
	if password != "" {
		parts = append(parts, "password="+quoteValue(password))
	}
	parts = append(parts, "sslmode="+getEnv("PGSSLMODE", "disable"))
	return strings.Join(parts, " "), nil
}

// quoteValue quotes a connection string value containing spaces or quotes.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			instance   TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts DESC);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts an event into the database.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	query := `
		INSERT INTO events (ts, level, event, msg, fields, instance, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, query, ts, level, event, nullString(msg), fieldsJSON, c.instance, nullString(sessionID))
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Query returns the last N events of this instance, newest first.
func (c *Client) Query(ctx context.Context, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, instance, session_id
		FROM events
		WHERE instance = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	return c.query(ctx, query, c.instance, clampLimit(limit))
}

// QuerySession returns the last N events of one session, newest first.
func (c *Client) QuerySession(ctx context.Context, sessionID string, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, instance, session_id
		FROM events
		WHERE instance = $1 AND session_id = $2
		ORDER BY ts DESC
		LIMIT $3
	`
	return c.query(ctx, query, c.instance, sessionID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

func (c *Client) query(ctx context.Context, query string, args ...interface{}) ([]EventRow, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, sessionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.Instance, &sessionID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
