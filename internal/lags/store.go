// Package lags retrieves an entity's reference documents ("lags": uploaded
// text files attached to a shop or facility) and concatenates them into a
// single fenced text block used as grounding context in the system prompt.
package lags

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Document is one reference document's metadata. The body lives behind URL
// in the blob store and is fetched fresh on every turn.
type Document struct {
	URL  string
	Name string
}

// Store lists the documents attached to an entity.
type Store interface {
	List(ctx context.Context, entityID string) ([]Document, error)
}

// PostgresStore reads lag metadata from the street app's lags table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the metadata database and verifies the connection.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// List returns the entity's documents in upload order.
func (s *PostgresStore) List(ctx context.Context, entityID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, name FROM lags WHERE entity_id = $1 ORDER BY created_at`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query lags: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.URL, &d.Name); err != nil {
			return nil, fmt.Errorf("scan lag row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lag rows: %w", err)
	}
	return docs, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
