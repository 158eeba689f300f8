package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"llmchat/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

func Open(cfg config.Config) (*sql.DB, error) {
	driver, dsn, err := buildDSN(cfg.TursoDatabaseURL, cfg.TursoAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return database, nil
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, database *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

// buildDSN picks the local sqlite driver for file: URLs and libsql for
// everything else.
func buildDSN(rawURL, authToken string) (string, string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", "", fmt.Errorf("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") {
		return "sqlite", rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return "libsql", parsed.String(), nil
}
