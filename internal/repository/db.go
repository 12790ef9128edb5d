package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens a pooled Postgres handle and verifies it answers.
func Connect(ctx context.Context, uri string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
