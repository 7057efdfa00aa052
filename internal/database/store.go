package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/relaymesh/internal/config"
)

const preferredRelaysQuery = `
SELECT url
FROM preferred_relays
WHERE enabled
ORDER BY position, url`

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RelayStore serves preferred relays out of Postgres.
type RelayStore struct {
	db   querier
	pool *pgxpool.Pool
}

// Connect creates a connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewRelayStore connects to the preferences database.
func NewRelayStore(ctx context.Context, cfg config.DBConfig) (*RelayStore, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RelayStore{db: pool, pool: pool}, nil
}

// PreferredRelays returns enabled relay URLs in position order. Blank and
// repeated URLs are skipped.
func (s *RelayStore) PreferredRelays(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, preferredRelaysQuery)
	if err != nil {
		return nil, fmt.Errorf("query preferred relays: %w", err)
	}

	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan preferred relays: %w", err)
	}

	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out, nil
}

// Ping verifies the connection is healthy.
func (s *RelayStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *RelayStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
