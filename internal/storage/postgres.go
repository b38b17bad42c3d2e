// Package storage implements document.Store on PostgreSQL, with every
// repository call running on a connection borrowed from a fixed-size pool,
// and in memory for local development and tests.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/pool"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/postgres"
)

// PostgresStore lends repositories bound to pinned *sql.Conn handles.
type PostgresStore struct {
	client *postgres.Client
	pool   *pool.Pool[*sql.Conn]
	logger *slog.Logger
}

// OpenPostgres connects to cfg and fills a pool of size pinned connections.
// It fails if any of them cannot be opened.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, name string, size int) (*PostgresStore, error) {
	client, err := postgres.New(cfg, size)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(ctx, pool.Config[*sql.Conn]{
		Name:  name,
		Size:  size,
		Dial:  client.Conn,
		Close: func(c *sql.Conn) error { return c.Close() },
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("building %s pool: %w", name, err)
	}
	return &PostgresStore{
		client: client,
		pool:   p,
		logger: slog.Default().With("component", "postgres-store", "pool", name),
	}, nil
}

// Migrate creates the schema if it is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.client.EnsureSchema(ctx)
}

func (s *PostgresStore) Run(ctx context.Context, fn func(document.Repositories) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring connection: %v", apperrors.ErrStorageUnavailable, err)
	}
	err = fn(repositoriesFor(conn))
	s.giveBack(conn, err)
	return err
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(document.Repositories) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring connection: %v", apperrors.ErrStorageUnavailable, err)
	}
	err = postgres.InTx(ctx, conn, func(tx *sql.Tx) error {
		return fn(repositoriesFor(tx))
	})
	s.giveBack(conn, err)
	return err
}

// giveBack discards connections that failed at the transport level so the
// pool replaces them instead of lending them out again.
func (s *PostgresStore) giveBack(conn *sql.Conn, err error) {
	if err != nil && (postgres.IsConnectionLost(err) || errors.Is(err, driver.ErrBadConn)) {
		s.logger.Warn("discarding broken connection", "error", err)
		s.pool.Discard(conn)
		return
	}
	s.pool.Release(conn)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *PostgresStore) PoolStats() pool.Stats {
	return s.pool.Stats()
}

// Close closes the pool and then the database handle.
func (s *PostgresStore) Close() error {
	poolErr := s.pool.Close()
	dbErr := s.client.Close()
	if poolErr != nil {
		return poolErr
	}
	return dbErr
}

func repositoriesFor(q querier) document.Repositories {
	return document.Repositories{
		Documents: &pgDocuments{q: q},
		Terms:     &pgTerms{q: q},
	}
}
