package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/config"
	"github.com/lib/pq"
)

// Codes from https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	codeInvalidTextRepresentation = "22P02"
	codeAdminShutdown             = "57P01"
	codeCannotConnectNow          = "57P03"
)

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

// TxBeginner is satisfied by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// New opens a database handle allowing at most maxConns physical
// connections and verifies it with a ping.
func New(cfg config.PostgresConfig, maxConns int) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Conn pins one physical connection and checks that it is usable.
func (c *Client) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring postgres connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging postgres connection: %w", err)
	}
	return conn, nil
}

// InTx runs fn inside a transaction begun on b. The transaction commits when
// fn returns nil and rolls back otherwise.
func InTx(ctx context.Context, b TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// IsInvalidText reports whether err is a Postgres rejection of a malformed
// literal, such as a doc_id that is not a UUID.
func IsInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeInvalidTextRepresentation
}

// IsConnectionLost reports whether err means the connection it came from can
// no longer be used.
func IsConnectionLost(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeAdminShutdown || pqErr.Code == codeCannotConnectNow
	}
	return false
}
