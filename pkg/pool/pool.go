// Package pool implements a fixed-size pool of reusable connections with
// blocking acquisition. All connections are dialled up front; Acquire hands
// out an idle one or waits until another caller releases one.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
	"github.com/hashicorp/go-multierror"
)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool closed")

// Config describes how to open and close the pooled connections.
type Config[T any] struct {
	Name  string
	Size  int
	Dial  func(ctx context.Context) (T, error)
	Close func(T) error
	// Redial controls the backoff used to replace discarded connections.
	Redial resilience.RetryConfig
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size    int `json:"size"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Waiting int `json:"waiting"`
}

// Pool holds exactly Size connections, each either idle or lent to a single
// holder. It never creates more than Size connections at once.
type Pool[T comparable] struct {
	name    string
	size    int
	dial    func(ctx context.Context) (T, error)
	closeFn func(T) error
	redial  resilience.RetryConfig

	idle    chan T
	done    chan struct{}
	waiting atomic.Int64

	mu     sync.Mutex
	lent   map[T]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New dials cfg.Size connections. If any dial fails, the connections opened
// so far are closed and the combined error is returned.
func New[T comparable](ctx context.Context, cfg Config[T]) (*Pool[T], error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("pool %s: size must be at least 1, got %d", cfg.Name, cfg.Size)
	}
	if cfg.Dial == nil {
		return nil, fmt.Errorf("pool %s: dial function is required", cfg.Name)
	}
	if cfg.Redial.MaxAttempts == 0 {
		cfg.Redial = resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		name:    cfg.Name,
		size:    cfg.Size,
		dial:    cfg.Dial,
		closeFn: cfg.Close,
		redial:  cfg.Redial,
		idle:    make(chan T, cfg.Size),
		done:    make(chan struct{}),
		lent:    make(map[T]struct{}, cfg.Size),
		ctx:     bgCtx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "pool", "pool", cfg.Name),
	}

	opened := make([]T, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		conn, err := cfg.Dial(ctx)
		if err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("pool %s: dialing connection %d of %d: %w", cfg.Name, i+1, cfg.Size, err))
			for _, c := range opened {
				if cerr := p.closeConn(c); cerr != nil {
					result = multierror.Append(result, cerr)
				}
			}
			cancel()
			return nil, result.ErrorOrNil()
		}
		opened = append(opened, conn)
	}
	for _, c := range opened {
		p.idle <- c
	}
	p.logger.Info("connection pool ready", "size", cfg.Size)
	return p, nil
}

// Acquire returns an idle connection, blocking until one is released, ctx
// is done, or the pool is closed. The caller must hand the connection back
// exactly once with Release or Discard.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-p.done:
		return zero, ErrClosed
	default:
	}

	select {
	case conn := <-p.idle:
		return p.lend(conn)
	default:
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)
	select {
	case conn := <-p.idle:
		return p.lend(conn)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.done:
		return zero, ErrClosed
	}
}

func (p *Pool[T]) lend(conn T) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeConn(conn)
		var zero T
		return zero, ErrClosed
	}
	p.lent[conn] = struct{}{}
	return conn, nil
}

// Release returns conn to the idle set, waking one blocked Acquire.
// Connections the pool did not lend are ignored.
func (p *Pool[T]) Release(conn T) {
	p.mu.Lock()
	if _, ok := p.lent[conn]; !ok {
		p.mu.Unlock()
		p.logger.Warn("ignoring release of a connection the pool did not lend")
		return
	}
	delete(p.lent, conn)
	if p.closed {
		p.mu.Unlock()
		if err := p.closeConn(conn); err != nil {
			p.logger.Warn("closing released connection", "error", err)
		}
		return
	}
	// Cannot block: at most size connections exist and idle has room for all.
	p.idle <- conn
	p.mu.Unlock()
}

// Discard closes a broken connection instead of returning it and dials a
// replacement in the background.
func (p *Pool[T]) Discard(conn T) {
	p.mu.Lock()
	if _, ok := p.lent[conn]; !ok {
		p.mu.Unlock()
		p.logger.Warn("ignoring discard of a connection the pool did not lend")
		return
	}
	delete(p.lent, conn)
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if err := p.closeConn(conn); err != nil {
		p.logger.Debug("closing discarded connection", "error", err)
	}
	if closed {
		return
	}
	p.logger.Warn("connection discarded, dialing replacement")
	go p.replenish()
}

func (p *Pool[T]) replenish() {
	defer p.wg.Done()
	var conn T
	for {
		err := resilience.Retry(p.ctx, "pool "+p.name+" redial", p.redial, func() error {
			select {
			case <-p.done:
				return resilience.Permanent(ErrClosed)
			default:
			}
			var err error
			conn, err = p.dial(p.ctx)
			return err
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrClosed) || p.ctx.Err() != nil {
			return
		}
		p.logger.Error("failed to replace discarded connection, will keep trying", "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeConn(conn)
		return
	}
	p.idle <- conn
}

// Close closes every idle connection and stops replacement dialing.
// Connections still lent out are closed when they are released. Acquire
// returns ErrClosed afterwards. Close is idempotent.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	var result *multierror.Error
	for {
		select {
		case conn := <-p.idle:
			if err := p.closeConn(conn); err != nil {
				result = multierror.Append(result, err)
			}
		default:
			p.logger.Info("connection pool closed")
			return result.ErrorOrNil()
		}
	}
}

func (p *Pool[T]) closeConn(conn T) error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn(conn)
}

func (p *Pool[T]) Size() int {
	return p.size
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	inUse := len(p.lent)
	p.mu.Unlock()
	return Stats{
		Size:    p.size,
		Idle:    len(p.idle),
		InUse:   inUse,
		Waiting: int(p.waiting.Load()),
	}
}
