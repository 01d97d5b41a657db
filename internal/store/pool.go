package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vecstash/internal/vector"
)

// PoolConfig bounds concurrent access to the durable store.
type PoolConfig struct {
	// MaxSlots is the maximum number of connections checked out at once.
	// Default 5.
	MaxSlots int

	// AcquireTimeout is how long Acquire waits for a free slot before
	// failing with ErrPoolExhausted. Default 5s.
	AcquireTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSlots <= 0 {
		c.MaxSlots = 5
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	return c
}

// Slot is one reusable store connection, owned exclusively by whoever
// holds it until Release.
type Slot struct {
	conn *sql.Conn
}

// Pool manages a bounded set of reusable connections. Acquisition blocks
// until a slot frees or the timeout elapses; this is the engine's only
// intentional blocking point tied to a hard resource limit.
type Pool struct {
	db      *sql.DB
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.Mutex
	free   []*Slot
	closed bool
}

func newPool(db *sql.DB, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		db:      db,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSlots)),
		timeout: cfg.AcquireTimeout,
	}
}

// Acquire returns a slot, blocking while all slots are checked out.
// Returns ErrPoolExhausted when the wait exceeds the configured timeout,
// or the caller's context error when the caller cancels first.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, vector.ErrPoolExhausted
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, vector.WrapError("pool.acquire", sql.ErrConnDone)
	}
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, vector.WrapError("pool.acquire", err)
	}
	if err := configureConn(ctx, conn); err != nil {
		conn.Close()
		p.sem.Release(1)
		return nil, vector.WrapError("pool.acquire", err)
	}
	return &Slot{conn: conn}, nil
}

// Release returns a slot to the free set. Safe to call with nil.
func (p *Pool) Release(s *Slot) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.conn.Close()
		p.sem.Release(1)
		return
	}
	p.free = append(p.free, s)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Close closes all pooled connections. Slots still checked out are
// closed on their eventual Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	var firstErr error
	for _, s := range free {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// configureConn applies durability and performance settings once per
// connection.
func configureConn(ctx context.Context, conn *sql.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}
