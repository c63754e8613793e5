package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	"golang.org/x/sync/singleflight"

	"github.com/askdb/askdb/internal/observability"
)

// ExpiryPolicy bounds how long an opened handle is reused.
type ExpiryPolicy struct {
	TTL time.Duration
}

type PoolConfig struct {
	Expiry          ExpiryPolicy
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

var ErrPoolClosed = errors.New("database pool is closed")

type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type handle struct {
	db       *sql.DB
	openedAt time.Time
}

// Pool caches one *sql.DB per target and reopens it once the expiry
// policy says it is stale. Expired handles are closed on the next Acquire
// of any target.
type Pool struct {
	mu      sync.Mutex
	cfg     PoolConfig
	open    OpenFunc
	now     func() time.Time
	handles map[string]*handle
	closed  bool

	opening singleflight.Group
}

func NewPool(cfg PoolConfig) *Pool {
	return newPool(cfg, sql.Open, time.Now)
}

func newPool(cfg PoolConfig, open OpenFunc, now func() time.Time) *Pool {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	return &Pool{cfg: cfg, open: open, now: now, handles: map[string]*handle{}}
}

// Acquire returns a live handle for target, opening and pinging a new one
// when none is cached or the cached one has expired. The pool lock is not
// held while a target is opened, and concurrent opens of the same target
// share one attempt.
func (p *Pool) Acquire(ctx context.Context, target Target) (*sql.DB, error) {
	key := target.key()
	db, err := p.cached(key)
	if err != nil || db != nil {
		return db, err
	}

	value, err, _ := p.opening.Do(key, func() (any, error) {
		opened, err := p.openTarget(context.WithoutCancel(ctx), target)
		if err != nil {
			return nil, err
		}
		kept, err := p.store(key, opened)
		if err != nil {
			return nil, err
		}
		if kept == opened {
			observability.IncrementPoolOpens(target.Kind)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*sql.DB), nil
}

// cached closes every expired handle and returns the live handle for key,
// or nil when there is none.
func (p *Pool) cached(key string) (*sql.DB, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var stale []*sql.DB
	for k, h := range p.handles {
		if p.expired(h) {
			stale = append(stale, h.db)
			delete(p.handles, k)
		}
	}
	var live *sql.DB
	if h, ok := p.handles[key]; ok {
		live = h.db
	}
	p.mu.Unlock()

	for _, db := range stale {
		_ = db.Close()
	}
	return live, nil
}

// store records db under key. When a live handle was stored in the
// meantime, db is closed and the existing handle is returned.
func (p *Pool) store(key string, db *sql.DB) (*sql.DB, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = db.Close()
		return nil, ErrPoolClosed
	}
	existing, ok := p.handles[key]
	if ok && !p.expired(existing) {
		p.mu.Unlock()
		_ = db.Close()
		return existing.db, nil
	}
	p.handles[key] = &handle{db: db, openedAt: p.now()}
	p.mu.Unlock()

	if ok {
		_ = existing.db.Close()
	}
	return db, nil
}

func (p *Pool) expired(h *handle) bool {
	if p.cfg.Expiry.TTL <= 0 {
		return false
	}
	return p.now().Sub(h.openedAt) >= p.cfg.Expiry.TTL
}

func (p *Pool) openTarget(ctx context.Context, target Target) (*sql.DB, error) {
	if target.DSN == "" {
		return nil, fmt.Errorf("%s dsn is required", target.Kind)
	}
	db, err := p.open(target.DriverName(), target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", target.Kind, err)
	}

	if p.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.cfg.ConnMaxIdleTime)
	}
	if p.cfg.Expiry.TTL > 0 {
		db.SetConnMaxLifetime(p.cfg.Expiry.TTL)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", target.Kind, err)
	}
	return db, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var firstErr error
	for key, h := range p.handles {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close database: %w", err)
		}
		delete(p.handles, key)
	}
	return firstErr
}
