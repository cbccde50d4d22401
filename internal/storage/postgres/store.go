// Package postgres содержит PostgreSQL-реализацию staging-хранилища заказов
// и встроенный мигратор схемы.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultConnTimeout = 5 * time.Second

// PoolOptions задаёт параметры пула подключений.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PoolOption изменяет PoolOptions.
type PoolOption func(*PoolOptions)

// WithMaxOpenConns ограничивает число открытых подключений.
func WithMaxOpenConns(n int) PoolOption {
	return func(o *PoolOptions) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

// WithConnMaxLifetime задаёт время жизни подключения.
func WithConnMaxLifetime(d time.Duration) PoolOption {
	return func(o *PoolOptions) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

func defaultPoolOptions() PoolOptions {
	// Цикл синхронизации последовательный, поэтому пул небольшой.
	return PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store оборачивает SQL-подключение к staging-базе.
type Store struct {
	db *sql.DB
}

// newPoolOptions применяет опции к значениям по умолчанию.
func newPoolOptions(opts ...PoolOption) PoolOptions {
	pool := defaultPoolOptions()
	for _, opt := range opts {
		opt(&pool)
	}
	if pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}
	return pool
}

func (o PoolOptions) apply(db *sql.DB) {
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)
	db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
}

// Open открывает подключение через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...PoolOption) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	newPoolOptions(opts...).apply(db)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB оборачивает уже открытое подключение (используется в тестах с sqlmock).
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB возвращает raw SQL DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
