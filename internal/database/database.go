// Package database provides the PostgreSQL pool behind the violation audit log.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ratewarden/ratewarden/internal/config"
)

// maxPoolConns caps configured pool sizes.
const maxPoolConns = 1000

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// Stats is a snapshot of pool usage.
type Stats struct {
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

// NewPool opens a pool and verifies connectivity.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxOpenConns > 0 && cfg.MaxOpenConns <= maxPoolConns {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 && cfg.MaxIdleConns <= int(poolConfig.MaxConns) {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// BuildDSN constructs a PostgreSQL connection URL. Credentials are escaped.
func BuildDSN(cfg *config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.DBName,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(cfg.SSLMode)
	}
	return u.String()
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	s := p.Pool.Stat()
	return Stats{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		AcquireCount:  s.AcquireCount(),
	}
}
