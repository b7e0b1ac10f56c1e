package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/pathkeeper/internal/pkg/config"
	"github.com/samirrijal/pathkeeper/internal/pkg/metrics"
)

// DB owns the connection pool shared by the repositories.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool for cfg and verifies it with a ping. appName shows up
// in pg_stat_activity so the api, tracker and enricher can be told apart.
func New(ctx context.Context, cfg config.DatabaseConfig, appName string) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = 50
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute
	if appName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &DB{Pool: pool}, nil
}

// ReportPoolMetrics exports pool statistics every interval until ctx ends.
func (db *DB) ReportPoolMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}

func (db *DB) Close() {
	db.Pool.Close()
}
