package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"crs-api/internal/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS _crs_stats_total (
		id INT PRIMARY KEY,
		resolves BIGINT NOT NULL DEFAULT 0,
		matched BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO _crs_stats_total(id, resolves, matched)
	 VALUES(1, 0, 0)
	 ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS _crs_stats_daily (
		day DATE PRIMARY KEY,
		resolves BIGINT NOT NULL DEFAULT 0,
		matched BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS _crs_unmatched (
		url TEXT NOT NULL,
		mountpoint TEXT NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		queries BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (url, mountpoint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crs_unmatched_last_seen ON _crs_unmatched(last_seen DESC)`,
}

// EnsureSchema：创建统计与未匹配记录表
// 约束：全部语句幂等，可在每次启动时执行
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range schema {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done", "statements", len(schema))
	return nil
}
