// 包 store: PostgreSQL 数据访问层，记录解析统计与未匹配的挂载点
package store

import (
	"context"
	"database/sql"
	"errors"

	"crs-api/internal/logger"
)

// Store: 持有连接池；所有写操作失败只记录日志，不影响解析结果
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// IncrStats: 递增累计与当日解析次数，matched 为真时同时递增命中次数
func (s *Store) IncrStats(ctx context.Context, matched bool) error {
	m := 0
	if matched {
		m = 1
	}
	var errs []error
	if _, err := s.db.ExecContext(ctx, "UPDATE _crs_stats_total SET resolves=resolves+1, matched=matched+$1 WHERE id=1", m); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO _crs_stats_daily(day, resolves, matched) VALUES(current_date, 1, $1)
		ON CONFLICT (day) DO UPDATE SET resolves=_crs_stats_daily.resolves+1, matched=_crs_stats_daily.matched+$1`, m); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.L().Warn("stats_incr_error", "err", err)
		return err
	}
	logger.L().Debug("stats_incr", "matched", matched)
	return nil
}

// Totals: 累计与当日的解析、命中次数
type Totals struct {
	Resolves      int64 `json:"resolves"`
	Matched       int64 `json:"matched"`
	TodayResolves int64 `json:"today_resolves"`
	TodayMatched  int64 `json:"today_matched"`
}

// GetTotals: 当日尚无记录时当日计数为 0
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, "SELECT resolves, matched FROM _crs_stats_total WHERE id=1")
	if err := row.Scan(&t.Resolves, &t.Matched); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	row2 := s.db.QueryRowContext(ctx, "SELECT resolves, matched FROM _crs_stats_daily WHERE day=current_date")
	if err := row2.Scan(&t.TodayResolves, &t.TodayMatched); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	logger.L().Debug("stats_totals", "resolves", t.Resolves, "matched", t.Matched)
	return &t, nil
}

// 文档注释：记录未匹配到坐标系的 caster 与挂载点（去重累加）
// 背景：为目录维护者提供待补充条目的线索；只更新 last_seen 与计数。
func (s *Store) RecordUnmatched(ctx context.Context, url, mountpoint string) error {
	if url == "" || mountpoint == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO _crs_unmatched(url, mountpoint, last_seen, queries)
		VALUES($1, $2, now(), 1)
		ON CONFLICT (url, mountpoint) DO UPDATE SET last_seen=now(), queries=_crs_unmatched.queries+1`, url, mountpoint)
	if err != nil {
		logger.L().Warn("unmatched_record_error", "url", url, "mountpoint", mountpoint, "err", err)
	}
	return err
}

// Unmatched: 未匹配记录
type Unmatched struct {
	URL        string `json:"url"`
	Mountpoint string `json:"mountpoint"`
	LastSeen   string `json:"last_seen"`
	Queries    int64  `json:"queries"`
}

// 文档注释：获取最近窗口内的未匹配记录
// 参数：hours 为最近窗口小时数（默认 24），limit 为最大返回数量（默认 1000）。
// 返回：按最近出现时间倒序。
func (s *Store) FetchUnmatched(ctx context.Context, hours int, limit int) ([]Unmatched, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, mountpoint, to_char(last_seen AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), queries
		FROM _crs_unmatched
		WHERE last_seen >= now() - make_interval(hours => $1)
		ORDER BY last_seen DESC
		LIMIT $2`, hours, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unmatched
	for rows.Next() {
		var u Unmatched
		if err := rows.Scan(&u.URL, &u.Mountpoint, &u.LastSeen, &u.Queries); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
