package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"crs-api/internal/migrate"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB：需要 PG_TEST_DSN 指向可写的测试库，否则跳过
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, migrate.EnsureSchema(context.Background(), db))
	// 幂等
	require.NoError(t, migrate.EnsureSchema(context.Background(), db))
	t.Cleanup(func() { _ = db.Close() })
	return AttachDB(db)
}

func TestStats(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	before, err := s.GetTotals(ctx)
	require.NoError(t, err)

	require.NoError(t, s.IncrStats(ctx, true))
	require.NoError(t, s.IncrStats(ctx, false))

	after, err := s.GetTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Resolves+2, after.Resolves)
	assert.Equal(t, before.Matched+1, after.Matched)
	assert.Equal(t, before.TodayResolves+2, after.TodayResolves)
}

func TestUnmatched(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	url := "http://unmatched.test:2101"
	_, err := s.db.ExecContext(ctx, "DELETE FROM _crs_unmatched WHERE url=$1", url)
	require.NoError(t, err)

	require.NoError(t, s.RecordUnmatched(ctx, url, "MP1"))
	require.NoError(t, s.RecordUnmatched(ctx, url, "MP1"))
	require.NoError(t, s.RecordUnmatched(ctx, url, ""))

	list, err := s.FetchUnmatched(ctx, 1, 100)
	require.NoError(t, err)
	var found *Unmatched
	for i := range list {
		if list[i].URL == url {
			found = &list[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "MP1", found.Mountpoint)
	assert.EqualValues(t, 2, found.Queries)
}
