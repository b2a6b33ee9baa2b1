package ntrip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const casterURL = "http://caster:2101"

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSessionRedisHitSkipsFetch(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set(redisPrefix+casterURL, table))
	f := &countingFetcher{err: errors.New("must not be called")}
	s := NewSession(f, rdb, 0)
	defer s.Close()

	text, ok := s.Get(context.Background(), casterURL)
	require.True(t, ok)
	assert.Equal(t, table, text)
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestSessionRedisWriteBack(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		wantTTL time.Duration
	}{
		{"session ttl", 5 * time.Minute, 5 * time.Minute},
		{"no expiry falls back to a day", 0, 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, rdb := newRedis(t)
			f := &countingFetcher{text: table}
			s := NewSession(f, rdb, tt.ttl)
			defer s.Close()

			_, ok := s.Get(context.Background(), casterURL)
			require.True(t, ok)
			assert.EqualValues(t, 1, f.calls.Load())

			got, err := mr.Get(redisPrefix + casterURL)
			require.NoError(t, err)
			assert.Equal(t, table, got)
			assert.Equal(t, tt.wantTTL, mr.TTL(redisPrefix+casterURL))

			// 其他进程的会话直接读取共享副本
			f2 := &countingFetcher{err: errors.New("must not be called")}
			s2 := NewSession(f2, rdb, tt.ttl)
			defer s2.Close()
			text, ok := s2.Get(context.Background(), casterURL)
			require.True(t, ok)
			assert.Equal(t, table, text)
			assert.EqualValues(t, 0, f2.calls.Load())
		})
	}
}

func TestSessionRedisFailureNotStored(t *testing.T) {
	mr, rdb := newRedis(t)
	f := &countingFetcher{err: errors.New("connection refused")}
	s := NewSession(f, rdb, 0)
	defer s.Close()

	_, ok := s.Get(context.Background(), casterURL)
	assert.False(t, ok)
	_, ok = s.Get(context.Background(), casterURL)
	assert.False(t, ok)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.False(t, mr.Exists(redisPrefix+casterURL))
}

func TestSessionRedisUnavailableStillFetches(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	f := &countingFetcher{text: table}
	s := NewSession(f, rdb, 0)
	defer s.Close()

	text, ok := s.Get(context.Background(), casterURL)
	require.True(t, ok)
	assert.Equal(t, table, text)
	assert.EqualValues(t, 1, f.calls.Load())
}
