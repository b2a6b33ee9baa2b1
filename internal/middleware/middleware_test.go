package middleware

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	now = now.Add(time.Second)
	assert.True(t, tb.Allow())
}

func TestTokenBucketNonPositiveQPS(t *testing.T) {
	for _, qps := range []int{0, -5} {
		tb := NewTokenBucket(qps)
		assert.Equal(t, defaultQPS, tb.capacity, "qps=%d", qps)
		assert.True(t, tb.Allow(), "qps=%d", qps)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimit(ok)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_QPS", "1")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimit(ok)
	codes := map[int]int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[rec.Code]++
	}
	// 跨秒边界时最多放行 2 个
	assert.GreaterOrEqual(t, codes[http.StatusTooManyRequests], 1)
}

func TestEdgeGeo(t *testing.T) {
	t.Setenv("EDGE_GEO_HEADERS", "true")
	var got GeoHint
	var found bool
	h := EdgeGeo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = GeoHintFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-EO-Geo-CountryCodeAlpha3", "deu")
	req.Header.Set("X-EO-Geo-Latitude", "52.5")
	req.Header.Set("X-EO-Geo-Longitude", "bad")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, found)
	assert.Equal(t, "DEU", got.Country)
	assert.Equal(t, 52.5, got.Lat)
	assert.True(t, math.IsNaN(got.Lon))
	assert.False(t, got.HasLocation())
}

func TestEdgeGeoDisabled(t *testing.T) {
	t.Setenv("EDGE_GEO_HEADERS", "")
	var found bool
	h := EdgeGeo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, found = GeoHintFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, found)
}
