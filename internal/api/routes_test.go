package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crs-api/internal/catalog"
	"crs-api/internal/geoip"
	"crs-api/internal/middleware"
	"crs-api/internal/resolve"
	"crs-api/internal/store"
)

const ignSourcetable = "STR;IZAN3M;Izana;RTCM 3.2;1004(1);2;GPS;ERGNSS;ESP;28.30;-16.51;0\r\n" +
	"STR;VCIA3M;Valencia;RTCM 3.2;1004(1);2;GPS;ERGNSS;ESP;39.48;-0.34;0\r\n" +
	"STR;NOPOS;NoPos;RTCM 3.2;;2;GPS;ERGNSS;ESP;;;0\r\n" +
	"ENDSOURCETABLE"

type fakeTables struct {
	mu    sync.Mutex
	texts map[string]string
	gets  map[string]int
}

func (f *fakeTables) Get(ctx context.Context, u string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets[u]++
	t, ok := f.texts[u]
	return t, ok
}

func (f *fakeTables) Provider(ctx context.Context, u string) resolve.Sourcetable {
	return func() (string, bool) { return f.Get(ctx, u) }
}

type fakeStats struct {
	resolves, matched int
	unmatched         []store.Unmatched
}

func (f *fakeStats) IncrStats(ctx context.Context, matched bool) error {
	f.resolves++
	if matched {
		f.matched++
	}
	return nil
}

func (f *fakeStats) GetTotals(ctx context.Context) (*store.Totals, error) {
	return &store.Totals{Resolves: int64(f.resolves), Matched: int64(f.matched)}, nil
}

func (f *fakeStats) RecordUnmatched(ctx context.Context, url, mountpoint string) error {
	f.unmatched = append(f.unmatched, store.Unmatched{URL: url, Mountpoint: mountpoint, Queries: 1})
	return nil
}

func (f *fakeStats) FetchUnmatched(ctx context.Context, hours int, limit int) ([]store.Unmatched, error) {
	return f.unmatched, nil
}

type fakeLocator map[string]geoip.Location

func (f fakeLocator) Lookup(ip string) (geoip.Location, bool) {
	l, ok := f[ip]
	return l, ok
}

type env struct {
	mux    *http.ServeMux
	tables *fakeTables
	stats  *fakeStats
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c, err := catalog.Load(filepath.Join("..", "catalog", "testdata", "ntrip-catalog.json"))
	require.NoError(t, err)
	tables := &fakeTables{
		texts: map[string]string{"http://ergnss-tr.ign.es:2102": ignSourcetable},
		gets:  map[string]int{},
	}
	stats := &fakeStats{}
	mux := BuildRoutes(Deps{
		Catalog:      c,
		Sourcetables: tables,
		Stats:        stats,
		Geo:          fakeLocator{"203.0.113.7": {Lat: 21.3, Lon: -157.8}},
		AdminToken:   "secret",
	})
	return &env{mux: mux, tables: tables, stats: stats}
}

func (e *env) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("content-type"), "application/json") && rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func TestEntries(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/entries?url=rtk.topnetlive.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TopNET live", body["name"])
	assert.Equal(t, "http://rtk.topnetlive.com:2101", body["url"])
	assert.Equal(t, map[string]any{"country": true, "latlon": false}, body["requires"])
	assert.Equal(t, false, body["needs_sourcetable"])

	rec, _ = e.get(t, "/entries?url=rtk.topnetlive.com&port=2102")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = e.get(t, "/entries?url=https://rtk.topnetlive.com:2102")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.get(t, "/entries?url=")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveMatched(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/resolve?url=ergnss-tr.ign.es&mountpoint=CERCANA3&latitude=40&longitude=-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("cache-control"))
	assert.Equal(t, true, body["matched"])
	crs := body["crs"].(map[string]any)
	assert.Equal(t, "EPSG:7931", crs["id"])
	// 额外字段原样透传
	assert.Equal(t, 2015.0, crs["epoch"])
	assert.Equal(t, "https://spatialreference.org/ref/epsg/7931/", body["spatialreference_url"])
	assert.EqualValues(t, 0, body["stream"])
	assert.EqualValues(t, 1, body["candidate"])
	assert.Equal(t, []any{}, body["diagnostics"])
	assert.Equal(t, 1, e.stats.matched)
}

func TestResolveCountryIsUppercased(t *testing.T) {
	e := newEnv(t)
	_, body := e.get(t, "/resolve?url=rtk.topnetlive.com&mountpoint=X&country=deu")
	require.Equal(t, true, body["matched"])
	assert.Equal(t, "EPSG:10283", body["crs"].(map[string]any)["id"])
}

func TestResolveNoMatchWithDiagnostics(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/resolve?url=ergnss-tr.ign.es&mountpoint=CERCANA3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["matched"])
	assert.Nil(t, body["crs"])
	assert.EqualValues(t, -1, body["stream"])
	ds := body["diagnostics"].([]any)
	require.Len(t, ds, 2)
	assert.Equal(t, string(resolve.CodeRoverLocationRequired), ds[0].(map[string]any)["code"])
	require.Len(t, e.stats.unmatched, 1)
	assert.Equal(t, "CERCANA3", e.stats.unmatched[0].Mountpoint)
}

func TestResolveGeoStreamUsesSourcetable(t *testing.T) {
	e := newEnv(t)
	_, body := e.get(t, "/resolve?url=ergnss-tr.ign.es:2102&mountpoint=IZAN3M")
	require.Equal(t, true, body["matched"])
	assert.Equal(t, "EPSG:4080", body["crs"].(map[string]any)["id"])
	assert.Equal(t, 1, e.tables.gets["http://ergnss-tr.ign.es:2102"])

	// 流过滤不需要 sourcetable 时不获取
	_, _ = e.get(t, "/resolve?url=rtk.topnetlive.com&mountpoint=StarPoint2%2BRTK")
	assert.Zero(t, e.tables.gets["http://rtk.topnetlive.com:2101"])
}

func TestResolveSourcetableUnavailable(t *testing.T) {
	e := newEnv(t)
	delete(e.tables.texts, "http://ergnss-tr.ign.es:2102")
	_, body := e.get(t, "/resolve?url=ergnss-tr.ign.es:2102&mountpoint=IZAN3M")
	assert.Equal(t, false, body["matched"])
	ds := body["diagnostics"].([]any)
	require.NotEmpty(t, ds)
	assert.Equal(t, string(resolve.CodeSourcetableUnavailable), ds[0].(map[string]any)["code"])
	// 每次解析至多获取一次
	assert.Equal(t, 1, e.tables.gets["http://ergnss-tr.ign.es:2102"])
}

func TestResolveRoverIP(t *testing.T) {
	e := newEnv(t)
	_, body := e.get(t, "/resolve?url=polaris.pointonenav.com&mountpoint=ANY&rover_ip=203.0.113.7")
	require.Equal(t, true, body["matched"])
	assert.Equal(t, "EPSG:6321", body["crs"].(map[string]any)["id"])

	// 显式经纬度优先
	_, body = e.get(t, "/resolve?url=polaris.pointonenav.com&mountpoint=ANY&rover_ip=203.0.113.7&latitude=40&longitude=-100")
	assert.Equal(t, "EPSG:6319", body["crs"].(map[string]any)["id"])
}

func TestResolvePartialLocationIsNotReplaced(t *testing.T) {
	e := newEnv(t)
	_, body := e.get(t, "/resolve?url=polaris.pointonenav.com&mountpoint=ANY&rover_ip=203.0.113.7&latitude=40")
	assert.Equal(t, false, body["matched"])
	ds := body["diagnostics"].([]any)
	require.Len(t, ds, 2)
	for _, d := range ds {
		assert.Equal(t, string(resolve.CodeRoverLocationRequired), d.(map[string]any)["code"])
	}
}

func TestRoverFromEdgeHint(t *testing.T) {
	t.Setenv("EDGE_GEO_HEADERS", "true")
	c, err := catalog.Load(filepath.Join("..", "catalog", "testdata", "ntrip-catalog.json"))
	require.NoError(t, err)
	h := &handlers{Deps: Deps{Catalog: c, Geo: fakeLocator{"203.0.113.7": {Lat: 21.3, Lon: -157.8}}}}

	var got resolve.Rover
	run := func(target string) resolve.Rover {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("X-EO-Geo-CountryCodeAlpha3", "che")
		req.Header.Set("X-EO-Geo-Latitude", "46.9")
		req.Header.Set("X-EO-Geo-Longitude", "7.4")
		middleware.EdgeGeo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = h.roverFrom(r)
		})).ServeHTTP(httptest.NewRecorder(), req)
		return got
	}

	r := run("/resolve?rover_ip=203.0.113.7")
	assert.Equal(t, "CHE", r.Country)
	assert.Equal(t, 46.9, r.Lat)
	assert.Equal(t, 7.4, r.Lon)

	r = run("/resolve?longitude=8&country=deu")
	assert.Equal(t, "DEU", r.Country)
	assert.True(t, math.IsNaN(r.Lat))
	assert.Equal(t, 8.0, r.Lon)
}

func TestResolveErrors(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.get(t, "/resolve?url=ergnss-tr.ign.es")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = e.get(t, "/resolve?url=unknown.example&mountpoint=A")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountpoints(t *testing.T) {
	e := newEnv(t)
	rec, body := e.get(t, "/mountpoints?url=ergnss-tr.ign.es:2102")
	require.Equal(t, http.StatusOK, rec.Code)
	mps := body["mountpoints"].([]any)
	require.Len(t, mps, 3)
	first := mps[0].(map[string]any)
	assert.Equal(t, "IZAN3M", first["mountpoint"])
	assert.Equal(t, "ESP", first["country"])
	assert.InDelta(t, 28.30, first["lat"], 1e-9)
	assert.Nil(t, mps[2].(map[string]any)["lat"])

	rec, _ = e.get(t, "/mountpoints?url=vrsnow.de")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSourcetableProxy(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/sourcetable", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sourcetable",
		strings.NewReader(`{"url":"http://ergnss-tr.ign.es:2102"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var out sourcetableResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "local-ntrip-catalog.json", out.Source)
	assert.Equal(t, ignSourcetable, out.Content)

	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sourcetable", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatsAndUnmatched(t *testing.T) {
	e := newEnv(t)
	_, _ = e.get(t, "/resolve?url=vrsnow.de&mountpoint=TVN")
	rec, body := e.get(t, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["resolves"])
	assert.EqualValues(t, 0, body["matched"])

	rec, _ = e.get(t, "/unmatched")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/unmatched", nil)
	req.Header.Set("x-admin-token", "secret")
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Unmatched
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "http://vrsnow.de:2101", list[0].URL)
}

func TestStatsDisabled(t *testing.T) {
	c := &catalog.Catalog{}
	mux := BuildRoutes(Deps{Catalog: c, Sourcetables: &fakeTables{texts: map[string]string{}, gets: map[string]int{}}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSpatialReferenceURL(t *testing.T) {
	assert.Equal(t, "https://spatialreference.org/ref/epsg/4258/", spatialReferenceURL("EPSG:4258"))
	assert.Equal(t, "https://spatialreference.org/ref/esri/102100/", spatialReferenceURL("ESRI:102100"))
	assert.Empty(t, spatialReferenceURL("4258"))
	assert.Empty(t, spatialReferenceURL("EPSG:"))
}

func TestParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?latitude=12.5&longitude=abc&country=%20che%20", nil)
	assert.Equal(t, 12.5, queryFloat(r, "latitude"))
	assert.True(t, math.IsNaN(queryFloat(r, "longitude")))
	assert.True(t, math.IsNaN(queryFloat(r, "missing")))
	assert.Equal(t, "CHE", queryCountry(r))

	r.Header.Set("x-forwarded-for", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", clientIP(r))
	r.Header.Del("x-forwarded-for")
	r.RemoteAddr = "192.0.2.9:5555"
	assert.Equal(t, "192.0.2.9", clientIP(r))
}
