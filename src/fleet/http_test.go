package fleet

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personal/discord_gateway/src/client"
)

type staticSource struct {
	statuses []client.Status
	dead     []int
}

func (s staticSource) Statuses() []client.Status { return s.statuses }
func (s staticSource) Dead() []int               { return s.dead }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterShards(t *testing.T) {
	src := staticSource{statuses: []client.Status{
		{Shard: 0, Phase: "steady", SessionID: "a", Sequence: 10, Resumable: true},
		{Shard: 1, Phase: "resuming", SessionID: "b", Sequence: 4, Resumable: true},
	}}
	h := Router(src, nil)

	rec := get(t, h, "/shards")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var statuses []client.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Equal(t, src.statuses, statuses)

	rec = get(t, h, "/shards/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var one client.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "resuming", one.Phase)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/shards/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/shards/abc").Code)
}

func TestRouterHealth(t *testing.T) {
	rec := get(t, Router(staticSource{}, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, Router(staticSource{dead: []int{2}}, nil), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","dead_shards":[2]}`, rec.Body.String())
}

func TestRouterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Observe(client.Event{Shard: 0, Kind: client.EventIdentifySent})

	rec := get(t, Router(staticSource{}, reg), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gateway_identifies_total{shard="0"} 1`))

	assert.Equal(t, http.StatusNotFound, get(t, Router(staticSource{}, nil), "/metrics").Code)
}
