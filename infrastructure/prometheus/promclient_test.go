package promclient

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_ExposesCacheGauges(t *testing.T) {
	reg := NewRegistry(CacheStatsFunc(func() (int, uint64, uint64) {
		return 3, 10, 2
	}))

	expected := `
# HELP orderbooksync_cache_items entries in the shared TTL cache
# TYPE orderbooksync_cache_items gauge
orderbooksync_cache_items 3
# HELP orderbooksync_cache_misses TTL cache misses since the last clear
# TYPE orderbooksync_cache_misses gauge
orderbooksync_cache_misses 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"orderbooksync_cache_items", "orderbooksync_cache_misses")
	assert.NoError(t, err)
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := NewRegistry(nil)
	DiffsCounter.WithLabelValues("promtest", "applied").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `orderbooksync_diffs_total{result="applied",symbol="promtest"} 1`)
	assert.Equal(t, 1.0, testutil.ToFloat64(DiffsCounter.WithLabelValues("promtest", "applied")))
}
