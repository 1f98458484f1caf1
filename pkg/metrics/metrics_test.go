package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopVolumeMetrics(t *testing.T) {
	m := NewNoopVolumeMetrics()
	require.NotNil(t, m)

	// Every method is callable and records nothing
	m.RecordOperation("create", time.Millisecond, nil)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.SetCachedNodes(3)
	m.RecordHintLookup(true)
	m.RecordSelfHeal()
	m.RecordOrphan()
	m.RecordReclaim(10)
	m.RecordInconsistent()
}

func TestServerEndpoints(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scrape /metrics")

	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
