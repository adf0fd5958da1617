package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRPC("/safefolder.v1.SafeFolder/ListFiles", "OK", 3*time.Millisecond)
	m.RecordRPC("/safefolder.v1.SafeFolder/ListFiles", "OK", time.Millisecond)
	m.IntegrityFailure("body")
	m.Challenge("login_2fa", "rejected")
	m.Refresh("rotated")

	require.Equal(t, 2.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("/safefolder.v1.SafeFolder/ListFiles", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.integrityFailures.WithLabelValues("body")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.challenges.WithLabelValues("login_2fa", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshRotations.WithLabelValues("rotated")))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRPC("x", "OK", time.Second)
	m.IntegrityFailure("dek")
	m.Challenge("p", "o")
	m.Refresh("rotated")
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IntegrityFailure("dek")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `safefolder_integrity_failures_total{kind="dek"} 1`))
}
