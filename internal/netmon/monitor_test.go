package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(t *testing.T, status *atomic.Int32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != HealthPath {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func gaugeValue(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "loanbook_backend_online" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("online gauge not registered")
	return 0
}

func TestProbeTracksStatus(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusOK)
	srv := healthServer(t, &status, &hits)

	reg := prometheus.NewRegistry()
	m := New(srv.URL+"/", WithRegisterer(reg))
	assert.True(t, m.Online())

	assert.True(t, m.Probe(context.Background()))
	assert.Equal(t, float64(1), gaugeValue(t, reg))

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
	assert.Equal(t, float64(0), gaugeValue(t, reg))

	status.Store(http.StatusNoContent)
	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())
	assert.EqualValues(t, 3, hits.Load())
}

func TestProbeTimeoutIsOffline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	m := New(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	assert.False(t, m.Probe(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := New(url, WithTimeout(200*time.Millisecond))
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestRunProbesImmediatelyAndStopsOnCancel(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := healthServer(t, &status, &hits)

	m := New(srv.URL, WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunProbesOnInterval(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusOK)
	srv := healthServer(t, &status, &hits)

	m := New(srv.URL, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, time.Second, 5*time.Millisecond)
}
