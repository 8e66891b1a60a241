// Package netmon tracks whether the backend is reachable.
package netmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 3 * time.Second
	HealthPath      = "/healthz"
)

// Monitor probes the backend health endpoint and exposes the result as an
// online flag. The flag starts online until the first probe completes.
type Monitor struct {
	url      string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	online atomic.Bool
	gauge  prometheus.Gauge
	probes *prometheus.CounterVec
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the periodic probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds a single probe.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRegisterer exports the online gauge and probe counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		if reg == nil {
			return
		}
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loanbook_backend_online",
			Help: "1 when the last reachability probe succeeded.",
		})
		probes := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanbook_backend_probes_total",
			Help: "Reachability probes by result.",
		}, []string{"result"})
		if err := reg.Register(gauge); err == nil {
			m.gauge = gauge
		} else {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				m.gauge, _ = already.ExistingCollector.(prometheus.Gauge)
			}
		}
		if err := reg.Register(probes); err == nil {
			m.probes = probes
		} else {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				m.probes, _ = already.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if m.gauge != nil {
			m.gauge.Set(1)
		}
	}
}

// New builds a monitor for the backend at baseURL.
func New(baseURL string, opts ...Option) *Monitor {
	m := &Monitor{
		url:      strings.TrimRight(baseURL, "/") + HealthPath,
		client:   &http.Client{},
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	m.online.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online returns the last probe result.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probe checks reachability now and records the result. A timeout, transport
// error or non-2xx response is offline.
func (m *Monitor) Probe(ctx context.Context) bool {
	err := m.check(ctx)
	ok := err == nil
	if m.probes != nil {
		result := "online"
		if !ok {
			result = "offline"
		}
		m.probes.WithLabelValues(result).Inc()
	}
	m.set(ctx, ok, err)
	return ok
}

func (m *Monitor) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) set(ctx context.Context, online bool, cause error) {
	prev := m.online.Swap(online)
	if m.gauge != nil {
		if online {
			m.gauge.Set(1)
		} else {
			m.gauge.Set(0)
		}
	}
	if prev == online {
		return
	}
	if online {
		m.logger.InfoContext(ctx, "backend reachable", slog.String("url", m.url))
		return
	}
	m.logger.WarnContext(ctx, "backend unreachable", slog.String("url", m.url), slog.Any("error", cause))
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
