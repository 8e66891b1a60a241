package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("ledger:integrity").End(nil))
	boom := errors.New("boom")
	assert.Same(t, boom, m.Track("ledger:integrity").End(boom))
	m.AddDiscrepancies("balance", 2)
	m.AddDiscrepancies("gap", 0)

	assert.Equal(t, 1.0, counter(t, reg, "loanbook_jobs_total", map[string]string{"job": "ledger:integrity", "status": "success"}))
	assert.Equal(t, 1.0, counter(t, reg, "loanbook_jobs_failures_total", map[string]string{"job": "ledger:integrity"}))
	assert.Equal(t, 2.0, counter(t, reg, "loanbook_ledger_discrepancies_total", map[string]string{"kind": "balance"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.AddDiscrepancies("balance", 1)
}
