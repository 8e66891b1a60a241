package offline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes the coordinator. A nil *Metrics records nothing.
type Metrics struct {
	reads         *prometheus.CounterVec
	offlineWrites prometheus.Counter
	invalidations *prometheus.CounterVec
}

// NewMetrics registers the coordinator collectors with reg. Collectors that
// are already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanbook_offline_reads_total",
			Help: "Coordinator reads by resource and outcome (hit, miss, offline, fallback).",
		}, []string{"resource", "outcome"}),
		offlineWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loanbook_offline_writes_refused_total",
			Help: "Writes refused because the backend was unreachable.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loanbook_offline_invalidations_total",
			Help: "Cache keys invalidated after successful writes.",
		}, []string{"resource"}),
	}
	var err error
	m.reads, err = registerCounterVec(reg, m.reads)
	if err != nil {
		return nil, err
	}
	m.invalidations, err = registerCounterVec(reg, m.invalidations)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(m.offlineWrites); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, err
		}
		m.offlineWrites = existing
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) read(key, outcome string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(resourceOf(key), outcome).Inc()
}

func (m *Metrics) writeRefused() {
	if m == nil {
		return
	}
	m.offlineWrites.Inc()
}

func (m *Metrics) invalidated(key string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(resourceOf(key)).Inc()
}

// resourceOf keeps label cardinality bounded by dropping the book id.
func resourceOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
