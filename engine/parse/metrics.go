package parse

import (
	"time"

	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/pkg/metrics"
)

type parseMetrics struct {
	ok        *metrics.Counter
	failed    *metrics.Counter
	comments  *metrics.Counter
	decisions map[domain.DecisionKind]*metrics.Counter
	duration  *metrics.Histogram
}

func newParseMetrics(reg *metrics.Registry) *parseMetrics {
	if reg == nil {
		reg = metrics.New()
	}
	m := &parseMetrics{
		ok:        reg.Counter(metrics.WithLabels("raffle_parse_total", "outcome", "ok"), "Parse calls by outcome"),
		failed:    reg.Counter(metrics.WithLabels("raffle_parse_total", "outcome", "error"), "Parse calls by outcome"),
		comments:  reg.Counter("raffle_comments_fetched_total", "Comments read from fetched threads"),
		decisions: make(map[domain.DecisionKind]*metrics.Counter),
		duration:  reg.Histogram("raffle_parse_duration_seconds", "Parse latency", metrics.DefaultBuckets),
	}
	for _, k := range []domain.DecisionKind{domain.Unresolved, domain.Confirmed, domain.Waitlisted, domain.Removed, domain.TabPending} {
		m.decisions[k] = reg.Counter(metrics.WithLabels("raffle_decisions_total", "kind", k.String()), "Host decisions by kind")
	}
	return m
}

func (m *parseMetrics) observe(start time.Time, err error) {
	m.duration.Since(start)
	if err != nil {
		m.failed.Inc()
		return
	}
	m.ok.Inc()
}

func (m *parseMetrics) decision(k domain.DecisionKind) {
	if c, ok := m.decisions[k]; ok {
		c.Inc()
	}
}
