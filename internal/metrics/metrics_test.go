package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RoundOutcome("ok", 1)
	m.FetchOutcome("explorer", "ok", 1)
	m.DecodeOutcome("decoded")
	m.Transition("open", "applied")
	m.SetLocalHeight(1)
	m.SetSwapCount(1)
	m.SetCheckpoint(1)
	m.JobQueued("provider")
	assert.Nil(t, m.Registry())
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsCountersAndHandler(t *testing.T) {
	// Separate instances must not collide on registration.
	_ = New("test")
	m := New("test")

	m.Transition("open", "applied")
	m.Transition("open", "applied")
	m.Transition("claimed", "skipped")

	assert.Equal(t, 2.0, counterValue(t, m, "test_ledger_events_total", map[string]string{"kind": "open", "outcome": "applied"}))
	assert.Equal(t, 1.0, counterValue(t, m, "test_ledger_events_total", map[string]string{"kind": "claimed", "outcome": "skipped"}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_ledger_events_total"))
}
