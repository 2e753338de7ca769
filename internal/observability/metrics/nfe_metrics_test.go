package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

func newTestMetrics(t *testing.T) (*NFeMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg, Config{ServiceName: "test", Environment: "homologation"}), reg
}

func TestObserveCall_CuentaPorServicioYResultado(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveCall("NFeRetAutorizacao4", "ok", 300*time.Millisecond)
	m.ObserveCall("NFeRetAutorizacao4", "ok", 100*time.Millisecond)
	m.ObserveCall("NFeRetAutorizacao4", "transport_error", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sefazCalls.WithLabelValues("NFeRetAutorizacao4", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sefazCalls.WithLabelValues("NFeRetAutorizacao4", "transport_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sefazDuration))

	n, err := testutil.GatherAndCount(reg, "nfe_sefaz_calls_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestObserveOutcome_EtapaVacia(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveOutcome("AUTHORIZE", nfe.OutcomeAuthorized, "")
	m.ObserveOutcome("CANCEL", nfe.OutcomeFailed, nfe.StageEvent)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("AUTHORIZE", "AUTHORIZED", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("CANCEL", "FAILED", "event")))
}

func TestObservePolls_Histograma(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObservePolls(nfe.OutcomeAuthorized, 5)
	m.ObservePolls(nfe.OutcomeTimedOut, 5)
	assert.Equal(t, 2, testutil.CollectAndCount(m.polls))
}

func TestObserveHTTP_CodigoComoEtiqueta(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ObserveHTTP("/api/nfe/authorize", "POST", 422)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/nfe/authorize", "POST", "422")))
}

func TestNew_RegistroDuplicadoEntraEnPanico(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, Config{})
	assert.Panics(t, func() { New(reg, Config{}) })
}

func TestNew_EtiquetasConstantesYVariablesSeparadas(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveCall("NFeAutorizacao4", "none", 200*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var labels map[string]string
	for _, f := range families {
		if f.GetName() != "nfe_sefaz_calls_total" {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		labels = map[string]string{}
		for _, lp := range f.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
	}
	assert.Equal(t, map[string]string{
		"service": "test",
		"env":     "homologation",
		"ws":      "NFeAutorizacao4",
		"outcome": "none",
	}, labels)
}
