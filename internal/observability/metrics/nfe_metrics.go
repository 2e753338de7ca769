package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// Config etiquetas constantes de todas las series (service, env).
// El servicio SOAP de la SEFAZ va en la etiqueta variable ws.
type Config struct {
	ServiceName string
	Environment string
}

// NFeMetrics señales de salud de la emisión: llamadas a la SEFAZ, consultas de recibo
// y resultados terminales por operación.
type NFeMetrics struct {
	sefazCalls    *prometheus.CounterVec
	sefazDuration *prometheus.HistogramVec
	polls         *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New registra las métricas en registerer (DefaultRegisterer si es nil).
func New(registerer prometheus.Registerer, cfg Config) *NFeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "nfe-emissor"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &NFeMetrics{
		sefazCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nfe_sefaz_calls_total",
			Help:        "Llamadas SOAP a la SEFAZ por servicio y resultado.",
			ConstLabels: constLabels,
		}, []string{"ws", "outcome"}),
		sefazDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "nfe_sefaz_call_duration_seconds",
			Help:        "Duración de las llamadas SOAP a la SEFAZ.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"ws"}),
		polls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "nfe_receipt_polls",
			Help:        "Consultas de recibo por autorización.",
			ConstLabels: constLabels,
			Buckets:     []float64{0, 1, 2, 3, 4, 5, 8, 10},
		}, []string{"status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nfe_outcomes_total",
			Help:        "Resultados terminales por operación, estado y etapa.",
			ConstLabels: constLabels,
		}, []string{"operation", "status", "stage"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nfe_http_requests_total",
			Help:        "Pedidos HTTP por ruta y código.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "code"}),
	}
	registerer.MustRegister(m.sefazCalls, m.sefazDuration, m.polls, m.outcomes, m.httpRequests)
	return m
}

// ObserveCall implementa sefaz.Observer.
func (m *NFeMetrics) ObserveCall(service, outcome string, elapsed time.Duration) {
	m.sefazCalls.WithLabelValues(service, outcome).Inc()
	m.sefazDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObservePolls implementa sefaz.PollObserver.
func (m *NFeMetrics) ObservePolls(status nfe.OutcomeStatus, attempts int) {
	m.polls.WithLabelValues(string(status)).Observe(float64(attempts))
}

// ObserveOutcome implementa billing.OutcomeObserver.
func (m *NFeMetrics) ObserveOutcome(operation string, status nfe.OutcomeStatus, stage nfe.Stage) {
	s := string(stage)
	if s == "" {
		s = "none"
	}
	m.outcomes.WithLabelValues(operation, string(status), s).Inc()
}

// ObserveHTTP cuenta un pedido HTTP ya respondido.
func (m *NFeMetrics) ObserveHTTP(route, method string, code int) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
