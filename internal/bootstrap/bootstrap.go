// Package bootstrap arma el grafo de dependencias compartido por la API y la CLI.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jhoicas/nfe-emissor/internal/application/billing"
	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/postgres"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/nfe-emissor/internal/observability/metrics"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
)

// Components dependencias ya conectadas.
type Components struct {
	Orchestrator *billing.NFeOrchestrator
	Metrics      *metrics.NFeMetrics
	Registry     *prometheus.Registry
	Loader       *signer.Loader
	Environment  nfe.Environment

	pool *pgxpool.Pool
}

// Close libera el pool de la base, si existe.
func (c *Components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

type options struct {
	tls     *tls.Config
	clock   clock.Clock
	sleeper sefaz.Sleeper
	seed    sefaz.SeedSource
	noDB    bool
}

// Option ajusta el armado (pruebas, CLI).
type Option func(*options)

// WithTLSConfig base TLS del cliente SOAP (CAs propias).
func WithTLSConfig(cfg *tls.Config) Option { return func(o *options) { o.tls = cfg } }

// WithClock reloj para certificado, lote y eventos.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithSleeper espera entre consultas de recibo.
func WithSleeper(s sefaz.Sleeper) Option { return func(o *options) { o.sleeper = s } }

// WithSeedSource origen del cNF.
func WithSeedSource(s sefaz.SeedSource) Option { return func(o *options) { o.seed = s } }

// WithoutDatabase ignora la configuración de base (CLI).
func WithoutDatabase() Option { return func(o *options) { o.noDB = true } }

// New arma el orquestador con la configuración cargada.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Components, error) {
	o := options{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.Nop()
	}

	env, err := nfe.ParseEnvironment(cfg.NFe.Environment)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, metrics.Config{ServiceName: cfg.App.Name, Environment: string(env)})

	overrides := make(map[sefaz.Service]string, len(cfg.NFe.URLOverrides))
	for name, u := range cfg.NFe.URLOverrides {
		overrides[sefaz.Service(name)] = u
	}
	soapOpts := []sefaz.SOAPOption{
		sefaz.WithTimeout(cfg.NFe.HTTPTimeout),
		sefaz.WithObserver(m),
		sefaz.WithSOAPLogger(log.Component("sefaz.soap")),
	}
	if o.tls != nil {
		soapOpts = append(soapOpts, sefaz.WithTLSConfig(o.tls))
	}
	soap := sefaz.NewSOAPClient(sefaz.Endpoints{Overrides: overrides}, soapOpts...)

	retry := sefaz.DefaultRetryPolicy()
	retry.MaxTries = uint(cfg.NFe.TransportRetries)
	gwOpts := []sefaz.GatewayOption{
		sefaz.WithMaxPolls(cfg.NFe.PollMax),
		sefaz.WithDelayPolicy(sefaz.LinearDelay{Initial: cfg.NFe.PollInitialDelay, Step: cfg.NFe.PollStep}),
		sefaz.WithRetryPolicy(retry),
		sefaz.WithPollObserver(m),
		sefaz.WithGatewayLogger(log.Component("sefaz.gateway")),
	}
	if o.sleeper != nil {
		gwOpts = append(gwOpts, sefaz.WithSleeper(o.sleeper))
	}
	gateway := sefaz.NewGateway(soap, gwOpts...)

	builderOpts := []sefaz.BuilderOption{
		sefaz.WithBuilderClock(o.clock),
		sefaz.WithBuilderLogger(log.Component("sefaz.builder")),
	}
	if o.seed != nil {
		builderOpts = append(builderOpts, sefaz.WithSeedSource(o.seed))
	}

	loader := signer.NewLoader(o.clock)
	signerSvc := signer.NewDigitalSignatureService()
	events := sefaz.NewEventProcessor(gateway, signerSvc,
		sefaz.WithEventClock(o.clock),
		sefaz.WithEventLogger(log.Component("sefaz.events")),
	)
	certs := billing.NewFileCertificateSource(billing.CertificateConfig{
		Path:     cfg.NFe.CertPath,
		KeyPath:  cfg.NFe.CertKeyPath,
		Password: cfg.NFe.CertPassword,
	}, loader)

	orchOpts := []billing.OrchestratorOption{
		billing.WithOutcomeObserver(m),
		billing.WithOrchestratorClock(o.clock),
		billing.WithOrchestratorLogger(log.Component("billing")),
	}

	c := &Components{Metrics: m, Registry: reg, Loader: loader, Environment: env}
	if cfg.DB.Enabled() && !o.noDB {
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		if err := postgres.Migrate(ctx, cfg.DB); err != nil {
			pool.Close()
			return nil, err
		}
		c.pool = pool
		orchOpts = append(orchOpts, billing.WithJournal(postgres.NewNFeOutcomeRepository(pool)))
	}

	c.Orchestrator = billing.NewNFeOrchestrator(
		certs,
		nfe.NewTaxRuleResolver(nfe.WithStateRates(cfg.NFe.StateRates)),
		sefaz.NewDocumentBuilder(builderOpts...),
		signerSvc,
		gateway,
		events,
		billing.NFeConfig{Environment: env, UF: cfg.NFe.UF, Synchronous: cfg.NFe.Synchronous},
		orchOpts...,
	)
	return c, nil
}
