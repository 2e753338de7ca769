package billing

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// NFeConfig valores por defecto del emisor.
type NFeConfig struct {
	Environment nfe.Environment
	UF          string
	Synchronous bool
}

// NFeOrchestrator orquesta el ciclo completo de emisión:
//
//	Certificado → Tributos → XML + clave → Firma → SEFAZ (envío + consulta de recibo)
//
// Cada etapa que falla termina en un resultado FAILED con su Stage y el error clasificado;
// nunca se devuelve un error suelto. Los resultados se registran en el diario si está configurado.
type NFeOrchestrator struct {
	certs    CertificateSource
	resolver TaxResolver
	builder  DocumentBuilder
	signer   DocumentSigner
	gateway  SefazGateway
	events   Canceller
	journal  repository.NFeOutcomeRepository // opcional
	observer OutcomeObserver                 // opcional
	clock    clock.Clock
	cfg      NFeConfig
	log      zerolog.Logger
}

// OrchestratorOption configura el orquestador.
type OrchestratorOption func(*NFeOrchestrator)

func WithJournal(r repository.NFeOutcomeRepository) OrchestratorOption {
	return func(o *NFeOrchestrator) { o.journal = r }
}
func WithOutcomeObserver(obs OutcomeObserver) OrchestratorOption {
	return func(o *NFeOrchestrator) { o.observer = obs }
}
func WithOrchestratorClock(c clock.Clock) OrchestratorOption {
	return func(o *NFeOrchestrator) { o.clock = c }
}
func WithOrchestratorLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *NFeOrchestrator) { o.log = l }
}

// NewNFeOrchestrator construye el orquestador con todas sus dependencias.
func NewNFeOrchestrator(
	certs CertificateSource,
	resolver TaxResolver,
	builder DocumentBuilder,
	signer DocumentSigner,
	gateway SefazGateway,
	events Canceller,
	cfg NFeConfig,
	opts ...OrchestratorOption,
) *NFeOrchestrator {
	o := &NFeOrchestrator{
		certs:    certs,
		resolver: resolver,
		builder:  builder,
		signer:   signer,
		gateway:  gateway,
		events:   events,
		clock:    clock.System{},
		cfg:      cfg,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ── Autorización ──────────────────────────────────────────────────────────────

// Authorize emite una NF-e. El resultado siempre es inspeccionable: AUTHORIZED lleva el
// nfeProc; TIMED_OUT debe resolverse con Query, nunca reenviando.
func (o *NFeOrchestrator) Authorize(ctx context.Context, draft nfe.InvoiceDraft) nfe.AuthorizationOutcome {
	cid := uuid.NewString()
	if draft.Environment == "" {
		draft.Environment = o.cfg.Environment
	}
	log := o.log.With().Str("correlation_id", cid).Int("nNF", draft.Number).Int("serie", draft.Series).Logger()

	out, total := o.authorize(ctx, draft, log)
	o.observe(entity.OperationAuthorize, out.Status, out.Stage)
	o.record(ctx, log, &entity.NFeOutcome{
		CorrelationID: cid,
		Operation:     entity.OperationAuthorize,
		AccessKey:     out.AccessKey,
		Environment:   string(draft.Environment),
		UF:            draft.Emitter.Address.UF,
		Status:        string(out.Status),
		Stage:         string(out.Stage),
		StatusCode:    firstNonZero(out.StatusCode, out.LastStatusCode),
		Reason:        out.Reason,
		Protocol:      out.Protocol,
		Receipt:       out.Receipt,
		Attempts:      out.Attempts,
		ErrorKind:     kindOf(out.Err()),
		Total:         total,
		XML:           out.SignedXML,
	})
	return out
}

// authorize devuelve además el vNF calculado cuando el documento llegó a armarse.
func (o *NFeOrchestrator) authorize(ctx context.Context, draft nfe.InvoiceDraft, log zerolog.Logger) (nfe.AuthorizationOutcome, decimal.NullDecimal) {
	var total decimal.NullDecimal
	fail := func(key string, stage nfe.Stage, err error) (nfe.AuthorizationOutcome, decimal.NullDecimal) {
		log.Error().Err(err).Str("stage", string(stage)).Str("kind", nfe.KindOf(err)).Msg("nfe: emisión interrumpida")
		return nfe.Failed(key, stage, err), total
	}

	identity, err := o.certs.Identity(ctx)
	if err != nil {
		return fail("", nfe.StageCertificate, err)
	}

	resolved, err := o.resolver.ResolveAll(draft)
	if err != nil {
		return fail("", nfe.StageTaxes, err)
	}

	doc, err := o.builder.Build(resolved)
	if err != nil {
		return fail("", nfe.StageBuild, err)
	}
	log = log.With().Str("chNFe", doc.AccessKey).Logger()
	total = decimal.NewNullDecimal(doc.Totals.Invoice)

	signed, err := o.signer.SignDocument(doc, identity)
	if err != nil {
		return fail(doc.AccessKey, nfe.StageSign, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(doc.AccessKey, nfe.StageSubmit, &nfe.TransportError{Op: "nfeAutorizacaoLote", Cause: err})
	}

	batch := nfe.BatchSubmission{
		ID:          sefaz.BatchID(o.clock.Now()),
		Documents:   []nfe.SignedDocument{*signed},
		Synchronous: o.cfg.Synchronous,
		Environment: doc.Environment,
		UF:          doc.UF,
	}
	log.Info().Str("idLote", batch.ID).Str("vNF", doc.Totals.Invoice.StringFixed(2)).Msg("nfe: enviando lote")

	out := o.gateway.Authorize(ctx, batch, identity)
	switch out.Status {
	case nfe.OutcomeAuthorized:
		log.Info().Str("nProt", out.Protocol).Msg("nfe: autorizada")
	case nfe.OutcomeTimedOut:
		log.Warn().Str("nRec", out.Receipt).Int("attempts", out.Attempts).Msg("nfe: sin resultado definitivo")
	default:
		log.Warn().Str("status", string(out.Status)).Int("cStat", out.StatusCode).Str("xMotivo", out.Reason).Msg("nfe: no autorizada")
	}
	return out, total
}

// ── Cancelación ───────────────────────────────────────────────────────────────

// Cancel registra el evento de cancelación de una NF-e autorizada. La validación local
// ocurre antes de leer el certificado o llamar a la SEFAZ.
func (o *NFeOrchestrator) Cancel(ctx context.Context, ev nfe.CancellationEvent) nfe.CancellationOutcome {
	cid := uuid.NewString()
	if ev.Environment == "" {
		ev.Environment = o.cfg.Environment
	}
	ev = ev.Normalize()
	log := o.log.With().Str("correlation_id", cid).Str("chNFe", ev.AccessKey).Logger()

	out := o.cancel(ctx, ev, log)
	o.observe(entity.OperationCancel, out.Status, out.Stage)

	uf := ""
	if len(ev.AccessKey) >= 2 {
		uf, _ = pkgnfe.UFFromCode(ev.AccessKey[:2])
	}
	o.record(ctx, log, &entity.NFeOutcome{
		CorrelationID: cid,
		Operation:     entity.OperationCancel,
		AccessKey:     ev.AccessKey,
		Environment:   string(ev.Environment),
		UF:            uf,
		Status:        string(out.Status),
		Stage:         string(out.Stage),
		StatusCode:    out.StatusCode,
		Reason:        out.Reason,
		Protocol:      out.Protocol,
		ErrorKind:     kindOf(out.Err()),
		XML:           out.EventXML,
	})
	return out
}

func (o *NFeOrchestrator) cancel(ctx context.Context, ev nfe.CancellationEvent, log zerolog.Logger) nfe.CancellationOutcome {
	if err := nfe.ValidateCancellation(ev); err != nil {
		log.Warn().Err(err).Msg("nfe: pedido de cancelación inválido")
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageEvent, err)
	}
	identity, err := o.certs.Identity(ctx)
	if err != nil {
		log.Error().Err(err).Msg("nfe: certificado no disponible para cancelar")
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageCertificate, err)
	}
	return o.events.Cancel(ctx, ev, identity)
}

// ── Consultas ─────────────────────────────────────────────────────────────────

// Status consulta la disponibilidad del autorizador de la UF (la configurada si uf es vacía).
func (o *NFeOrchestrator) Status(ctx context.Context, uf string) (sefaz.StatusResult, error) {
	if uf == "" {
		uf = o.cfg.UF
	}
	identity, err := o.certs.Identity(ctx)
	if err != nil {
		return sefaz.StatusResult{}, err
	}
	return o.gateway.Status(ctx, o.cfg.Environment, uf, identity)
}

// NotFoundGrace tiempo tras el último TIMED_OUT a partir del cual un 217 ("não consta")
// se toma como definitivo: el lote ya no puede seguir en la fila de la SEFAZ.
const NotFoundGrace = 30 * time.Minute

// Query consulta la situación de la NF-e por clave. Es la forma de resolver un TIMED_OUT.
// Se registran los resultados definitivos: autorizada, cancelada o uso denegado.
func (o *NFeOrchestrator) Query(ctx context.Context, key string) (sefaz.ProtocolStatus, error) {
	key = pkgnfe.OnlyDigits(key)
	if err := pkgnfe.ValidateAccessKey(key); err != nil {
		return sefaz.ProtocolStatus{}, nfe.InvalidAccessKeyInput("access_key", err)
	}
	uf, _ := pkgnfe.UFFromCode(key[:2])
	identity, err := o.certs.Identity(ctx)
	if err != nil {
		return sefaz.ProtocolStatus{}, err
	}
	st, err := o.gateway.QueryProtocol(ctx, o.cfg.Environment, uf, key, identity)
	if err != nil {
		return st, err
	}
	if status, ok := definitive(st); ok {
		o.recordQuery(ctx, key, uf, st, status)
	}
	return st, nil
}

func definitive(st sefaz.ProtocolStatus) (nfe.OutcomeStatus, bool) {
	switch {
	case st.Cancelled:
		return nfe.OutcomeCancelled, true
	case st.Authorized:
		return nfe.OutcomeAuthorized, true
	case pkgnfe.DescribeStatus(st.StatusCode).Kind == pkgnfe.StatusKindDenied:
		return nfe.OutcomeRejected, true
	}
	return "", false
}

func (o *NFeOrchestrator) recordQuery(ctx context.Context, key, uf string, st sefaz.ProtocolStatus, status nfe.OutcomeStatus) {
	o.record(ctx, o.log, &entity.NFeOutcome{
		CorrelationID: uuid.NewString(),
		Operation:     entity.OperationQuery,
		AccessKey:     key,
		Environment:   string(o.cfg.Environment),
		UF:            uf,
		Status:        string(status),
		Stage:         string(nfe.StageProtocol),
		StatusCode:    st.StatusCode,
		Reason:        st.Reason,
		Protocol:      st.Protocol,
	})
}

// History historial del diario para la clave. Sin diario devuelve lista vacía.
func (o *NFeOrchestrator) History(ctx context.Context, key string) ([]*entity.NFeOutcome, error) {
	if o.journal == nil {
		return nil, nil
	}
	return o.journal.ListByAccessKey(ctx, pkgnfe.OnlyDigits(key))
}

// ResolvePending vuelve a consultar las claves cuyo último resultado es TIMED_OUT.
// Devuelve cuántas quedaron resueltas. Un 217 pasado NotFoundGrace se registra como
// REJECTED para que la clave deje de consultarse.
func (o *NFeOrchestrator) ResolvePending(ctx context.Context, limit int) (int, error) {
	if o.journal == nil {
		return 0, nil
	}
	pending, err := o.journal.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		st, err := o.Query(ctx, p.AccessKey)
		if err != nil {
			o.log.Warn().Err(err).Str("chNFe", p.AccessKey).Msg("nfe: consulta de pendiente falló")
			continue
		}
		if _, ok := definitive(st); ok {
			resolved++
			continue
		}
		if st.StatusCode == pkgnfe.StatusNotFound && o.clock.Now().Sub(p.CreatedAt) >= NotFoundGrace {
			o.log.Warn().Str("chNFe", p.AccessKey).Msg("nfe: la clave pendiente no consta en la SEFAZ")
			uf, _ := pkgnfe.UFFromCode(p.AccessKey[:2])
			o.recordQuery(ctx, p.AccessKey, uf, st, nfe.OutcomeRejected)
			resolved++
		}
	}
	return resolved, nil
}

// Identity expone la identidad del emisor (CLI verify / diagnósticos).
func (o *NFeOrchestrator) Identity(ctx context.Context) (tls.Certificate, error) {
	return o.certs.Identity(ctx)
}

// ── helpers privados ──────────────────────────────────────────────────────────

func (o *NFeOrchestrator) observe(op string, status nfe.OutcomeStatus, stage nfe.Stage) {
	if o.observer != nil {
		o.observer.ObserveOutcome(op, status, stage)
	}
}

// record escribe en el diario; una falla de persistencia no cambia el resultado.
func (o *NFeOrchestrator) record(ctx context.Context, log zerolog.Logger, rec *entity.NFeOutcome) {
	if o.journal == nil {
		return
	}
	rec.CreatedAt = o.clock.Now().UTC()
	// El diario se escribe aunque el contexto del pedido haya vencido.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.journal.Save(wctx, rec); err != nil {
		log.Error().Err(err).Str("status", rec.Status).Msg("nfe: no se pudo registrar el resultado")
	}
}

func kindOf(err error) string {
	if err == nil {
		return ""
	}
	return nfe.KindOf(err)
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
