package sefaz

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// DefaultMaxPolls consultas de recibo antes de devolver TimedOut.
const DefaultMaxPolls = 5

// PollObserver recibe cuántas consultas hizo cada autorización (métricas).
type PollObserver interface {
	ObservePolls(outcome nfe.OutcomeStatus, attempts int)
}

// Gateway máquina de estados del envío de lotes a la SEFAZ:
//
//	Built -> Submitted -> {104: protocolo | 103: recibo -> Polling | otro: Rejected}
//	Polling -> {Authorized | Rejected | TimedOut}
//
// No guarda estado entre llamadas; cada Authorize es independiente.
type Gateway struct {
	transport Transport
	maxPolls  int
	delay     DelayPolicy
	sleep     Sleeper
	retry     RetryPolicy
	polls     PollObserver
	log       zerolog.Logger
}

// GatewayOption configura el Gateway.
type GatewayOption func(*Gateway)

func WithMaxPolls(n int) GatewayOption {
	return func(g *Gateway) { g.maxPolls = n }
}

func WithDelayPolicy(p DelayPolicy) GatewayOption {
	return func(g *Gateway) { g.delay = p }
}

func WithSleeper(s Sleeper) GatewayOption {
	return func(g *Gateway) { g.sleep = s }
}

func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p }
}

func WithPollObserver(o PollObserver) GatewayOption {
	return func(g *Gateway) { g.polls = o }
}

func WithGatewayLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

// NewGateway crea el gateway sobre el transporte indicado.
func NewGateway(t Transport, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		transport: t,
		maxPolls:  DefaultMaxPolls,
		delay:     DefaultDelayPolicy(),
		sleep:     SleepContext,
		retry:     DefaultRetryPolicy(),
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.maxPolls < 1 {
		g.maxPolls = 1
	}
	return g
}

// ── Autorización ──────────────────────────────────────────────────────────────

// SubmitResult respuesta del envío del lote (retEnviNFe).
type SubmitResult struct {
	StatusCode int
	Reason     string
	Receipt    string
	ReceivedAt time.Time
	protocol   *protNFe
}

// Authorize envía un lote con una NF-e y sigue la máquina de estados hasta un resultado
// terminal. Siempre devuelve un valor; nunca reintenta el envío a ciegas.
func (g *Gateway) Authorize(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate) nfe.AuthorizationOutcome {
	if len(batch.Documents) != 1 {
		return nfe.Failed("", nfe.StageSubmit,
			nfe.InvalidField("documents", "el lote debe contener exactamente una NF-e, recibido %d", len(batch.Documents)))
	}
	doc := batch.Documents[0]
	log := g.log.With().Str("chNFe", doc.AccessKey).Str("idLote", batch.ID).Logger()

	res, err := g.Submit(ctx, batch, identity)
	if err != nil {
		if nfe.KindOf(err) == "transport" && ctx.Err() == nil {
			log.Warn().Err(err).Msg("sefaz: envío sin respuesta, consultando la clave antes de reenviar")
			return g.recoverSubmit(ctx, batch, identity, err)
		}
		return nfe.Failed(doc.AccessKey, nfe.StageSubmit, err)
	}
	return g.afterSubmit(ctx, batch, identity, res)
}

func (g *Gateway) afterSubmit(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate, res SubmitResult) nfe.AuthorizationOutcome {
	doc := batch.Documents[0]
	switch res.StatusCode {
	case pkgnfe.StatusBatchProcessed:
		if res.protocol == nil {
			return nfe.Failed(doc.AccessKey, nfe.StageSubmit, &nfe.TransportError{
				Op: ServiceAuthorization.Operation(), Cause: errors.New("lote procesado sin protNFe"),
			})
		}
		return g.fromProtocol(doc, res.protocol, nfe.StageSubmit)
	case pkgnfe.StatusBatchReceived:
		g.log.Info().Str("chNFe", doc.AccessKey).Str("nRec", res.Receipt).Msg("sefaz: lote recibido, consultando recibo")
		return g.poll(ctx, batch, identity, res.Receipt)
	default:
		g.log.Warn().Str("chNFe", doc.AccessKey).Int("cStat", res.StatusCode).Str("xMotivo", res.Reason).Msg("sefaz: lote rechazado")
		return nfe.Rejected(doc.AccessKey, nfe.StageSubmit, res.StatusCode, res.Reason)
	}
}

// Submit envía el lote (enviNFe) una sola vez. No reintenta.
func (g *Gateway) Submit(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate) (SubmitResult, error) {
	op := ServiceAuthorization.Operation()
	body, err := buildEnviNFe(batch.ID, batch.Synchronous, batch.Documents)
	if err != nil {
		return SubmitResult{}, nfe.InvalidField("batch", "%v", err)
	}
	raw, err := g.transport.Call(ctx, Call{
		Service: ServiceAuthorization, Environment: batch.Environment, UF: batch.UF,
		Identity: identity, Body: body,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	var ret retEnviNFe
	if err := decode(op, raw, &ret); err != nil {
		return SubmitResult{}, err
	}
	code, err := statusOf(op, ret.CStat)
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{StatusCode: code, Reason: ret.XMotivo, ReceivedAt: parseSefazTime(ret.DhRecbto), protocol: ret.ProtNFe}
	if ret.InfRec != nil {
		res.Receipt = ret.InfRec.NRec
	}
	if code == pkgnfe.StatusBatchReceived && res.Receipt == "" {
		return SubmitResult{}, &nfe.TransportError{Op: op, Cause: errors.New("lote recibido sin número de recibo")}
	}
	return res, nil
}

// recoverSubmit el envío falló sin respuesta: sólo se reenvía si la SEFAZ confirma que la
// clave no existe (217). Si ya está autorizada se devuelve el protocolo encontrado. Cuando el
// estado no se puede confirmar el resultado es TimedOut: la clave se consulta más tarde.
func (g *Gateway) recoverSubmit(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate, cause error) nfe.AuthorizationOutcome {
	doc := batch.Documents[0]
	st, err := g.QueryProtocol(ctx, batch.Environment, batch.UF, doc.AccessKey, identity)
	if err != nil {
		g.log.Error().Err(err).Str("chNFe", doc.AccessKey).Msg("sefaz: no se pudo confirmar el estado de la clave")
		return unconfirmed(doc.AccessKey, 0, errors.Join(cause, err))
	}
	if st.protocol != nil {
		return g.fromProtocol(doc, st.protocol, nfe.StageProtocol)
	}
	if st.StatusCode != pkgnfe.StatusNotFound {
		return unconfirmed(doc.AccessKey, st.StatusCode, cause)
	}

	g.log.Info().Str("chNFe", doc.AccessKey).Msg("sefaz: la clave no consta, reenviando el lote")
	res, err := g.Submit(ctx, batch, identity)
	if err != nil {
		if nfe.KindOf(err) == "transport" {
			return unconfirmed(doc.AccessKey, 0, err)
		}
		return nfe.Failed(doc.AccessKey, nfe.StageSubmit, err)
	}
	out := g.afterSubmit(ctx, batch, identity, res)
	if out.Status == nfe.OutcomeRejected && pkgnfe.IsDuplicate(out.StatusCode) {
		// Un lote anterior sí fue aceptado (217 llegó antes de procesarlo).
		g.log.Warn().Str("chNFe", doc.AccessKey).Int("cStat", out.StatusCode).Msg("sefaz: reenvío duplicado, consultando la clave")
		return g.afterDuplicate(ctx, batch, identity, out)
	}
	return out
}

// afterDuplicate busca el protocolo del lote original; si todavía no hay, TimedOut.
func (g *Gateway) afterDuplicate(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate, dup nfe.AuthorizationOutcome) nfe.AuthorizationOutcome {
	doc := batch.Documents[0]
	st, err := g.QueryProtocol(ctx, batch.Environment, batch.UF, doc.AccessKey, identity)
	if err == nil && st.protocol != nil {
		return g.fromProtocol(doc, st.protocol, nfe.StageProtocol)
	}
	cause := fmt.Errorf("reenvío rechazado por duplicidad (%d): %s", dup.StatusCode, dup.Reason)
	if err != nil {
		cause = errors.Join(cause, err)
	}
	return unconfirmed(doc.AccessKey, dup.StatusCode, cause)
}

func unconfirmed(key string, lastCode int, cause error) nfe.AuthorizationOutcome {
	out := nfe.TimedOut(key, "", lastCode, 0, cause)
	out.Stage = nfe.StageSubmit
	return out
}

// ── Consulta de recibo ────────────────────────────────────────────────────────

// poll hace como máximo maxPolls consultas del recibo, esperando según la DelayPolicy antes
// de cada una. La cancelación del contexto corta la espera y devuelve TimedOut.
func (g *Gateway) poll(ctx context.Context, batch nfe.BatchSubmission, identity tls.Certificate, receipt string) (out nfe.AuthorizationOutcome) {
	doc := batch.Documents[0]
	last := pkgnfe.StatusBatchReceived
	attempts := 0
	defer func() {
		if g.polls != nil {
			g.polls.ObservePolls(out.Status, attempts)
		}
	}()

	for attempt := 1; attempt <= g.maxPolls; attempt++ {
		if err := g.sleep(ctx, g.delay.Delay(attempt)); err != nil {
			return nfe.TimedOut(doc.AccessKey, receipt, last, attempts, err)
		}
		attempts = attempt

		res, err := g.Poll(ctx, batch.Environment, batch.UF, receipt, identity)
		if err != nil {
			if ctx.Err() != nil {
				return nfe.TimedOut(doc.AccessKey, receipt, last, attempts, ctx.Err())
			}
			if nfe.KindOf(err) == "transport" {
				// El lote fue aceptado: el resultado es incierto, se consulta después por clave.
				g.log.Warn().Err(err).Str("nRec", receipt).Int("attempt", attempt).Msg("sefaz: consulta de recibo sin respuesta")
				return nfe.TimedOut(doc.AccessKey, receipt, last, attempts, err)
			}
			return nfe.Failed(doc.AccessKey, nfe.StagePoll, err)
		}
		last = res.StatusCode

		if prot := res.find(doc.AccessKey); prot != nil {
			return g.fromProtocol(doc, prot, nfe.StagePoll)
		}
		switch {
		case pkgnfe.IsPollPending(res.StatusCode):
			g.log.Debug().Str("nRec", receipt).Int("attempt", attempt).Int("cStat", res.StatusCode).Msg("sefaz: lote en procesamiento")
			continue
		case res.StatusCode == pkgnfe.StatusBatchProcessed:
			return nfe.Failed(doc.AccessKey, nfe.StagePoll, &nfe.TransportError{
				Op: ServiceReceipt.Operation(), Cause: fmt.Errorf("lote %s procesado sin protNFe para la clave", receipt),
			})
		default:
			return nfe.Rejected(doc.AccessKey, nfe.StagePoll, res.StatusCode, res.Reason)
		}
	}

	g.log.Warn().Str("chNFe", doc.AccessKey).Str("nRec", receipt).Int("attempts", attempts).Int("cStat", last).
		Msg("sefaz: sin resultado definitivo, consultar la clave más tarde")
	return nfe.TimedOut(doc.AccessKey, receipt, last, attempts, nil)
}

// PollResult respuesta de la consulta de recibo (retConsReciNFe).
type PollResult struct {
	StatusCode int
	Reason     string
	protocols  []protNFe
}

func (r PollResult) find(key string) *protNFe {
	for i := range r.protocols {
		if r.protocols[i].InfProt.ChNFe == key {
			return &r.protocols[i]
		}
	}
	return nil
}

// Poll consulta el recibo una vez (con reintentos de transporte).
func (g *Gateway) Poll(ctx context.Context, env nfe.Environment, uf, receipt string, identity tls.Certificate) (PollResult, error) {
	op := ServiceReceipt.Operation()
	body, err := buildConsReciNFe(env, receipt)
	if err != nil {
		return PollResult{}, fmt.Errorf("sefaz: armar consReciNFe: %w", err)
	}
	raw, err := callWithRetry(ctx, g.transport, Call{
		Service: ServiceReceipt, Environment: env, UF: uf, Identity: identity, Body: body,
	}, g.retry, g.log)
	if err != nil {
		return PollResult{}, err
	}
	var ret retConsReciNFe
	if err := decode(op, raw, &ret); err != nil {
		return PollResult{}, err
	}
	code, err := statusOf(op, ret.CStat)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{StatusCode: code, Reason: ret.XMotivo, protocols: ret.ProtNFe}, nil
}

// fromProtocol resultado terminal a partir del protNFe de la NF-e.
func (g *Gateway) fromProtocol(doc nfe.SignedDocument, prot *protNFe, stage nfe.Stage) nfe.AuthorizationOutcome {
	code, err := statusOf(string(stage), prot.InfProt.CStat)
	if err != nil {
		return nfe.Failed(doc.AccessKey, stage, err)
	}
	if !pkgnfe.IsAuthorizedStatus(code) {
		g.log.Warn().Str("chNFe", doc.AccessKey).Int("cStat", code).Str("xMotivo", prot.InfProt.XMotivo).Msg("sefaz: NF-e no autorizada")
		return nfe.Rejected(doc.AccessKey, stage, code, prot.InfProt.XMotivo)
	}
	g.log.Info().Str("chNFe", doc.AccessKey).Str("nProt", prot.InfProt.NProt).Msg("sefaz: NF-e autorizada")
	var proc []byte
	if len(doc.XML) > 0 {
		proc = buildNFeProc(doc.XML, prot)
	}
	return nfe.Authorized(doc.AccessKey, prot.InfProt.NProt, code, parseSefazTime(prot.InfProt.DhRecbto), proc)
}

// ── Consultas ─────────────────────────────────────────────────────────────────

// StatusResult respuesta de consStatServ.
type StatusResult struct {
	StatusCode  int           `json:"status_code"`
	Reason      string        `json:"reason"`
	Operational bool          `json:"operational"`
	UF          string        `json:"uf"`
	CheckedAt   time.Time     `json:"checked_at"`
	AverageTime time.Duration `json:"average_time"`
	Note        string        `json:"note,omitempty"`
}

// Status consulta la disponibilidad del autorizador (107 = en operación).
func (g *Gateway) Status(ctx context.Context, env nfe.Environment, uf string, identity tls.Certificate) (StatusResult, error) {
	op := ServiceStatus.Operation()
	body, err := buildConsStatServ(env, uf)
	if err != nil {
		return StatusResult{}, nfe.InvalidField("uf", "%v", err)
	}
	raw, err := callWithRetry(ctx, g.transport, Call{
		Service: ServiceStatus, Environment: env, UF: uf, Identity: identity, Body: body,
	}, g.retry, g.log)
	if err != nil {
		return StatusResult{}, err
	}
	var ret retConsStatServ
	if err := decode(op, raw, &ret); err != nil {
		return StatusResult{}, err
	}
	code, err := statusOf(op, ret.CStat)
	if err != nil {
		return StatusResult{}, err
	}
	st := StatusResult{
		StatusCode:  code,
		Reason:      ret.XMotivo,
		Operational: code == pkgnfe.StatusServiceOperational,
		UF:          uf,
		CheckedAt:   parseSefazTime(ret.DhRecbto),
		Note:        ret.XObs,
	}
	if secs, err := pkgnfe.ParseStatus(ret.TMed); err == nil {
		st.AverageTime = time.Duration(secs) * time.Second
	}
	return st, nil
}

// ProtocolStatus situación de una NF-e por clave (consSitNFe).
type ProtocolStatus struct {
	AccessKey  string    `json:"access_key"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	Protocol   string    `json:"protocol,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	Authorized bool      `json:"authorized"`
	Cancelled  bool      `json:"cancelled"`
	protocol   *protNFe
}

// QueryProtocol consulta la situación de la NF-e. Es la forma correcta de resolver un
// TimedOut: consultar por clave, no reenviar.
func (g *Gateway) QueryProtocol(ctx context.Context, env nfe.Environment, uf, key string, identity tls.Certificate) (ProtocolStatus, error) {
	if err := pkgnfe.ValidateAccessKey(key); err != nil {
		return ProtocolStatus{}, nfe.InvalidAccessKeyInput("access_key", err)
	}
	op := ServiceProtocol.Operation()
	body, err := buildConsSitNFe(env, key)
	if err != nil {
		return ProtocolStatus{}, fmt.Errorf("sefaz: armar consSitNFe: %w", err)
	}
	raw, err := callWithRetry(ctx, g.transport, Call{
		Service: ServiceProtocol, Environment: env, UF: uf, Identity: identity, Body: body,
	}, g.retry, g.log)
	if err != nil {
		return ProtocolStatus{}, err
	}
	var ret retConsSitNFe
	if err := decode(op, raw, &ret); err != nil {
		return ProtocolStatus{}, err
	}
	code, err := statusOf(op, ret.CStat)
	if err != nil {
		return ProtocolStatus{}, err
	}
	st := ProtocolStatus{AccessKey: key, StatusCode: code, Reason: ret.XMotivo}
	switch code {
	case pkgnfe.StatusCancelled, pkgnfe.StatusCancelledLate, pkgnfe.StatusEventRegistered, pkgnfe.StatusEventRegisteredLate:
		st.Cancelled = true
	}
	if ret.ProtNFe != nil {
		st.Protocol = ret.ProtNFe.InfProt.NProt
		st.ReceivedAt = parseSefazTime(ret.ProtNFe.InfProt.DhRecbto)
		if pc, err := pkgnfe.ParseStatus(ret.ProtNFe.InfProt.CStat); err == nil {
			st.Authorized = pkgnfe.IsAuthorizedStatus(pc) && !st.Cancelled
		}
		if !st.Cancelled {
			st.protocol = ret.ProtNFe
		}
	}
	return st, nil
}

// ── Eventos ───────────────────────────────────────────────────────────────────

// EventResult respuesta de un evento (retEvento).
type EventResult struct {
	StatusCode   int
	Reason       string
	Protocol     string
	RegisteredAt time.Time
	ProcXML      []byte // procEventoNFe, sólo si el evento fue registrado
}

// SendEvent envía un evento firmado (envEvento) de forma síncrona. No reintenta.
func (g *Gateway) SendEvent(ctx context.Context, env nfe.Environment, uf, batchID string, signedEvent []byte, identity tls.Certificate) (EventResult, error) {
	op := ServiceEvent.Operation()
	body, err := buildEnvEvento(batchID, signedEvent)
	if err != nil {
		return EventResult{}, nfe.InvalidField("batch", "%v", err)
	}
	raw, err := g.transport.Call(ctx, Call{
		Service: ServiceEvent, Environment: env, UF: uf, Identity: identity, Body: body,
	})
	if err != nil {
		return EventResult{}, err
	}
	var ret retEnvEvento
	if err := decode(op, raw, &ret); err != nil {
		return EventResult{}, err
	}
	batchCode, err := statusOf(op, ret.CStat)
	if err != nil {
		return EventResult{}, err
	}
	if len(ret.RetEvento) == 0 {
		return EventResult{StatusCode: batchCode, Reason: ret.XMotivo}, nil
	}
	ev := ret.RetEvento[0]
	code, err := statusOf(op, ev.InfEvento.CStat)
	if err != nil {
		return EventResult{}, err
	}
	res := EventResult{
		StatusCode:   code,
		Reason:       ev.InfEvento.XMotivo,
		Protocol:     ev.InfEvento.NProt,
		RegisteredAt: parseSefazTime(ev.InfEvento.DhRegEvento),
	}
	if pkgnfe.IsCancellationRegistered(code) {
		res.ProcXML = buildProcEvento(signedEvent, &ev)
	}
	return res, nil
}
