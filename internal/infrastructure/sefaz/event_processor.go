package sefaz

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// brasilia horario oficial (sin horario de verano desde 2019).
var brasilia = time.FixedZone("BRT", -3*60*60)

// EventSender puerto del gateway usado para los eventos.
type EventSender interface {
	SendEvent(ctx context.Context, env nfe.Environment, uf, batchID string, signedEvent []byte, identity tls.Certificate) (EventResult, error)
}

// EventProcessor arma, firma y envía el evento de cancelación (tpEvento 110111).
// El envío es síncrono y nunca se reintenta.
type EventProcessor struct {
	sender EventSender
	signer pkgnfe.Signer
	clock  clock.Clock
	log    zerolog.Logger
}

// EventOption configura el EventProcessor.
type EventOption func(*EventProcessor)

func WithEventClock(c clock.Clock) EventOption { return func(p *EventProcessor) { p.clock = c } }
func WithEventLogger(l zerolog.Logger) EventOption {
	return func(p *EventProcessor) { p.log = l }
}

func NewEventProcessor(sender EventSender, signer pkgnfe.Signer, opts ...EventOption) *EventProcessor {
	p := &EventProcessor{sender: sender, signer: signer, clock: clock.System{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Cancel valida localmente (clave, protocolo, justificación, secuencia), firma infEvento y
// lo envía. 135 y 155 registran la cancelación; cualquier otro código es un rechazo.
func (p *EventProcessor) Cancel(ctx context.Context, ev nfe.CancellationEvent, identity tls.Certificate) nfe.CancellationOutcome {
	ev = ev.Normalize()
	if err := nfe.ValidateCancellation(ev); err != nil {
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageEvent, err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.clock.Now()
	}
	log := p.log.With().Str("chNFe", ev.AccessKey).Int("nSeqEvento", ev.Sequence).Logger()

	id := EventID(pkgnfe.EventTypeCancellation, ev.AccessKey, ev.Sequence)
	unsigned, err := buildCancellationXML(ev, id)
	if err != nil {
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageBuild, fmt.Errorf("sefaz: armar evento: %w", err))
	}
	signed, err := p.signer.Sign(unsigned, id, identity)
	if err != nil {
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageSign, err)
	}

	uf, _ := pkgnfe.UFFromCode(ev.AccessKey[:2])
	res, err := p.sender.SendEvent(ctx, ev.Environment, uf, BatchID(p.clock.Now()), signed, identity)
	if err != nil {
		log.Error().Err(err).Msg("sefaz: falla al enviar el evento de cancelación")
		return nfe.CancellationFailed(ev.AccessKey, nfe.StageEvent, err)
	}
	if !pkgnfe.IsCancellationRegistered(res.StatusCode) {
		log.Warn().Int("cStat", res.StatusCode).Str("xMotivo", res.Reason).Msg("sefaz: cancelación rechazada")
		return nfe.CancellationRejected(ev.AccessKey, res.StatusCode, res.Reason)
	}
	log.Info().Str("nProt", res.Protocol).Int("cStat", res.StatusCode).Msg("sefaz: cancelación registrada")
	return nfe.Cancelled(ev.AccessKey, res.Protocol, res.StatusCode, res.Reason, res.RegisteredAt, res.ProcXML)
}

// EventID Id de infEvento: "ID" + tpEvento + chave + nSeqEvento (2 dígitos).
func EventID(eventType, key string, seq int) string {
	return fmt.Sprintf("ID%s%s%02d", eventType, key, seq)
}

// BatchID idLote de 15 dígitos derivado de la hora.
func BatchID(t time.Time) string {
	t = t.UTC()
	return t.Format("060102150405") + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// buildCancellationXML <evento> sin firma. cOrgao es la UF de la clave y el CNPJ sale de
// las posiciones 7 a 20 de la clave.
func buildCancellationXML(ev nfe.CancellationEvent, id string) ([]byte, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)

	w.start("evento",
		xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: pkgnfe.NamespaceNFe},
		xml.Attr{Name: xml.Name{Local: "versao"}, Value: pkgnfe.EventVersion},
	)
	w.start("infEvento", xml.Attr{Name: xml.Name{Local: "Id"}, Value: id})
	w.leaf("cOrgao", ev.AccessKey[:2])
	w.leaf("tpAmb", ev.Environment.TpAmb())
	w.leaf("CNPJ", ev.AccessKey[6:20])
	w.leaf("chNFe", ev.AccessKey)
	w.leaf("dhEvento", ev.OccurredAt.In(brasilia).Truncate(time.Second).Format(dateTimeLayout))
	w.leaf("tpEvento", pkgnfe.EventTypeCancellation)
	w.leaf("nSeqEvento", strconv.Itoa(ev.Sequence))
	w.leaf("verEvento", pkgnfe.EventVersion)
	w.start("detEvento", xml.Attr{Name: xml.Name{Local: "versao"}, Value: pkgnfe.EventVersion})
	w.leaf("descEvento", pkgnfe.EventDescCancellation)
	w.leaf("nProt", ev.Protocol)
	w.leaf("xJust", pkgnfe.TruncateRunes(ev.Justification, nfe.MaxJustification))
	w.end("detEvento")
	w.end("infEvento")
	w.end("evento")

	if err := w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ EventSender = (*Gateway)(nil)
