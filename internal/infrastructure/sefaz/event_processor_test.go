package sefaz_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
)

func newProcessor(f *fakeTransport) *sefaz.EventProcessor {
	return sefaz.NewEventProcessor(newGateway(f), signer.NewDigitalSignatureService(),
		sefaz.WithEventClock(clock.NewFakeClock(validAt)))
}

func cancellation(key string) nfe.CancellationEvent {
	return nfe.CancellationEvent{
		AccessKey:     key,
		Protocol:      "135260000000001",
		Justification: "Erro na digitacao do valor do produto",
		Environment:   nfe.EnvironmentHomologation,
	}
}

func TestCancel_Registrado(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().on(sefaz.ServiceEvent, retEnvEvento(key, 135, "Evento registrado e vinculado a NF-e", "135270000000010"))

	out := newProcessor(f).Cancel(context.Background(), cancellation(key), identity(t))

	require.Equal(t, nfe.OutcomeCancelled, out.Status, out.Reason)
	assert.NoError(t, out.Err())
	assert.Equal(t, "135270000000010", out.Protocol)
	assert.Equal(t, 135, out.StatusCode)
	assert.False(t, out.RegisteredAt.IsZero())

	proc := string(out.EventXML)
	assert.Contains(t, proc, `<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">`)
	assert.Contains(t, proc, `<retEvento versao="1.00"><infEvento>`)
	assert.Contains(t, proc, "<Signature")
}

func TestCancel_RegistradoFueraDePlazo(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().on(sefaz.ServiceEvent, retEnvEvento(key, 155, "Cancelamento homologado fora de prazo", "135270000000011"))

	out := newProcessor(f).Cancel(context.Background(), cancellation(key), identity(t))
	require.Equal(t, nfe.OutcomeCancelled, out.Status)
	assert.Equal(t, 155, out.StatusCode)
}

func TestCancel_RechazoConservaElCodigo(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().on(sefaz.ServiceEvent, retEnvEvento(key, 573, "Rejeicao: Duplicidade de Evento", ""))

	out := newProcessor(f).Cancel(context.Background(), cancellation(key), identity(t))

	require.Equal(t, nfe.OutcomeRejected, out.Status)
	assert.Equal(t, 573, out.StatusCode)
	var rej *nfe.RemoteRejection
	require.True(t, errors.As(out.Err(), &rej))
	assert.Equal(t, 573, rej.StatusCode)
	assert.Empty(t, out.EventXML)
}

func TestCancel_JustificacionCortaSinLlamadaDeRed(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport()
	ev := cancellation(key)
	ev.Justification = "muito curt"

	out := newProcessor(f).Cancel(context.Background(), ev, identity(t))

	require.Equal(t, nfe.OutcomeFailed, out.Status)
	var ve *nfe.ValidationError
	require.True(t, errors.As(out.Err(), &ve))
	assert.Equal(t, nfe.CodeInvalidJustification, ve.Code)
	assert.Equal(t, 0, f.total())
}

func TestCancel_ProtocoloInvalido(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport()
	ev := cancellation(key)
	ev.Protocol = "12345"

	out := newProcessor(f).Cancel(context.Background(), ev, identity(t))
	require.Equal(t, nfe.OutcomeFailed, out.Status)
	assert.ErrorIs(t, out.Err(), nfe.ErrValidation)
	assert.Equal(t, 0, f.total())
}

func TestCancel_EventoFirmadoEnElEnvio(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().on(sefaz.ServiceEvent, retEnvEvento(key, 135, "Evento registrado e vinculado a NF-e", "135270000000010"))

	newProcessor(f).Cancel(context.Background(), cancellation(key), identity(t))

	call := f.last(sefaz.ServiceEvent)
	body := string(call.Body)
	id := sefaz.EventID("110111", key, 1)
	assert.Equal(t, "ID110111"+key+"01", id)
	assert.Contains(t, body, `Id="`+id+`"`)
	assert.Contains(t, body, "<cOrgao>35</cOrgao><tpAmb>2</tpAmb><CNPJ>12345678000195</CNPJ><chNFe>"+key+"</chNFe>")
	assert.Contains(t, body, "<dhEvento>2027-03-01T09:00:00-03:00</dhEvento>")
	assert.Contains(t, body, "<tpEvento>110111</tpEvento><nSeqEvento>1</nSeqEvento>")
	assert.Contains(t, body, "<descEvento>Cancelamento</descEvento><nProt>135260000000001</nProt>")
	assert.Contains(t, body, "<idLote>270301120000000</idLote>")
	assert.Equal(t, "SP", call.UF)

	_, err := signer.Verify(call.Body, id, validAt)
	assert.NoError(t, err)
}

func TestCancel_FallaDeTransporteNoSeReintenta(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceEvent, transportErr("nfeRecepcaoEvento", true)).
		on(sefaz.ServiceEvent, retEnvEvento(key, 135, "Evento registrado e vinculado a NF-e", "135270000000010"))

	out := newProcessor(f).Cancel(context.Background(), cancellation(key), identity(t))

	require.Equal(t, nfe.OutcomeFailed, out.Status)
	assert.Equal(t, nfe.StageEvent, out.Stage)
	assert.ErrorIs(t, out.Err(), nfe.ErrTransport)
	assert.Equal(t, 1, f.count(sefaz.ServiceEvent))
}

func TestCancel_SinCertificadoFallaEnLaFirma(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport()

	out := newProcessor(f).Cancel(context.Background(), cancellation(key), identityWithoutKey(t))
	require.Equal(t, nfe.OutcomeFailed, out.Status)
	assert.Equal(t, nfe.StageSign, out.Stage)
	assert.ErrorIs(t, out.Err(), nfe.ErrSigning)
	assert.Equal(t, 0, f.total())
}

func TestEventID_SecuenciaConDosDigitos(t *testing.T) {
	key := sampleKey(t)
	assert.Equal(t, "ID110111"+key+"12", sefaz.EventID("110111", key, 12))
}

func TestBatchID_QuinceDigitos(t *testing.T) {
	at := time.Date(2027, 3, 1, 9, 0, 5, 123*int(time.Millisecond), time.FixedZone("BRT", -3*60*60))
	id := sefaz.BatchID(at)
	assert.Equal(t, "270301120005123", id)
	assert.Len(t, id, 15)
	assert.Empty(t, strings.Trim(id, "0123456789"))
}
