package sefaz_test

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

func newGateway(f *fakeTransport, opts ...sefaz.GatewayOption) *sefaz.Gateway {
	base := []sefaz.GatewayOption{
		sefaz.WithDelayPolicy(sefaz.NoDelay{}),
		sefaz.WithRetryPolicy(zeroRetry()),
	}
	return sefaz.NewGateway(f, append(base, opts...)...)
}

type pollCounter struct {
	status   nfe.OutcomeStatus
	attempts int
	calls    int
}

func (p *pollCounter) ObservePolls(s nfe.OutcomeStatus, n int) {
	p.status, p.attempts = s, n
	p.calls++
}

func TestAuthorize_ReciboConsultadoHastaAutorizar(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", ""))
	for i := 0; i < 4; i++ {
		f.on(sefaz.ServiceReceipt, retConsReciNFe(105, "Lote em processamento", ""))
	}
	f.on(sefaz.ServiceReceipt, retConsReciNFe(104, "Lote processado",
		protXML(key, 100, "135260000000001", "Autorizado o uso da NF-e")))

	var slept []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	polls := &pollCounter{}
	g := newGateway(f,
		sefaz.WithDelayPolicy(sefaz.LinearDelay{Initial: 4 * time.Second, Step: 2 * time.Second}),
		sefaz.WithSleeper(sleeper),
		sefaz.WithPollObserver(polls),
	)

	out := g.Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeAuthorized, out.Status, out.Reason)
	assert.NoError(t, out.Err())
	assert.Equal(t, key, out.AccessKey)
	assert.Equal(t, "135260000000001", out.Protocol)
	assert.Equal(t, 100, out.StatusCode)
	assert.False(t, out.AuthorizedAt.IsZero())
	assert.Equal(t, 1, f.count(sefaz.ServiceAuthorization))
	assert.Equal(t, 5, f.count(sefaz.ServiceReceipt))
	assert.Equal(t, []time.Duration{4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second, 12 * time.Second}, slept)
	assert.Contains(t, string(f.last(sefaz.ServiceReceipt).Body), "<nRec>123</nRec>")

	proc := string(out.SignedXML)
	assert.True(t, strings.HasPrefix(proc, "<?xml"))
	assert.Contains(t, proc, `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	assert.Contains(t, proc, `<protNFe versao="4.00"><infProt>`)
	assert.Contains(t, proc, `Id="NFe`+key+`"`)

	assert.Equal(t, 1, polls.calls)
	assert.Equal(t, nfe.OutcomeAuthorized, polls.status)
	assert.Equal(t, 5, polls.attempts)
}

func TestAuthorize_RechazoEnRespuestaSincrona(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 110, "", "Uso Denegado")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeRejected, out.Status)
	assert.Equal(t, 110, out.StatusCode)
	assert.Equal(t, "Uso Denegado", out.Reason)
	assert.Equal(t, nfe.StageSubmit, out.Stage)
	assert.Equal(t, 0, f.count(sefaz.ServiceReceipt))

	var rej *nfe.RemoteRejection
	require.True(t, errors.As(out.Err(), &rej))
	assert.Equal(t, 110, rej.StatusCode)
	assert.False(t, errors.Is(out.Err(), nfe.ErrRemoteTimeout))
}

func TestAuthorize_AutorizadoEnRespuestaSincrona(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 100, "135260000000002", "Autorizado o uso da NF-e")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, "135260000000002", out.Protocol)
	assert.Equal(t, 0, f.count(sefaz.ServiceReceipt))
}

func TestAuthorize_AutorizadoFueraDePlazo(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 150, "135260000000003", "Autorizado o uso da NF-e, autorizacao fora de prazo")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	assert.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, 150, out.StatusCode)
}

func TestAuthorize_RechazoDelLote(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(225, "Rejeicao: Falha no Schema XML", "", ""))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeRejected, out.Status)
	assert.Equal(t, 225, out.StatusCode)
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteRejection)
}

func TestAuthorize_RechazoDuranteLaConsulta(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", "")).
		on(sefaz.ServiceReceipt, retConsReciNFe(105, "Lote em processamento", "")).
		on(sefaz.ServiceReceipt, retConsReciNFe(104, "Lote processado",
			protXML(key, 539, "", "Rejeicao: Duplicidade de NF-e com diferenca na Chave de Acesso")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeRejected, out.Status)
	assert.Equal(t, 539, out.StatusCode)
	assert.Equal(t, nfe.StagePoll, out.Stage)
}

func TestAuthorize_ReciboRechazado(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", "")).
		on(sefaz.ServiceReceipt, retConsReciNFe(106, "Lote nao localizado", ""))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeRejected, out.Status)
	assert.Equal(t, 106, out.StatusCode)
	assert.Equal(t, 1, f.count(sefaz.ServiceReceipt))
}

func TestAuthorize_AgotaLasConsultas(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", ""))
	for i := 0; i < 10; i++ {
		f.on(sefaz.ServiceReceipt, retConsReciNFe(105, "Lote em processamento", ""))
	}

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, sefaz.DefaultMaxPolls, f.count(sefaz.ServiceReceipt))
	assert.Equal(t, sefaz.DefaultMaxPolls, out.Attempts)
	assert.Equal(t, 105, out.LastStatusCode)
	assert.Equal(t, "123", out.Receipt)
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteTimeout)
	assert.False(t, errors.Is(out.Err(), nfe.ErrRemoteRejection))
}

func TestAuthorize_LimiteDeConsultasConfigurable(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", ""))
	for i := 0; i < 10; i++ {
		f.on(sefaz.ServiceReceipt, retConsReciNFe(105, "Lote em processamento", ""))
	}

	out := newGateway(f, sefaz.WithMaxPolls(3)).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, 3, f.count(sefaz.ServiceReceipt))
	assert.Equal(t, 3, out.Attempts)
}

func TestAuthorize_CancelacionDelContexto(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", ""))
	for i := 0; i < 10; i++ {
		f.on(sefaz.ServiceReceipt, retConsReciNFe(105, "Lote em processamento", ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		n++
		if n == 3 {
			cancel()
		}
		return sefaz.SleepContext(ctx, d)
	}

	out := newGateway(f, sefaz.WithSleeper(sleeper)).Authorize(ctx, sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, f.count(sefaz.ServiceReceipt))
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteTimeout)
	assert.ErrorIs(t, out.Err(), context.Canceled)
}

func TestAuthorize_ReintentaConsultaTransitoria(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", "")).
		fail(sefaz.ServiceReceipt, transportErr("nfeRetAutorizacaoLote", true)).
		on(sefaz.ServiceReceipt, retConsReciNFe(104, "Lote processado",
			protXML(key, 100, "135260000000004", "Autorizado o uso da NF-e")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, 2, f.count(sefaz.ServiceReceipt))
}

func TestAuthorize_ConsultaSinRespuestaEsTimedOut(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(103, "Lote recebido com sucesso", "123", ""))
	for i := 0; i < 3; i++ {
		f.fail(sefaz.ServiceReceipt, transportErr("nfeRetAutorizacaoLote", true))
	}

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, 3, f.count(sefaz.ServiceReceipt))
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 103, out.LastStatusCode)
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteTimeout)
	assert.ErrorIs(t, out.Err(), nfe.ErrTransport)
}

func TestAuthorize_EnvioNuncaSeReintenta(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceAuthorization, transportErr("nfeAutorizacaoLote", true)).
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 100, "135260000000005", "Autorizado o uso da NF-e"))).
		fail(sefaz.ServiceProtocol, transportErr("nfeConsultaNF", false))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	// sin confirmar el estado de la clave no se reenvía y el resultado queda pendiente
	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, nfe.StageSubmit, out.Stage)
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteTimeout)
	assert.ErrorIs(t, out.Err(), nfe.ErrTransport)
	assert.Equal(t, 1, f.count(sefaz.ServiceAuthorization))
	assert.Equal(t, 1, f.count(sefaz.ServiceProtocol))
}

func TestAuthorize_ReenviaSoloSiLaClaveNoConsta(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceAuthorization, transportErr("nfeAutorizacaoLote", false)).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 217, "Rejeicao: NF-e nao consta na base de dados da SEFAZ", "")).
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 100, "135260000000006", "Autorizado o uso da NF-e")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, "135260000000006", out.Protocol)
	assert.Equal(t, 2, f.count(sefaz.ServiceAuthorization))
	assert.Equal(t, 1, f.count(sefaz.ServiceProtocol))
}

func TestAuthorize_ReenvioDuplicadoQuedaPendiente(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceAuthorization, transportErr("nfeAutorizacaoLote", false)).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 217, "Rejeicao: NF-e nao consta na base de dados da SEFAZ", "")).
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 204, "", "Rejeicao: Duplicidade de NF-e"))).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 217, "Rejeicao: NF-e nao consta na base de dados da SEFAZ", ""))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, nfe.StageSubmit, out.Stage)
	assert.Equal(t, 204, out.LastStatusCode)
	assert.ErrorIs(t, out.Err(), nfe.ErrRemoteTimeout)
	assert.Equal(t, 2, f.count(sefaz.ServiceAuthorization))
	assert.Equal(t, 2, f.count(sefaz.ServiceProtocol))
}

func TestAuthorize_ReenvioDuplicadoRecuperaProtocolo(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceAuthorization, transportErr("nfeAutorizacaoLote", false)).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 217, "Rejeicao: NF-e nao consta na base de dados da SEFAZ", "")).
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 539, "", "Rejeicao: Duplicidade de NF-e com diferenca na Chave de Acesso"))).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 100, "Autorizado o uso da NF-e",
			protXML(key, 100, "135260000000009", "Autorizado o uso da NF-e")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, "135260000000009", out.Protocol)
	assert.Equal(t, 2, f.count(sefaz.ServiceAuthorization))
}

func TestAuthorize_RecuperaProtocoloExistente(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		fail(sefaz.ServiceAuthorization, transportErr("nfeAutorizacaoLote", false)).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 100, "Autorizado o uso da NF-e",
			protXML(key, 100, "135260000000007", "Autorizado o uso da NF-e")))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	require.Equal(t, nfe.OutcomeAuthorized, out.Status)
	assert.Equal(t, "135260000000007", out.Protocol)
	assert.Equal(t, 1, f.count(sefaz.ServiceAuthorization))
	assert.NotEmpty(t, out.SignedXML)
}

func TestAuthorize_LoteConVariasNotas(t *testing.T) {
	key := sampleKey(t)
	batch := sampleBatch(key)
	batch.Documents = append(batch.Documents, batch.Documents[0])
	f := newFakeTransport()

	out := newGateway(f).Authorize(context.Background(), batch, tls.Certificate{})
	require.Equal(t, nfe.OutcomeFailed, out.Status)
	assert.ErrorIs(t, out.Err(), nfe.ErrValidation)
	assert.Equal(t, 0, f.total())
}

func TestAuthorize_RespuestaIlegible(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, `<retEnviNFe><cStat>abc</cStat></retEnviNFe>`).
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 656, "Consumo indevido", ""))

	out := newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})
	require.Equal(t, nfe.OutcomeTimedOut, out.Status)
	assert.Equal(t, 656, out.LastStatusCode)
	assert.ErrorIs(t, out.Err(), nfe.ErrTransport)
	assert.Equal(t, 1, f.count(sefaz.ServiceAuthorization))
}

func TestAuthorize_EnvioIncluyeLoteYDocumento(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceAuthorization, retEnviNFe(104, "Lote processado", "",
			protXML(key, 100, "135260000000008", "Autorizado o uso da NF-e")))

	newGateway(f).Authorize(context.Background(), sampleBatch(key), tls.Certificate{})

	call := f.last(sefaz.ServiceAuthorization)
	body := string(call.Body)
	assert.Contains(t, body, `<enviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	assert.Contains(t, body, "<idLote>1</idLote><indSinc>0</indSinc>")
	assert.Contains(t, body, `Id="NFe`+key+`"`)
	assert.Equal(t, "SP", call.UF)
	assert.Equal(t, nfe.EnvironmentHomologation, call.Environment)
}

func TestStatus_ServicioEnOperacion(t *testing.T) {
	f := newFakeTransport().
		on(sefaz.ServiceStatus, `<retConsStatServ xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb>`+
			`<verAplic>SP_NFE_PL009_V4</verAplic><cStat>107</cStat><xMotivo>Servico em Operacao</xMotivo><cUF>35</cUF>`+
			`<dhRecbto>2026-10-18T10:00:00-03:00</dhRecbto><tMed>1</tMed></retConsStatServ>`)

	st, err := newGateway(f).Status(context.Background(), nfe.EnvironmentHomologation, "SP", tls.Certificate{})
	require.NoError(t, err)
	assert.True(t, st.Operational)
	assert.Equal(t, 107, st.StatusCode)
	assert.Equal(t, time.Second, st.AverageTime)
	assert.Equal(t, "SP", st.UF)
	assert.Contains(t, string(f.last(sefaz.ServiceStatus).Body), "<cUF>35</cUF><xServ>STATUS</xServ>")
}

func TestStatus_UFDesconocida(t *testing.T) {
	f := newFakeTransport()
	_, err := newGateway(f).Status(context.Background(), nfe.EnvironmentHomologation, "XX", tls.Certificate{})
	assert.ErrorIs(t, err, nfe.ErrValidation)
	assert.Equal(t, 0, f.total())
}

func TestStatus_ReintentaYFalla(t *testing.T) {
	f := newFakeTransport()
	for i := 0; i < 3; i++ {
		f.fail(sefaz.ServiceStatus, transportErr("nfeStatusServicoNF", true))
	}
	_, err := newGateway(f).Status(context.Background(), nfe.EnvironmentHomologation, "SP", tls.Certificate{})
	assert.ErrorIs(t, err, nfe.ErrTransport)
	assert.Equal(t, 3, f.count(sefaz.ServiceStatus))
}

func TestStatus_ErrorNoTransitorioNoSeReintenta(t *testing.T) {
	f := newFakeTransport().fail(sefaz.ServiceStatus, transportErr("nfeStatusServicoNF", false))
	_, err := newGateway(f).Status(context.Background(), nfe.EnvironmentHomologation, "SP", tls.Certificate{})

	var te *nfe.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, f.count(sefaz.ServiceStatus))
}

func TestQueryProtocol_Autorizada(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 100, "Autorizado o uso da NF-e",
			protXML(key, 100, "135260000000009", "Autorizado o uso da NF-e")))

	st, err := newGateway(f).QueryProtocol(context.Background(), nfe.EnvironmentHomologation, "SP", key, tls.Certificate{})
	require.NoError(t, err)
	assert.True(t, st.Authorized)
	assert.False(t, st.Cancelled)
	assert.Equal(t, "135260000000009", st.Protocol)
	assert.Contains(t, string(f.last(sefaz.ServiceProtocol).Body), "<xServ>CONSULTAR</xServ><chNFe>"+key+"</chNFe>")
}

func TestQueryProtocol_Cancelada(t *testing.T) {
	key := sampleKey(t)
	f := newFakeTransport().
		on(sefaz.ServiceProtocol, retConsSitNFe(key, 101, "Cancelamento de NF-e homologado",
			protXML(key, 100, "135260000000009", "Autorizado o uso da NF-e")))

	st, err := newGateway(f).QueryProtocol(context.Background(), nfe.EnvironmentHomologation, "SP", key, tls.Certificate{})
	require.NoError(t, err)
	assert.True(t, st.Cancelled)
	assert.False(t, st.Authorized)
}

func TestQueryProtocol_ClaveInvalida(t *testing.T) {
	f := newFakeTransport()
	key := sampleKey(t)
	bad := key[:43] + string('0'+(key[43]-'0'+1)%10)

	_, err := newGateway(f).QueryProtocol(context.Background(), nfe.EnvironmentHomologation, "SP", bad, tls.Certificate{})
	var ve *nfe.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, nfe.CodeInvalidAccessKeyInput, ve.Code)
	assert.Equal(t, 0, f.total())
}
