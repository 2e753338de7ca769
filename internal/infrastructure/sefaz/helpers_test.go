package sefaz_test

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe/nfetest"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

const (
	fixtureP12      = "signer/testdata/emitente.p12"
	fixturePassword = "senha123"
)

// validAt fecha dentro de la vigencia del certificado de prueba.
var validAt = time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)

func identity(t *testing.T) tls.Certificate {
	t.Helper()
	id, err := signer.NewLoader(clock.NewFakeClock(validAt)).LoadFile(fixtureP12, fixturePassword)
	require.NoError(t, err)
	return id
}

func identityWithoutKey(t *testing.T) tls.Certificate {
	id := identity(t)
	id.PrivateKey = nil
	return id
}

// reply respuesta programada del transporte falso.
type reply struct {
	body string
	err  error
}

// fakeTransport responde en orden según el servicio y registra cada llamada.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[sefaz.Service][]reply
	calls   []sefaz.Call
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[sefaz.Service][]reply)}
}

func (f *fakeTransport) on(svc sefaz.Service, body string) *fakeTransport {
	f.replies[svc] = append(f.replies[svc], reply{body: body})
	return f
}

func (f *fakeTransport) fail(svc sefaz.Service, err error) *fakeTransport {
	f.replies[svc] = append(f.replies[svc], reply{err: err})
	return f
}

func (f *fakeTransport) Call(_ context.Context, call sefaz.Call) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	q := f.replies[call.Service]
	if len(q) == 0 {
		return nil, &nfe.TransportError{Op: call.Service.Operation(), Cause: fmt.Errorf("sin respuesta programada para %s", call.Service)}
	}
	r := q[0]
	f.replies[call.Service] = q[1:]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func (f *fakeTransport) count(svc sefaz.Service) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Service == svc {
			n++
		}
	}
	return n
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) last(svc sefaz.Service) sefaz.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Service == svc {
			return f.calls[i]
		}
	}
	return sefaz.Call{}
}

func zeroRetry() sefaz.RetryPolicy {
	return sefaz.RetryPolicy{MaxTries: 3, NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}
}

func sampleKey(t *testing.T) string {
	t.Helper()
	key, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyParts{
		UFCode: "35", YearMonth: "2610", CNPJ: nfetest.EmitterCNPJ, Model: "55",
		Series: 1, Number: 1, EmissionType: "1", NumericCode: "12345678",
	})
	require.NoError(t, err)
	return key
}

func sampleBatch(key string) nfe.BatchSubmission {
	return nfe.BatchSubmission{
		ID: "1",
		Documents: []nfe.SignedDocument{{
			AccessKey: key,
			ID:        "NFe" + key,
			XML:       []byte(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe versao="4.00" Id="NFe` + key + `"></infNFe></NFe>`),
		}},
		Environment: nfe.EnvironmentHomologation,
		UF:          "SP",
	}
}

// ── Respuestas SEFAZ ──────────────────────────────────────────────────────────

func protXML(key string, cStat int, nProt, motivo string) string {
	return fmt.Sprintf(`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic>`+
		`<chNFe>%s</chNFe><dhRecbto>2026-10-18T10:31:00-03:00</dhRecbto><nProt>%s</nProt>`+
		`<digVal>c2lnbmF0dXJl</digVal><cStat>%d</cStat><xMotivo>%s</xMotivo></infProt></protNFe>`, key, nProt, cStat, motivo)
}

func retEnviNFe(cStat int, motivo, nRec, prot string) string {
	infRec := ""
	if nRec != "" {
		infRec = `<infRec><nRec>` + nRec + `</nRec><tMed>1</tMed></infRec>`
	}
	return fmt.Sprintf(`<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb>`+
		`<verAplic>SP_NFE_PL009_V4</verAplic><cStat>%d</cStat><xMotivo>%s</xMotivo><cUF>35</cUF>`+
		`<dhRecbto>2026-10-18T10:30:30-03:00</dhRecbto>%s%s</retEnviNFe>`, cStat, motivo, infRec, prot)
}

func retConsReciNFe(cStat int, motivo, prot string) string {
	return fmt.Sprintf(`<retConsReciNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb>`+
		`<verAplic>SP_NFE_PL009_V4</verAplic><nRec>123</nRec><cStat>%d</cStat><xMotivo>%s</xMotivo><cUF>35</cUF>%s</retConsReciNFe>`,
		cStat, motivo, prot)
}

func retConsSitNFe(key string, cStat int, motivo, prot string) string {
	return fmt.Sprintf(`<retConsSitNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb>`+
		`<verAplic>SP_NFE_PL009_V4</verAplic><cStat>%d</cStat><xMotivo>%s</xMotivo><cUF>35</cUF><chNFe>%s</chNFe>%s</retConsSitNFe>`,
		cStat, motivo, key, prot)
}

func retEnvEvento(key string, cStat int, motivo, nProt string) string {
	return fmt.Sprintf(`<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00"><idLote>1</idLote><tpAmb>2</tpAmb>`+
		`<verAplic>SP_EVENTOS_PL_100</verAplic><cOrgao>35</cOrgao><cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>`+
		`<retEvento versao="1.00"><infEvento><tpAmb>2</tpAmb><verAplic>SP_EVENTOS_PL_100</verAplic><cOrgao>35</cOrgao>`+
		`<cStat>%d</cStat><xMotivo>%s</xMotivo><chNFe>%s</chNFe><tpEvento>110111</tpEvento><xEvento>Cancelamento registrado</xEvento>`+
		`<nSeqEvento>1</nSeqEvento><dhRegEvento>2027-03-01T09:00:05-03:00</dhRegEvento><nProt>%s</nProt></infEvento></retEvento></retEnvEvento>`,
		cStat, motivo, key, nProt)
}

func transportErr(op string, retryable bool) error {
	return &nfe.TransportError{Op: op, Retryable: retryable, Cause: fmt.Errorf("connection reset by peer")}
}
