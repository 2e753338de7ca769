package sefaz_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe/nfetest"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

func resolvedDraft(t *testing.T, d nfe.InvoiceDraft) nfe.InvoiceDraft {
	t.Helper()
	out, err := nfe.NewTaxRuleResolver().ResolveAll(d)
	require.NoError(t, err)
	return out
}

func build(t *testing.T, d nfe.InvoiceDraft) *nfe.CanonicalDocument {
	t.Helper()
	doc, err := sefaz.NewDocumentBuilder(sefaz.WithSeedSource(sefaz.FixedSeed("12345678"))).Build(resolvedDraft(t, d))
	require.NoError(t, err)
	return doc
}

func element(t *testing.T, xmlBytes []byte, path string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(xmlBytes))
	el := doc.FindElement(path)
	require.NotNil(t, el, "no existe %s", path)
	return el
}

func TestBuild_ItemSimplesNacional(t *testing.T) {
	doc := build(t, nfetest.Draft())

	det := element(t, doc.XML, "//det[@nItem='1']")
	assert.Equal(t, "2.0000", det.FindElement("prod/qCom").Text())
	assert.Equal(t, "10.0000000000", det.FindElement("prod/vUnCom").Text())
	assert.Equal(t, "20.00", det.FindElement("prod/vProd").Text())
	assert.Equal(t, "102", det.FindElement("imposto/ICMS/ICMSSN102/CSOSN").Text())
	assert.Nil(t, det.FindElement("imposto/ICMS/ICMSSN102/vICMS"))
	assert.Equal(t, "99", det.FindElement("imposto/PIS/PISOutr/CST").Text())

	tot := element(t, doc.XML, "//total/ICMSTot")
	assert.Equal(t, "20.00", tot.FindElement("vProd").Text())
	assert.Equal(t, "0.00", tot.FindElement("vICMS").Text())
	assert.Equal(t, "20.00", tot.FindElement("vNF").Text())
	assert.Equal(t, "20.00", doc.Totals.Invoice.StringFixed(2))
}

func TestBuild_ClaveDeAcceso(t *testing.T) {
	doc := build(t, nfetest.Draft())

	expected, err := pkgnfe.BuildAccessKey(pkgnfe.AccessKeyParts{
		UFCode: "35", YearMonth: "2610", CNPJ: nfetest.EmitterCNPJ, Model: "55",
		Series: 1, Number: 1, EmissionType: "1", NumericCode: "12345678",
	})
	require.NoError(t, err)
	assert.Equal(t, expected, doc.AccessKey)
	assert.Len(t, doc.AccessKey, pkgnfe.AccessKeyLength)
	assert.NoError(t, pkgnfe.ValidateAccessKey(doc.AccessKey))
	assert.Equal(t, "NFe"+doc.AccessKey, doc.ID)

	inf := element(t, doc.XML, "//infNFe")
	assert.Equal(t, doc.ID, inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "4.00", inf.SelectAttrValue("versao", ""))
	assert.Equal(t, doc.AccessKey[43:], inf.FindElement("ide/cDV").Text())
	assert.Equal(t, "12345678", inf.FindElement("ide/cNF").Text())
	assert.Equal(t, "2026-10-18T10:30:00-03:00", inf.FindElement("ide/dhEmi").Text())
}

func TestBuild_Determinista(t *testing.T) {
	a := build(t, nfetest.Draft())
	b := build(t, nfetest.Draft())
	assert.Equal(t, a.XML, b.XML)
	assert.Equal(t, a.AccessKey, b.AccessKey)
}

func TestBuild_RaizConNamespaceDelPortal(t *testing.T) {
	doc := build(t, nfetest.Draft())
	root := element(t, doc.XML, "/NFe")
	assert.Equal(t, pkgnfe.NamespaceNFe, root.SelectAttrValue("xmlns", ""))
	assert.False(t, strings.HasPrefix(string(doc.XML), "<?xml"))
}

func TestBuild_NombreDestinatarioEnHomologacion(t *testing.T) {
	doc := build(t, nfetest.Draft())
	assert.Equal(t, "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL",
		element(t, doc.XML, "//dest/xNome").Text())
	assert.Equal(t, "2", element(t, doc.XML, "//ide/tpAmb").Text())

	d := nfetest.Draft()
	d.Environment = nfe.EnvironmentProduction
	doc = build(t, d)
	assert.Equal(t, "CLIENTE EXEMPLO SA", element(t, doc.XML, "//dest/xNome").Text())
}

func TestBuild_DestinoDeLaOperacion(t *testing.T) {
	doc := build(t, nfetest.Draft())
	assert.Equal(t, "1", doc.Destination)

	d := nfetest.Draft()
	d.Recipient.Address.UF = "RJ"
	d.Recipient.Address.CityCode = "3304557"
	d.Recipient.Address.CityName = "Rio de Janeiro"
	doc = build(t, d)
	assert.Equal(t, "2", doc.Destination)
	assert.Equal(t, "2", element(t, doc.XML, "//ide/idDest").Text())
}

func TestBuild_RegimenNormalDeclaraCST(t *testing.T) {
	doc := build(t, nfetest.NormalRegime(nfetest.Draft()))
	icms := element(t, doc.XML, "//det/imposto/ICMS/ICMS00")
	assert.Equal(t, "00", icms.FindElement("CST").Text())
	assert.Equal(t, "20.00", icms.FindElement("vBC").Text())
	assert.Equal(t, "18.0000", icms.FindElement("pICMS").Text())
	assert.Equal(t, "3.60", icms.FindElement("vICMS").Text())
	assert.Equal(t, "3", element(t, doc.XML, "//emit/CRT").Text())
	assert.Equal(t, "3.60", element(t, doc.XML, "//ICMSTot/vICMS").Text())
}

func TestBuild_UsaRelojSinFechaDeEmision(t *testing.T) {
	d := nfetest.Draft()
	d.IssuedAt = time.Time{}
	at := time.Date(2027, 1, 15, 9, 0, 0, 0, time.FixedZone("BRT", -3*60*60))
	b := sefaz.NewDocumentBuilder(
		sefaz.WithSeedSource(sefaz.FixedSeed("12345678")),
		sefaz.WithBuilderClock(clock.NewFakeClock(at)),
	)
	doc, err := b.Build(resolvedDraft(t, d))
	require.NoError(t, err)
	assert.Equal(t, "2701", doc.AccessKey[2:6])
	assert.Equal(t, "2027-01-15T09:00:00-03:00", element(t, doc.XML, "//ide/dhEmi").Text())
}

func TestBuild_RelojEnUTCSeExpresaEnBrasilia(t *testing.T) {
	d := nfetest.Draft()
	d.IssuedAt = time.Time{}
	// 1 de noviembre en UTC todavía es 31 de octubre en Brasília
	at := time.Date(2026, 11, 1, 1, 30, 0, 0, time.UTC)
	b := sefaz.NewDocumentBuilder(
		sefaz.WithSeedSource(sefaz.FixedSeed("12345678")),
		sefaz.WithBuilderClock(clock.NewFakeClock(at)),
	)
	doc, err := b.Build(resolvedDraft(t, d))
	require.NoError(t, err)
	assert.Equal(t, "2610", doc.AccessKey[2:6])
	assert.Equal(t, "2026-10-31T22:30:00-03:00", element(t, doc.XML, "//ide/dhEmi").Text())
}

func TestBuild_CodigoNumericoIgualAlNumero(t *testing.T) {
	b := sefaz.NewDocumentBuilder(sefaz.WithSeedSource(sefaz.FixedSeed("00000001")))
	_, err := b.Build(resolvedDraft(t, nfetest.Draft()))
	require.Error(t, err)
	var ve *nfe.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, nfe.CodeInvalidAccessKeyInput, ve.Code)
}

func TestBuild_CodigoNumericoNoNumerico(t *testing.T) {
	b := sefaz.NewDocumentBuilder(sefaz.WithSeedSource(sefaz.FixedSeed("ABC")))
	_, err := b.Build(resolvedDraft(t, nfetest.Draft()))
	var ve *nfe.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, nfe.CodeInvalidAccessKeyInput, ve.Code)
}

func TestBuild_SinTributosResueltos(t *testing.T) {
	_, err := sefaz.NewDocumentBuilder().Build(nfetest.Draft())
	assert.ErrorIs(t, err, nfe.ErrValidation)
}

func TestBuild_BorradorInvalido(t *testing.T) {
	d := nfetest.Draft()
	d.Items[0].CFOP = "51"
	_, err := sefaz.NewDocumentBuilder().Build(resolvedDraft(t, d))
	assert.ErrorIs(t, err, nfe.ErrValidation)
}

func TestRandomSeed_OchoDigitosDistintoDelNumero(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := sefaz.RandomSeed{}.NumericCode(1)
		require.NoError(t, err)
		assert.True(t, pkgnfe.IsDigits(code, 8))
		assert.NotEqual(t, "00000001", code)
	}
}

func TestBuild_FirmaVerificable(t *testing.T) {
	doc := build(t, nfetest.Draft())
	signed, err := signer.NewDigitalSignatureService().SignDocument(doc, identity(t))
	require.NoError(t, err)

	cert, err := signer.Verify(signed.XML, doc.ID, validAt)
	require.NoError(t, err)
	assert.Contains(t, cert.Subject.CommonName, nfetest.EmitterCNPJ)

	sig := element(t, signed.XML, "/NFe/Signature")
	assert.Equal(t, signer.NamespaceDS, sig.SelectAttrValue("xmlns", ""))
}
