package nfe_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe/nfetest"
)

// fields devuelve los campos de todos los *ValidationError unidos en err.
func fields(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ve *nfe.ValidationError
		if errors.As(e, &ve) {
			out = append(out, ve.Field)
		}
	}
	walk(err)
	return out
}

func TestValidateDraft_BorradorValido(t *testing.T) {
	assert.NoError(t, nfe.ValidateDraft(nfetest.Draft()))
}

func TestValidateDraft_ReuneTodosLosErrores(t *testing.T) {
	d := nfetest.Draft()
	d.Series = 0
	d.Number = 0
	d.Emitter.Name = ""
	d.Items[0].NCM = "123"
	d.Items[0].Quantity = dec("0")

	err := nfe.ValidateDraft(d)
	require.Error(t, err)
	assert.ErrorIs(t, err, nfe.ErrValidation)
	assert.ElementsMatch(t,
		[]string{"series", "number", "emitter.name", "items[0].ncm", "items[0].quantity"},
		fields(err))
}

func TestValidateDraft_SinItems(t *testing.T) {
	d := nfetest.Draft()
	d.Items = nil
	err := nfe.ValidateDraft(d)
	require.Error(t, err)
	assert.Contains(t, fields(err), "items")
}

func TestValidateDraft_CNPJEmisorInvalido(t *testing.T) {
	d := nfetest.Draft()
	d.Emitter.CNPJ = "12345678000190"
	err := nfe.ValidateDraft(d)
	require.Error(t, err)

	var ve *nfe.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, nfe.CodeInvalidAccessKeyInput, ve.Code)
}

func TestValidateDraft_DestinatarioConDosDocumentos(t *testing.T) {
	d := nfetest.Draft()
	d.Recipient.CPF = "52998224725"
	assert.Contains(t, fields(nfe.ValidateDraft(d)), "recipient.document")
}

func TestValidateDraft_DestinatarioExtranjero(t *testing.T) {
	d := nfetest.Draft()
	d.Recipient.CNPJ = ""
	d.Recipient.ForeignID = "AR-20304050"
	d.Recipient.Address = nfe.Address{
		Street: "Av. Corrientes", Number: "1234", District: "San Nicolás",
		CityName: "Buenos Aires", UF: "EX", CountryCode: "0639", CountryName: "ARGENTINA",
	}
	assert.NoError(t, nfe.ValidateDraft(d))
	assert.Equal(t, "3", d.Destination())
}

func TestValidateDraft_TotalInformadoDebeCoincidir(t *testing.T) {
	d := nfetest.Draft()
	d.Items[0].TotalValue = nullDec("20.01")
	assert.NoError(t, nfe.ValidateDraft(d), "tolerancia de 0.01")

	d.Items[0].TotalValue = nullDec("21.00")
	assert.Contains(t, fields(nfe.ValidateDraft(d)), "items[0].total_value")
}

func TestDestination_InternaEInterestadual(t *testing.T) {
	d := nfetest.Draft()
	assert.Equal(t, "1", d.Destination())
	d.Recipient.Address.UF = "RJ"
	assert.Equal(t, "2", d.Destination())
}

func TestParseRegime(t *testing.T) {
	r, err := nfe.ParseRegime("1")
	require.NoError(t, err)
	assert.Equal(t, nfe.RegimeSimplesNacional, r)
	assert.Equal(t, "1", r.CRT())

	r, err = nfe.ParseRegime("lucro_presumido")
	require.NoError(t, err)
	assert.Equal(t, "3", r.CRT())
	assert.False(t, r.UsesCSOSN())

	_, err = nfe.ParseRegime("xyz")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "validation", nfe.KindOf(nfe.MissingField("x")))
	assert.Equal(t, "certificate", nfe.KindOf(&nfe.CertificateError{Reason: nfe.ReasonExpired}))
	assert.Equal(t, "rejection", nfe.KindOf(&nfe.RemoteRejection{StatusCode: 110}))
	assert.Equal(t, "timeout", nfe.KindOf(&nfe.RemoteTimeout{}))
	assert.Equal(t, "transport", nfe.KindOf(&nfe.TransportError{Op: "poll", Cause: errors.New("reset")}))
	assert.Equal(t, "none", nfe.KindOf(nil))

	assert.True(t, nfe.IsRetryable(&nfe.TransportError{Retryable: true, Cause: errors.New("x")}))
	assert.False(t, nfe.IsRetryable(&nfe.TransportError{Cause: errors.New("x")}))
}

func TestOutcome_ErrClasificado(t *testing.T) {
	o := nfe.Rejected("k", nfe.StageSubmit, 110, "Uso Denegado")
	var rr *nfe.RemoteRejection
	require.True(t, errors.As(o.Err(), &rr))
	assert.Equal(t, 110, rr.StatusCode)

	to := nfe.TimedOut("k", "123", 105, 5, nil)
	assert.ErrorIs(t, to.Err(), nfe.ErrRemoteTimeout)

	ok := nfe.Authorized("k", "135260000000001", 100, nfetest.IssuedAt, nil)
	assert.NoError(t, ok.Err())
}
