package nfe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

func TestParseStatus_IgnoraCerosIzquierda(t *testing.T) {
	for _, raw := range []string{"100", "0100", " 100 ", "00100"} {
		n, err := nfe.ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 100, n, raw)
	}
}

func TestParseStatus_ErrorSiVacioONoNumerico(t *testing.T) {
	_, err := nfe.ParseStatus("")
	assert.Error(t, err)
	_, err = nfe.ParseStatus("abc")
	assert.Error(t, err)
}

func TestDescribeStatus_Catalogo(t *testing.T) {
	assert.Equal(t, nfe.StatusKindSuccess, nfe.DescribeStatus(100).Kind)
	assert.Equal(t, nfe.StatusKindPending, nfe.DescribeStatus(105).Kind)
	assert.Equal(t, nfe.StatusKindDenied, nfe.DescribeStatus(110).Kind)
	assert.Equal(t, nfe.StatusKindRejection, nfe.DescribeStatus(204).Kind)
	assert.Equal(t, 204, nfe.DescribeStatus(204).Code)
}

func TestDescribeStatus_CodigoDesconocidoEsRechazo(t *testing.T) {
	info := nfe.DescribeStatus(4242)
	assert.Equal(t, nfe.StatusKindRejection, info.Kind)
	assert.Contains(t, info.Description, "4242")
}

func TestClasificacion_AutorizacionYCancelacion(t *testing.T) {
	assert.True(t, nfe.IsAuthorizedStatus(100))
	assert.True(t, nfe.IsAuthorizedStatus(150))
	assert.False(t, nfe.IsAuthorizedStatus(110))

	assert.True(t, nfe.IsCancellationRegistered(135))
	assert.True(t, nfe.IsCancellationRegistered(155))
	assert.False(t, nfe.IsCancellationRegistered(573))

	assert.True(t, nfe.IsPollPending(105))
	assert.False(t, nfe.IsPollPending(104))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "Produto de teste", nfe.SanitizeText("  Produto\n de\tteste  "))
	// NFD -> NFC: "ç" compuesto
	assert.Equal(t, "Cancelação", nfe.SanitizeText("Cancelação"))
}

func TestStripAccents(t *testing.T) {
	assert.Equal(t, "Cancelacao por erro de digitacao", nfe.StripAccents("Cancelação por erro de digitação"))
}

func TestStateICMSRate(t *testing.T) {
	r, ok := nfe.StateICMSRate("SP", "SP")
	require.True(t, ok)
	assert.Equal(t, "18", r.String())

	r, ok = nfe.StateICMSRate("SP", "BA")
	require.True(t, ok)
	assert.Equal(t, "7", r.String())

	r, ok = nfe.StateICMSRate("BA", "SP")
	require.True(t, ok)
	assert.Equal(t, "12", r.String())

	_, ok = nfe.StateICMSRate("SP", nfe.ForeignUF)
	assert.False(t, ok)
}

func TestUFCode(t *testing.T) {
	c, ok := nfe.UFCode("GO")
	require.True(t, ok)
	assert.Equal(t, "52", c)
	uf, ok := nfe.UFFromCode("35")
	require.True(t, ok)
	assert.Equal(t, "SP", uf)
}
