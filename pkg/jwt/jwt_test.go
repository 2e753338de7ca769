package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgjwt "github.com/jhoicas/nfe-emissor/pkg/jwt"
)

const secret = "test-secret-key-for-unit-tests"

func TestGenerateParse_ConCNPJYRol(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "erp-1", "12345678000195", pkgjwt.RoleEmissor, "nfe-emissor", 60)
	require.NoError(t, err)

	claims, err := pkgjwt.Parse(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "erp-1", claims.Subject)
	assert.Equal(t, "12345678000195", claims.CNPJ)
	assert.Equal(t, pkgjwt.RoleEmissor, claims.Role)
	assert.Equal(t, "nfe-emissor", claims.Issuer)
}

func TestParse_TokenExpirado(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "erp-1", "", pkgjwt.RoleConsulta, "nfe-emissor", -1)
	require.NoError(t, err)
	_, err = pkgjwt.Parse(secret, tok)
	assert.Error(t, err)
}

func TestParse_SecretIncorrecto(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "erp-1", "", pkgjwt.RoleConsulta, "nfe-emissor", 60)
	require.NoError(t, err)
	_, err = pkgjwt.Parse("otro-secret", tok)
	assert.Error(t, err)
}

func TestGenerate_SecretVacio(t *testing.T) {
	_, err := pkgjwt.Generate("", "erp-1", "", pkgjwt.RoleEmissor, "nfe-emissor", 60)
	assert.Error(t, err)
}
