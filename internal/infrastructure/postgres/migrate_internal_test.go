package postgres

import (
	"context"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-emissor/pkg/config"
)

func TestMigrationSource_VersionInicialConSubidaYBajada(t *testing.T) {
	src, err := migrationSource()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	_ = up.Close()
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS nfe_outcomes")

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	body, err = io.ReadAll(down)
	require.NoError(t, err)
	_ = down.Close()
	assert.Contains(t, string(body), "DROP TABLE IF EXISTS nfe_outcomes")

	_, err = src.Next(first)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMigrate_ContextoCanceladoNoMigra(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Migrate(ctx, config.DBConfig{DatabaseURL: "postgres://u:p@127.0.0.1:1/nfe?sslmode=disable"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping DB")
}
