package sefaz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
)

func TestLinearDelay_Incremental(t *testing.T) {
	p := sefaz.DefaultDelayPolicy()
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 6*time.Second, p.Delay(2))
	assert.Equal(t, 12*time.Second, p.Delay(5))
	assert.Equal(t, 4*time.Second, p.Delay(0))
}

func TestExponentialDelay_ConTope(t *testing.T) {
	p := sefaz.ExponentialDelay{Initial: time.Second, Factor: 2, Max: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestSleepContext_RespetaCancelacion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sefaz.SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepContext_Espera(t *testing.T) {
	assert.NoError(t, sefaz.SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, sefaz.SleepContext(context.Background(), 0))
}
