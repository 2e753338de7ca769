package sefaz

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

// RetryPolicy reintentos de llamadas idempotentes (consulta de recibo, estado, protocolo).
// El envío de lote y de eventos nunca pasa por aquí.
type RetryPolicy struct {
	MaxTries   uint
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy 3 intentos con backoff exponencial (500 ms .. 5 s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries: 3,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// callWithRetry ejecuta la llamada; sólo reintenta si el servicio es idempotente y el error
// es un TransportError marcado como transitorio.
func callWithRetry(ctx context.Context, t Transport, call Call, p RetryPolicy, log zerolog.Logger) ([]byte, error) {
	if !call.Service.Idempotent() || p.MaxTries <= 1 {
		return t.Call(ctx, call)
	}
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = DefaultRetryPolicy().NewBackOff
	}

	out, err := backoff.Retry(ctx, func() ([]byte, error) {
		res, err := t.Call(ctx, call)
		if err != nil && !nfe.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("service", string(call.Service)).Dur("next", next).Msg("sefaz: reintentando llamada")
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return out, err
}
