package sefaz

import (
	"context"
	"time"
)

// DelayPolicy espera antes de la consulta número attempt (empieza en 1).
type DelayPolicy interface {
	Delay(attempt int) time.Duration
}

// LinearDelay Initial antes de la primera consulta y Step más en cada una de las siguientes.
type LinearDelay struct {
	Initial time.Duration
	Step    time.Duration
}

func (p LinearDelay) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Initial + time.Duration(attempt-1)*p.Step
}

// ExponentialDelay Initial multiplicado por Factor en cada consulta, con tope Max.
type ExponentialDelay struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

func (p ExponentialDelay) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if p.Max > 0 && time.Duration(d) >= p.Max {
			return p.Max
		}
	}
	return time.Duration(d)
}

// NoDelay consulta sin esperar (pruebas).
type NoDelay struct{}

func (NoDelay) Delay(int) time.Duration { return 0 }

// DefaultDelayPolicy 4 s antes de la primera consulta y 2 s más en cada una.
func DefaultDelayPolicy() DelayPolicy {
	return LinearDelay{Initial: 4 * time.Second, Step: 2 * time.Second}
}

// Sleeper espera d o hasta que se cancele el contexto.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext implementación con time.Timer.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
