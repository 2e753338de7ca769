// Package clock abstrae la hora actual para poder fijarla en pruebas
// (validez del certificado, dhEmi, dhEvento).
package clock

import (
	"sync"
	"time"
)

// Clock fuente de la hora actual.
type Clock interface {
	Now() time.Time
}

// System reloj del sistema.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// FakeClock reloj fijo que sólo avanza con Advance. Conserva la zona horaria recibida.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
