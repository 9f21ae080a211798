package detector

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Telemetry reads (temperature, detector time, hardware-reported timing)
// are passthrough values with no correctness weight.  Control clients poll
// them aggressively, so each one is wrapped in a rate limiter: at most one
// hardware read per second per key, with the cached value served in
// between.  A read that has never succeeded serves the sentinel.

const (
	floatSentinel  = -999.0
	stringSentinel = "unknown"
)

type floatGauge struct {
	mu   sync.Mutex
	lim  *rate.Limiter
	read func() (float64, error)
	val  float64
	ok   bool
}

func newFloatGauge(read func() (float64, error)) *floatGauge {
	return &floatGauge{
		lim:  rate.NewLimiter(rate.Every(time.Second), 1),
		read: read,
	}
}

func (g *floatGauge) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lim.Allow() {
		v, err := g.read()
		if err == nil {
			g.val = v
			g.ok = true
		}
	}
	if !g.ok {
		return floatSentinel
	}
	return g.val
}

type stringGauge struct {
	mu   sync.Mutex
	lim  *rate.Limiter
	read func() (string, error)
	val  string
	ok   bool
}

func newStringGauge(read func() (string, error)) *stringGauge {
	return &stringGauge{
		lim:  rate.NewLimiter(rate.Every(time.Second), 1),
		read: read,
	}
}

func (g *stringGauge) get() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lim.Allow() {
		v, err := g.read()
		if err == nil {
			g.val = v
			g.ok = true
		}
	}
	if !g.ok {
		return stringSentinel
	}
	return g.val
}
