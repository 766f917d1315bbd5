// Package circuitbreaker guards the gateway endpoints. When an endpoint
// keeps failing, calls short-circuit locally for a cooldown instead of
// hammering a host that is down, then a few probes decide whether to
// close again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State of one breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while an endpoint is cooling down.
var ErrOpen = errors.New("circuitbreaker: endpoint cooling down")

// Config tunes a breaker.
type Config struct {
	// TripAfter is the consecutive failure count that opens the circuit.
	TripAfter int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// Probes is how many half-open successes close the circuit again.
	Probes int

	Logger zerolog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.TripAfter <= 0 {
		c.TripAfter = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 2
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Breaker tracks one endpoint.
type Breaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inflight  int
	openUntil time.Time
}

// NewBreaker builds a breaker for one named endpoint.
func NewBreaker(name string, cfg Config) *Breaker {
	cfg.defaults()
	return &Breaker{name: name, cfg: cfg}
}

// State returns the current state, advancing open to half-open when the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && !b.cfg.Now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.successes = 0
		b.inflight = 0
	}
	return b.state
}

// Allow reports whether a call may proceed. Half-open admits only the
// configured number of probes at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.inflight >= b.cfg.Probes {
			return ErrOpen
		}
		b.inflight++
	}
	return nil
}

// Record reports a call outcome. Failures here mean the endpoint looks
// unreachable or broken; application-level refusals should be recorded
// as success.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateLocked()
	if state == StateHalfOpen && b.inflight > 0 {
		b.inflight--
	}

	if ok {
		b.failures = 0
		if state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.transition(StateClosed)
			}
		}
		return
	}

	switch state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.TripAfter {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openUntil = b.cfg.Now().Add(b.cfg.Cooldown)
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.inflight = 0
	b.cfg.Logger.Warn().
		Str("endpoint", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit state changed")
}

// Group keys breakers by endpoint path, creating them on first use.
type Group struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup builds a Group sharing one config.
func NewGroup(cfg Config) *Group {
	cfg.defaults()
	return &Group{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for an endpoint.
func (g *Group) Get(endpoint string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[endpoint]
	if !ok {
		b = NewBreaker(endpoint, g.cfg)
		g.breakers[endpoint] = b
	}
	return b
}
