package resilience

import (
	"sync"
	"time"
)

// Group keeps one breaker per key (a connection target) sharing settings.
// With Settings.IdleTTL set, idle closed breakers are pruned as new keys arrive.
type Group struct {
	settings Settings
	now      func() time.Time

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	lastSweep time.Time
}

// NewGroup creates an empty group
func NewGroup(settings Settings) *Group {
	return newGroupWithClock(settings, time.Now)
}

func newGroupWithClock(settings Settings, now func() time.Time) *Group {
	return &Group{
		settings:  settings,
		now:       now,
		breakers:  make(map[string]*Breaker),
		lastSweep: now(),
	}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[key]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[key]; ok {
		return b
	}
	if ttl := g.settings.IdleTTL; ttl > 0 && g.now().Sub(g.lastSweep) >= ttl {
		g.pruneLocked()
	}
	b = newWithClock(key, g.settings, g.now)
	g.breakers[key] = b
	return b
}

// Prune drops breakers idle for longer than Settings.IdleTTL and returns
// how many were removed. A no-op when IdleTTL is zero.
func (g *Group) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pruneLocked()
}

func (g *Group) pruneLocked() int {
	g.lastSweep = g.now()
	if g.settings.IdleTTL <= 0 {
		return 0
	}
	n := 0
	for key, b := range g.breakers {
		if b.idle(g.settings.IdleTTL) {
			delete(g.breakers, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked breakers
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.breakers)
}

// States reports the state of every known breaker
func (g *Group) States() map[string]State {
	g.mu.RLock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.RUnlock()

	states := make(map[string]State, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State()
	}
	return states
}
