package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many half-open requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a breaker
type Settings struct {
	// TrialCalls is how many calls a half-open breaker lets through, and how
	// many must succeed before it closes again
	TrialCalls uint32
	// Interval clears the closed-state counts periodically; zero never clears
	Interval time.Duration
	// Timeout is how long the breaker stays open before letting trial calls through
	Timeout time.Duration
	// ReadyToTrip decides, after a failure in the closed state, whether to open
	ReadyToTrip func(counts Counts) bool
	// OnStateChange observes transitions
	OnStateChange func(name string, from, to State)
	// IdleTTL lets a Group drop closed breakers unused for this long;
	// zero keeps them forever
	IdleTTL time.Duration
}

// TripAfter returns a ReadyToTrip that opens after n consecutive failures.
func TripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// Counts holds the statistics for the current generation
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker is a three-state circuit breaker. Outcomes reported for a
// generation that has since ended are ignored.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	lastUsed   time.Time
}

// New creates a breaker, filling unset settings with defaults
func New(name string, settings Settings) *Breaker {
	return newWithClock(name, settings, time.Now)
}

func newWithClock(name string, settings Settings, now func() time.Time) *Breaker {
	if settings.TrialCalls == 0 {
		settings.TrialCalls = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = TripAfter(5)
	}

	b := &Breaker{name: name, settings: settings, now: now}
	b.lastUsed = b.now()
	b.newGeneration(b.lastUsed)
	return b
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.current(b.now())
	return state
}

// Counts returns a copy of the current generation's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Allow admits one call. On success the caller must invoke done exactly once
// with the outcome.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastUsed = now
	state, generation := b.current(now)
	switch {
	case state == StateOpen:
		return nil, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Requests >= b.settings.TrialCalls:
		return nil, ErrTooManyRequests
	}

	b.counts.Requests++
	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.report(generation, success) })
	}, nil
}

// idle reports whether the breaker is closed, has no call in flight and
// has not admitted one for at least ttl.
func (b *Breaker) idle(ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, _ := b.current(now)
	inflight := b.counts.Requests - b.counts.TotalSuccesses - b.counts.TotalFailures
	return state == StateClosed && inflight == 0 && now.Sub(b.lastUsed) >= ttl
}

// Do runs fn if the breaker admits it and records whether it returned an error
func (b *Breaker) Do(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			done(false)
			panic(r)
		}
	}()

	err = fn()
	done(err == nil)
	return err
}

func (b *Breaker) report(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, current := b.current(now)
	if current != generation {
		return
	}

	if success {
		b.counts.success()
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.TrialCalls {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.failure()
	switch state {
	case StateClosed:
		if b.settings.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// current advances time-driven transitions and returns state and generation
func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.newGeneration(now)

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		b.expiry = time.Time{}
		if b.settings.Interval > 0 {
			b.expiry = now.Add(b.settings.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.settings.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}
