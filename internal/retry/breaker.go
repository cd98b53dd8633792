package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a circuit short-circuits a call.
var ErrOpen = errors.New("circuit open")

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker tracks consecutive failures per named dependency. At Threshold the
// circuit opens for Cooldown; after the cooldown exactly one probe call is
// admitted, and its outcome decides between closing and re-opening.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	now func() time.Time

	mu     sync.Mutex
	states map[string]*breakerState
}

type breakerState struct {
	failures  int
	openUntil time.Time
	probing   bool
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		now:       time.Now,
		states:    make(map[string]*breakerState),
	}
}

// Call runs op behind the circuit for name. When the circuit is open the
// call is refused with ErrOpen and op never runs.
func (b *Breaker) Call(name string, op func() error) error {
	if !b.allow(name) {
		return fmt.Errorf("%s: %w", name, ErrOpen)
	}
	err := op()
	b.record(name, err)
	return err
}

// Exclude marks err as a coherent answer from the dependency rather than a
// failure of it. Excluded errors reset the circuit's failure streak the way
// a success does, and still unwrap to the original error for the caller.
func Exclude(err error) error {
	if err == nil {
		return nil
	}
	return excludedError{err}
}

type excludedError struct{ err error }

func (e excludedError) Error() string { return e.err.Error() }
func (e excludedError) Unwrap() error { return e.err }

func (b *Breaker) allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(name)
	if st.failures < b.Threshold {
		return true
	}
	if b.now().Before(st.openUntil) {
		return false
	}
	if st.probing {
		// another caller already holds the half-open probe
		return false
	}
	st.probing = true
	return true
}

func (b *Breaker) record(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.state(name)
	st.probing = false
	var ex excludedError
	if err == nil || errors.As(err, &ex) {
		st.failures = 0
		st.openUntil = time.Time{}
		return
	}
	st.failures++
	if st.failures >= b.Threshold {
		st.openUntil = b.now().Add(b.Cooldown)
	}
}

func (b *Breaker) state(name string) *breakerState {
	st, ok := b.states[name]
	if !ok {
		st = &breakerState{}
		b.states[name] = st
	}
	return st
}

// Status describes one circuit for the operator surface.
type Status struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Failures  int        `json:"failures"`
	OpenUntil *time.Time `json:"open_until,omitempty"`
}

// Snapshot reports every known circuit.
func (b *Breaker) Snapshot() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Status, 0, len(b.states))
	for name, st := range b.states {
		s := Status{Name: name, Failures: st.failures, State: StateClosed}
		if st.failures >= b.Threshold {
			if b.now().Before(st.openUntil) {
				s.State = StateOpen
				until := st.openUntil
				s.OpenUntil = &until
			} else {
				s.State = StateHalfOpen
			}
		}
		out = append(out, s)
	}
	return out
}
