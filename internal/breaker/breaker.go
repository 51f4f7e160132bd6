// Package breaker implements a circuit breaker that stops calls to a degraded
// upstream after repeated failures and lets a trial call through once a
// cooldown has elapsed.
package breaker

import (
	"log"
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker is scoped to one upstream and shared by every caller of that
// upstream, so all state is guarded by a mutex. State is in-memory only;
// a process restart resets every breaker to closed.
type Breaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	timeout          time.Duration
	failureCount     int
	lastFailureTime  time.Time
	state            State

	now func() time.Time
}

type Status struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	FailureCount     int       `json:"failure_count"`
	FailureThreshold int       `json:"failure_threshold"`
	LastFailureTime  time.Time `json:"last_failure_time,omitzero"`
}

func New(name string, failureThreshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.state = StateClosed
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		log.Printf("Circuit breaker %s opened after %d failures", b.name, b.failureCount)
	} else {
		log.Printf("Circuit breaker %s failure %d/%d", b.name, b.failureCount, b.failureThreshold)
	}
}

// IsOpen reports whether calls should be skipped. An open breaker whose
// cooldown has elapsed moves to half-open and returns false so exactly one
// trial call goes through; the trial's outcome closes or re-opens it.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return false
	}

	if b.now().Sub(b.lastFailureTime) >= b.timeout {
		b.state = StateHalfOpen
		log.Printf("Circuit breaker %s moved to half-open", b.name)
		return false
	}

	return true
}

func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.failureThreshold,
		LastFailureTime:  b.lastFailureTime,
	}
}
