package app

import (
	"sync"
	"time"

	"github.com/bft-labs/serialbatch/internal/domain"
	"github.com/bft-labs/serialbatch/pkg/log"
)

// DefaultShutdownTimeout is the default grace period for the delivery loop
// to exit after Close. Deliberately generous: an abandoned loop goroutine is
// the escape hatch, not the expected path.
const DefaultShutdownTimeout = 5 * time.Second

// State represents the lifecycle state of the adapter.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle manages the state machine for the adapter.
//
// Valid transitions:
//   - Closed -> Opening
//   - Opening -> Open, Crashed
//   - Open -> Closing, Crashed
//   - Closing -> Closed, Crashed
//   - Crashed -> Opening
//
// Crashed covers a failed device open and a shutdown-timeout escalation;
// both permit a subsequent reopen.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	wg      sync.WaitGroup
	logger  log.Logger
	emitter EventEmitter
}

// NewLifecycle creates a new lifecycle manager in StateClosed.
func NewLifecycle(logger log.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:   StateClosed,
		logger:  logger,
		emitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts to transition to a new state.
// Returns an error if the transition is not valid.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state

	switch oldState {
	case StateClosed:
		if newState != StateOpening {
			l.mu.Unlock()
			return domain.ErrNotOpen
		}
	case StateOpening:
		if newState != StateOpen && newState != StateCrashed {
			l.mu.Unlock()
			return domain.ErrAlreadyOpen
		}
	case StateOpen:
		if newState != StateClosing && newState != StateCrashed {
			l.mu.Unlock()
			return domain.ErrAlreadyOpen
		}
	case StateClosing:
		if newState != StateClosed && newState != StateCrashed {
			l.mu.Unlock()
			return domain.ErrAlreadyOpen
		}
	case StateCrashed:
		if newState != StateOpening {
			l.mu.Unlock()
			return domain.ErrNotOpen
		}
	}

	l.state = newState
	l.mu.Unlock()

	// Emit event outside of lock
	if l.emitter != nil {
		l.emitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Info("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)

	return nil
}

// CanOpen returns true if Open() can be called.
func (l *Lifecycle) CanOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateClosed || l.state == StateCrashed
}

// CanClose returns true if Close() can be called.
func (l *Lifecycle) CanClose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen || l.state == StateOpening
}

// AddWorker increments the worker count.
func (l *Lifecycle) AddWorker() {
	l.wg.Add(1)
}

// WorkerDone decrements the worker count.
func (l *Lifecycle) WorkerDone() {
	l.wg.Done()
}

// WaitWithTimeout waits for all workers to finish with a timeout.
// Returns ErrShutdownTimeout if the timeout expires; the workers are then
// abandoned rather than joined, which is the documented abrupt-termination
// fallback (a goroutine cannot be killed).
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, abandoning delivery loop",
			log.Duration("timeout", timeout),
		)
		return domain.ErrShutdownTimeout
	}
}
