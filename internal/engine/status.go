package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State names the engine's position in the harvest state machine.
type State string

const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateHarvesting State = "harvesting"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

// validTransitions defines the allowed moves between states. Stopped is
// reachable from anywhere and terminal.
var validTransitions = map[State][]State{
	StateIdle:       {StateChecking, StateStopped},
	StateChecking:   {StateIdle, StateHarvesting, StateStopped},
	StateHarvesting: {StateIdle, StateBackoff, StateStopped},
	StateBackoff:    {StateHarvesting, StateIdle, StateStopped},
	StateStopped:    {},
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the externally observable snapshot of the engine. Mutated only by
// the engine's control flow; read concurrently by the dashboard.
type Status struct {
	State               State
	Pair                string
	LastPrice           decimal.Decimal
	LastCheckedAt       time.Time
	LastAttempt         *HarvestAttempt
	ConsecutiveFailures int
	LowBalance          bool
	LastError           string
}

// StatusSink holds the last-known engine status behind a mutex so the
// dashboard can read it from a different goroutine than the one that ticks.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusSink returns a sink initialised to Idle.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: Status{State: StateIdle}}
}

// Record overwrites the snapshot.
func (s *StatusSink) Record(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status.LastAttempt != nil {
		copied := *status.LastAttempt
		status.LastAttempt = &copied
	}
	s.status = status
}

// Read returns a point-in-time copy of the snapshot.
func (s *StatusSink) Read() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := s.status
	if status.LastAttempt != nil {
		copied := *status.LastAttempt
		status.LastAttempt = &copied
	}
	return status
}
