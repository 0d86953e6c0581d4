package client

import "sync"

// ProcessStatus represents the current state of a headless process.
type ProcessStatus int

const (
	// StatusPending indicates the process has not yet started.
	StatusPending ProcessStatus = iota
	// StatusRunning indicates the process is actively running.
	StatusRunning
	// StatusCompleted indicates the process completed successfully.
	StatusCompleted
	// StatusFailed indicates the process failed with an error.
	StatusFailed
	// StatusCancelled indicates the process was cancelled.
	StatusCancelled
)

// String returns a human-readable string representation of the status.
func (s ProcessStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if this is a terminal status (completed, failed, or cancelled).
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Lifecycle tracks the status of one process invocation.
// Terminal states are absorbing: the first call to Settle wins and every
// later call is a no-op, so an invocation resolves or fails exactly once.
type Lifecycle struct {
	mu     sync.RWMutex
	status ProcessStatus
}

// Status returns the current status. Thread-safe.
func (l *Lifecycle) Status() ProcessStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// IsRunning returns true if the process is actively running.
func (l *Lifecycle) IsRunning() bool {
	return l.Status() == StatusRunning
}

// Start moves Pending to Running. Returns false from any other state.
func (l *Lifecycle) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusPending {
		return false
	}
	l.status = StatusRunning
	return true
}

// Settle moves the lifecycle into the terminal status s.
// Returns true only for the call that performed the transition.
func (l *Lifecycle) Settle(s ProcessStatus) bool {
	if !s.IsTerminal() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.IsTerminal() {
		return false
	}
	l.status = s
	return true
}
