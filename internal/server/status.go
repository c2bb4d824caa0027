package server

import (
	"sync"
	"time"

	"github.com/san-kum/batchsim/internal/manager"
)

type ManagerStatus struct {
	ID          string    `json:"id"`
	Backend     string    `json:"backend"`
	ExecMode    string    `json:"exec_mode"`
	Location    string    `json:"location"`
	NumWorlds   int       `json:"num_worlds"`
	Ticks       uint64    `json:"ticks"`
	LastStepSec float64   `json:"last_step_seconds"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusBoard holds the latest status of the running manager. The stepping
// goroutine publishes; HTTP handlers read snapshots.
type StatusBoard struct {
	mu     sync.RWMutex
	status ManagerStatus
	set    bool
}

func NewStatusBoard() *StatusBoard { return &StatusBoard{} }

func (b *StatusBoard) Publish(s ManagerStatus) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	b.mu.Lock()
	b.status, b.set = s, true
	b.mu.Unlock()
}

func (b *StatusBoard) Snapshot() (ManagerStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status, b.set
}

// Observer returns a manager observer that refreshes the tick count and
// latency of the published status after every step. Steps taken before the
// first Publish are not recorded.
func (b *StatusBoard) Observer() manager.Observer {
	return manager.ObserverFunc(func(tick uint64, elapsed time.Duration) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.set {
			return
		}
		b.status.Ticks = tick
		b.status.LastStepSec = elapsed.Seconds()
		b.status.UpdatedAt = time.Now()
	})
}

// StatusOf describes m as it is now.
func StatusOf(m *manager.Manager) ManagerStatus {
	cfg := m.Config()
	loc := ""
	if t, err := m.DepthTensor(); err == nil {
		loc = t.Location.String()
	}
	return ManagerStatus{
		ID:        m.ID(),
		Backend:   m.BackendName(),
		ExecMode:  string(cfg.ExecMode),
		Location:  loc,
		NumWorlds: cfg.NumWorlds,
		Ticks:     m.Ticks(),
	}
}
