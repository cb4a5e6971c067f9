package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/eugenenazirov/bundle-launcher/internal/bundler"
)

// ErrNoBuild indicates no build has been recorded yet.
var ErrNoBuild = errors.New("no build recorded yet")

// Status is the outcome of the most recent build.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time view of the last build.
type Snapshot struct {
	Status    Status          `json:"status"`
	Report    *bundler.Report `json:"report,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Builds    int             `json:"builds"`
}

// Storage provides access to the outcome of the latest build.
type Storage interface {
	Get() (Snapshot, error)
	RecordSuccess(report *bundler.Report, at time.Time)
	RecordFailure(err error, at time.Time)
}

// MemoryStorage keeps the latest build in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMemoryStorage initialises an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{snapshot: Snapshot{Status: StatusPending}}
}

// Get returns a copy of the latest snapshot.
func (s *MemoryStorage) Get() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot.Builds == 0 {
		return s.snapshot, ErrNoBuild
	}
	return cloneSnapshot(s.snapshot), nil
}

// RecordSuccess stores a successful build report.
func (s *MemoryStorage) RecordSuccess(report *bundler.Report, at time.Time) {
	s.mu.Lock()
	s.snapshot = Snapshot{
		Status:    StatusSucceeded,
		Report:    report,
		UpdatedAt: at,
		Builds:    s.snapshot.Builds + 1,
	}
	s.mu.Unlock()
}

// RecordFailure stores a failed build. The last successful report is kept so
// clients can still see what is being served.
func (s *MemoryStorage) RecordFailure(err error, at time.Time) {
	s.mu.Lock()
	s.snapshot = Snapshot{
		Status:    StatusFailed,
		Report:    s.snapshot.Report,
		Error:     err.Error(),
		UpdatedAt: at,
		Builds:    s.snapshot.Builds + 1,
	}
	s.mu.Unlock()
}

func cloneSnapshot(src Snapshot) Snapshot {
	out := src
	if src.Report != nil {
		report := *src.Report
		report.Outputs = append([]bundler.Output(nil), src.Report.Outputs...)
		report.Warnings = append([]string(nil), src.Report.Warnings...)
		out.Report = &report
	}
	return out
}
