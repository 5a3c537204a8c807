package domain

import (
	"context"
	"errors"
	"time"
)

var ErrNoRuns = errors.New("no runs stored")

// Snapshot is the outcome of one run: every enriched validator of the era
// and which of them passed the eligibility filter.
type Snapshot struct {
	RunID      string
	EraID      int64
	CreatedAt  time.Time
	Validators []*Record
	Candidates []*Record
}

type RunSummary struct {
	RunID      string    `json:"run_id"`
	EraID      int64     `json:"era_id"`
	Validators int       `json:"validators"`
	Candidates int       `json:"candidates"`
	CreatedAt  time.Time `json:"created_at"`
}

type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetLatestRun(ctx context.Context) (*RunSummary, error)
	FindCandidates(ctx context.Context, runID string) ([]*Record, error)
}

// CandidateChanges lists public keys that entered or left the candidate list
// relative to an earlier run.
type CandidateChanges struct {
	PreviousRunID string
	PreviousEraID int64
	Added         []string
	Dropped       []string
}

// DiffCandidates compares two candidate lists by public key. Added keeps the
// order of current, Dropped the order of previous.
func DiffCandidates(previous, current []*Record) *CandidateChanges {
	before := make(map[string]bool, len(previous))
	for _, r := range previous {
		before[r.PublicKey()] = true
	}
	now := make(map[string]bool, len(current))
	for _, r := range current {
		now[r.PublicKey()] = true
	}

	changes := &CandidateChanges{Added: []string{}, Dropped: []string{}}
	for _, r := range current {
		if !before[r.PublicKey()] {
			changes.Added = append(changes.Added, r.PublicKey())
		}
	}
	for _, r := range previous {
		if !now[r.PublicKey()] {
			changes.Dropped = append(changes.Dropped, r.PublicKey())
		}
	}
	return changes
}
