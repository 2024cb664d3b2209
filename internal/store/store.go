// Package store contains the durable state the batch sync engine owns:
// per-(site, kind) job records and identity links between local entities
// and their remote counterparts.
package store

import (
	"context"
	"errors"

	"github.com/stacklok/crosspost-server/internal/entity"
)

// ErrNotFound is returned when a job or link does not exist.
var ErrNotFound = errors.New("not found")

// JobKey identifies the one job that may be active for a (site, kind)
// pair. Keys are structured rather than concatenated strings so that
// multi-site deployments cannot collide on key names.
type JobKey struct {
	SiteID string
	Kind   entity.Kind
}

// Job is the persisted state of one bulk synchronization run. A job is
// created by a selection, mutated by each tick, and deleted once the
// presentation layer has consumed its outcome.
type Job struct {
	// RemainingIDs are the local ids not yet processed, in selection order.
	// Each tick removes a chunk from the front.
	RemainingIDs []int64 `json:"remaining_ids,omitempty"`

	// TotalIDs is the selection size at job creation, used for the final
	// success accounting.
	TotalIDs int `json:"total_ids"`

	// Errors accumulates error-code occurrence counts across all ticks.
	Errors map[string]int `json:"errors,omitempty"`

	// Abandoned counts ids given up after repeated whole-tick transport
	// failures. They were never delivered and carry no per-item error.
	Abandoned int `json:"abandoned,omitempty"`

	// Finished is set once RemainingIDs empties. It stays set until the
	// presentation layer reads and clears it.
	Finished bool `json:"finished,omitempty"`

	// Attempts counts consecutive whole-tick transport failures for the
	// current chunk. Reset to zero after any reconciled tick.
	Attempts int `json:"attempts,omitempty"`
}

// AddError increments the occurrence count for an error code.
func (j *Job) AddError(code string) {
	if j.Errors == nil {
		j.Errors = make(map[string]int)
	}
	j.Errors[code]++
}

// MergeErrors folds a per-tick error map into the job's accumulated counts.
func (j *Job) MergeErrors(errs map[string]int) {
	for code, count := range errs {
		if j.Errors == nil {
			j.Errors = make(map[string]int)
		}
		j.Errors[code] += count
	}
}

// JobStore persists job records keyed by (site, kind).
//
//go:generate mockgen -destination=mocks/mock_job_store.go -package=mocks -source=store.go JobStore
type JobStore interface {
	// GetJob returns the job for the key, or ErrNotFound.
	GetJob(ctx context.Context, key JobKey) (*Job, error)

	// SaveJob inserts or replaces the job for the key.
	SaveJob(ctx context.Context, key JobKey, job *Job) error

	// DeleteJob removes the job for the key. Deleting a missing job is
	// not an error.
	DeleteJob(ctx context.Context, key JobKey) error
}

// LinkStore persists identity links: (site, local id) to remote id.
// Links are written on successful creates and never deleted by the engine.
type LinkStore interface {
	// GetLink returns the remote id linked to (siteID, localID).
	// The second return is false when no link exists.
	GetLink(ctx context.Context, siteID string, localID int64) (int64, bool, error)

	// SaveLink records that localID has the given remote counterpart on
	// siteID, overwriting any previous link.
	SaveLink(ctx context.Context, siteID string, localID, remoteID int64) error
}
