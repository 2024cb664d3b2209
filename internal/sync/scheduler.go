package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/telemetry"
	"github.com/stacklok/crosspost-server/internal/trigger"
)

var (
	// ErrJobActive is returned when a selection targets a (site, kind)
	// pair whose previous job has not finished yet.
	ErrJobActive = errors.New("a sync job is already active for this site and kind")

	// ErrSelectionTooLarge is returned when a selection exceeds the
	// configured maximum.
	ErrSelectionTooLarge = errors.New("selection exceeds the configured maximum")

	// ErrEmptySelection is returned when a selection carries no ids.
	ErrEmptySelection = errors.New("selection is empty")
)

// SubmitResult reports how a selection was handled: how many ids were
// processed in the inline chunk and how many were deferred to triggers.
type SubmitResult struct {
	Processed int
	Scheduled int
}

// Status is a point-in-time view of a job, consumed by the presentation
// layer. A finished status is returned exactly once; reading it deletes
// the underlying job.
type Status struct {
	Total     int
	Remaining int

	// Abandoned is how many ids were given up after repeated transport
	// failures. They never reached the remote and have no per-item
	// error code.
	Abandoned int

	Errors   map[string]int
	Finished bool
}

// Scheduler owns job lifecycles: it accepts selections, runs the inline
// first chunk, arms triggers for the remainder, and advances jobs one
// chunk per tick.
//
//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks -source=scheduler.go Scheduler
type Scheduler interface {
	// Submit starts a new job for (siteID, kind) with the selected ids.
	// The first chunk runs inline before Submit returns.
	Submit(ctx context.Context, siteID string, kind entity.Kind, ids []int64) (*SubmitResult, error)

	// Consume returns the job's current status. A finished job is
	// deleted by the read; an in-progress job is left untouched.
	// Returns store.ErrNotFound when no job exists.
	Consume(ctx context.Context, siteID string, kind entity.Kind) (*Status, error)
}

type defaultScheduler struct {
	cfg      *config.Config
	registry sites.Registry
	jobs     store.JobStore
	executor Executor
	triggers *trigger.Manager
	metrics  *telemetry.SyncMetrics
}

// NewScheduler creates the default scheduler. metrics may be nil.
func NewScheduler(
	cfg *config.Config,
	registry sites.Registry,
	jobs store.JobStore,
	executor Executor,
	triggers *trigger.Manager,
	metrics *telemetry.SyncMetrics,
) Scheduler {
	return &defaultScheduler{
		cfg:      cfg,
		registry: registry,
		jobs:     jobs,
		executor: executor,
		triggers: triggers,
		metrics:  metrics,
	}
}

func (s *defaultScheduler) Submit(
	ctx context.Context, siteID string, kind entity.Kind, ids []int64,
) (*SubmitResult, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	if max := s.cfg.Sync.MaxSelection; max > 0 && len(ids) > max {
		return nil, fmt.Errorf("%w: %d ids, maximum is %d", ErrSelectionTooLarge, len(ids), max)
	}

	site, err := s.registry.GetSite(siteID)
	if err != nil {
		return nil, err
	}

	key := store.JobKey{SiteID: siteID, Kind: kind}
	if existing, err := s.jobs.GetJob(ctx, key); err == nil && !existing.Finished {
		return nil, ErrJobActive
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	perTick := s.cfg.Sync.PerTick
	chunk := ids
	var rest []int64
	if len(ids) > perTick {
		chunk = ids[:perTick]
		rest = ids[perTick:]
	}

	job := &store.Job{
		RemainingIDs: rest,
		TotalIDs:     len(ids),
	}

	outcome := s.runChunk(ctx, site, kind, chunk, job)
	if outcome == nil {
		// Transport failure on the inline chunk: the whole selection
		// stays queued and the trigger retries from the front.
		job.RemainingIDs = ids
	} else if len(rest) == 0 {
		job.Finished = true
	}

	if err := s.jobs.SaveJob(ctx, key, job); err != nil {
		return nil, fmt.Errorf("failed to persist job state: %w", err)
	}

	if !job.Finished {
		s.arm(siteID, kind)
	}

	processed := 0
	if outcome != nil {
		processed = len(chunk)
	}
	return &SubmitResult{
		Processed: processed,
		Scheduled: len(job.RemainingIDs),
	}, nil
}

// Tick advances the job for (siteID, kind) by one chunk. It is the
// trigger callback: a finished or missing job disarms the trigger.
func (s *defaultScheduler) Tick(ctx context.Context, siteID string, kind entity.Kind) {
	key := store.JobKey{SiteID: siteID, Kind: kind}

	job, err := s.jobs.GetJob(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to read job state on tick",
				"site", siteID, "kind", kind, "error", err)
		}
		s.triggers.Disarm(siteID, kind)
		return
	}
	if job.Finished || len(job.RemainingIDs) == 0 {
		job.Finished = true
		if err := s.jobs.SaveJob(ctx, key, job); err != nil {
			slog.Error("Failed to persist job state",
				"site", siteID, "kind", kind, "error", err)
		}
		s.triggers.Disarm(siteID, kind)
		return
	}

	site, err := s.registry.GetSite(siteID)
	if err != nil {
		slog.Error("Job references an unregistered site, dropping it",
			"site", siteID, "kind", kind)
		_ = s.jobs.DeleteJob(ctx, key)
		s.triggers.Disarm(siteID, kind)
		return
	}

	perTick := s.cfg.Sync.PerTick
	chunk := job.RemainingIDs
	var rest []int64
	if len(chunk) > perTick {
		rest = chunk[perTick:]
		chunk = chunk[:perTick]
	}

	outcome := s.runChunk(ctx, site, kind, chunk, job)
	if outcome == nil {
		if job.Attempts >= s.cfg.Sync.MaxTickAttempts {
			// Give up on the run: the remaining ids are abandoned and
			// the accumulated transport failures surface in the status.
			slog.Error("Giving up sync job after repeated transport failures",
				"site", siteID, "kind", kind, "attempts", job.Attempts,
				"abandoned", len(job.RemainingIDs))
			job.Abandoned = len(job.RemainingIDs)
			job.RemainingIDs = nil
			job.Finished = true
		}
		// Otherwise leave RemainingIDs untouched: the same chunk is
		// retried on the next fire.
	} else {
		job.RemainingIDs = rest
		if len(rest) == 0 {
			job.Finished = true
		}
	}

	if err := s.jobs.SaveJob(ctx, key, job); err != nil {
		slog.Error("Failed to persist job state",
			"site", siteID, "kind", kind, "error", err)
	}
	if job.Finished {
		s.triggers.Disarm(siteID, kind)
	}
}

func (s *defaultScheduler) Consume(
	ctx context.Context, siteID string, kind entity.Kind,
) (*Status, error) {
	key := store.JobKey{SiteID: siteID, Kind: kind}
	job, err := s.jobs.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Total:     job.TotalIDs,
		Remaining: len(job.RemainingIDs),
		Abandoned: job.Abandoned,
		Errors:    job.Errors,
		Finished:  job.Finished,
	}
	if !job.Finished {
		return status, nil
	}

	// The finished outcome is consumed exactly once.
	if err := s.jobs.DeleteJob(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to clear finished job: %w", err)
	}
	return status, nil
}

// runChunk executes one chunk and folds the result into the job. It
// returns nil when the tick failed as a whole, in which case the job's
// attempt counter has been advanced and the transport failure recorded.
func (s *defaultScheduler) runChunk(
	ctx context.Context, site *sites.Site, kind entity.Kind, chunk []int64, job *store.Job,
) *Outcome {
	start := time.Now()
	outcome, err := s.executor.Run(ctx, chunk, site, kind)
	if err != nil {
		slog.Error("Sync tick failed",
			"site", site.ID, "kind", kind, "ids", len(chunk), "error", err)
		job.Attempts++
		job.AddError(CodeTransportFailure)
		s.metrics.RecordTickDuration(ctx, site.ID, string(kind), time.Since(start), false)
		s.metrics.RecordSyncError(ctx, site.ID, string(kind), CodeTransportFailure, 1)
		return nil
	}

	job.Attempts = 0
	job.MergeErrors(outcome.Errors)
	if outcome.RouteMissing {
		slog.Warn("Batch route missing on remote, chunk skipped",
			"site", site.ID, "kind", kind, "ids", len(chunk))
	}

	s.metrics.RecordTickDuration(ctx, site.ID, string(kind), time.Since(start), true)
	s.metrics.RecordItemsSynced(ctx, site.ID, string(kind), int64(outcome.Linked))
	for code, count := range outcome.Errors {
		s.metrics.RecordSyncError(ctx, site.ID, string(kind), code, int64(count))
	}
	return outcome
}

func (s *defaultScheduler) arm(siteID string, kind entity.Kind) {
	s.triggers.Arm(
		siteID,
		kind,
		s.cfg.Sync.FirstFireDelayDuration(),
		s.cfg.Sync.IntervalDuration(),
		func(ctx context.Context, siteID string, kind entity.Kind) {
			s.Tick(ctx, siteID, kind)
		},
	)
}
