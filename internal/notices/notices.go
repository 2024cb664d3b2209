// Package notices turns finished sync jobs into operator-facing
// messages. It owns the success accounting: successes are counted as
// the selection total minus the known per-item errors and the ids a
// given-up run abandoned, never reported by the remote directly.
package notices

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/sync"
)

// Level classifies a notice for the presentation layer.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

// Notice is one renderable message about a sync job.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Renderer reads job outcomes and renders them as notices. Reading a
// finished job's notices clears it; the same outcome is never shown
// twice.
type Renderer struct {
	cfg       *config.Config
	scheduler sync.Scheduler
}

// NewRenderer creates a notice renderer over the scheduler's
// consume-once status reads.
func NewRenderer(cfg *config.Config, scheduler sync.Scheduler) *Renderer {
	return &Renderer{cfg: cfg, scheduler: scheduler}
}

// Render produces the notices for (site, kind). No job means no
// notices. An in-progress job yields only the background message and
// leaves the job untouched.
func (r *Renderer) Render(ctx context.Context, site *sites.Site, kind entity.Kind) ([]Notice, error) {
	status, err := r.scheduler.Consume(ctx, site.ID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	label := r.cfg.LabelFor(string(kind))
	singular := r.cfg.SingularFor(string(kind))
	labelFor := func(n int) string {
		if n == 1 {
			return singular
		}
		return label
	}

	if !status.Finished {
		return []Notice{{
			Level: LevelInfo,
			Message: fmt.Sprintf(
				"%s are currently being crossposted to %s in the background. It may take some time depending on how many %s you have selected.",
				label, site.DisplayName(), label),
		}}, nil
	}

	var out []Notice

	// Transport failures count failed requests, not items; the ids a
	// given-up run never delivered are carried as the abandoned count.
	knownErrors := 0
	for code, count := range status.Errors {
		if code == sync.CodeTransportFailure {
			continue
		}
		knownErrors += count
	}

	// The route-missing sentinel means whole chunks were skipped; a
	// success count computed from the total would be a lie.
	routeMissing := status.Errors[sync.CodeMissingRemoteRoute] > 0

	if succeeded := status.Total - knownErrors - status.Abandoned; succeeded > 0 && !routeMissing {
		out = append(out, Notice{
			Level:   LevelSuccess,
			Message: fmt.Sprintf("%d %s %s been successfully crossposted.", succeeded, labelFor(succeeded), have(succeeded)),
		})
	}

	if routeMissing {
		out = append(out, Notice{
			Level: LevelWarning,
			Message: fmt.Sprintf(
				"Crossposting to %s is not possible: the batch endpoint was not found on the remote site.",
				site.DisplayName()),
		})
	}

	if count := status.Errors[sync.CodeStaleRemoteReference] + status.Errors[sync.CodeStaleRemoteProduct]; count > 0 {
		out = append(out, Notice{
			Level: LevelWarning,
			Message: fmt.Sprintf(
				"%d %s %sn't been crossposted because %s on another site %s removed manually.",
				count, labelFor(count), have(count), copyPhrase(count), was(count)),
		})
	}

	if count := status.Errors[sync.CodeStaleRemoteAsset]; count > 0 {
		out = append(out, Notice{
			Level: LevelWarning,
			Message: fmt.Sprintf(
				"%d %s %sn't been crossposted because %s images on another site were removed manually.",
				count, labelFor(count), have(count), its(count)),
		})
	}

	if count := status.Errors[sync.CodeDuplicateSKU]; count > 0 {
		out = append(out, Notice{
			Level: LevelWarning,
			Message: fmt.Sprintf(
				"%d %s %sn't been crossposted because of a duplicate SKU on the remote site.",
				count, labelFor(count), have(count)),
		})
	}

	if count := status.Errors[sync.CodeTransportFailure]; count > 0 {
		out = append(out, Notice{
			Level: LevelWarning,
			Message: fmt.Sprintf(
				"%d request%s to %s failed and %s retried or given up.",
				count, plural(count), site.DisplayName(), was(count)),
		})
	}

	return out, nil
}

func have(n int) string {
	if n == 1 {
		return "has"
	}
	return "have"
}

func was(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func its(n int) string {
	if n == 1 {
		return "its"
	}
	return "their"
}

func copyPhrase(n int) string {
	if n == 1 {
		return "its copy"
	}
	return "their copies"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
