package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/sync/builder"
)

// ErrUnexpectedStatus is returned when the remote answers with a status
// neither batch protocol defines. The tick's chunk stays queued.
var ErrUnexpectedStatus = errors.New("unexpected batch response status")

// reconciler parses batch responses against the items that produced
// them, writes identity links for successes, and classifies failures.
//
// Both protocols correlate strictly by index: the remote MUST return
// sub-responses in submission order. There is no id-based correlation;
// a reordering remote would mis-attribute results. This is a protocol
// contract, not an implementation shortcut.
type reconciler struct {
	links      store.LinkStore
	variations builder.VariationSyncer
}

func newReconciler(links store.LinkStore, variations builder.VariationSyncer) *reconciler {
	return &reconciler{links: links, variations: variations}
}

// reconcileMultiStatus handles the generic content protocol: a 207
// response carrying one sub-response per submitted request.
func (r *reconciler) reconcileMultiStatus(
	ctx context.Context,
	site *sites.Site,
	submitted []int64,
	statusCode int,
	body []byte,
) (*Outcome, error) {
	outcome := &Outcome{Submitted: len(submitted)}

	switch statusCode {
	case http.StatusMultiStatus:
		// handled below
	case http.StatusNotFound:
		outcome.RouteMissing = true
		outcome.addError(CodeMissingRemoteRoute)
		return outcome, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, statusCode)
	}

	responses := gjson.GetBytes(body, "responses").Array()
	for i, sub := range responses {
		if i >= len(submitted) {
			break
		}
		remoteID := sub.Get("body.id").Int()
		if remoteID > 0 {
			if err := r.links.SaveLink(ctx, site.ID, submitted[i], remoteID); err != nil {
				slog.Error("Failed to save identity link",
					"site", site.ID,
					"local_id", submitted[i],
					"remote_id", remoteID,
					"error", err)
				continue
			}
			outcome.Linked++
			continue
		}
		if code := sub.Get("body.code").String(); code != "" {
			outcome.addError(code)
		}
	}

	return outcome, nil
}

// commerceSubmission is the bookkeeping the reconciler needs to map the
// commerce response's create and update lists back onto products.
type commerceSubmission struct {
	created []*entity.Product
	updated []*entity.Product
}

// reconcileCommerce handles the commerce protocol: a 200 response whose
// create and update lists mirror the submitted partitions in order.
func (r *reconciler) reconcileCommerce(
	ctx context.Context,
	site *sites.Site,
	submission *commerceSubmission,
	syncVariations bool,
	statusCode int,
	body []byte,
) (*Outcome, error) {
	outcome := &Outcome{Submitted: len(submission.created) + len(submission.updated)}

	switch statusCode {
	case http.StatusOK:
		// handled below
	case http.StatusNotFound:
		outcome.RouteMissing = true
		outcome.addError(CodeMissingRemoteRoute)
		return outcome, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, statusCode)
	}

	for i, result := range gjson.GetBytes(body, "create").Array() {
		if i >= len(submission.created) {
			break
		}
		product := submission.created[i]

		if code := result.Get("error.code").String(); code != "" {
			outcome.addError(code)
			continue
		}
		remoteID := result.Get("id").Int()
		if remoteID == 0 {
			continue
		}
		outcome.Linked++

		// Sites linking by SKU carry identity implicitly; no explicit
		// link is stored for them.
		if site.LinkMode != config.LinkModeSKU {
			if err := r.links.SaveLink(ctx, site.ID, product.ID, remoteID); err != nil {
				slog.Error("Failed to save identity link",
					"site", site.ID,
					"local_id", product.ID,
					"remote_id", remoteID,
					"error", err)
			}
		}

		// Variations for new parents go out only now that the parent's
		// remote id is known.
		if syncVariations {
			if err := r.variations.SyncVariations(ctx, site, product, remoteID); err != nil {
				slog.Warn("Variation sync failed",
					"site", site.ID,
					"product", product.ID,
					"error", err)
			}
		}
	}

	for i, result := range gjson.GetBytes(body, "update").Array() {
		if i >= len(submission.updated) {
			break
		}
		if code := result.Get("error.code").String(); code != "" {
			outcome.addError(code)
			continue
		}
		if result.Get("id").Int() > 0 {
			outcome.Linked++
		}
	}

	return outcome, nil
}
