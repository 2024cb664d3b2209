package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/sync/builder"
	"github.com/stacklok/crosspost-server/internal/transport"
)

// Executor runs one tick: load entities, build payloads, send exactly
// one batch request, reconcile the response.
//
//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks -source=executor.go Executor
type Executor interface {
	// Run synchronizes the given ids to the site in one batch request.
	// The returned error means the whole tick failed before
	// reconciliation (transport failure or undefined response status);
	// per-item failures live in the Outcome instead.
	Run(ctx context.Context, ids []int64, site *sites.Site, kind entity.Kind) (*Outcome, error)
}

// batchPlan is one assembled outbound batch request plus the closure
// that knows how to reconcile its response. Both entity kinds flow
// through the same pipeline; only the plan differs.
type batchPlan struct {
	url       string
	body      []byte
	reconcile func(ctx context.Context, statusCode int, body []byte) (*Outcome, error)
}

type defaultExecutor struct {
	cfg        *config.Config
	entities   entity.Store
	links      store.LinkStore
	client     transport.Client
	documents  *builder.DocumentBuilder
	products   *builder.ProductBuilder
	locator    builder.ProductLocator
	reconciler *reconciler

	commerceExcluded builder.Exclusions
	timeout          time.Duration
}

// NewExecutor creates the default executor with its payload builders
// and reconciler wired to the given collaborators.
func NewExecutor(
	cfg *config.Config,
	entities entity.Store,
	links store.LinkStore,
	client transport.Client,
	resolver interface {
		builder.TermResolver
		builder.AssetResolver
		builder.ProductLocator
	},
	variations builder.VariationSyncer,
) Executor {
	contentExcluded := builder.NewExclusions(cfg.ExcludedFields.Content)
	commerceExcluded := builder.NewExclusions(cfg.ExcludedFields.Commerce)

	return &defaultExecutor{
		cfg:              cfg,
		entities:         entities,
		links:            links,
		client:           client,
		documents:        builder.NewDocumentBuilder(links, resolver, resolver, contentExcluded),
		products:         builder.NewProductBuilder(links, resolver, resolver, commerceExcluded, contentExcluded),
		locator:          resolver,
		reconciler:       newReconciler(links, variations),
		commerceExcluded: commerceExcluded,
		timeout:          cfg.Sync.RequestTimeoutDuration(),
	}
}

func (e *defaultExecutor) Run(
	ctx context.Context, ids []int64, site *sites.Site, kind entity.Kind,
) (*Outcome, error) {
	runID := uuid.NewString()
	start := time.Now()
	slog.Info("Running sync tick",
		"run_id", runID,
		"site", site.ID,
		"kind", kind,
		"ids", len(ids))

	var plan *batchPlan
	var err error
	if kind == entity.KindProduct && e.cfg.Sync.Commerce {
		plan, err = e.planProducts(ctx, ids, site)
	} else {
		plan, err = e.planDocuments(ctx, ids, site, kind)
	}
	if err != nil {
		return nil, err
	}
	if plan == nil {
		// Nothing loadable in this chunk.
		return &Outcome{}, nil
	}

	resp, err := e.client.Send(ctx, &transport.Request{
		Method:  http.MethodPost,
		URL:     plan.url,
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Body:    plan.body,
		Timeout: e.timeout,
	})
	if err != nil {
		return nil, err
	}

	outcome, err := plan.reconcile(ctx, resp.StatusCode, resp.Body)
	if err != nil {
		return nil, err
	}

	slog.Info("Sync tick finished",
		"run_id", runID,
		"site", site.ID,
		"kind", kind,
		"submitted", outcome.Submitted,
		"linked", outcome.Linked,
		"errors", len(outcome.Errors),
		"duration", time.Since(start))
	return outcome, nil
}

// planDocuments assembles the generic content batch: one sub-request
// per loadable document, POSTed to the multi-status batch endpoint.
func (e *defaultExecutor) planDocuments(
	ctx context.Context, ids []int64, site *sites.Site, kind entity.Kind,
) (*batchPlan, error) {
	restBase := e.cfg.RestBaseFor(string(kind))

	var requests []map[string]any
	var submitted []int64
	for _, id := range ids {
		doc, err := e.entities.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load document %d: %w", id, err)
		}

		// An existing link routes the sub-request to the update path.
		remoteID, linked, err := e.links.GetLink(ctx, site.ID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up link for %d: %w", id, err)
		}
		path := "/wp/v2/" + restBase
		if linked {
			path += "/" + strconv.FormatInt(remoteID, 10)
		}

		requests = append(requests, map[string]any{
			"method": http.MethodPost,
			"path":   path,
			"body":   e.documents.Build(ctx, doc, site),
		})
		submitted = append(submitted, id)
	}
	if len(submitted) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	return &batchPlan{
		url:  site.BaseURL + "/wp-json/batch/v1/",
		body: body,
		reconcile: func(ctx context.Context, statusCode int, respBody []byte) (*Outcome, error) {
			return e.reconciler.reconcileMultiStatus(ctx, site, submitted, statusCode, respBody)
		},
	}, nil
}

// planProducts assembles the commerce batch: create and update
// partitions in one request. Variations for already-linked parents go
// out during assembly; new parents get theirs after reconciliation.
func (e *defaultExecutor) planProducts(
	ctx context.Context, ids []int64, site *sites.Site,
) (*batchPlan, error) {
	syncVariations := !e.commerceExcluded[builder.ExcludeVariations]

	var createList, updateList []map[string]any
	submission := &commerceSubmission{}
	for _, id := range ids {
		product, err := e.entities.GetProduct(ctx, id)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load product %d: %w", id, err)
		}

		remoteID, err := e.remoteProductID(ctx, site, product)
		if err != nil {
			return nil, err
		}

		payload := e.products.Build(ctx, product, site, remoteID)
		if remoteID != 0 {
			updateList = append(updateList, payload)
			submission.updated = append(submission.updated, product)
			// The parent id is already known on the update path, so
			// variations can go out right away.
			if syncVariations {
				if err := e.reconciler.variations.SyncVariations(ctx, site, product, remoteID); err != nil {
					slog.Warn("Variation sync failed",
						"site", site.ID,
						"product", product.ID,
						"error", err)
				}
			}
		} else {
			createList = append(createList, payload)
			submission.created = append(submission.created, product)
		}
	}
	if len(submission.created) == 0 && len(submission.updated) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{
		"create": createList,
		"update": updateList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal product batch: %w", err)
	}

	return &batchPlan{
		url:  site.BaseURL + "/wp-json/wc/v3/products/batch",
		body: body,
		reconcile: func(ctx context.Context, statusCode int, respBody []byte) (*Outcome, error) {
			return e.reconciler.reconcileCommerce(ctx, site, submission, syncVariations, statusCode, respBody)
		},
	}, nil
}

// remoteProductID resolves the product's remote counterpart: by stored
// link normally, by SKU lookup for sites linking implicitly.
func (e *defaultExecutor) remoteProductID(
	ctx context.Context, site *sites.Site, product *entity.Product,
) (int64, error) {
	if site.LinkMode == config.LinkModeSKU {
		remoteID, err := e.locator.FindBySKU(ctx, site, product.SKU)
		if err != nil {
			return 0, fmt.Errorf("sku lookup for product %d failed: %w", product.ID, err)
		}
		return remoteID, nil
	}

	remoteID, linked, err := e.links.GetLink(ctx, site.ID, product.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up link for product %d: %w", product.ID, err)
	}
	if !linked {
		return 0, nil
	}
	return remoteID, nil
}
