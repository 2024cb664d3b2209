package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/transport"
)

// VariationSyncer synchronizes a product's variations as a nested batch
// keyed to the parent's remote id. It runs after the parent id is known:
// immediately for updates, after the create response for new parents.
//
//go:generate mockgen -destination=mocks/mock_variation_syncer.go -package=mocks -source=variations.go VariationSyncer
type VariationSyncer interface {
	SyncVariations(ctx context.Context, site *sites.Site, product *entity.Product, parentRemoteID int64) error
}

type restVariationSyncer struct {
	client  transport.Client
	links   store.LinkStore
	timeout time.Duration
}

// NewVariationSyncer creates a REST-backed variation syncer.
func NewVariationSyncer(client transport.Client, links store.LinkStore, timeout time.Duration) VariationSyncer {
	return &restVariationSyncer{
		client:  client,
		links:   links,
		timeout: timeout,
	}
}

func (v *restVariationSyncer) SyncVariations(
	ctx context.Context, site *sites.Site, product *entity.Product, parentRemoteID int64,
) error {
	if len(product.Variations) == 0 {
		return nil
	}

	var createList, updateList []map[string]any
	var toCreate []int64
	for i := range product.Variations {
		variation := &product.Variations[i]
		payload := variationPayload(variation)

		remoteID, linked, err := v.links.GetLink(ctx, site.ID, variation.ID)
		if err != nil {
			return fmt.Errorf("failed to look up variation link: %w", err)
		}
		if linked && site.LinkMode == config.LinkModeID {
			payload["id"] = remoteID
			updateList = append(updateList, payload)
		} else {
			createList = append(createList, payload)
			toCreate = append(toCreate, variation.ID)
		}
	}

	body, err := json.Marshal(map[string]any{"create": createList, "update": updateList})
	if err != nil {
		return fmt.Errorf("failed to marshal variation batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/wp-json/wc/v3/products/%d/variations/batch", site.BaseURL, parentRemoteID)
	resp, err := v.client.Send(ctx, &transport.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Body:    body,
		Timeout: v.timeout,
	})
	if err != nil {
		return fmt.Errorf("variation batch failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return transport.NewHTTPError(resp.StatusCode, endpoint, "variation batch rejected")
	}

	// Link newly created variations in submission order.
	if site.LinkMode == config.LinkModeID {
		created := gjson.GetBytes(resp.Body, "create").Array()
		for i, result := range created {
			if i >= len(toCreate) {
				break
			}
			remoteID := result.Get("id").Int()
			if remoteID == 0 {
				continue
			}
			if err := v.links.SaveLink(ctx, site.ID, toCreate[i], remoteID); err != nil {
				slog.Warn("Failed to save variation link",
					"site", site.ID,
					"variation", toCreate[i],
					"error", err)
			}
		}
	}

	return nil
}

func variationPayload(variation *entity.Variation) map[string]any {
	payload := map[string]any{}
	if variation.SKU != "" {
		payload["sku"] = variation.SKU
	}
	if variation.RegularPrice != "" {
		payload["regular_price"] = variation.RegularPrice
	}
	if variation.SalePrice != "" {
		payload["sale_price"] = variation.SalePrice
	}
	if variation.StockStatus != "" {
		payload["stock_status"] = variation.StockStatus
	}
	if len(variation.Attributes) > 0 {
		attrs := make([]map[string]string, 0, len(variation.Attributes))
		for name, option := range variation.Attributes {
			attrs = append(attrs, map[string]string{"name": name, "option": option})
		}
		payload["attributes"] = attrs
	}
	return payload
}
