package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/transport"
)

// TermResolver translates local taxonomy term ids into term ids on a
// remote site, creating missing terms remotely.
//
//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=resolver.go
type TermResolver interface {
	ResolveTerms(ctx context.Context, site *sites.Site, taxonomy string, localIDs []int64) ([]int64, error)
}

// AssetResolver maps a local media asset to a remote asset id, uploading
// it when the remote has no counterpart.
type AssetResolver interface {
	ResolveAsset(ctx context.Context, site *sites.Site, localID int64) (int64, error)
}

// ProductLocator finds a remote product by its unique SKU. Used when a
// site links commerce items implicitly by SKU instead of stored links.
type ProductLocator interface {
	FindBySKU(ctx context.Context, site *sites.Site, sku string) (int64, error)
}

type cacheKey struct {
	siteID string
	scope  string
	local  int64
}

// restResolver implements TermResolver, AssetResolver and ProductLocator
// against the remote REST API. Resolutions are cached per process; terms
// and assets do not change identity on the remote side once mapped.
type restResolver struct {
	client   transport.Client
	entities entity.Store
	timeout  time.Duration

	mu    sync.Mutex
	cache map[cacheKey]int64
}

// NewRESTResolver creates a resolver that queries and creates terms and
// assets over the remote REST API.
func NewRESTResolver(client transport.Client, entities entity.Store, timeout time.Duration) *restResolver { //nolint:revive // unexported-return is intentional
	return &restResolver{
		client:   client,
		entities: entities,
		timeout:  timeout,
		cache:    make(map[cacheKey]int64),
	}
}

func (r *restResolver) ResolveTerms(
	ctx context.Context, site *sites.Site, taxonomy string, localIDs []int64,
) ([]int64, error) {
	remote := make([]int64, 0, len(localIDs))
	for _, localID := range localIDs {
		remoteID, err := r.resolveTerm(ctx, site, taxonomy, localID)
		if err != nil {
			return nil, err
		}
		remote = append(remote, remoteID)
	}
	return remote, nil
}

func (r *restResolver) resolveTerm(
	ctx context.Context, site *sites.Site, taxonomy string, localID int64,
) (int64, error) {
	key := cacheKey{siteID: site.ID, scope: "term:" + taxonomy, local: localID}
	if remoteID, ok := r.cached(key); ok {
		return remoteID, nil
	}

	term, err := r.entities.GetTerm(ctx, taxonomy, localID)
	if err != nil {
		return 0, fmt.Errorf("failed to load term %d (%s): %w", localID, taxonomy, err)
	}

	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/%s", site.BaseURL, url.PathEscape(taxonomy))

	// Look up by slug first.
	resp, err := r.client.Send(ctx, &transport.Request{
		Method:  http.MethodGet,
		URL:     endpoint + "?slug=" + url.QueryEscape(term.Slug),
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Timeout: r.timeout,
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusOK {
		if remoteID := gjson.GetBytes(resp.Body, "0.id").Int(); remoteID > 0 {
			r.remember(key, remoteID)
			return remoteID, nil
		}
	}

	// Not there yet, create it.
	body, err := json.Marshal(map[string]string{"name": term.Name, "slug": term.Slug})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal term payload: %w", err)
	}
	resp, err = r.client.Send(ctx, &transport.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Body:    body,
		Timeout: r.timeout,
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, transport.NewHTTPError(resp.StatusCode, endpoint, "failed to create term "+term.Slug)
	}

	remoteID := gjson.GetBytes(resp.Body, "id").Int()
	if remoteID == 0 {
		return 0, fmt.Errorf("term create response for %s has no id", term.Slug)
	}
	r.remember(key, remoteID)
	return remoteID, nil
}

func (r *restResolver) ResolveAsset(ctx context.Context, site *sites.Site, localID int64) (int64, error) {
	key := cacheKey{siteID: site.ID, scope: "asset", local: localID}
	if remoteID, ok := r.cached(key); ok {
		return remoteID, nil
	}

	asset, err := r.entities.GetAsset(ctx, localID)
	if err != nil {
		return 0, fmt.Errorf("failed to load asset %d: %w", localID, err)
	}

	endpoint := site.BaseURL + "/wp-json/wp/v2/media"

	resp, err := r.client.Send(ctx, &transport.Request{
		Method:  http.MethodGet,
		URL:     endpoint + "?slug=" + url.QueryEscape(asset.Slug),
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Timeout: r.timeout,
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusOK {
		if remoteID := gjson.GetBytes(resp.Body, "0.id").Int(); remoteID > 0 {
			r.remember(key, remoteID)
			return remoteID, nil
		}
	}

	// Sideload from the source URL.
	body, err := json.Marshal(map[string]string{
		"slug":       asset.Slug,
		"alt_text":   asset.Alt,
		"source_url": asset.URL,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset payload: %w", err)
	}
	resp, err = r.client.Send(ctx, &transport.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Body:    body,
		Timeout: r.timeout,
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, transport.NewHTTPError(resp.StatusCode, endpoint, "failed to upload asset "+asset.Slug)
	}

	remoteID := gjson.GetBytes(resp.Body, "id").Int()
	if remoteID == 0 {
		return 0, fmt.Errorf("asset upload response for %s has no id", asset.Slug)
	}
	r.remember(key, remoteID)
	return remoteID, nil
}

func (r *restResolver) FindBySKU(ctx context.Context, site *sites.Site, sku string) (int64, error) {
	if sku == "" {
		return 0, nil
	}

	endpoint := site.BaseURL + "/wp-json/wc/v3/products?sku=" + url.QueryEscape(sku)
	resp, err := r.client.Send(ctx, &transport.Request{
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": site.AuthorizationHeader()},
		Timeout: r.timeout,
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, nil
	}
	return gjson.GetBytes(resp.Body, "0.id").Int(), nil
}

func (r *restResolver) cached(key cacheKey) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remoteID, ok := r.cache[key]
	return remoteID, ok
}

func (r *restResolver) remember(key cacheKey, remoteID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = remoteID
}
