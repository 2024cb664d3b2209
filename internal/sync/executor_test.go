package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/transport"
)

// fakeClient returns canned responses and records every request.
type fakeClient struct {
	requests  []*transport.Request
	responses []*transport.Response
	err       error
}

func (f *fakeClient) Send(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// fakeResolver satisfies the term, asset and SKU lookups without I/O.
type fakeResolver struct {
	skuHits map[string]int64
}

func (*fakeResolver) ResolveTerms(
	_ context.Context, _ *sites.Site, _ string, localIDs []int64,
) ([]int64, error) {
	remote := make([]int64, 0, len(localIDs))
	for _, id := range localIDs {
		remote = append(remote, id+1000)
	}
	return remote, nil
}

func (*fakeResolver) ResolveAsset(_ context.Context, _ *sites.Site, localID int64) (int64, error) {
	return localID + 2000, nil
}

func (f *fakeResolver) FindBySKU(_ context.Context, _ *sites.Site, sku string) (int64, error) {
	return f.skuHits[sku], nil
}

func executorConfig() *config.Config {
	cfg := &config.Config{
		Sites: []config.SiteConfig{
			{ID: "mirror", URL: "https://mirror.example.com", Login: "u", Password: "p"},
		},
		Kinds: []config.KindConfig{{Name: "post", RestBase: "posts", Label: "Posts"}},
		Sync:  config.SyncConfig{Commerce: true},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func TestExecutorRunDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := executorConfig()
	entities := entity.NewInMemoryStore()
	entities.PutDocument(&entity.Document{ID: 11, Kind: "post", Title: "A", Slug: "a"})
	entities.PutDocument(&entity.Document{ID: 12, Kind: "post", Title: "B", Slug: "b"})

	links := store.NewMemoryStore()
	require.NoError(t, links.SaveLink(ctx, "mirror", 12, 55))

	client := &fakeClient{responses: []*transport.Response{{
		StatusCode: http.StatusMultiStatus,
		Body: []byte(`{"responses": [
			{"body": {"id": 201}},
			{"body": {"id": 55}}
		]}`),
	}}}

	exec := NewExecutor(cfg, entities, links, client, &fakeResolver{}, &fakeVariationSyncer{})

	outcome, err := exec.Run(ctx, []int64{11, 12}, idSite(), "post")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Submitted)
	assert.Equal(t, 2, outcome.Linked)
	assert.Empty(t, outcome.Errors)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://mirror.example.com/wp-json/batch/v1/", req.URL)
	assert.NotEmpty(t, req.Headers["Authorization"])

	var batch struct {
		Requests []struct {
			Method string         `json:"method"`
			Path   string         `json:"path"`
			Body   map[string]any `json:"body"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &batch))
	require.Len(t, batch.Requests, 2)

	assert.Equal(t, http.MethodPost, batch.Requests[0].Method)
	assert.Equal(t, "/wp/v2/posts", batch.Requests[0].Path, "unlinked document takes the create path")
	assert.Equal(t, "A", batch.Requests[0].Body["title"])

	assert.Equal(t, "/wp/v2/posts/55", batch.Requests[1].Path, "linked document takes the update path")

	// The new link from the response is persisted.
	remoteID, found, err := links.GetLink(ctx, "mirror", 11)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(201), remoteID)
}

func TestExecutorRunSkipsUnloadableDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := executorConfig()
	entities := entity.NewInMemoryStore()
	entities.PutDocument(&entity.Document{ID: 11, Kind: "post", Title: "A"})

	client := &fakeClient{responses: []*transport.Response{{
		StatusCode: http.StatusMultiStatus,
		Body:       []byte(`{"responses": [{"body": {"id": 201}}]}`),
	}}}

	exec := NewExecutor(cfg, entities, store.NewMemoryStore(), client, &fakeResolver{}, &fakeVariationSyncer{})

	outcome, err := exec.Run(ctx, []int64{11, 999}, idSite(), "post")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Submitted, "missing entity dropped from the batch")
	assert.Equal(t, 1, outcome.Linked)
}

func TestExecutorRunNothingLoadable(t *testing.T) {
	t.Parallel()

	cfg := executorConfig()
	client := &fakeClient{}
	exec := NewExecutor(cfg, entity.NewInMemoryStore(), store.NewMemoryStore(), client, &fakeResolver{}, &fakeVariationSyncer{})

	outcome, err := exec.Run(context.Background(), []int64{1, 2}, idSite(), "post")
	require.NoError(t, err)
	assert.Zero(t, outcome.Submitted)
	assert.Empty(t, client.requests, "no batch request for an empty plan")
}

func TestExecutorRunTransportFailure(t *testing.T) {
	t.Parallel()

	cfg := executorConfig()
	entities := entity.NewInMemoryStore()
	entities.PutDocument(&entity.Document{ID: 11, Kind: "post"})

	client := &fakeClient{err: errors.New("connection refused")}
	exec := NewExecutor(cfg, entities, store.NewMemoryStore(), client, &fakeResolver{}, &fakeVariationSyncer{})

	_, err := exec.Run(context.Background(), []int64{11}, idSite(), "post")
	assert.Error(t, err)
}

func TestExecutorRunProducts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := executorConfig()
	entities := entity.NewInMemoryStore()
	entities.PutProduct(&entity.Product{ID: 21, Name: "New Widget", SKU: "W-21", Status: "publish", Type: "simple"})
	entities.PutProduct(&entity.Product{
		ID: 22, Name: "Known Widget", SKU: "W-22", Status: "publish", Type: "variable",
		Variations: []entity.Variation{{ID: 101, SKU: "W-22-S"}},
	})

	links := store.NewMemoryStore()
	require.NoError(t, links.SaveLink(ctx, "mirror", 22, 650))

	client := &fakeClient{responses: []*transport.Response{{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"create": [{"id": 700}], "update": [{"id": 650}]}`),
	}}}
	variations := &fakeVariationSyncer{}

	exec := NewExecutor(cfg, entities, links, client, &fakeResolver{}, variations)

	outcome, err := exec.Run(ctx, []int64{21, 22}, idSite(), entity.KindProduct)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Submitted)
	assert.Equal(t, 2, outcome.Linked)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "https://mirror.example.com/wp-json/wc/v3/products/batch", req.URL)

	var batch struct {
		Create []map[string]any `json:"create"`
		Update []map[string]any `json:"update"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &batch))
	require.Len(t, batch.Create, 1)
	require.Len(t, batch.Update, 1)
	assert.Equal(t, "New Widget", batch.Create[0]["name"])
	assert.NotContains(t, batch.Create[0], "id")
	assert.Equal(t, float64(650), batch.Update[0]["id"])

	// Update-path variations go out before the batch; the created parent
	// gets its variations after reconciliation. Here only product 22 has
	// variations, so exactly one call with the known remote id.
	require.Len(t, variations.calls, 1)
	assert.Equal(t, variationCall{productID: 22, remoteID: 650}, variations.calls[0])

	remoteID, found, err := links.GetLink(ctx, "mirror", 21)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(700), remoteID)
}

func TestExecutorRunProductsSKUMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := executorConfig()
	entities := entity.NewInMemoryStore()
	entities.PutProduct(&entity.Product{ID: 21, Name: "Widget", SKU: "W-21", Status: "publish", Type: "simple"})

	links := store.NewMemoryStore()
	client := &fakeClient{responses: []*transport.Response{{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"create": [], "update": [{"id": 555}]}`),
	}}}
	resolver := &fakeResolver{skuHits: map[string]int64{"W-21": 555}}

	exec := NewExecutor(cfg, entities, links, client, resolver, &fakeVariationSyncer{})

	site := &sites.Site{ID: "shop", BaseURL: "https://shop.example.com", LinkMode: config.LinkModeSKU}
	outcome, err := exec.Run(ctx, []int64{21}, site, entity.KindProduct)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Linked)

	var batch struct {
		Create []map[string]any `json:"create"`
		Update []map[string]any `json:"update"`
	}
	require.NoError(t, json.Unmarshal(client.requests[0].Body, &batch))
	assert.Empty(t, batch.Create)
	require.Len(t, batch.Update, 1)
	assert.Equal(t, float64(555), batch.Update[0]["id"], "sku lookup routed the product to the update partition")
}

func TestExecutorRunProductsVariationsExcluded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := executorConfig()
	cfg.ExcludedFields.Commerce = []string{"variations"}

	entities := entity.NewInMemoryStore()
	entities.PutProduct(&entity.Product{
		ID: 22, Name: "Widget", Status: "publish", Type: "variable",
		Variations: []entity.Variation{{ID: 101}},
	})

	links := store.NewMemoryStore()
	require.NoError(t, links.SaveLink(ctx, "mirror", 22, 650))

	client := &fakeClient{responses: []*transport.Response{{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"create": [], "update": [{"id": 650}]}`),
	}}}
	variations := &fakeVariationSyncer{}

	exec := NewExecutor(cfg, entities, links, client, &fakeResolver{}, variations)

	_, err := exec.Run(ctx, []int64{22}, idSite(), entity.KindProduct)
	require.NoError(t, err)
	assert.Empty(t, variations.calls)
}
