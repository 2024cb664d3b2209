package v0_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/stacklok/crosspost-server/internal/api/v0"
	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/notices"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	"github.com/stacklok/crosspost-server/internal/sync"
)

// fakeScheduler records Submit calls and serves scripted results.
type fakeScheduler struct {
	submitSite string
	submitKind entity.Kind
	submitIDs  []int64
	result     *sync.SubmitResult
	submitErr  error

	status     *sync.Status
	consumeErr error
}

func (f *fakeScheduler) Submit(
	_ context.Context, siteID string, kind entity.Kind, ids []int64,
) (*sync.SubmitResult, error) {
	f.submitSite = siteID
	f.submitKind = kind
	f.submitIDs = ids
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.result, nil
}

func (f *fakeScheduler) Consume(
	_ context.Context, _ string, _ entity.Kind,
) (*sync.Status, error) {
	return f.status, f.consumeErr
}

func routerConfig(commerce bool) *config.Config {
	cfg := &config.Config{
		Sites: []config.SiteConfig{
			{ID: "mirror", Name: "Mirror", URL: "https://mirror.example.com", Login: "u", Password: "p"},
		},
		Kinds: []config.KindConfig{{Name: "post", RestBase: "posts", Label: "Posts"}},
		Sync:  config.SyncConfig{Commerce: commerce},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func newRouter(t *testing.T, cfg *config.Config, scheduler *fakeScheduler) http.Handler {
	t.Helper()
	registry, err := sites.NewRegistry(cfg)
	require.NoError(t, err)
	renderer := notices.NewRenderer(cfg, scheduler)
	return v0.Router(cfg, registry, scheduler, renderer)
}

func postSelection(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/selections", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPostSelection(t *testing.T) {
	t.Parallel()

	t.Run("submits to the addressed site", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{result: &sync.SubmitResult{Processed: 10, Scheduled: 5}}
		router := newRouter(t, routerConfig(false), scheduler)

		rec := postSelection(t, router, v0.SelectionRequest{
			Action: "crosspost_to_mirror",
			Kind:   "post",
			IDs:    []int64{1, 2, 3},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp v0.SelectionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 10, resp.Crossposted)
		assert.Equal(t, 5, resp.Scheduled)

		assert.Equal(t, "mirror", scheduler.submitSite)
		assert.Equal(t, entity.Kind("post"), scheduler.submitKind)
		assert.Equal(t, []int64{1, 2, 3}, scheduler.submitIDs)
	})

	t.Run("foreign action tokens are a no-op", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{}
		router := newRouter(t, routerConfig(false), scheduler)

		rec := postSelection(t, router, v0.SelectionRequest{
			Action: "trash",
			Kind:   "post",
			IDs:    []int64{1},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp v0.SelectionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Zero(t, resp.Crossposted)
		assert.Zero(t, resp.Scheduled)
		assert.Empty(t, scheduler.submitSite, "scheduler never reached")
	})

	t.Run("invalid body", func(t *testing.T) {
		t.Parallel()
		router := newRouter(t, routerConfig(false), &fakeScheduler{})

		req := httptest.NewRequest(http.MethodPost, "/selections", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("kind validation", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name     string
			commerce bool
			kind     string
		}{
			{name: "missing kind", kind: ""},
			{name: "unknown kind", kind: "revision"},
			{name: "product with commerce disabled", kind: "product"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				router := newRouter(t, routerConfig(tt.commerce), &fakeScheduler{})
				rec := postSelection(t, router, v0.SelectionRequest{
					Action: "crosspost_to_mirror",
					Kind:   tt.kind,
					IDs:    []int64{1},
				})
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("product kind with commerce enabled", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{result: &sync.SubmitResult{Processed: 1}}
		router := newRouter(t, routerConfig(true), scheduler)

		rec := postSelection(t, router, v0.SelectionRequest{
			Action: "crosspost_to_mirror",
			Kind:   "product",
			IDs:    []int64{21},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, entity.KindProduct, scheduler.submitKind)
	})

	t.Run("scheduler error mapping", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name string
			err  error
			want int
		}{
			{name: "unknown site", err: sites.ErrSiteNotFound, want: http.StatusNotFound},
			{name: "active job", err: sync.ErrJobActive, want: http.StatusConflict},
			{name: "selection too large", err: sync.ErrSelectionTooLarge, want: http.StatusBadRequest},
			{name: "empty selection", err: sync.ErrEmptySelection, want: http.StatusBadRequest},
			{name: "internal failure", err: assert.AnError, want: http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				router := newRouter(t, routerConfig(false), &fakeScheduler{submitErr: tt.err})
				rec := postSelection(t, router, v0.SelectionRequest{
					Action: "crosspost_to_mirror",
					Kind:   "post",
					IDs:    []int64{1},
				})
				require.Equal(t, tt.want, rec.Code)

				var resp v0.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
			})
		}
	})
}

func TestGetNotices(t *testing.T) {
	t.Parallel()

	get := func(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("renders the finished job", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{status: &sync.Status{Total: 3, Finished: true}}
		router := newRouter(t, routerConfig(false), scheduler)

		rec := get(t, router, "/sites/mirror/notices?kind=post")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp v0.NoticesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Notices, 1)
		assert.Equal(t, notices.LevelSuccess, resp.Notices[0].Level)
	})

	t.Run("no job means no notices", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{consumeErr: store.ErrNotFound}
		router := newRouter(t, routerConfig(false), scheduler)

		rec := get(t, router, "/sites/mirror/notices?kind=post")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp v0.NoticesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Notices)
	})

	t.Run("unknown site", func(t *testing.T) {
		t.Parallel()
		router := newRouter(t, routerConfig(false), &fakeScheduler{})
		rec := get(t, router, "/sites/ghost/notices?kind=post")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing kind", func(t *testing.T) {
		t.Parallel()
		router := newRouter(t, routerConfig(false), &fakeScheduler{})
		rec := get(t, router, "/sites/mirror/notices")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("renderer failure", func(t *testing.T) {
		t.Parallel()
		scheduler := &fakeScheduler{consumeErr: assert.AnError}
		router := newRouter(t, routerConfig(false), scheduler)
		rec := get(t, router, "/sites/mirror/notices?kind=post")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListSites(t *testing.T) {
	t.Parallel()

	router := newRouter(t, routerConfig(false), &fakeScheduler{})
	req := httptest.NewRequest(http.MethodGet, "/sites", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []v0.SiteSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "mirror", resp[0].ID)
	assert.Equal(t, "Mirror", resp[0].Name)
	assert.Equal(t, "https://mirror.example.com", resp[0].URL)
}

func TestHealthRouter(t *testing.T) {
	t.Parallel()

	router := v0.HealthRouter()

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/version", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body, "version")
	})
}
