package builder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
)

// fakeTermResolver maps local term ids to localID+1000 per taxonomy.
type fakeTermResolver struct {
	err   error
	calls []string
}

func (f *fakeTermResolver) ResolveTerms(
	_ context.Context, _ *sites.Site, taxonomy string, localIDs []int64,
) ([]int64, error) {
	f.calls = append(f.calls, taxonomy)
	if f.err != nil {
		return nil, f.err
	}
	remote := make([]int64, 0, len(localIDs))
	for _, id := range localIDs {
		remote = append(remote, id+1000)
	}
	return remote, nil
}

// fakeAssetResolver maps local asset ids to localID+2000.
type fakeAssetResolver struct {
	err error
}

func (f *fakeAssetResolver) ResolveAsset(_ context.Context, _ *sites.Site, localID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return localID + 2000, nil
}

func testSite() *sites.Site {
	return &sites.Site{ID: "mirror", BaseURL: "https://mirror.example.com"}
}

func testDocument() *entity.Document {
	date := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &entity.Document{
		ID:          7,
		Kind:        "post",
		Date:        date,
		DateGMT:     date,
		Modified:    date,
		ModifiedGMT: date,
		Slug:        "hello-world",
		Status:      "publish",
		Title:       "Hello World",
		Content:     "<p>Hi</p>",
		Excerpt:     "Hi",
		Meta:        map[string]any{"mood": "good"},
	}
}

func TestDocumentBuildBasePayload(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{}, NewExclusions(nil))

	payload := b.Build(context.Background(), testDocument(), testSite())

	assert.Equal(t, "2026-03-14T09:26:53", payload["date"])
	assert.Equal(t, "2026-03-14T09:26:53", payload["modified_gmt"])
	assert.Equal(t, "hello-world", payload["slug"])
	assert.Equal(t, "publish", payload["status"])
	assert.Equal(t, "Hello World", payload["title"])
	assert.Equal(t, "post", payload["type"])
	assert.Equal(t, "<p>Hi</p>", payload["content"])
	assert.Equal(t, "closed", payload["comment_status"])
	assert.Equal(t, "closed", payload["ping_status"])

	meta, ok := payload["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "good", meta["mood"])
	assert.Equal(t, int64(7), meta[SourceIDMetaKey])
}

func TestDocumentBuildExclusions(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	terms := &fakeTermResolver{}
	excluded := NewExclusions([]string{"excerpt", ExcludeMeta, ExcludeTerms, ExcludeThumbnail})
	b := NewDocumentBuilder(links, terms, &fakeAssetResolver{}, excluded)

	doc := testDocument()
	doc.Terms = map[string][]int64{"category": {1}}
	doc.FeaturedImage = 5

	payload := b.Build(context.Background(), doc, testSite())

	assert.NotContains(t, payload, "excerpt")
	assert.NotContains(t, payload, "meta")
	assert.NotContains(t, payload, "category")
	assert.NotContains(t, payload, "featured_media")
	assert.Empty(t, terms.calls, "term resolution skipped entirely")
}

func TestDocumentBuildTerms(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{}, NewExclusions(nil))

	doc := testDocument()
	doc.Terms = map[string][]int64{
		"category": {1, 2},
		"post_tag": {9},
	}

	payload := b.Build(context.Background(), doc, testSite())

	assert.Equal(t, []int64{1001, 1002}, payload["category"])
	assert.Equal(t, []int64{1009}, payload["post_tag"])
}

func TestDocumentBuildTermFailureLeavesTaxonomyOff(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	terms := &fakeTermResolver{err: errors.New("remote down")}
	b := NewDocumentBuilder(links, terms, &fakeAssetResolver{}, NewExclusions(nil))

	doc := testDocument()
	doc.Terms = map[string][]int64{"category": {1}}

	payload := b.Build(context.Background(), doc, testSite())

	assert.NotContains(t, payload, "category")
	assert.Equal(t, "Hello World", payload["title"], "payload still built")
}

func TestDocumentBuildFeaturedImage(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{}, NewExclusions(nil))

	doc := testDocument()
	doc.FeaturedImage = 5

	payload := b.Build(context.Background(), doc, testSite())
	assert.Equal(t, int64(2005), payload["featured_media"])
}

func TestDocumentBuildFeaturedImageFailureDegrades(t *testing.T) {
	t.Parallel()

	links := store.NewMemoryStore()
	b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{err: errors.New("upload failed")}, NewExclusions(nil))

	doc := testDocument()
	doc.FeaturedImage = 5

	payload := b.Build(context.Background(), doc, testSite())
	assert.NotContains(t, payload, "featured_media")
}

func TestDocumentBuildParentRewrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("linked parent rewritten", func(t *testing.T) {
		t.Parallel()

		links := store.NewMemoryStore()
		require.NoError(t, links.SaveLink(ctx, "mirror", 3, 303))

		b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{}, NewExclusions(nil))
		doc := testDocument()
		doc.Parent = 3

		payload := b.Build(ctx, doc, testSite())
		assert.Equal(t, int64(303), payload["parent"])
	})

	t.Run("unlinked parent left as local id", func(t *testing.T) {
		t.Parallel()

		links := store.NewMemoryStore()
		b := NewDocumentBuilder(links, &fakeTermResolver{}, &fakeAssetResolver{}, NewExclusions(nil))
		doc := testDocument()
		doc.Parent = 3

		payload := b.Build(ctx, doc, testSite())
		assert.Equal(t, int64(3), payload["parent"])
	})
}
