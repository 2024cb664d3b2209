// Package builder turns local entities into wire-ready create/update
// payloads for the remote batch protocols. Builders never fail a whole
// batch over one item; per-item problems surface later through the
// batch response.
package builder

import (
	"context"
	"log/slog"

	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
)

// Exclusion names for document payloads. Plain field names remove the
// field from the base payload; these three skip whole enrichment steps.
const (
	ExcludeMeta      = "meta"
	ExcludeTerms     = "terms"
	ExcludeThumbnail = "thumbnail"
)

// SourceIDMetaKey carries provenance: the local id the payload was
// built from, stored in the remote entity's custom fields.
const SourceIDMetaKey = "crosspost_source_id"

// dateFormat is the wire format for document timestamps.
const dateFormat = "2006-01-02T15:04:05"

// Exclusions is an operator-configured set of field names to drop.
type Exclusions map[string]bool

// NewExclusions builds an exclusion set from a config list.
func NewExclusions(fields []string) Exclusions {
	set := make(Exclusions, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// DocumentBuilder builds generic content payloads.
type DocumentBuilder struct {
	links    store.LinkStore
	terms    TermResolver
	assets   AssetResolver
	excluded Exclusions
}

// NewDocumentBuilder creates a document payload builder.
func NewDocumentBuilder(
	links store.LinkStore,
	terms TermResolver,
	assets AssetResolver,
	excluded Exclusions,
) *DocumentBuilder {
	return &DocumentBuilder{
		links:    links,
		terms:    terms,
		assets:   assets,
		excluded: excluded,
	}
}

// Build produces the wire payload for one document targeting one site.
// Enrichment failures degrade to a payload without the enrichment; they
// never fail the item.
func (b *DocumentBuilder) Build(ctx context.Context, doc *entity.Document, site *sites.Site) map[string]any {
	payload := map[string]any{
		"date":           doc.Date.Format(dateFormat),
		"date_gmt":       doc.DateGMT.Format(dateFormat),
		"modified":       doc.Modified.Format(dateFormat),
		"modified_gmt":   doc.ModifiedGMT.Format(dateFormat),
		"slug":           doc.Slug,
		"status":         doc.Status,
		"title":          doc.Title,
		"type":           string(doc.Kind),
		"content":        doc.Content,
		"parent":         doc.Parent,
		"excerpt":        doc.Excerpt,
		"password":       doc.Password,
		"template":       doc.Template,
		"comment_status": "closed",
		"ping_status":    "closed",
	}

	for field := range b.excluded {
		delete(payload, field)
	}

	if !b.excluded[ExcludeMeta] {
		meta := make(map[string]any, len(doc.Meta)+1)
		for k, v := range doc.Meta {
			meta[k] = v
		}
		meta[SourceIDMetaKey] = doc.ID
		payload["meta"] = meta
	}

	if !b.excluded[ExcludeTerms] {
		for taxonomy, localIDs := range doc.Terms {
			remoteIDs, err := b.terms.ResolveTerms(ctx, site, taxonomy, localIDs)
			if err != nil {
				slog.Warn("Failed to resolve terms, leaving taxonomy off the payload",
					"document", doc.ID,
					"site", site.ID,
					"taxonomy", taxonomy,
					"error", err)
				continue
			}
			payload[taxonomy] = remoteIDs
		}
	}

	if !b.excluded[ExcludeThumbnail] && doc.FeaturedImage != 0 {
		remoteID, err := b.assets.ResolveAsset(ctx, site, doc.FeaturedImage)
		if err != nil {
			slog.Warn("Failed to resolve featured image",
				"document", doc.ID,
				"site", site.ID,
				"asset", doc.FeaturedImage,
				"error", err)
		} else {
			payload["featured_media"] = remoteID
		}
	}

	// Rewrite the parent reference to the already-crossposted parent.
	// When the parent has no link yet the raw local id stays in place;
	// the remote side must tolerate it.
	if rawParent, ok := payload["parent"]; ok {
		if parent, ok := rawParent.(int64); ok && parent != 0 {
			remoteParent, linked, err := b.links.GetLink(ctx, site.ID, parent)
			if err != nil {
				slog.Warn("Failed to look up parent link",
					"document", doc.ID,
					"site", site.ID,
					"parent", parent,
					"error", err)
			} else if linked {
				payload["parent"] = remoteParent
			}
		}
	}

	return payload
}
