package builder

import (
	"context"
	"log/slog"

	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
)

// Exclusion names specific to commerce payloads.
const (
	ExcludeImages         = "images"
	ExcludeAttributes     = "attributes"
	ExcludeLinkedProducts = "linked_products"
	ExcludeTagIDs         = "tag_ids"
	ExcludeCategoryIDs    = "category_ids"
	ExcludeBrandIDs       = "brand_ids"
	ExcludeVariations     = "variations"
)

// Commerce taxonomy names on the remote side.
const (
	taxonomyProductTag      = "product_tag"
	taxonomyProductCategory = "product_cat"
	taxonomyProductBrand    = "product_brand"
)

// ProductBuilder builds commerce item payloads.
type ProductBuilder struct {
	links  store.LinkStore
	terms  TermResolver
	assets AssetResolver

	// excluded applies to commerce fields; contentExcluded carries the
	// document-family exclusions that also gate product meta.
	excluded        Exclusions
	contentExcluded Exclusions
}

// NewProductBuilder creates a commerce payload builder.
func NewProductBuilder(
	links store.LinkStore,
	terms TermResolver,
	assets AssetResolver,
	excluded Exclusions,
	contentExcluded Exclusions,
) *ProductBuilder {
	return &ProductBuilder{
		links:           links,
		terms:           terms,
		assets:          assets,
		excluded:        excluded,
		contentExcluded: contentExcluded,
	}
}

// Build produces the wire payload for one product targeting one site.
// remoteID, when non-zero, is included as the id field and routes the
// item into the update partition.
func (b *ProductBuilder) Build(
	ctx context.Context, product *entity.Product, site *sites.Site, remoteID int64,
) map[string]any {
	payload := map[string]any{
		"name":               product.Name,
		"slug":               product.Slug,
		"description":        product.Description,
		"short_description":  product.ShortDescription,
		"status":             product.Status,
		"type":               product.Type,
		"sold_individually":  product.SoldIndividually,
		"purchase_note":      product.PurchaseNote,
		"menu_order":         product.MenuOrder,
		"reviews_allowed":    product.ReviewsAllowed,
		"catalog_visibility": product.CatalogVisibility,
		"featured":           product.Featured,
	}
	if product.SKU != "" {
		payload["sku"] = product.SKU
	}

	b.addPrices(payload, product)
	b.addStockAndShipping(payload, product)
	b.addDownloads(payload, product)

	for field := range b.excluded {
		delete(payload, field)
	}

	b.addImages(ctx, payload, product, site)
	b.addAttributes(payload, product)
	b.addLinkedProducts(ctx, payload, product, site)

	if !b.contentExcluded[ExcludeMeta] {
		metaData := make([]map[string]any, 0, len(product.Meta)+1)
		for k, v := range product.Meta {
			metaData = append(metaData, map[string]any{"key": k, "value": v})
		}
		metaData = append(metaData, map[string]any{"key": SourceIDMetaKey, "value": product.ID})
		payload["meta_data"] = metaData
	}

	b.addTaxonomy(ctx, payload, product, site, "tags", taxonomyProductTag, product.Tags, ExcludeTagIDs)
	b.addTaxonomy(ctx, payload, product, site, "categories", taxonomyProductCategory, product.Categories, ExcludeCategoryIDs)
	b.addTaxonomy(ctx, payload, product, site, "brands", taxonomyProductBrand, product.Brands, ExcludeBrandIDs)

	if remoteID != 0 {
		payload["id"] = remoteID
	}

	return payload
}

func (*ProductBuilder) addPrices(payload map[string]any, product *entity.Product) {
	if product.RegularPrice != "" {
		payload["regular_price"] = product.RegularPrice
	}
	if product.SalePrice != "" {
		payload["sale_price"] = product.SalePrice
	}
}

func (*ProductBuilder) addStockAndShipping(payload map[string]any, product *entity.Product) {
	payload["manage_stock"] = product.ManageStock
	if product.ManageStock && product.StockQuantity != nil {
		payload["stock_quantity"] = *product.StockQuantity
	}
	if product.StockStatus != "" {
		payload["stock_status"] = product.StockStatus
	}
	if product.Weight != "" {
		payload["weight"] = product.Weight
	}
	if product.Length != "" || product.Width != "" || product.Height != "" {
		payload["dimensions"] = map[string]string{
			"length": product.Length,
			"width":  product.Width,
			"height": product.Height,
		}
	}
}

func (*ProductBuilder) addDownloads(payload map[string]any, product *entity.Product) {
	payload["downloadable"] = product.Downloadable
	if !product.Downloadable || len(product.Downloads) == 0 {
		return
	}
	downloads := make([]map[string]string, 0, len(product.Downloads))
	for _, d := range product.Downloads {
		downloads = append(downloads, map[string]string{"name": d.Name, "file": d.File})
	}
	payload["downloads"] = downloads
}

func (b *ProductBuilder) addImages(
	ctx context.Context, payload map[string]any, product *entity.Product, site *sites.Site,
) {
	if b.excluded[ExcludeImages] || len(product.Images) == 0 {
		return
	}
	images := make([]map[string]any, 0, len(product.Images))
	for _, img := range product.Images {
		if img.ID != 0 {
			remoteID, err := b.assets.ResolveAsset(ctx, site, img.ID)
			if err == nil && remoteID > 0 {
				images = append(images, map[string]any{"id": remoteID})
				continue
			}
			slog.Warn("Failed to resolve product image, falling back to source URL",
				"product", product.ID,
				"site", site.ID,
				"asset", img.ID,
				"error", err)
		}
		if img.Src != "" {
			images = append(images, map[string]any{"src": img.Src, "alt": img.Alt})
		}
	}
	if len(images) > 0 {
		payload["images"] = images
	}
}

// addAttributes sends attributes by name; the remote matches or creates
// them on its side, so no id mapping happens here.
func (b *ProductBuilder) addAttributes(payload map[string]any, product *entity.Product) {
	if b.excluded[ExcludeAttributes] || len(product.Attributes) == 0 {
		return
	}
	attrs := make([]map[string]any, 0, len(product.Attributes))
	for _, a := range product.Attributes {
		attrs = append(attrs, map[string]any{
			"name":      a.Name,
			"options":   a.Options,
			"visible":   a.Visible,
			"variation": a.Variation,
		})
	}
	payload["attributes"] = attrs
}

// addLinkedProducts rewrites up-sell and cross-sell references to remote
// ids. Entries whose target has no remote counterpart are dropped.
func (b *ProductBuilder) addLinkedProducts(
	ctx context.Context, payload map[string]any, product *entity.Product, site *sites.Site,
) {
	if b.excluded[ExcludeLinkedProducts] {
		return
	}
	if mapped := b.mapLinked(ctx, product.UpsellIDs, site); len(mapped) > 0 {
		payload["upsell_ids"] = mapped
	}
	if mapped := b.mapLinked(ctx, product.CrossSellIDs, site); len(mapped) > 0 {
		payload["cross_sell_ids"] = mapped
	}
}

func (b *ProductBuilder) mapLinked(ctx context.Context, localIDs []int64, site *sites.Site) []int64 {
	var mapped []int64
	for _, localID := range localIDs {
		remoteID, linked, err := b.links.GetLink(ctx, site.ID, localID)
		if err != nil || !linked {
			continue
		}
		mapped = append(mapped, remoteID)
	}
	return mapped
}

func (b *ProductBuilder) addTaxonomy(
	ctx context.Context,
	payload map[string]any,
	product *entity.Product,
	site *sites.Site,
	field, taxonomy string,
	localIDs []int64,
	exclusion string,
) {
	if b.excluded[exclusion] || len(localIDs) == 0 {
		return
	}
	remoteIDs, err := b.terms.ResolveTerms(ctx, site, taxonomy, localIDs)
	if err != nil {
		slog.Warn("Failed to resolve product terms",
			"product", product.ID,
			"site", site.ID,
			"taxonomy", taxonomy,
			"error", err)
		return
	}
	refs := make([]map[string]int64, 0, len(remoteIDs))
	for _, id := range remoteIDs {
		refs = append(refs, map[string]int64{"id": id})
	}
	payload[field] = refs
}
