// Package entity defines the local content model that gets synchronized to
// remote sites, along with the store the engine loads entities from.
package entity

import "time"

// Kind identifies a family of syncable entities. Document kinds are
// free-form (post, page, custom kinds); KindProduct selects the commerce
// pipeline when commerce support is enabled.
type Kind string

// KindProduct is the commerce entity kind.
const KindProduct Kind = "product"

// Document is a generic content entity (post, page, or a custom kind).
type Document struct {
	ID          int64     `yaml:"id" json:"id"`
	Kind        Kind      `yaml:"kind" json:"kind"`
	Date        time.Time `yaml:"date" json:"date"`
	DateGMT     time.Time `yaml:"dateGmt" json:"date_gmt"`
	Modified    time.Time `yaml:"modified" json:"modified"`
	ModifiedGMT time.Time `yaml:"modifiedGmt" json:"modified_gmt"`
	Slug        string    `yaml:"slug" json:"slug"`
	Status      string    `yaml:"status" json:"status"`
	Title       string    `yaml:"title" json:"title"`
	Content     string    `yaml:"content" json:"content"`
	Excerpt     string    `yaml:"excerpt,omitempty" json:"excerpt,omitempty"`
	Password    string    `yaml:"password,omitempty" json:"password,omitempty"`
	Template    string    `yaml:"template,omitempty" json:"template,omitempty"`

	// Parent is the local id of the parent document, 0 when none.
	Parent int64 `yaml:"parent,omitempty" json:"parent,omitempty"`

	// Meta is the custom-field map attached during enrichment.
	Meta map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`

	// Terms maps taxonomy name to local term ids.
	Terms map[string][]int64 `yaml:"terms,omitempty" json:"terms,omitempty"`

	// FeaturedImage is the local asset id of the featured image, 0 when none.
	FeaturedImage int64 `yaml:"featuredImage,omitempty" json:"featured_image,omitempty"`
}

// Download is a downloadable file attached to a product.
type Download struct {
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

// Attribute is a product attribute with its option values.
type Attribute struct {
	Name      string   `yaml:"name" json:"name"`
	Options   []string `yaml:"options" json:"options"`
	Visible   bool     `yaml:"visible" json:"visible"`
	Variation bool     `yaml:"variation" json:"variation"`
}

// Image references a local asset used in product galleries.
type Image struct {
	ID  int64  `yaml:"id" json:"id"`
	Src string `yaml:"src" json:"src"`
	Alt string `yaml:"alt,omitempty" json:"alt,omitempty"`
}

// Variation is a purchasable sub-item of a variable product.
type Variation struct {
	ID           int64             `yaml:"id" json:"id"`
	SKU          string            `yaml:"sku,omitempty" json:"sku,omitempty"`
	RegularPrice string            `yaml:"regularPrice,omitempty" json:"regular_price,omitempty"`
	SalePrice    string            `yaml:"salePrice,omitempty" json:"sale_price,omitempty"`
	StockStatus  string            `yaml:"stockStatus,omitempty" json:"stock_status,omitempty"`
	Attributes   map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Product is a commerce entity with pricing, stock and taxonomy data.
type Product struct {
	ID                int64  `yaml:"id" json:"id"`
	Name              string `yaml:"name" json:"name"`
	Slug              string `yaml:"slug" json:"slug"`
	Description       string `yaml:"description" json:"description"`
	ShortDescription  string `yaml:"shortDescription,omitempty" json:"short_description,omitempty"`
	Status            string `yaml:"status" json:"status"`
	Type              string `yaml:"type" json:"type"`
	SKU               string `yaml:"sku,omitempty" json:"sku,omitempty"`
	SoldIndividually  bool   `yaml:"soldIndividually,omitempty" json:"sold_individually,omitempty"`
	PurchaseNote      string `yaml:"purchaseNote,omitempty" json:"purchase_note,omitempty"`
	MenuOrder         int    `yaml:"menuOrder,omitempty" json:"menu_order,omitempty"`
	ReviewsAllowed    bool   `yaml:"reviewsAllowed,omitempty" json:"reviews_allowed,omitempty"`
	CatalogVisibility string `yaml:"catalogVisibility,omitempty" json:"catalog_visibility,omitempty"`
	Featured          bool   `yaml:"featured,omitempty" json:"featured,omitempty"`

	RegularPrice string `yaml:"regularPrice,omitempty" json:"regular_price,omitempty"`
	SalePrice    string `yaml:"salePrice,omitempty" json:"sale_price,omitempty"`

	ManageStock   bool   `yaml:"manageStock,omitempty" json:"manage_stock,omitempty"`
	StockQuantity *int   `yaml:"stockQuantity,omitempty" json:"stock_quantity,omitempty"`
	StockStatus   string `yaml:"stockStatus,omitempty" json:"stock_status,omitempty"`
	Weight        string `yaml:"weight,omitempty" json:"weight,omitempty"`
	Length        string `yaml:"length,omitempty" json:"length,omitempty"`
	Width         string `yaml:"width,omitempty" json:"width,omitempty"`
	Height        string `yaml:"height,omitempty" json:"height,omitempty"`

	Downloadable bool       `yaml:"downloadable,omitempty" json:"downloadable,omitempty"`
	Downloads    []Download `yaml:"downloads,omitempty" json:"downloads,omitempty"`

	Images     []Image     `yaml:"images,omitempty" json:"images,omitempty"`
	Attributes []Attribute `yaml:"attributes,omitempty" json:"attributes,omitempty"`

	// UpsellIDs and CrossSellIDs reference other local products.
	UpsellIDs    []int64 `yaml:"upsellIds,omitempty" json:"upsell_ids,omitempty"`
	CrossSellIDs []int64 `yaml:"crossSellIds,omitempty" json:"cross_sell_ids,omitempty"`

	Meta map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`

	// Local term ids per taxonomy kind.
	Tags       []int64 `yaml:"tags,omitempty" json:"tags,omitempty"`
	Categories []int64 `yaml:"categories,omitempty" json:"categories,omitempty"`
	Brands     []int64 `yaml:"brands,omitempty" json:"brands,omitempty"`

	Variations []Variation `yaml:"variations,omitempty" json:"variations,omitempty"`
}

// Term is a taxonomy term in the local store.
type Term struct {
	ID       int64  `yaml:"id" json:"id"`
	Taxonomy string `yaml:"taxonomy" json:"taxonomy"`
	Name     string `yaml:"name" json:"name"`
	Slug     string `yaml:"slug" json:"slug"`
}

// Asset is a media item (image or file) in the local store.
type Asset struct {
	ID   int64  `yaml:"id" json:"id"`
	Slug string `yaml:"slug" json:"slug"`
	URL  string `yaml:"url" json:"url"`
	Alt  string `yaml:"alt,omitempty" json:"alt,omitempty"`
	Mime string `yaml:"mime,omitempty" json:"mime,omitempty"`
}
