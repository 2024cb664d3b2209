package entity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an entity does not exist in the store.
var ErrNotFound = errors.New("entity not found")

// Store provides read access to the local authoritative content.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store
type Store interface {
	// GetDocument returns the document with the given local id.
	// Returns ErrNotFound if it does not exist.
	GetDocument(ctx context.Context, id int64) (*Document, error)

	// GetProduct returns the product with the given local id.
	// Returns ErrNotFound if it does not exist.
	GetProduct(ctx context.Context, id int64) (*Product, error)

	// GetTerm returns the taxonomy term with the given local id.
	GetTerm(ctx context.Context, taxonomy string, id int64) (*Term, error)

	// GetAsset returns the media asset with the given local id.
	GetAsset(ctx context.Context, id int64) (*Asset, error)
}

// inMemoryStore is a Store backed by maps, used in tests and as the
// target of the file provider.
type inMemoryStore struct {
	mu        sync.RWMutex
	documents map[int64]*Document
	products  map[int64]*Product
	terms     map[string]map[int64]*Term
	assets    map[int64]*Asset
}

// NewInMemoryStore creates an empty in-memory entity store.
func NewInMemoryStore() *inMemoryStore { //nolint:revive // unexported-return is intentional, mirrors service impls
	return &inMemoryStore{
		documents: make(map[int64]*Document),
		products:  make(map[int64]*Product),
		terms:     make(map[string]map[int64]*Term),
		assets:    make(map[int64]*Asset),
	}
}

// PutDocument inserts or replaces a document.
func (s *inMemoryStore) PutDocument(doc *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
}

// PutProduct inserts or replaces a product.
func (s *inMemoryStore) PutProduct(p *Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutTerm inserts or replaces a taxonomy term.
func (s *inMemoryStore) PutTerm(term *Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.terms[term.Taxonomy]
	if !ok {
		byID = make(map[int64]*Term)
		s.terms[term.Taxonomy] = byID
	}
	byID[term.ID] = term
}

// PutAsset inserts or replaces a media asset.
func (s *inMemoryStore) PutAsset(asset *Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
}

func (s *inMemoryStore) GetDocument(_ context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	docCopy := *doc
	return &docCopy, nil
}

func (s *inMemoryStore) GetProduct(_ context.Context, id int64) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	productCopy := *p
	return &productCopy, nil
}

func (s *inMemoryStore) GetTerm(_ context.Context, taxonomy string, id int64) (*Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.terms[taxonomy]
	if !ok {
		return nil, ErrNotFound
	}
	term, ok := byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	termCopy := *term
	return &termCopy, nil
}

func (s *inMemoryStore) GetAsset(_ context.Context, id int64) (*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	assetCopy := *asset
	return &assetCopy, nil
}

// fileContent is the on-disk layout of a file-backed entity store.
type fileContent struct {
	Documents []*Document `yaml:"documents"`
	Products  []*Product  `yaml:"products"`
	Terms     []*Term     `yaml:"terms"`
	Assets    []*Asset    `yaml:"assets"`
}

// NewFileStore loads an entity store from a YAML file. The file is read
// once at startup; the engine never writes local entities.
func NewFileStore(path string) (Store, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from validated configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read entity file: %w", err)
	}

	var content fileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to parse entity file %s: %w", path, err)
	}

	store := NewInMemoryStore()
	for _, doc := range content.Documents {
		store.PutDocument(doc)
	}
	for _, p := range content.Products {
		store.PutProduct(p)
	}
	for _, term := range content.Terms {
		store.PutTerm(term)
	}
	for _, asset := range content.Assets {
		store.PutAsset(asset)
	}
	return store, nil
}
