package products

import (
	"context"
	"time"

	"github.com/cedrosgw/gateway/internal/cacheutil"
	"github.com/cedrosgw/gateway/internal/repocache"
)

// reverseIndex maps Stripe Price IDs back to product IDs, built from a full
// product listing and cached alongside the products it was built from.
type reverseIndex struct {
	priceIDToID map[string]string
	products    map[string]Product
}

// CachedRepository wraps a Repository with caching for ListProducts and lookups.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	cachedList    *repocache.Single[[]Product]
	cachedProduct *repocache.Keyed[string, Product]
	cachedIndex   *repocache.Single[reverseIndex]
}

// NewCachedRepository wraps a repository with a caching layer.
// cacheTTL determines how long the product list cache is valid.
// Set to 0 to disable caching (pass-through mode).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying:    underlying,
		cacheTTL:      cacheTTL,
		cachedList:    repocache.NewSingle[[]Product](cacheTTL),
		cachedProduct: repocache.NewKeyed[string, Product](cacheTTL),
		cachedIndex:   repocache.NewSingle[reverseIndex](cacheTTL),
	}
}

// GetProduct retrieves a product by ID with caching.
func (r *CachedRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	return r.cachedProduct.Get(id, func() (Product, error) {
		return r.underlying.GetProduct(ctx, id)
	})
}

// GetProductByStripePriceID retrieves a product by its Stripe Price ID with caching.
func (r *CachedRepository) GetProductByStripePriceID(ctx context.Context, stripePriceID string) (Product, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetProductByStripePriceID(ctx, stripePriceID)
	}

	idx, err := r.ensureReverseIndex(ctx)
	if err != nil {
		// Failed to build index - fall through to a direct lookup below.
		return r.underlying.GetProductByStripePriceID(ctx, stripePriceID)
	}

	productID, found := idx.priceIDToID[stripePriceID]
	if !found {
		// Not in index - fetch directly and seed both caches.
		product, err := r.underlying.GetProductByStripePriceID(ctx, stripePriceID)
		if err != nil {
			return Product{}, err
		}
		r.cachedProduct.Set(product.ID, product)
		return product, nil
	}

	// Use the product ID to get from cache
	return r.GetProduct(ctx, productID)
}

// ensureReverseIndex returns the cached stripePriceID -> productID index,
// rebuilding it from a full product listing when stale.
func (r *CachedRepository) ensureReverseIndex(ctx context.Context) (reverseIndex, error) {
	return r.cachedIndex.Get(func() (reverseIndex, error) {
		products, err := r.underlying.ListProducts(ctx)
		if err != nil {
			return reverseIndex{}, err
		}

		idx := reverseIndex{
			priceIDToID: make(map[string]string, len(products)),
			products:    make(map[string]Product, len(products)),
		}
		for _, p := range products {
			if p.StripePriceID != "" {
				idx.priceIDToID[p.StripePriceID] = p.ID
			}
			idx.products[p.ID] = p
			r.cachedProduct.Set(p.ID, p)
		}
		return idx, nil
	})
}

// ListProducts returns all active products with TTL-based caching.
func (r *CachedRepository) ListProducts(ctx context.Context) ([]Product, error) {
	return r.cachedList.Get(func() ([]Product, error) {
		return r.underlying.ListProducts(ctx)
	})
}

// InvalidateCache forces the next ListProducts call to fetch fresh data and clears all caches.
func (r *CachedRepository) InvalidateCache() {
	r.cachedList.Invalidate()
	r.cachedProduct.InvalidateAll()
	r.cachedIndex.Invalidate()
}

// CreateProduct creates a new product and invalidates the cache.
func (r *CachedRepository) CreateProduct(ctx context.Context, product Product) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.CreateProduct(ctx, product)
	})
}

// UpdateProduct updates an existing product and invalidates the cache.
func (r *CachedRepository) UpdateProduct(ctx context.Context, product Product) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.UpdateProduct(ctx, product)
	})
}

// DeleteProduct soft-deletes a product and invalidates the cache.
func (r *CachedRepository) DeleteProduct(ctx context.Context, id string) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.DeleteProduct(ctx, id)
	})
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
