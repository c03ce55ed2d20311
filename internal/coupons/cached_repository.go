package coupons

import (
	"context"
	"time"

	"github.com/cedrosgw/gateway/internal/cacheutil"
	"github.com/cedrosgw/gateway/internal/repocache"
)

// CachedRepository wraps any Repository with a TTL-based cache.
type CachedRepository struct {
	underlying      Repository
	cacheTTL        time.Duration
	cachedCoupon    *repocache.Keyed[string, Coupon]
	cachedList      *repocache.Single[[]Coupon]
	cachedAutoApply *repocache.Keyed[PaymentMethod, map[string][]Coupon]
}

// NewCachedRepository wraps a repository with caching.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying:      underlying,
		cacheTTL:        cacheTTL,
		cachedCoupon:    repocache.NewKeyed[string, Coupon](cacheTTL),
		cachedList:      repocache.NewSingle[[]Coupon](cacheTTL),
		cachedAutoApply: repocache.NewKeyed[PaymentMethod, map[string][]Coupon](cacheTTL),
	}
}

// GetCoupon retrieves a coupon with caching.
func (r *CachedRepository) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	return r.cachedCoupon.Get(code, func() (Coupon, error) {
		return r.underlying.GetCoupon(ctx, code)
	})
}

// ListCoupons returns all coupons with caching.
func (r *CachedRepository) ListCoupons(ctx context.Context) ([]Coupon, error) {
	return r.cachedList.Get(func() ([]Coupon, error) {
		return r.underlying.ListCoupons(ctx)
	})
}

// GetAutoApplyCouponsForPayment delegates to the underlying repository (no caching).
func (r *CachedRepository) GetAutoApplyCouponsForPayment(ctx context.Context, productID string, paymentMethod PaymentMethod) ([]Coupon, error) {
	// Note: Auto-apply coupons are not cached separately as they are dynamic
	// based on productID and payment method. Delegate to underlying repository.
	return r.underlying.GetAutoApplyCouponsForPayment(ctx, productID, paymentMethod)
}

// GetAllAutoApplyCouponsForPayment returns auto-apply coupons for all products with caching.
func (r *CachedRepository) GetAllAutoApplyCouponsForPayment(ctx context.Context, paymentMethod PaymentMethod) (map[string][]Coupon, error) {
	return r.cachedAutoApply.Get(paymentMethod, func() (map[string][]Coupon, error) {
		return r.underlying.GetAllAutoApplyCouponsForPayment(ctx, paymentMethod)
	})
}

// CreateCoupon creates a coupon and invalidates cache.
func (r *CachedRepository) CreateCoupon(ctx context.Context, coupon Coupon) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.CreateCoupon(ctx, coupon)
	})
}

// UpdateCoupon updates a coupon and invalidates cache.
func (r *CachedRepository) UpdateCoupon(ctx context.Context, coupon Coupon) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.UpdateCoupon(ctx, coupon)
	})
}

// IncrementUsage increments usage and invalidates cache.
func (r *CachedRepository) IncrementUsage(ctx context.Context, code string) error {
	if err := r.underlying.IncrementUsage(ctx, code); err != nil {
		return err
	}

	// Invalidate only the specific coupon cache
	r.cachedCoupon.Forget(code)

	return nil
}

// DeleteCoupon deletes a coupon and invalidates cache.
func (r *CachedRepository) DeleteCoupon(ctx context.Context, code string) error {
	return cacheutil.WriteThrough(r.InvalidateCache, func() error {
		return r.underlying.DeleteCoupon(ctx, code)
	})
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}

// InvalidateCache forces the next operations to fetch fresh data.
func (r *CachedRepository) InvalidateCache() {
	r.cachedCoupon.InvalidateAll()
	r.cachedList.Invalidate()
	r.cachedAutoApply.InvalidateAll()
}
