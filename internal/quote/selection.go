package quote

import (
	"context"
	"strings"

	"github.com/cedrosgw/gateway/internal/coupons"
)

// Scope controls which coupons are eligible at a given point in checkout.
type Scope int

const (
	// ScopeAll selects all coupons regardless of AppliesAt (used for Stripe payments).
	ScopeAll Scope = iota
	// ScopeCatalog selects only catalog-level coupons (product-specific).
	ScopeCatalog
	// ScopeCheckout selects only checkout-level coupons (site-wide).
	ScopeCheckout
)

// selectWithFilter is a generic coupon selector that applies a filter predicate.
func selectWithFilter(
	ctx context.Context,
	couponRepo coupons.Repository,
	productID string,
	paymentMethod coupons.PaymentMethod,
	manualCoupon *coupons.Coupon,
	filter func(coupons.Coupon) bool,
	manualCouponFilter func(*coupons.Coupon) bool,
) []coupons.Coupon {
	if couponRepo == nil {
		return nil
	}

	var result []coupons.Coupon
	seenCodes := make(map[string]bool)

	autoApplyCoupons, err := couponRepo.GetAutoApplyCouponsForPayment(ctx, productID, paymentMethod)
	if err == nil && len(autoApplyCoupons) > 0 {
		for _, c := range autoApplyCoupons {
			if filter == nil || filter(c) {
				result = append(result, c)
				seenCodes[c.Code] = true
			}
		}
	}

	if manualCoupon != nil && manualCoupon.AppliesToPaymentMethod(paymentMethod) {
		if manualCouponFilter == nil || manualCouponFilter(manualCoupon) {
			if !seenCodes[manualCoupon.Code] {
				result = append(result, *manualCoupon)
			}
		}
	}

	return result
}

// SelectForPayment is the unified coupon selector supporting all scopes:
// catalog (product-specific), checkout (site-wide), and all (Stripe).
func SelectForPayment(
	ctx context.Context,
	couponRepo coupons.Repository,
	productID string,
	paymentMethod coupons.PaymentMethod,
	manualCoupon *coupons.Coupon,
	scope Scope,
) []coupons.Coupon {
	switch scope {
	case ScopeAll:
		return selectWithFilter(ctx, couponRepo, productID, paymentMethod, manualCoupon, nil, nil)

	case ScopeCatalog:
		return selectWithFilter(
			ctx, couponRepo, productID, paymentMethod, manualCoupon,
			func(c coupons.Coupon) bool {
				return c.AppliesAt == coupons.AppliesAtCatalog
			},
			nil,
		)

	case ScopeCheckout:
		// Pass empty productID to match site-wide coupons.
		return selectWithFilter(
			ctx, couponRepo, "", paymentMethod, manualCoupon,
			func(c coupons.Coupon) bool {
				return c.AppliesAt == coupons.AppliesAtCheckout && c.Scope == coupons.ScopeAll
			},
			func(c *coupons.Coupon) bool {
				return c.Scope == coupons.ScopeAll
			},
		)

	default:
		return nil
	}
}

// FormatCodes joins coupon codes with commas. Returns empty string if no
// codes are provided; safe to call with nil or empty slices.
func FormatCodes(codes []string) string {
	if len(codes) == 0 {
		return ""
	}
	return strings.Join(codes, ",")
}
