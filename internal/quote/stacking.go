// Package quote implements the coupon-stacking and selection engine shared
// by every payment rail (Stripe, x402, credits) when building a price quote.
// It knows nothing about HTTP, storage, or a particular resource - it only
// turns a price plus a set of applicable coupons into a final price.
package quote

import (
	"fmt"
	"strings"

	"github.com/cedrosgw/gateway/internal/coupons"
	"github.com/cedrosgw/gateway/internal/money"
)

// formatFloat formats a float with up to 6 decimals, trimming trailing zeros.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// usdPeggedAssets lists asset codes treated as 1:1 equivalent for the
// purposes of applying a fixed-amount discount across rails.
var usdPeggedAssets = map[string]bool{
	"USD":   true, // Fiat USD (Stripe)
	"USDC":  true, // USD Coin (Circle)
	"USDT":  true, // Tether USD
	"PYUSD": true, // PayPal USD
	"CASH":  true, // CASH USD stablecoin
}

// IsUSDPegged reports whether an asset code is USD or a USD-pegged
// stablecoin (case-insensitive).
func IsUSDPegged(assetCode string) bool {
	return usdPeggedAssets[strings.ToUpper(assetCode)]
}

// StackOnMoney applies multiple coupons to a Money amount using integer
// arithmetic. Coupons are applied in a fixed order:
//  1. All percentage discounts, multiplicatively stacked.
//  2. All fixed-amount discounts, summed and applied last.
//
// A fixed discount only applies when both the coupon's own currency and the
// price's asset are USD-pegged; a coupon priced in a non-pegged currency
// can't be assumed 1:1 with a charge in a different asset.
func StackOnMoney(originalPrice money.Money, applicableCoupons []coupons.Coupon, roundingMode money.RoundingMode) (money.Money, error) {
	if len(applicableCoupons) == 0 {
		return originalPrice, nil
	}

	price := originalPrice
	var totalFixedDiscount money.Money

	for _, coupon := range applicableCoupons {
		switch coupon.DiscountType {
		case coupons.DiscountTypePercentage:
			discounted, err := price.ApplyPercentageDiscountWithRounding(coupon.DiscountValue, roundingMode)
			if err != nil {
				return money.Money{}, err
			}
			price = discounted

		case coupons.DiscountTypeFixed:
			if !IsUSDPegged(coupon.Currency) || !IsUSDPegged(originalPrice.Asset.Code) {
				continue
			}

			fixedDiscount, err := money.FromMajor(originalPrice.Asset, formatFloat(coupon.DiscountValue))
			if err != nil {
				continue // Skip invalid discount
			}

			if totalFixedDiscount.IsZero() {
				totalFixedDiscount = fixedDiscount
			} else if sum, err := totalFixedDiscount.Add(fixedDiscount); err == nil {
				totalFixedDiscount = sum
			}
		}
	}

	if !totalFixedDiscount.IsZero() {
		discounted, err := price.ApplyFixedDiscount(totalFixedDiscount)
		if err != nil {
			return money.Money{}, err
		}
		price = discounted
	}

	return price, nil
}

// StackOnFiatCents applies stacked coupons to a fiat price in cents (always
// USD for Stripe). Returns the final price in cents, or the original price
// on any internal error (fail safe).
func StackOnFiatCents(originalPriceCents int64, applicableCoupons []coupons.Coupon) int64 {
	if len(applicableCoupons) == 0 {
		return originalPriceCents
	}

	asset, err := money.GetAsset("USD")
	if err != nil {
		return originalPriceCents
	}

	priceMoney := money.New(asset, originalPriceCents)
	discounted, err := StackOnMoney(priceMoney, applicableCoupons, money.RoundingStandard)
	if err != nil {
		return originalPriceCents
	}

	return discounted.Atomic
}
