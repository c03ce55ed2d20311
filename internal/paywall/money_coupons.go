package paywall

import (
	"github.com/cedrosgw/gateway/internal/coupons"
	"github.com/cedrosgw/gateway/internal/money"
	"github.com/cedrosgw/gateway/internal/quote"
)

// isUSDPegged checks if an asset code is USD or a USD-pegged stablecoin.
// Returns true for USD, USDC, USDT, PYUSD, CASH (case-insensitive).
// This allows fixed-amount discounts to work across all USD-equivalent assets.
func isUSDPegged(assetCode string) bool {
	return quote.IsUSDPegged(assetCode)
}

// StackCouponsOnMoney applies multiple coupons to a Money amount using proper
// integer arithmetic. See quote.StackOnMoney for the stacking order and
// rounding rules.
func StackCouponsOnMoney(originalPrice money.Money, applicableCoupons []coupons.Coupon, roundingMode money.RoundingMode) (money.Money, error) {
	return quote.StackOnMoney(originalPrice, applicableCoupons, roundingMode)
}
