package quote

import (
	"testing"
	"time"

	"github.com/cedrosgw/gateway/internal/coupons"
	"github.com/cedrosgw/gateway/internal/money"
)

func TestIsUSDPegged(t *testing.T) {
	cases := map[string]bool{
		"USD": true, "usdc": true, "USDT": true, "PYUSD": true, "cash": true,
		"SOL": false, "": false,
	}
	for code, want := range cases {
		if got := IsUSDPegged(code); got != want {
			t.Errorf("IsUSDPegged(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestStackOnMoneyPercentageThenFixed(t *testing.T) {
	usd, err := money.GetAsset("USD")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	price := money.New(usd, 1000) // $10.00

	applicable := []coupons.Coupon{
		{Code: "TEN", DiscountType: coupons.DiscountTypePercentage, DiscountValue: 10},
		{Code: "TWENTY", DiscountType: coupons.DiscountTypePercentage, DiscountValue: 20},
		{Code: "BUCK", DiscountType: coupons.DiscountTypeFixed, DiscountValue: 1, Currency: "USD"},
	}

	got, err := StackOnMoney(price, applicable, money.RoundingStandard)
	if err != nil {
		t.Fatalf("StackOnMoney: %v", err)
	}
	// $10 * 0.9 * 0.8 = $7.20, minus $1 = $6.20 = 620 atomic
	if got.Atomic != 620 {
		t.Errorf("got.Atomic = %d, want 620", got.Atomic)
	}
}

func TestStackOnMoneyFixedSkippedWhenCurrencyMismatch(t *testing.T) {
	usd, _ := money.GetAsset("USD")
	price := money.New(usd, 1000)

	applicable := []coupons.Coupon{
		{Code: "BUCK", DiscountType: coupons.DiscountTypeFixed, DiscountValue: 1, Currency: "SOL"},
	}

	got, err := StackOnMoney(price, applicable, money.RoundingStandard)
	if err != nil {
		t.Fatalf("StackOnMoney: %v", err)
	}
	if got.Atomic != 1000 {
		t.Errorf("got.Atomic = %d, want 1000 (discount skipped)", got.Atomic)
	}
}

func TestStackOnMoneyEmptyCoupons(t *testing.T) {
	usd, _ := money.GetAsset("USD")
	price := money.New(usd, 1000)

	got, err := StackOnMoney(price, nil, money.RoundingStandard)
	if err != nil {
		t.Fatalf("StackOnMoney: %v", err)
	}
	if got.Atomic != price.Atomic {
		t.Errorf("got.Atomic = %d, want unchanged %d", got.Atomic, price.Atomic)
	}
}

func TestBuildX402FieldsGasless(t *testing.T) {
	fields := BuildX402Fields(X402Options{
		ResourceID:            "product-1",
		AtomicAmount:          500000,
		Token:                 "USDC",
		Network:               "solana",
		TokenMint:             "mintaddr",
		TokenDecimals:         6,
		PayToAddress:          "payTo",
		RecipientTokenAccount: "tokenAccount",
		Description:           "desc",
		MemoPrefix:            "cedrospay",
		ExpiresAt:             time.Now().Add(time.Minute),
		FeePayer:              "feepayer-pubkey",
	})

	if fields.Scheme != "solana-spl-transfer" {
		t.Errorf("Scheme = %q", fields.Scheme)
	}
	if fields.MaxAmountRequired != "500000" {
		t.Errorf("MaxAmountRequired = %q, want 500000", fields.MaxAmountRequired)
	}
	if fields.Extra["feePayer"] != "feepayer-pubkey" {
		t.Errorf("Extra[feePayer] = %v, want set", fields.Extra["feePayer"])
	}
	if fields.Extra["memo"] != "cedrospay:product-1" {
		t.Errorf("Extra[memo] = %v", fields.Extra["memo"])
	}
}

func TestBuildX402FieldsNoFeePayer(t *testing.T) {
	fields := BuildX402Fields(X402Options{
		ResourceID: "product-1",
		ExpiresAt:  time.Now().Add(time.Minute),
	})
	if _, ok := fields.Extra["feePayer"]; ok {
		t.Error("Extra[feePayer] set when FeePayer option empty")
	}
}
