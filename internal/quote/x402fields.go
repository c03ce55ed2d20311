package quote

import (
	"fmt"
	"strconv"
	"time"
)

// X402Options carries the varying parameters for building an x402 quote's
// fields, consolidating logic shared by cart and refund quote construction
// (paywall's buildX402Quote is the only caller).
type X402Options struct {
	ResourceID            string
	AtomicAmount          uint64 // Amount in atomic units (e.g., lamports, micro-USDC)
	Token                 string
	Network               string
	TokenMint             string
	TokenDecimals         int
	PayToAddress          string // Wallet address for payTo field
	RecipientTokenAccount string // Actual token account for transaction building
	Description           string
	MemoPrefix            string
	ExpiresAt             time.Time
	FeePayer              string // Non-empty enables gasless transactions
}

// X402Fields is the scheme-agnostic shape of an x402 paymentRequirements
// entry, independent of any particular HTTP response envelope.
type X402Fields struct {
	Scheme            string
	Network           string
	MaxAmountRequired string
	Resource          string
	Description       string
	MimeType          string
	PayTo             string
	MaxTimeoutSeconds int
	Asset             string
	Extra             map[string]any
}

// BuildX402Fields assembles the common x402 quote fields for the Solana SPL
// transfer scheme. IMPORTANT: AtomicAmount must come from Money.Atomic
// directly to avoid float64 precision loss.
func BuildX402Fields(opts X402Options) X402Fields {
	extra := map[string]any{
		"recipientTokenAccount": opts.RecipientTokenAccount,
		"decimals":              opts.TokenDecimals,
		"tokenSymbol":           opts.Token,
		"memo":                  fmt.Sprintf("%s:%s", opts.MemoPrefix, opts.ResourceID),
	}

	if opts.FeePayer != "" {
		extra["feePayer"] = opts.FeePayer
	}

	return X402Fields{
		Scheme:            "solana-spl-transfer",
		Network:           opts.Network,
		MaxAmountRequired: strconv.FormatUint(opts.AtomicAmount, 10),
		Resource:          opts.ResourceID,
		Description:       opts.Description,
		MimeType:          "application/json",
		PayTo:             opts.PayToAddress,
		MaxTimeoutSeconds: int(time.Until(opts.ExpiresAt).Seconds()),
		Asset:             opts.TokenMint,
		Extra:             extra,
	}
}
