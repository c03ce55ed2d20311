package paywall

import (
	"time"

	"github.com/cedrosgw/gateway/internal/quote"
)

// x402QuoteOptions contains the varying parameters for building x402 quotes.
type x402QuoteOptions struct {
	ResourceID            string
	AtomicAmount          uint64 // Amount in atomic units (e.g., lamports, micro-USDC)
	Token                 string
	PayToAddress          string // Wallet address for payTo field
	RecipientTokenAccount string // Actual token account for transaction building
	Description           string
	ExpiresAt             time.Time
	IncludeFeePayer       bool // Whether to include feePayer for gasless transactions
}

// buildX402Quote creates a CryptoQuote with common logic consolidated.
// It is shared by cart and refund quote building; GenerateQuote builds resource quotes itself.
// IMPORTANT: Pass atomic units directly (Money.Atomic) to avoid float64 precision loss.
func (s *Service) buildX402Quote(opts x402QuoteOptions) (*CryptoQuote, error) {
	feePayer := ""
	if opts.IncludeFeePayer {
		feePayer = s.getFeePayerPublicKey()
	}

	fields := quote.BuildX402Fields(quote.X402Options{
		ResourceID:            opts.ResourceID,
		AtomicAmount:          opts.AtomicAmount,
		Token:                 opts.Token,
		Network:               s.cfg.X402.Network,
		TokenMint:             s.cfg.X402.TokenMint,
		TokenDecimals:         s.cfg.X402.TokenDecimals,
		PayToAddress:          opts.PayToAddress,
		RecipientTokenAccount: opts.RecipientTokenAccount,
		Description:           opts.Description,
		MemoPrefix:            s.cfg.X402.MemoPrefix,
		ExpiresAt:             opts.ExpiresAt,
		FeePayer:              feePayer,
	})

	return &CryptoQuote{
		Scheme:            fields.Scheme,
		Network:           fields.Network,
		MaxAmountRequired: fields.MaxAmountRequired,
		Resource:          fields.Resource,
		Description:       fields.Description,
		MimeType:          fields.MimeType,
		PayTo:             fields.PayTo,
		MaxTimeoutSeconds: fields.MaxTimeoutSeconds,
		Asset:             fields.Asset,
		Extra:             fields.Extra,
	}, nil
}
