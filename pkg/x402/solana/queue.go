package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"

	"github.com/cedrosgw/gateway/internal/logger"
	"github.com/cedrosgw/gateway/pkg/x402"
)

const (
	// TxTimeout is the timeout for sending and confirming individual transactions.
	TxTimeout = 30 * time.Second

	// TxConfirmTimeout is the timeout for waiting for transaction confirmation.
	TxConfirmTimeout = 60 * time.Second

	// MaxTxRetries is the maximum number of times to retry a rate-limited transaction.
	MaxTxRetries = 3

	// retryBaseDelay is the base exponential-backoff delay for rate-limited retries.
	retryBaseDelay = 300 * time.Millisecond
	// retryMultiplier is the exponential-backoff growth factor.
	retryMultiplier = 2.0
	// retryCap bounds the backoff delay.
	retryCap = 2 * time.Second

	// drainTimeout is how long Shutdown waits for in-flight sends to finish.
	drainTimeout = 5 * time.Second

	minQueueCapacity = 10
	maxQueueCapacity = 1000
)

// ErrQueueClosed is returned by Submit once Shutdown has been called.
var ErrQueueClosed = errors.New("x402 solana: transaction queue closed")

// ErrQueueTimeout is returned when a submission is dropped because it sat in
// the queue longer than TxTimeout before a dispatcher slot opened up.
var ErrQueueTimeout = errors.New("x402 solana: transaction queue timeout")

// ErrRateLimited is returned when a submission exhausts MaxTxRetries against
// a rate-limiting RPC endpoint.
var ErrRateLimited = errors.New("x402 solana: rate limited")

// submission is one outbound transaction request awaiting a dispatcher slot.
type submission struct {
	id          string
	transaction *solana.Transaction
	opts        rpc.TransactionOpts
	requirement x402.Requirement
	enqueuedAt  time.Time
	retries     int
	result      chan submitResult
}

type submitResult struct {
	signature string
	err       error
}

// TransactionQueue rate-limits outbound chain submissions: a bounded channel
// holds pending submissions, a semaphore enforces max_in_flight, and a
// mutex-guarded "next send slot" reservation prevents two dispatches from
// claiming the same send window.
type TransactionQueue struct {
	ch          chan *submission
	sem         chan struct{}
	minInterval time.Duration
	maxInFlight int

	rpcClient *rpc.Client
	verifier  *SolanaVerifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool

	slotMu     sync.Mutex
	nextSendAt time.Time
}

// clampCapacity sizes the bounded channel to 10x max_in_flight, clamped to
// [10,1000].
func clampCapacity(maxInFlight int) int {
	cap := maxInFlight * 10
	if cap < minQueueCapacity {
		cap = minQueueCapacity
	}
	if cap > maxQueueCapacity {
		cap = maxQueueCapacity
	}
	return cap
}

// NewTransactionQueue creates the queue. minTimeBetween is the minimum
// interval enforced between successive dispatcher sends; maxInFlight bounds
// the number of concurrently in-flight RPC submissions.
func NewTransactionQueue(rpcClient *rpc.Client, verifier *SolanaVerifier, minTimeBetween time.Duration, maxInFlight int) *TransactionQueue {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TransactionQueue{
		ch:          make(chan *submission, clampCapacity(maxInFlight)),
		sem:         make(chan struct{}, maxInFlight),
		minInterval: minTimeBetween,
		maxInFlight: maxInFlight,
		rpcClient:   rpcClient,
		verifier:    verifier,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the dispatcher goroutine.
func (q *TransactionQueue) Start() {
	q.wg.Add(1)
	go q.dispatch()
	log.Info().
		Dur("min_time_between", q.minInterval).
		Int("max_in_flight", q.maxInFlight).
		Int("queue_capacity", cap(q.ch)).
		Msg("transaction_queue.started")
}

// Submit enqueues a transaction and blocks until it has been sent (or
// definitively failed). Returns the accepted signature, or one of
// ErrQueueClosed, ErrQueueTimeout, ErrRateLimited, or the underlying send
// error.
func (q *TransactionQueue) Submit(ctx context.Context, id string, tx *solana.Transaction, opts rpc.TransactionOpts, req x402.Requirement) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	sub := &submission{
		id:          id,
		transaction: tx,
		opts:        opts,
		requirement: req,
		enqueuedAt:  time.Now(),
		result:      make(chan submitResult, 1),
	}

	select {
	case q.ch <- sub:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-q.ctx.Done():
		return "", ErrQueueClosed
	}

	select {
	case res := <-sub.result:
		return res.signature, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// dispatch is the single goroutine draining q.ch and fanning sends out to
// per-request goroutines once a semaphore permit and send slot are secured.
func (q *TransactionQueue) dispatch() {
	defer q.wg.Done()

	for {
		var sub *submission
		select {
		case sub = <-q.ch:
		case <-q.ctx.Done():
			return
		}

		if time.Since(sub.enqueuedAt) > TxTimeout {
			sub.result <- submitResult{err: ErrQueueTimeout}
			continue
		}

		select {
		case q.sem <- struct{}{}:
		case <-q.ctx.Done():
			sub.result <- submitResult{err: ErrQueueClosed}
			return
		}

		wait := q.reserveSendSlot()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				<-q.sem
				sub.result <- submitResult{err: ErrQueueClosed}
				return
			}
			timer.Stop()
		}

		q.wg.Add(1)
		go q.process(sub)
	}
}

// reserveSendSlot atomically claims the next send window: under a short
// lock it computes how long the caller must wait for nextSendAt, then pushes
// nextSendAt forward by that wait plus minInterval *before* releasing the
// lock, so a second concurrent reservation can never land on the same slot.
func (q *TransactionQueue) reserveSendSlot() time.Duration {
	q.slotMu.Lock()
	defer q.slotMu.Unlock()

	now := time.Now()
	wait := time.Duration(0)
	if q.nextSendAt.After(now) {
		wait = q.nextSendAt.Sub(now)
	}
	q.nextSendAt = now.Add(wait + q.minInterval)
	return wait
}

// process sends one transaction, retrying rate-limited failures with
// exponential backoff, and always releases its semaphore permit — even on
// panic — via the deferred scope guard.
func (q *TransactionQueue) process(sub *submission) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	ctx, cancel := context.WithTimeout(q.ctx, TxTimeout)
	defer cancel()

	sig, err := q.rpcClient.SendTransactionWithOpts(ctx, sub.transaction, sub.opts)
	if err != nil {
		if isAlreadyProcessedError(err) {
			firstSig := firstSignature(sub.transaction)
			sub.result <- submitResult{signature: firstSig}
			return
		}

		if isRateLimitError(err) && sub.retries < MaxTxRetries {
			sub.retries++
			backoff := retryBackoff(sub.retries)

			log.Warn().
				Str("tx_id", sub.id).
				Int("retry", sub.retries).
				Int("max_retries", MaxTxRetries).
				Dur("backoff", backoff).
				Msg("transaction_queue.rate_limited")

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				sub.result <- submitResult{err: ErrQueueClosed}
				return
			}
			timer.Stop()

			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				select {
				case q.ch <- sub:
				case <-q.ctx.Done():
					sub.result <- submitResult{err: ErrQueueClosed}
				}
			}()
			return
		}

		if isRateLimitError(err) {
			sub.result <- submitResult{err: fmt.Errorf("%w: %v", ErrRateLimited, err)}
			return
		}

		log.Error().Err(err).Str("tx_id", sub.id).Msg("transaction_queue.send_failed")
		sub.result <- submitResult{err: err}
		return
	}

	log.Debug().
		Str("tx_id", sub.id).
		Str("signature", logger.TruncateAddress(sig.String())).
		Msg("transaction_queue.sent")

	confirmCtx, confirmCancel := context.WithTimeout(q.ctx, TxConfirmTimeout)
	defer confirmCancel()

	commitment := rpc.CommitmentConfirmed
	if sub.opts.MaxRetries != nil && *sub.opts.MaxRetries > 0 {
		commitment = rpc.CommitmentFinalized
	}

	if err := q.verifier.awaitConfirmation(confirmCtx, sig, commitment); err != nil {
		log.Error().
			Err(err).
			Str("tx_id", sub.id).
			Str("signature", logger.TruncateAddress(sig.String())).
			Msg("transaction_queue.confirmation_failed")
		sub.result <- submitResult{err: err}
		return
	}

	log.Info().
		Str("tx_id", sub.id).
		Str("signature", logger.TruncateAddress(sig.String())).
		Msg("transaction_queue.confirmed")
	sub.result <- submitResult{signature: sig.String()}
}

// retryBackoff implements base(300ms) * multiplier(2.0)^(attempt-1), capped.
func retryBackoff(attempt int) time.Duration {
	d := float64(retryBaseDelay)
	for i := 1; i < attempt; i++ {
		d *= retryMultiplier
	}
	backoff := time.Duration(d)
	if backoff > retryCap {
		backoff = retryCap
	}
	return backoff
}

func firstSignature(tx *solana.Transaction) string {
	if tx == nil || len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0].String()
}

// isRateLimitError checks if error is a rate limit.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle")
}

// Shutdown stops accepting new submissions, then gives in-flight sends up to
// drainTimeout to finish before returning.
func (q *TransactionQueue) Shutdown() {
	log.Info().Msg("transaction_queue.shutting_down")
	q.closed.Store(true)
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warn().Msg("transaction_queue.shutdown_drain_timed_out")
	}
	log.Info().Msg("transaction_queue.shutdown_complete")
}

// Stats returns queue stats.
func (q *TransactionQueue) Stats() map[string]int {
	return map[string]int{
		"queued":    len(q.ch),
		"in_flight": len(q.sem),
	}
}
