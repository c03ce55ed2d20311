// Package blockhash provides a single-flight cache of the chain's recent
// blockhash, so that bursts of concurrent transaction builds collapse into
// one outbound RPC call per TTL interval instead of one each.
package blockhash

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a fetched blockhash is considered fresh.
	DefaultTTL = time.Second
	// RPCTimeout bounds each outbound GetLatestBlockhash call.
	RPCTimeout = 10 * time.Second
	// waiterGrace is added to ttl when a concurrent caller waits for the
	// in-flight fetch rather than returning stale data immediately.
	waiterGrace = 200 * time.Millisecond
)

// Response is the value returned to callers: the cached blockhash, its last
// valid block height, and whether it was served from a stale cache entry
// rather than a fresh fetch.
type Response struct {
	Blockhash          string
	LastValidBlockHeight uint64
	Cached             bool
}

type entry struct {
	value   Response
	fetchAt time.Time
}

// Cache wraps rpc.Client.GetLatestBlockhash with a TTL cache and single-flight
// coalescing: readers take the fast path on a fresh cache hit; otherwise
// exactly one fetch is in flight at a time and all other callers either wait
// for it or fall back to the last known value.
type Cache struct {
	client *rpc.Client
	ttl    time.Duration
	group  singleflight.Group

	mu      sync.RWMutex
	current *entry
}

// New constructs a Cache with the default 1-second TTL.
func New(client *rpc.Client) *Cache {
	return NewWithTTL(client, DefaultTTL)
}

// NewWithTTL constructs a Cache with a custom TTL (primarily for tests).
func NewWithTTL(client *rpc.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns a fresh blockhash, fetching one if the cache is stale. Only one
// fetch is ever outstanding per Cache instance: concurrent callers during a
// fetch either block on it (up to ttl+200ms) or, if it's taking too long,
// return the last known value marked Cached=true so a slow RPC call never
// stalls every request path behind it.
func (c *Cache) Get(ctx context.Context) (Response, error) {
	if resp, ok := c.fresh(); ok {
		return resp, nil
	}

	resultCh := c.group.DoChan("blockhash", func() (any, error) {
		return c.fetch(ctx)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			if stale, ok := c.staleFallback(); ok {
				return stale, nil
			}
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	case <-time.After(c.ttl + waiterGrace):
		if stale, ok := c.staleFallback(); ok {
			return stale, nil
		}
		// No prior value to fall back on; wait out the fetch fully.
		res := <-resultCh
		if res.Err != nil {
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Cache) fresh() (Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Response{}, false
	}
	if time.Since(c.current.fetchAt) > c.ttl {
		return Response{}, false
	}
	return c.current.value, true
}

func (c *Cache) staleFallback() (Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Response{}, false
	}
	stale := c.current.value
	stale.Cached = true
	return stale, true
}

// fetch performs the actual RPC call under a bounded timeout. It always
// updates (or leaves untouched, on failure) the shared cache entry before
// returning, so that a panic mid-fetch can never leave other goroutines
// waiting forever: the singleflight.Group itself guarantees the "fetching"
// flag (internal to the group) clears and all waiters are released even if
// this function panics.
func (c *Cache) fetch(ctx context.Context) (Response, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()

	out, err := c.client.GetLatestBlockhash(fetchCtx, rpc.CommitmentFinalized)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		Blockhash:            out.Value.Blockhash.String(),
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		Cached:               false,
	}

	c.mu.Lock()
	c.current = &entry{value: resp, fetchAt: time.Now()}
	c.mu.Unlock()

	return resp, nil
}
