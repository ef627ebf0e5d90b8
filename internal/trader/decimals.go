package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Well-known mints on the target chain, seeded at startup.
const (
	NativeMint = "So11111111111111111111111111111111111111112"
	USDCMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// SPL tokens default to 9 decimals when the chain cannot be asked.
const defaultDecimals = 9

const (
	decimalsMaxAttempts  = 4
	decimalsBackoffBase  = 500 * time.Millisecond
	decimalsBackoffLimit = 30 * time.Second
)

// DecimalsCache lazily resolves token decimal exponents from the chain RPC
// and remembers them forever. Decimals are immutable post-mint, so entries
// are never invalidated.
type DecimalsCache struct {
	mu       sync.Mutex
	known    map[string]int
	inflight map[string]chan struct{}

	rpcURL     string
	stableMint string
	client     *http.Client
	sleep      func(time.Duration)
}

// NewDecimalsCache creates a cache bound to the given JSON-RPC endpoint, with
// the native mint and the stable mint pre-seeded. stableMint overrides the
// quote currency; empty selects USDC.
func NewDecimalsCache(rpcURL, stableMint string) *DecimalsCache {
	if stableMint == "" {
		stableMint = USDCMint
	}
	c := &DecimalsCache{
		known: map[string]int{
			NativeMint: 9,
			USDCMint:   6,
		},
		inflight:   make(map[string]chan struct{}),
		rpcURL:     rpcURL,
		stableMint: stableMint,
		client:     &http.Client{Timeout: 10 * time.Second},
		sleep:      time.Sleep,
	}
	// Mainstream SPL stables (USDC, USDT, PYUSD) are 6-decimal mints.
	c.known[stableMint] = 6
	return c
}

// StableMint returns the quote mint trades are denominated against.
func (c *DecimalsCache) StableMint() string {
	return c.stableMint
}

// Get returns the decimal exponent for a mint, fetching it on first use.
// Concurrent callers for the same mint share one RPC round trip. On
// exhausted retries the SPL default is cached and returned.
func (c *DecimalsCache) Get(ctx context.Context, mint string) int {
	c.mu.Lock()
	if d, ok := c.known[mint]; ok {
		c.mu.Unlock()
		return d
	}
	if ch, ok := c.inflight[mint]; ok {
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		d := c.known[mint]
		c.mu.Unlock()
		return d
	}
	ch := make(chan struct{})
	c.inflight[mint] = ch
	c.mu.Unlock()

	d, err := c.fetch(ctx, mint)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Int("default", defaultDecimals).
			Msg("decimals lookup failed, caching SPL default")
		d = defaultDecimals
	}

	c.mu.Lock()
	c.known[mint] = d
	delete(c.inflight, mint)
	c.mu.Unlock()
	close(ch)
	return d
}

// Seed stores a known decimal exponent, used by tests and startup wiring.
func (c *DecimalsCache) Seed(mint string, decimals int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[mint] = decimals
}

func (c *DecimalsCache) fetch(ctx context.Context, mint string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < decimalsMaxAttempts; attempt++ {
		d, retryAfter, err := c.fetchOnce(ctx, mint)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if attempt == decimalsMaxAttempts-1 {
			break
		}

		// A numeric Retry-After wins over the exponential schedule.
		delay := backoffDelay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
			if delay > decimalsBackoffLimit {
				delay = decimalsBackoffLimit
			}
		}
		c.sleep(delay)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("getAccountInfo %s: %w", mint, lastErr)
}

// fetchOnce performs one getAccountInfo round trip. A positive retryAfter
// comes from a 429 Retry-After header and pre-empts the exponential backoff.
func (c *DecimalsCache) fetchOnce(ctx context.Context, mint string) (int, time.Duration, error) {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getAccountInfo",
		"params":  []interface{}{mint, map[string]string{"encoding": "jsonParsed"}},
	})
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, parseErr := strconv.Atoi(h); parseErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return 0, retryAfter, fmt.Errorf("rpc rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}

	var parsed struct {
		Result struct {
			Value struct {
				Data struct {
					Parsed struct {
						Info struct {
							Decimals *int `json:"decimals"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"value"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, 0, fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return 0, 0, fmt.Errorf("rpc error: %s", parsed.Error.Message)
	}
	if parsed.Result.Value.Data.Parsed.Info.Decimals == nil {
		return 0, 0, fmt.Errorf("no decimals in account info")
	}
	return *parsed.Result.Value.Data.Parsed.Info.Decimals, 0, nil
}

// backoffDelay is base times 2^attempt, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(decimalsBackoffBase) * math.Pow(2, float64(attempt)))
	if d > decimalsBackoffLimit {
		d = decimalsBackoffLimit
	}
	return d
}
