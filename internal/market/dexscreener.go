// internal/market/dexscreener.go
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://api.dexscreener.com"
	DefaultSOLPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

	defaultRateLimit  = 300 // requests per minute
	defaultRetries    = 3
	solanaChain       = "solana"
	maxBoostedLookups = 30
	hydrateWorkers    = 4
	maxResponseBytes  = 4 << 20
)

// DefaultSearchQueries are the DexScreener search terms used to find
// trending memecoin pairs.
var DefaultSearchQueries = []string{
	"memecoin", "meme", "pump", "cat", "dog", "pepe", "raydium", "ai", "trump", "gork",
}

// baseAssets are never offered as candidates.
var baseAssets = map[string]bool{
	"USDC": true, "USDT": true, "SOL": true, "WSOL": true,
	"WBTC": true, "WETH": true, "RAY": true, "BONK": true,
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL           string
	SOLPriceURL       string
	RequestsPerMinute int
	Retries           int
	RetryInterval     time.Duration
	HTTPTimeout       time.Duration
	SOLPriceTTL       time.Duration
	SOLPriceFallback  float64
	SearchQueries     []string
	Now               func() time.Time
}

// Client is a Provider backed by DexScreener with SOL/USD from CoinGecko.
type Client struct {
	http     *http.Client
	cfg      ClientConfig
	limiter  *rate.Limiter
	solPrice *PriceCache
	logger   *zap.Logger
}

// NewClient creates a market data client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SOLPriceURL == "" {
		cfg.SOLPriceURL = DefaultSOLPriceURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRateLimit
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if len(cfg.SearchQueries) == 0 {
		cfg.SearchQueries = DefaultSearchQueries
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 5),
		logger:  logger.Named("dexscreener"),
	}
	c.solPrice = NewPriceCache(c.fetchSOLPrice, cfg.SOLPriceTTL, cfg.SOLPriceFallback, cfg.Now, logger)
	return c
}

// pairInfo is one DexScreener pair.
type pairInfo struct {
	ChainID     string    `json:"chainId"`
	DexID       string    `json:"dexId"`
	PairAddress string    `json:"pairAddress"`
	BaseToken   tokenInfo `json:"baseToken"`
	PriceUSD    string    `json:"priceUsd"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	FDV float64 `json:"fdv"`
}

type tokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

type pairsResponse struct {
	Pairs []pairInfo `json:"pairs"`
}

// tokenListing is an entry of the boosts and profiles feeds.
type tokenListing struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

type coingeckoPrice struct {
	Solana struct {
		USD float64 `json:"usd"`
	} `json:"solana"`
}

func (p pairInfo) stats(fallbackContract string) Stats {
	price, _ := strconv.ParseFloat(p.PriceUSD, 64)
	contract := p.BaseToken.Address
	if contract == "" {
		contract = fallbackContract
	}
	return Stats{
		Symbol:         p.BaseToken.Symbol,
		Name:           p.BaseToken.Name,
		Contract:       contract,
		PairAddress:    p.PairAddress,
		DEX:            p.DexID,
		PriceUSD:       finite(price),
		Volume24h:      finite(p.Volume.H24),
		LiquidityUSD:   finite(p.Liquidity.USD),
		PriceChange1h:  finite(p.PriceChange.H1),
		PriceChange6h:  finite(p.PriceChange.H6),
		PriceChange24h: finite(p.PriceChange.H24),
		FDV:            finite(p.FDV),
	}
}

// TokenStats returns stats of the most liquid Solana pair for contract.
func (c *Client) TokenStats(ctx context.Context, contract string) (Stats, error) {
	pair, err := c.bestPair(ctx, contract)
	if err != nil {
		return Stats{}, err
	}
	return pair.stats(contract), nil
}

// SOLPriceUSD returns the cached SOL/USD price. It never fails; see PriceCache.
func (c *Client) SOLPriceUSD(ctx context.Context) (float64, error) {
	return c.solPrice.Get(ctx), nil
}

func (c *Client) bestPair(ctx context.Context, contract string) (pairInfo, error) {
	if _, err := solana.PublicKeyFromBase58(contract); err != nil {
		return pairInfo{}, fmt.Errorf("invalid contract %q: %w", contract, err)
	}

	var resp pairsResponse
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.cfg.BaseURL, contract)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return pairInfo{}, fmt.Errorf("token pairs %s: %w", contract, err)
	}
	if len(resp.Pairs) == 0 {
		return pairInfo{}, fmt.Errorf("token %s: %w", contract, ErrNoPairs)
	}

	candidates := make([]pairInfo, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		if p.ChainID == solanaChain {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = resp.Pairs
	}

	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best, nil
}

// Candidates discovers trending Solana tokens from the search, boosts and
// profiles feeds. Feed failures are logged and skipped.
func (c *Client) Candidates(ctx context.Context, q CandidateQuery) ([]Stats, error) {
	pairs := c.searchPairs(ctx)
	pairs = append(pairs, c.hydrate(ctx, c.listedAddresses(ctx))...)

	c.logger.Info("Found raw Solana pairs", zap.Int("count", len(pairs)))

	out := filterCandidates(pairs, q)
	c.logger.Info("Qualified tokens after filtering", zap.Int("count", len(out)))
	return out, ctx.Err()
}

func (c *Client) searchPairs(ctx context.Context) []pairInfo {
	results := make([][]pairInfo, len(c.cfg.SearchQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateWorkers)
	for i, query := range c.cfg.SearchQueries {
		g.Go(func() error {
			var resp pairsResponse
			endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", c.cfg.BaseURL, url.QueryEscape(query))
			if err := c.getJSON(gctx, endpoint, &resp); err != nil {
				c.logger.Warn("DexScreener search failed", zap.String("query", query), zap.Error(err))
				return nil
			}
			for _, p := range resp.Pairs {
				if p.ChainID == solanaChain {
					results[i] = append(results[i], p)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []pairInfo
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// listedAddresses collects Solana token addresses from the boosts feed
// followed by the profiles feed, without duplicates.
func (c *Client) listedAddresses(ctx context.Context) []string {
	seen := make(map[string]bool)
	var addrs []string

	for _, feed := range []string{"/token-boosts/latest/v1", "/token-profiles/latest/v1"} {
		var items []tokenListing
		if err := c.getJSON(ctx, c.cfg.BaseURL+feed, &items); err != nil {
			c.logger.Warn("DexScreener feed failed", zap.String("feed", feed), zap.Error(err))
			continue
		}
		for _, item := range items {
			if item.ChainID != solanaChain || item.TokenAddress == "" || seen[item.TokenAddress] {
				continue
			}
			seen[item.TokenAddress] = true
			addrs = append(addrs, item.TokenAddress)
		}
	}

	if len(addrs) > maxBoostedLookups {
		addrs = addrs[:maxBoostedLookups]
	}
	return addrs
}

// hydrate looks up the best Solana pair of each address, keeping feed order.
func (c *Client) hydrate(ctx context.Context, addrs []string) []pairInfo {
	results := make([]*pairInfo, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateWorkers)
	for i, addr := range addrs {
		g.Go(func() error {
			pair, err := c.bestPair(gctx, addr)
			if err != nil {
				c.logger.Debug("Skipping listed token", zap.String("contract", addr), zap.Error(err))
				return nil
			}
			if pair.ChainID == solanaChain {
				results[i] = &pair
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]pairInfo, 0, len(results))
	for _, p := range results {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func filterCandidates(pairs []pairInfo, q CandidateQuery) []Stats {
	seenSymbols := make(map[string]bool)
	seenContracts := make(map[string]bool)
	var out []Stats

	for _, p := range pairs {
		s := p.stats("")
		s.Symbol = strings.ToUpper(s.Symbol)
		if s.Symbol == "" || s.Contract == "" {
			continue
		}
		if seenSymbols[s.Symbol] || seenContracts[s.Contract] || baseAssets[s.Symbol] {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(s.Contract); err != nil {
			continue
		}
		if s.Volume24h < q.MinVolume || s.LiquidityUSD < q.MinLiquidity || !ValidPrice(s.PriceUSD) {
			continue
		}
		seenSymbols[s.Symbol] = true
		seenContracts[s.Contract] = true
		out = append(out, s)
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (c *Client) fetchSOLPrice(ctx context.Context) (float64, error) {
	var resp coingeckoPrice
	if err := c.getJSON(ctx, c.cfg.SOLPriceURL, &resp); err != nil {
		return 0, fmt.Errorf("sol price: %w", err)
	}
	if !ValidPrice(resp.Solana.USD) {
		return 0, errors.New("sol price: missing solana.usd")
	}
	return resp.Solana.USD, nil
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// getJSON performs a rate-limited GET with retries on network errors, 429 and
// 5xx, and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxInterval = c.cfg.RetryInterval * 10

	notify := func(err error, d time.Duration) {
		c.logger.Debug("Retrying request",
			zap.String("url", endpoint),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	operation := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxResponseBytes {
			return nil, backoff.Permanent(fmt.Errorf("response body exceeds %d bytes", maxResponseBytes))
		}
		if resp.StatusCode != http.StatusOK {
			serr := &statusError{Code: resp.StatusCode, Body: string(body)}
			if retryable(resp.StatusCode) {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.Retries)),
		backoff.WithNotify(notify))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
