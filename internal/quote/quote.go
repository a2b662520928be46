// Package quote implements the rate cache and fee-inclusive quote engine
// (C3): source-abstracted rate retrieval with caching, and construction of
// time-bounded PaymentQuote records.
package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateValidityWindow is how long a cached rate remains a cache hit.
const RateValidityWindow = 5 * time.Minute

// QuoteValidityWindow is how long a quote may be consumed before it expires.
const QuoteValidityWindow = 180 * time.Second

// DefaultMaxAmountTHB is the fallback ceiling when config does not override it.
const DefaultMaxAmountTHB = 10000

var (
	ErrAmountOutOfRange = errors.New("quote: amount out of range")
	ErrUnsupportedToken = errors.New("quote: unsupported token")
	ErrEmptyAccount     = errors.New("quote: promptpay account id is required")
	ErrQuoteNotFound    = errors.New("quote: not found")
	ErrQuoteExpired     = errors.New("quote: has expired")
)

// networkFeeTableTHB is the flat per-transfer network fee, in THB, charged
// regardless of amount.
var networkFeeTableTHB = map[models.Token]decimal.Decimal{
	models.TokenUSDT: decimal.NewFromInt(5),
	models.TokenUSDC: decimal.NewFromInt(5),
	models.TokenETH:  decimal.NewFromInt(15),
}

var serviceFeeRate = decimal.NewFromFloat(0.005)

// Cache holds the most recent rate per token, replaced (never mutated) on
// each refresh. A coarse lock guards the map per the cooperative-concurrency
// model: every mutation completes within a single map operation.
type Cache struct {
	mu     sync.Mutex
	rates  map[models.Token]models.ExchangeRate
	source RateSource
}

func NewCache(source RateSource) *Cache {
	if source == nil {
		source = MockRateSource{}
	}
	return &Cache{rates: make(map[models.Token]models.ExchangeRate), source: source}
}

// Get returns a cached rate if still valid, otherwise fetches, caches, and
// returns a fresh one.
func (c *Cache) Get(ctx context.Context, token models.Token) (models.ExchangeRate, error) {
	c.mu.Lock()
	cached, ok := c.rates[token]
	c.mu.Unlock()

	if ok && cached.ValidUntil.After(time.Now().UTC()) {
		return cached, nil
	}

	fresh, err := c.source.GetRate(ctx, token)
	if err != nil {
		return models.ExchangeRate{}, err
	}

	c.mu.Lock()
	c.rates[token] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// All returns a snapshot of every cached-or-freshly-fetched rate for the
// supported tokens, used by get_exchange_rates.
func (c *Cache) All(ctx context.Context) (map[models.Token]models.ExchangeRate, error) {
	out := make(map[models.Token]models.ExchangeRate, len(baseRates))
	for token := range baseRates {
		rate, err := c.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		out[token] = rate
	}
	return out, nil
}

// Engine constructs fee-inclusive quotes from cached rates and maintains the
// short-lived in-memory quote index, distinct from the order store so quotes
// can be evicted without losing orders.
type Engine struct {
	Cache        *Cache
	MaxAmountTHB decimal.Decimal

	mu     sync.Mutex
	quotes map[string]models.PaymentQuote
}

func NewEngine(cache *Cache, maxAmountTHB decimal.Decimal) *Engine {
	if maxAmountTHB.IsZero() {
		maxAmountTHB = decimal.NewFromInt(DefaultMaxAmountTHB)
	}
	return &Engine{
		Cache:        cache,
		MaxAmountTHB: maxAmountTHB,
		quotes:       make(map[string]models.PaymentQuote),
	}
}

// CreateQuote validates inputs, fetches the current rate, computes fees, and
// stores the resulting quote under a fresh id.
func (e *Engine) CreateQuote(ctx context.Context, amountTHB decimal.Decimal, token models.Token, promptPay models.PromptPayData) (models.PaymentQuote, error) {
	if amountTHB.LessThanOrEqual(decimal.Zero) {
		return models.PaymentQuote{}, ErrAmountOutOfRange
	}
	if amountTHB.GreaterThan(e.MaxAmountTHB) {
		return models.PaymentQuote{}, ErrAmountOutOfRange
	}
	if _, ok := networkFeeTableTHB[token]; !ok {
		return models.PaymentQuote{}, ErrUnsupportedToken
	}
	if promptPay.AccountID == "" {
		return models.PaymentQuote{}, ErrEmptyAccount
	}

	rate, err := e.Cache.Get(ctx, token)
	if err != nil {
		return models.PaymentQuote{}, err
	}

	networkFee := networkFeeTableTHB[token].Div(rate.Rate)
	baseCrypto := amountTHB.Div(rate.Rate)
	serviceFee := baseCrypto.Mul(serviceFeeRate)
	totalFee := networkFee.Add(serviceFee)
	amountCrypto := baseCrypto.Add(totalFee)

	now := time.Now().UTC()
	q := models.PaymentQuote{
		ID:           uuid.NewString(),
		AmountTHB:    amountTHB,
		AmountCrypto: amountCrypto,
		Token:        token,
		Rate:         rate,
		Fee: models.Fee{
			Network: networkFee,
			Service: serviceFee,
			Total:   totalFee,
		},
		PromptPay: promptPay,
		CreatedAt: now,
		ExpiresAt: now.Add(QuoteValidityWindow),
	}

	e.mu.Lock()
	e.quotes[q.ID] = q
	e.mu.Unlock()

	return q, nil
}

// Lookup returns a stored quote, failing if it is absent or expired.
func (e *Engine) Lookup(quoteID string) (models.PaymentQuote, error) {
	e.mu.Lock()
	q, ok := e.quotes[quoteID]
	e.mu.Unlock()

	if !ok {
		return models.PaymentQuote{}, ErrQuoteNotFound
	}
	if q.Expired(time.Now().UTC()) {
		return models.PaymentQuote{}, ErrQuoteExpired
	}
	return q, nil
}

// EvictExpired drops quotes past their expiry from the in-memory index. It
// may be called periodically; nothing requires it be called at all since
// eviction is a memory optimization, not a correctness requirement.
func (e *Engine) EvictExpired() {
	now := time.Now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, q := range e.quotes {
		if q.Expired(now) {
			delete(e.quotes, id)
		}
	}
}
