package quote

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

// RateSource fetches a single token's THB rate. All non-mock sources fall
// through to the mock on upstream failure.
type RateSource interface {
	GetRate(ctx context.Context, token models.Token) (models.ExchangeRate, error)
}

// baseRates are the mock engine's deterministic starting points, in THB.
var baseRates = map[models.Token]decimal.Decimal{
	models.TokenUSDT: decimal.NewFromFloat(35.50),
	models.TokenUSDC: decimal.NewFromFloat(35.48),
	models.TokenETH:  decimal.NewFromFloat(124000.00),
}

// MockRateSource returns deterministic base rates perturbed by small bounded
// noise, used directly in demo mode and as the fallback for every other
// source.
type MockRateSource struct{}

func (MockRateSource) GetRate(_ context.Context, token models.Token) (models.ExchangeRate, error) {
	base, ok := baseRates[token]
	if !ok {
		return models.ExchangeRate{}, errors.New("quote: unsupported token")
	}
	now := time.Now().UTC()
	noise := boundedNoise(base)
	return models.ExchangeRate{
		Token:      token,
		Fiat:       "THB",
		Rate:       base.Add(noise),
		Source:     "mock",
		Timestamp:  now,
		ValidUntil: now.Add(RateValidityWindow),
	}, nil
}

// boundedNoise returns a random perturbation within ±0.25% of base, using
// crypto/rand for the entropy source (no cooperative-scheduler concerns; a
// deterministic PRNG would make demo quotes trivially fingerprintable).
func boundedNoise(base decimal.Decimal) decimal.Decimal {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return decimal.Zero
	}
	v := binary.BigEndian.Uint64(buf[:])
	// Map to [-1, 1] then scale to ±0.25% of base.
	frac := float64(v%2000)/1000.0 - 1.0
	pct := decimal.NewFromFloat(frac * 0.0025)
	return base.Mul(pct)
}

// ThaiLocalRateSource wraps an upstream Thai-market ticker fetch behind the
// RateSource interface, falling back to the mock source on any error.
type ThaiLocalRateSource struct {
	Fetch    func(ctx context.Context, token models.Token) (decimal.Decimal, error)
	Fallback RateSource
	Log      logging.Logger
}

func (s ThaiLocalRateSource) GetRate(ctx context.Context, token models.Token) (models.ExchangeRate, error) {
	if s.Fetch == nil {
		return s.fallback().GetRate(ctx, token)
	}
	rate, err := s.Fetch(ctx, token)
	if err != nil {
		s.logFallback("thai_local", token, err)
		return s.fallback().GetRate(ctx, token)
	}
	now := time.Now().UTC()
	return models.ExchangeRate{
		Token:      token,
		Fiat:       "THB",
		Rate:       rate,
		Source:     "thai_local",
		Timestamp:  now,
		ValidUntil: now.Add(RateValidityWindow),
	}, nil
}

func (s ThaiLocalRateSource) fallback() RateSource {
	if s.Fallback != nil {
		return s.Fallback
	}
	return MockRateSource{}
}

func (s ThaiLocalRateSource) logFallback(source string, token models.Token, err error) {
	if s.Log == nil {
		return
	}
	s.Log.Warn("rate source fallback to mock", map[string]any{
		"source": source, "token": string(token), "error": err.Error(),
	})
}

// GlobalRateSource wraps a global exchange-rate provider (e.g. a
// Binance-style ticker), also falling back to the mock source on failure.
type GlobalRateSource struct {
	Fetch    func(ctx context.Context, token models.Token) (decimal.Decimal, error)
	Fallback RateSource
	Log      logging.Logger
}

func (s GlobalRateSource) GetRate(ctx context.Context, token models.Token) (models.ExchangeRate, error) {
	if s.Fetch == nil {
		return s.fallback().GetRate(ctx, token)
	}
	rate, err := s.Fetch(ctx, token)
	if err != nil {
		s.logFallback("global", token, err)
		return s.fallback().GetRate(ctx, token)
	}
	now := time.Now().UTC()
	return models.ExchangeRate{
		Token:      token,
		Fiat:       "THB",
		Rate:       rate,
		Source:     "global",
		Timestamp:  now,
		ValidUntil: now.Add(RateValidityWindow),
	}, nil
}

func (s GlobalRateSource) fallback() RateSource {
	if s.Fallback != nil {
		return s.Fallback
	}
	return MockRateSource{}
}

func (s GlobalRateSource) logFallback(source string, token models.Token, err error) {
	if s.Log == nil {
		return
	}
	s.Log.Warn("rate source fallback to mock", map[string]any{
		"source": source, "token": string(token), "error": err.Error(),
	})
}
