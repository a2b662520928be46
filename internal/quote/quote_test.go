package quote

import (
	"context"
	"testing"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

func fixedRateSource(rate decimal.Decimal) RateSource {
	return fixedSource{rate: rate}
}

type fixedSource struct{ rate decimal.Decimal }

func (f fixedSource) GetRate(_ context.Context, token models.Token) (models.ExchangeRate, error) {
	return models.ExchangeRate{
		Token: token, Fiat: "THB", Rate: f.rate, Source: "fixed",
	}, nil
}

func TestCreateQuoteFeeMath(t *testing.T) {
	cache := NewCache(fixedRateSource(decimal.NewFromFloat(35.50)))
	engine := NewEngine(cache, decimal.NewFromInt(DefaultMaxAmountTHB))

	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(150), models.TokenUSDT, models.PromptPayData{AccountID: "0812345678"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	// 150/35.50 + 5/35.50 + (150/35.50)*0.005 = 4.2254 + 0.1408 + 0.0211 = 4.3873
	want := decimal.NewFromFloat(4.3873)
	diff := q.AmountCrypto.Sub(want).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.0005)) {
		t.Errorf("amountCrypto = %s, want ~%s (diff %s)", q.AmountCrypto, want, diff)
	}

	if !q.Fee.Total.Equal(q.Fee.Network.Add(q.Fee.Service)) {
		t.Errorf("fee.total != network + service")
	}
}

func TestCreateQuoteRejectsAmountOutOfRange(t *testing.T) {
	cache := NewCache(fixedRateSource(decimal.NewFromFloat(35.50)))
	engine := NewEngine(cache, decimal.NewFromInt(1000))

	_, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(5000), models.TokenUSDT, models.PromptPayData{AccountID: "x"})
	if err != ErrAmountOutOfRange {
		t.Errorf("err = %v, want ErrAmountOutOfRange", err)
	}

	_, err = engine.CreateQuote(context.Background(), decimal.NewFromInt(0), models.TokenUSDT, models.PromptPayData{AccountID: "x"})
	if err != ErrAmountOutOfRange {
		t.Errorf("err = %v, want ErrAmountOutOfRange for zero amount", err)
	}
}

func TestCreateQuoteRejectsEmptyAccount(t *testing.T) {
	cache := NewCache(fixedRateSource(decimal.NewFromFloat(35.50)))
	engine := NewEngine(cache, decimal.NewFromInt(DefaultMaxAmountTHB))

	_, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(100), models.TokenUSDT, models.PromptPayData{})
	if err != ErrEmptyAccount {
		t.Errorf("err = %v, want ErrEmptyAccount", err)
	}
}

func TestLookupExpiredQuote(t *testing.T) {
	cache := NewCache(fixedRateSource(decimal.NewFromFloat(35.50)))
	engine := NewEngine(cache, decimal.NewFromInt(DefaultMaxAmountTHB))

	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(100), models.TokenUSDT, models.PromptPayData{AccountID: "x"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	// Force expiry by mutating the stored copy directly through the map.
	engine.mu.Lock()
	stored := engine.quotes[q.ID]
	stored.ExpiresAt = stored.CreatedAt
	engine.quotes[q.ID] = stored
	engine.mu.Unlock()

	_, err = engine.Lookup(q.ID)
	if err != ErrQuoteExpired {
		t.Errorf("err = %v, want ErrQuoteExpired", err)
	}
}

func TestLookupMissingQuote(t *testing.T) {
	cache := NewCache(fixedRateSource(decimal.NewFromFloat(35.50)))
	engine := NewEngine(cache, decimal.NewFromInt(DefaultMaxAmountTHB))

	_, err := engine.Lookup("does-not-exist")
	if err != ErrQuoteNotFound {
		t.Errorf("err = %v, want ErrQuoteNotFound", err)
	}
}

func TestCacheHitAvoidsRefetch(t *testing.T) {
	src := &countingSource{rate: decimal.NewFromFloat(35.50)}
	cache := NewCache(src)

	if _, err := cache.Get(context.Background(), models.TokenUSDT); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := cache.Get(context.Background(), models.TokenUSDT); err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1 (cache hit expected)", src.calls)
	}
}

type countingSource struct {
	rate  decimal.Decimal
	calls int
}

func (c *countingSource) GetRate(_ context.Context, token models.Token) (models.ExchangeRate, error) {
	c.calls++
	return models.ExchangeRate{
		Token: token, Fiat: "THB", Rate: c.rate, Source: "counting",
		ValidUntil: time.Now().UTC().Add(time.Hour),
	}, nil
}
