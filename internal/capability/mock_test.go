package capability

import (
	"context"
	"testing"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

func TestMockBlockchainBroadcastIdempotent(t *testing.T) {
	bc := NewMockBlockchain()
	ctx := context.Background()

	hash1, err := bc.BroadcastTransaction(ctx, "signed-blob-a")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	hash2, err := bc.BroadcastTransaction(ctx, "signed-blob-a")
	if err != nil {
		t.Fatalf("broadcast replay: %v", err)
	}
	if hash1 != hash2 {
		t.Errorf("replayed broadcast returned different hash: %s != %s", hash1, hash2)
	}
}

func TestMockSettlementIdempotent(t *testing.T) {
	s := NewMockSettlement()
	ctx := context.Background()
	order := models.PaymentOrder{ID: "order-1"}

	r1, err := s.Settle(ctx, order)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	r2, err := s.Settle(ctx, order)
	if err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if r1.SettlementID != r2.SettlementID {
		t.Errorf("duplicate settle produced different settlementId: %s != %s", r1.SettlementID, r2.SettlementID)
	}
}

func TestSeedDemoWalletDerivesAndFunds(t *testing.T) {
	bc := NewMockBlockchain()
	bc.Deriver = &DemoAddressDeriver{
		XPub:   "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8",
		Prefix: "demo",
	}

	addr, err := bc.SeedDemoWallet(0, models.Token("USDT"), decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("seed demo wallet: %v", err)
	}
	if addr == "" {
		t.Fatalf("expected a non-empty derived address")
	}

	bal, err := bc.GetBalance(context.Background(), addr, models.Token("USDT"))
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected seeded balance 500, got %s", bal)
	}
}

func TestSeedDemoWalletRequiresDeriver(t *testing.T) {
	bc := NewMockBlockchain()
	if _, err := bc.SeedDemoWallet(0, models.Token("USDT"), decimal.Zero); err == nil {
		t.Errorf("expected an error with no deriver configured")
	}
}

func TestMockBlockchainWaitForConfirmation(t *testing.T) {
	bc := NewMockBlockchain()
	ok, err := bc.WaitForConfirmation(context.Background(), "0xabc", 3, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !ok {
		t.Errorf("expected confirmation to succeed")
	}
}
