package capability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/quote"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockBlockchain simulates transfer, broadcast, and confirmation without
// touching a real chain. The first broadcast of a signed blob records a
// random hash for it; broadcasting the same blob again is treated as
// success and returns that recorded hash, satisfying the idempotence
// requirement under replay.
type MockBlockchain struct {
	mu   sync.Mutex
	seen map[string]string // signedTx -> txHash

	// Balances lets tests/demo seed wallet balances; keyed by "address:token".
	Balances map[string]decimal.Decimal

	// Deriver, when set, derives the display addresses SeedDemoWallet hands
	// out; demo mode never custodies the private key behind them.
	Deriver *DemoAddressDeriver
}

func NewMockBlockchain() *MockBlockchain {
	return &MockBlockchain{
		seen:     make(map[string]string),
		Balances: make(map[string]decimal.Decimal),
	}
}

func (m *MockBlockchain) balanceKey(address string, token models.Token) string {
	return address + ":" + string(token)
}

func (m *MockBlockchain) GetBalance(_ context.Context, address string, token models.Token) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.Balances[m.balanceKey(address, token)]; ok {
		return bal, nil
	}
	// Default demo balance is generous so the happy path succeeds out of the box.
	return decimal.NewFromInt(1000), nil
}

func (m *MockBlockchain) CreateTransferTx(_ context.Context, from, to string, amount decimal.Decimal, token models.Token) (models.TxRequest, error) {
	if from == "" || to == "" {
		return models.TxRequest{}, errors.New("capability: from/to address required")
	}
	return models.TxRequest{From: from, To: to, Amount: amount, Token: token}, nil
}

func (m *MockBlockchain) SignTransaction(_ context.Context, tx models.TxRequest, keyRef string) (models.TransactionSignature, error) {
	blob, err := randomHex(32)
	if err != nil {
		return models.TransactionSignature{}, err
	}
	return models.TransactionSignature{
		SignedTx: blob,
		From:     tx.From,
		To:       tx.To,
		Nonce:    uint64(time.Now().UnixNano()),
		GasLimit: 21000,
		GasPrice: "5000000000",
		ChainID:  56,
		SignedAt: time.Now().UTC(),
	}, nil
}

func (m *MockBlockchain) BroadcastTransaction(_ context.Context, signedTx string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hash, ok := m.seen[signedTx]; ok {
		return hash, nil
	}
	hash, err := randomHex(32)
	if err != nil {
		return "", err
	}
	hash = "0x" + hash
	m.seen[signedTx] = hash
	return hash, nil
}

func (m *MockBlockchain) WaitForConfirmation(ctx context.Context, txHash string, confirmations int, timeout time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(50 * time.Millisecond):
		return true, nil
	}
}

// SeedDemoWallet derives a demo-mode display address at the given HD index
// via Deriver and pre-funds it in Balances so confirm_payment's balance
// check succeeds without a real wallet. Returns an error if Deriver is nil.
func (m *MockBlockchain) SeedDemoWallet(index uint32, token models.Token, balance decimal.Decimal) (string, error) {
	if m.Deriver == nil {
		return "", errors.New("capability: no demo address deriver configured")
	}
	addr, err := m.Deriver.Derive(index)
	if err != nil {
		return "", fmt.Errorf("capability: derive demo wallet: %w", err)
	}
	m.mu.Lock()
	m.Balances[m.balanceKey(addr, token)] = balance
	m.mu.Unlock()
	return addr, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MockExchange adapts the quote engine behind the Exchange capability
// interface.
type MockExchange struct {
	Cache  *quote.Cache
	Engine *quote.Engine
}

func NewMockExchange(cache *quote.Cache, engine *quote.Engine) *MockExchange {
	return &MockExchange{Cache: cache, Engine: engine}
}

func (e *MockExchange) GetRate(ctx context.Context, token models.Token) (models.ExchangeRate, error) {
	return e.Cache.Get(ctx, token)
}

func (e *MockExchange) CreateQuote(ctx context.Context, amountTHB decimal.Decimal, token models.Token, promptPay models.PromptPayData) (models.PaymentQuote, error) {
	return e.Engine.CreateQuote(ctx, amountTHB, token, promptPay)
}

// MockSettlement simulates the downstream fiat gateway. Settlement is
// idempotent on orderId within a 24h window: a duplicate call returns the
// same settlementId rather than minting a new one.
type MockSettlement struct {
	mu      sync.Mutex
	byOrder map[string]settlementRecord
	window  time.Duration
}

type settlementRecord struct {
	result   models.SettlementResult
	recorded time.Time
}

func NewMockSettlement() *MockSettlement {
	return &MockSettlement{
		byOrder: make(map[string]settlementRecord),
		window:  24 * time.Hour,
	}
}

func (s *MockSettlement) Settle(_ context.Context, order models.PaymentOrder) (models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec, ok := s.byOrder[order.ID]; ok && now.Sub(rec.recorded) < s.window {
		return rec.result, nil
	}

	result := models.SettlementResult{
		Success:        true,
		SettlementID:   uuid.NewString(),
		TransactionRef: fmt.Sprintf("SETTLE-%s", order.ID),
		Timestamp:      now,
	}
	s.byOrder[order.ID] = settlementRecord{result: result, recorded: now}
	return result, nil
}

func (s *MockSettlement) CheckStatus(_ context.Context, settlementID string) (models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byOrder {
		if rec.result.SettlementID == settlementID {
			return rec.result, nil
		}
	}
	return models.SettlementResult{}, errors.New("capability: settlement not found")
}
