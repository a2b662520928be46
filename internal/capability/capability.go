// Package capability defines the three narrow interfaces the core
// orchestrates without implementing (C10): Blockchain, Exchange, and
// Settlement. Mock implementations back demo mode; concrete adapters wrap
// real RPC/HTTP endpoints.
package capability

import (
	"context"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

// Blockchain is the on-chain transfer capability. The core never custodies
// keys: signTransaction is handed a key reference (confirm_payment passes
// the wallet address), never a raw secret passed through the core.
// MockBlockchain ignores the reference and returns a random signed blob;
// EVMBlockchain does not sign and returns an error.
type Blockchain interface {
	GetBalance(ctx context.Context, address string, token models.Token) (decimal.Decimal, error)
	CreateTransferTx(ctx context.Context, from, to string, amount decimal.Decimal, token models.Token) (models.TxRequest, error)
	SignTransaction(ctx context.Context, tx models.TxRequest, keyRef string) (models.TransactionSignature, error)
	BroadcastTransaction(ctx context.Context, signedTx string) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string, confirmations int, timeout time.Duration) (bool, error)
}

// Exchange is the rate/quote capability boundary.
type Exchange interface {
	GetRate(ctx context.Context, token models.Token) (models.ExchangeRate, error)
	CreateQuote(ctx context.Context, amountTHB decimal.Decimal, token models.Token, promptPay models.PromptPayData) (models.PaymentQuote, error)
}

// Settlement is the downstream fiat-settlement gateway capability.
// Implementations MUST be idempotent on orderId within a configurable
// window: duplicate calls for the same order return the same settlementId.
type Settlement interface {
	Settle(ctx context.Context, order models.PaymentOrder) (models.SettlementResult, error)
	CheckStatus(ctx context.Context, settlementID string) (models.SettlementResult, error)
}
