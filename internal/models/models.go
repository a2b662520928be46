package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType distinguishes the two PromptPay beneficiary identifier forms.
type AccountType string

const (
	AccountTypePhone      AccountType = "phone"
	AccountTypeNationalID AccountType = "national_id"
)

// PromptPayData is the structural result of parsing an EMVCo/PromptPay QR
// payload. IsValid reflects CRC agreement only; a structurally valid parse
// can still carry IsValid = false.
type PromptPayData struct {
	AccountID    string
	AccountType  AccountType
	MerchantName string
	Amount       *decimal.Decimal
	Currency     string
	Country      string
	RawPayload   string
	IsValid      bool
}

// Token is a settlement-currency symbol the bridge can quote and transfer.
type Token string

const (
	TokenUSDT Token = "USDT"
	TokenUSDC Token = "USDC"
	TokenETH  Token = "ETH"
)

// ExchangeRate is a cached token/THB rate. Cache entries are replaced, never
// mutated in place.
type ExchangeRate struct {
	Token      Token
	Fiat       string
	Rate       decimal.Decimal
	Source     string
	Timestamp  time.Time
	ValidUntil time.Time
}

// Fee is the fee breakdown attached to a quote, denominated in the quoted
// token.
type Fee struct {
	Network decimal.Decimal
	Service decimal.Decimal
	Total   decimal.Decimal
}

// PaymentQuote is immutable once created by the quote engine.
type PaymentQuote struct {
	ID           string
	AmountTHB    decimal.Decimal
	AmountCrypto decimal.Decimal
	Token        Token
	Rate         ExchangeRate
	Fee          Fee
	PromptPay    PromptPayData
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the quote can no longer be consumed by confirm_payment.
func (q PaymentQuote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// PaymentStatus is the order lifecycle state. Values are ordered semantically
// (see the legal-transition graph in orders.CanTransition), not numerically.
type PaymentStatus string

const (
	StatusInit      PaymentStatus = "INIT"
	StatusQuoted    PaymentStatus = "QUOTED"
	StatusSigned    PaymentStatus = "SIGNED"
	StatusPending   PaymentStatus = "PENDING"
	StatusSettled   PaymentStatus = "SETTLED"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusExpired   PaymentStatus = "EXPIRED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusTimeout   PaymentStatus = "TIMEOUT"
)

// TerminalStatuses is the set of states from which no further transition is
// legal.
var TerminalStatuses = map[PaymentStatus]bool{
	StatusCompleted: true,
	StatusExpired:   true,
	StatusCancelled: true,
	StatusFailed:    true,
	StatusTimeout:   true,
}

// TransactionSignature is opaque to the core beyond these fields; it is
// produced by a Blockchain capability and stored verbatim.
type TransactionSignature struct {
	SignedTx string
	From     string
	To       string
	Nonce    uint64
	GasLimit uint64
	GasPrice string
	ChainID  int64
	SignedAt time.Time
}

// TxRequest is the unsigned transfer request a Blockchain capability builds
// from createTransferTx, ready for signTransaction.
type TxRequest struct {
	From   string
	To     string
	Amount decimal.Decimal
	Token  Token
}

// PaymentOrder is the mutable envelope around a quote.
type PaymentOrder struct {
	ID           string
	UserID       string
	ChatID       string
	Status       PaymentStatus
	Quote        PaymentQuote
	Signature    *TransactionSignature
	TxHash       *string
	SettlementID *string
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// OfflineQueueItem is a durable, at-least-once broadcast/settlement work
// item. Removal is the only terminal operation.
type OfflineQueueItem struct {
	ID           string
	OrderID      string
	SignedTxBlob string
	RetryCount   int
	LastRetry    *time.Time
	NextRetry    *time.Time
	CreatedAt    time.Time
}

// OfflineQueueStats summarizes queue health for the sync coordinator and
// status tooling.
type OfflineQueueStats struct {
	Pending     int
	Processing  int
	Failed      int
	TotalAmount decimal.Decimal
	OldestItem  *time.Time
}

// NetworkStatus is the three-level aggregate the detector publishes.
type NetworkStatus string

const (
	NetworkOnline  NetworkStatus = "ONLINE"
	NetworkWeak    NetworkStatus = "WEAK"
	NetworkOffline NetworkStatus = "OFFLINE"
)

// SettlementResult is the shape returned by the Settlement capability.
type SettlementResult struct {
	Success        bool
	SettlementID   string
	TransactionRef string
	Timestamp      time.Time
	Error          string
}
