// Package tools implements the thin, validated tool orchestrators (C9):
// scan_qr, get_quote, confirm_payment, check_status, and
// get_exchange_rates, each returning a {success, ..., error?} envelope.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/capability"
	"github.com/boonlink/promptpay-bridge/internal/eip712"
	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/boonlink/promptpay-bridge/internal/processor"
	"github.com/boonlink/promptpay-bridge/internal/qr"
	"github.com/boonlink/promptpay-bridge/internal/queue"
	"github.com/boonlink/promptpay-bridge/internal/quote"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var validate = validator.New()

// OrderStore is the subset of orders.Store's behavior the tool orchestrator
// needs. Declaring it here (rather than depending on *orders.Store
// directly) lets confirm_payment's balance and transition logic be tested
// against an in-memory fake instead of a live database.
type OrderStore interface {
	Create(ctx context.Context, o *models.PaymentOrder) error
	Get(ctx context.Context, id string) (*models.PaymentOrder, error)
	Transition(ctx context.Context, id string, to models.PaymentStatus, mutate func(o *models.PaymentOrder)) (*models.PaymentOrder, error)
}

// Orchestrator wires the components each tool needs. It holds no state of
// its own beyond configuration; every mutation lands in the order store,
// quote engine, or queue store it wraps.
type Orchestrator struct {
	Quote      *quote.Engine
	Orders     OrderStore
	Queue      *queue.Store
	Blockchain capability.Blockchain
	Processor  *processor.Processor
	Log        logging.Logger

	// EIP712Domain is the domain separator confirm_payment verifies
	// pre-signed offline authorizations against.
	EIP712Domain eip712.Domain

	// CollectionAddress is the merchant recipient for on-chain transfers.
	CollectionAddress string
	// SyncAwaitTimeout bounds how long confirm_payment waits for the
	// processor to drain on the synchronous happy path before returning
	// asynchronously instead.
	SyncAwaitTimeout time.Duration
}

func New(o *orders.Store, q *queue.Store, engine *quote.Engine, bc capability.Blockchain, p *processor.Processor, collectionAddr string, domain eip712.Domain, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NoopLogger{}
	}
	return &Orchestrator{
		Quote:             engine,
		Orders:            o,
		Queue:             q,
		Blockchain:        bc,
		Processor:         p,
		EIP712Domain:      domain,
		CollectionAddress: collectionAddr,
		SyncAwaitTimeout:  3 * time.Second,
		Log:               log,
	}
}

// ScanQRResult is scan_qr's response envelope.
type ScanQRResult struct {
	Success   bool                  `json:"success"`
	PromptPay *models.PromptPayData `json:"promptPay,omitempty"`
	Warning   string                `json:"warning,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// ScanQR requires an absolute URL. A mock:// scheme carries a pre-built
// payload directly, bypassing image decoding, for demo and test use.
// CRC-invalid input is not itself refused; ScanQR attaches a warning and
// leaves the isValid=false payload for the caller to act on.
func (o *Orchestrator) ScanQR(ctx context.Context, imageURL string, fetchImage func(ctx context.Context, url string) (string, error)) ScanQRResult {
	parsed, err := url.Parse(imageURL)
	if err != nil || !parsed.IsAbs() {
		return ScanQRResult{Error: "imageUrl must be an absolute URL"}
	}

	var payload string
	if parsed.Scheme == "mock" {
		payload = strings.TrimPrefix(imageURL, "mock://")
	} else {
		if fetchImage == nil {
			return ScanQRResult{Error: "scan_qr: no image recognizer configured"}
		}
		decoded, err := fetchImage(ctx, imageURL)
		if err != nil {
			return ScanQRResult{Error: fmt.Sprintf("scan_qr: %v", err)}
		}
		payload = decoded
	}

	data, err := qr.Parse(payload)
	if err != nil {
		return ScanQRResult{Error: err.Error()}
	}

	result := ScanQRResult{Success: true, PromptPay: &data}
	if !data.IsValid {
		result.Warning = "CRC check failed; proceed with caution"
	}
	return result
}

// GetQuoteRequest is the validated input to get_quote.
type GetQuoteRequest struct {
	AmountTHB float64             `validate:"required,gt=0"`
	Token     models.Token        `validate:"required,oneof=USDT USDC ETH"`
	PromptPay models.PromptPayData `validate:"required"`
}

// GetQuoteResult is get_quote's response envelope.
type GetQuoteResult struct {
	Success bool                `json:"success"`
	QuoteID string              `json:"quoteId,omitempty"`
	Quote   *models.PaymentQuote `json:"quote,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (o *Orchestrator) GetQuote(ctx context.Context, req GetQuoteRequest) GetQuoteResult {
	if err := validate.Struct(req); err != nil {
		return GetQuoteResult{Error: err.Error()}
	}
	if req.PromptPay.AccountID == "" {
		return GetQuoteResult{Error: "promptPay.accountId is required"}
	}

	amount := decimalFromFloat(req.AmountTHB)
	q, err := o.Quote.CreateQuote(ctx, amount, req.Token, req.PromptPay)
	if err != nil {
		return GetQuoteResult{Error: err.Error()}
	}
	return GetQuoteResult{Success: true, QuoteID: q.ID, Quote: &q}
}

// ConfirmPaymentRequest is the validated input to confirm_payment.
type ConfirmPaymentRequest struct {
	QuoteID       string `validate:"required"`
	WalletAddress string `validate:"required"`
	UserID        string `validate:"required"`
	ChatID        string

	// OfflineAuth is an optional base64 eip712.EncodeEnvelope payload: a
	// Payment authorization the wallet signed offline, without a network
	// connection to this service. When present it replaces the online
	// Blockchain.SignTransaction call with signature verification against
	// the quote it authorizes.
	OfflineAuth string
}

// ConfirmPaymentResult is confirm_payment's response envelope. When the
// processor brings the order to a terminal status within SyncAwaitTimeout,
// Order is that final record and TxHash carries its hash when one was
// recorded; otherwise Order
// reflects the SIGNED state and completion happens asynchronously.
type ConfirmPaymentResult struct {
	Success bool                `json:"success"`
	TxHash  string              `json:"txHash,omitempty"`
	Order   *models.PaymentOrder `json:"order,omitempty"`
	Error   string              `json:"error,omitempty"`
}

var (
	ErrInsufficientBalance = errors.New("tools: insufficient wallet balance")
	// ErrSignatureInvalid covers every way a pre-signed offline authorization
	// fails to check out: malformed envelope, recovery failure, signer
	// mismatch, or a mismatch against the quote it claims to authorize.
	ErrSignatureInvalid = errors.New("tools: offline authorization signature invalid")
	// ErrSignatureExpired is raised separately from ErrSignatureInvalid
	// because the signature itself did recover correctly; only its deadline
	// has passed.
	ErrSignatureExpired = errors.New("tools: offline authorization expired")
)

func (o *Orchestrator) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) ConfirmPaymentResult {
	if err := validate.Struct(req); err != nil {
		return ConfirmPaymentResult{Error: err.Error()}
	}

	q, err := o.Quote.Lookup(req.QuoteID)
	if err != nil {
		return ConfirmPaymentResult{Error: err.Error()}
	}

	now := time.Now().UTC()
	order := &models.PaymentOrder{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		Status:    models.StatusQuoted,
		Quote:     q,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Orders.Create(ctx, order); err != nil {
		return ConfirmPaymentResult{Error: fmt.Sprintf("tools: create order: %v", err)}
	}

	// The blockchain `from` address is always the wallet captured here, never
	// quote.promptPay.accountId (that identifies the PromptPay beneficiary,
	// not the crypto sender).
	balance, err := o.Blockchain.GetBalance(ctx, req.WalletAddress, q.Token)
	if err != nil {
		return o.fail(ctx, order, fmt.Sprintf("balance check failed: %v", err))
	}
	if balance.LessThan(q.AmountCrypto) {
		return o.fail(ctx, order, ErrInsufficientBalance.Error())
	}

	var sig models.TransactionSignature
	if req.OfflineAuth != "" {
		sig, err = o.verifyOfflineAuth(req.OfflineAuth, q, req.WalletAddress)
		if err != nil {
			return o.fail(ctx, order, err.Error())
		}
	} else {
		tx, err := o.Blockchain.CreateTransferTx(ctx, req.WalletAddress, o.CollectionAddress, q.AmountCrypto, q.Token)
		if err != nil {
			return o.fail(ctx, order, fmt.Sprintf("build transfer failed: %v", err))
		}
		sig, err = o.Blockchain.SignTransaction(ctx, tx, req.WalletAddress)
		if err != nil {
			return o.fail(ctx, order, fmt.Sprintf("sign failed: %v", err))
		}
	}

	signed, err := o.Orders.Transition(ctx, order.ID, models.StatusSigned, func(ord *models.PaymentOrder) {
		ord.Signature = &sig
	})
	if err != nil {
		return o.fail(ctx, order, fmt.Sprintf("transition to signed failed: %v", err))
	}
	order = signed

	if _, err := o.Queue.Enqueue(ctx, order.ID, sig.SignedTx); err != nil {
		return o.fail(ctx, order, fmt.Sprintf("enqueue failed: %v", err))
	}

	if o.Processor != nil {
		o.Processor.Wake()
		if completed := o.awaitCompletion(ctx, order.ID); completed != nil {
			order = completed
		}
	}

	result := ConfirmPaymentResult{Success: true, Order: order}
	if order.TxHash != nil {
		result.TxHash = *order.TxHash
	}
	return result
}

// verifyOfflineAuth decodes and checks a pre-signed EIP-712 Payment
// authorization against the quote confirm_payment is settling, standing in
// for the online Blockchain.SignTransaction call on the "signed offline"
// path spec.md calls out. It returns a TransactionSignature built from the
// envelope's own signature so the rest of ConfirmPayment's flow (transition
// to SIGNED, enqueue, await) is identical for both paths.
func (o *Orchestrator) verifyOfflineAuth(encoded string, q models.PaymentQuote, walletAddress string) (models.TransactionSignature, error) {
	auth, err := eip712.DecodeEnvelope(encoded)
	if err != nil {
		return models.TransactionSignature{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	result := eip712.Verify(o.EIP712Domain, auth, time.Now().Unix())
	if !result.Valid {
		if result.Error == "authorization expired" {
			return models.TransactionSignature{}, ErrSignatureExpired
		}
		return models.TransactionSignature{}, fmt.Errorf("%w: %s", ErrSignatureInvalid, result.Error)
	}

	switch {
	case auth.OrderID != q.ID:
		return models.TransactionSignature{}, fmt.Errorf("%w: authorization is for a different quote", ErrSignatureInvalid)
	case auth.Token != string(q.Token):
		return models.TransactionSignature{}, fmt.Errorf("%w: authorization token mismatch", ErrSignatureInvalid)
	case auth.Amount.Cmp(eip712.AmountToUnits(q.AmountCrypto)) != 0:
		return models.TransactionSignature{}, fmt.Errorf("%w: authorization amount mismatch", ErrSignatureInvalid)
	case common.IsHexAddress(o.CollectionAddress) && !strings.EqualFold(auth.Recipient.Hex(), common.HexToAddress(o.CollectionAddress).Hex()):
		return models.TransactionSignature{}, fmt.Errorf("%w: authorization recipient is not the collection address", ErrSignatureInvalid)
	case common.IsHexAddress(walletAddress) && !strings.EqualFold(auth.Signer.Hex(), common.HexToAddress(walletAddress).Hex()):
		return models.TransactionSignature{}, fmt.Errorf("%w: authorization signer does not match wallet", ErrSignatureInvalid)
	}

	return models.TransactionSignature{
		SignedTx: auth.Signature,
		From:     walletAddress,
		To:       auth.Recipient.Hex(),
		ChainID:  o.EIP712Domain.ChainID,
		SignedAt: time.Now().UTC(),
	}, nil
}

// awaitCompletion polls briefly for the processor to finish draining this
// order on the synchronous happy path; a timeout leaves completion to the
// asynchronous ticker.
func (o *Orchestrator) awaitCompletion(ctx context.Context, orderID string) *models.PaymentOrder {
	deadline := time.Now().Add(o.SyncAwaitTimeout)
	for time.Now().Before(deadline) {
		order, err := o.Orders.Get(ctx, orderID)
		if err == nil && (order.Status == models.StatusCompleted || models.TerminalStatuses[order.Status]) {
			return order
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, order *models.PaymentOrder, reason string) ConfirmPaymentResult {
	if orders.CanTransition(order.Status, models.StatusFailed) {
		if updated, err := o.Orders.Transition(ctx, order.ID, models.StatusFailed, func(ord *models.PaymentOrder) {
			ord.Error = &reason
		}); err == nil {
			order = updated
		}
	}
	o.Log.Warn("confirm_payment failed", map[string]any{"orderId": order.ID, "reason": reason})
	return ConfirmPaymentResult{Error: reason, Order: order}
}

// CheckStatusResult is check_status's response envelope.
type CheckStatusResult struct {
	Success bool                `json:"success"`
	Order   *models.PaymentOrder `json:"order,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (o *Orchestrator) CheckStatus(ctx context.Context, orderID string) CheckStatusResult {
	if orderID == "" {
		return CheckStatusResult{Error: "orderId is required"}
	}
	order, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return CheckStatusResult{Error: err.Error()}
	}
	return CheckStatusResult{Success: true, Order: order}
}

// ExchangeRatesResult is get_exchange_rates' response envelope.
type ExchangeRatesResult struct {
	Success bool                                 `json:"success"`
	Rates   map[models.Token]models.ExchangeRate `json:"rates,omitempty"`
	Error   string                               `json:"error,omitempty"`
}

func (o *Orchestrator) GetExchangeRates(ctx context.Context) ExchangeRatesResult {
	rates, err := o.Quote.Cache.All(ctx)
	if err != nil {
		return ExchangeRatesResult{Error: err.Error()}
	}
	return ExchangeRatesResult{Success: true, Rates: rates}
}
