package tools

import (
	"context"
	"testing"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/capability"
	"github.com/boonlink/promptpay-bridge/internal/eip712"
	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/boonlink/promptpay-bridge/internal/quote"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// fakeOrderStore is an in-memory OrderStore used to exercise
// ConfirmPayment's transition logic without a live database.
type fakeOrderStore struct {
	byID map[string]*models.PaymentOrder
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{byID: make(map[string]*models.PaymentOrder)}
}

func (f *fakeOrderStore) Create(_ context.Context, o *models.PaymentOrder) error {
	f.byID[o.ID] = o
	return nil
}

func (f *fakeOrderStore) Get(_ context.Context, id string) (*models.PaymentOrder, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) Transition(_ context.Context, id string, to models.PaymentStatus, mutate func(o *models.PaymentOrder)) (*models.PaymentOrder, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if !orders.CanTransition(o.Status, to) {
		return nil, orders.ErrIllegalTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(o)
	}
	return o, nil
}

func TestScanQRMockScheme(t *testing.T) {
	o := &Orchestrator{}
	payload := "00020101021129370016A0000006770101110113006681234567853037645802TH6304"
	// append a placeholder CRC; correctness of CRC is exercised in package qr.
	result := o.ScanQR(context.Background(), "mock://"+payload+"AAAA", nil)
	if result.Success {
		// CRC mismatch is expected here; the important behavior is that
		// scan_qr does not itself refuse on a bad CRC.
		if result.PromptPay == nil || result.Warning == "" {
			t.Fatalf("expected a warning on CRC mismatch, got %+v", result)
		}
	}
}

func TestScanQRRejectsRelativeURL(t *testing.T) {
	o := &Orchestrator{}
	result := o.ScanQR(context.Background(), "/not/absolute", nil)
	if result.Success || result.Error == "" {
		t.Fatalf("expected rejection of a relative URL, got %+v", result)
	}
}

func TestGetQuoteValidation(t *testing.T) {
	o := &Orchestrator{}
	result := o.GetQuote(context.Background(), GetQuoteRequest{
		AmountTHB: -1,
		Token:     models.TokenUSDT,
		PromptPay: models.PromptPayData{AccountID: "0812345678"},
	})
	if result.Success || result.Error == "" {
		t.Fatalf("expected validation failure for non-positive amount, got %+v", result)
	}
}

func TestConfirmPaymentValidation(t *testing.T) {
	o := &Orchestrator{}
	result := o.ConfirmPayment(context.Background(), ConfirmPaymentRequest{})
	if result.Success || result.Error == "" {
		t.Fatalf("expected validation failure on empty request, got %+v", result)
	}
}

// TestConfirmPaymentInsufficientBalanceFails covers Scenario 4: a wallet
// balance below the quoted crypto amount must land the order in FAILED
// with an InsufficientBalance reason, not leave it stuck at QUOTED.
func TestConfirmPaymentInsufficientBalanceFails(t *testing.T) {
	cache := quote.NewCache(quote.MockRateSource{})
	engine := quote.NewEngine(cache, decimal.NewFromInt(100000))

	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(150), models.TokenUSDT, models.PromptPayData{AccountID: "0812345678"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	bc := capability.NewMockBlockchain()
	bc.Balances["wallet-1:USDT"] = decimal.NewFromFloat(1.0)

	o := &Orchestrator{
		Quote:      engine,
		Orders:     newFakeOrderStore(),
		Blockchain: bc,
		Log:        logging.NoopLogger{},
	}

	result := o.ConfirmPayment(context.Background(), ConfirmPaymentRequest{
		QuoteID:       q.ID,
		WalletAddress: "wallet-1",
		UserID:        "user-1",
	})

	if result.Success {
		t.Fatalf("expected confirm_payment to fail on insufficient balance, got %+v", result)
	}
	if result.Order == nil {
		t.Fatalf("expected the order to be returned even on failure")
	}
	if result.Order.Status != models.StatusFailed {
		t.Errorf("expected order status FAILED, got %s", result.Order.Status)
	}
	if result.Order.Error == nil || *result.Order.Error != ErrInsufficientBalance.Error() {
		t.Errorf("expected order.Error to record InsufficientBalance, got %v", result.Order.Error)
	}
}

func testEIP712Domain() eip712.Domain {
	return eip712.Domain{
		Name:              "BoonLink Payment",
		Version:           "1",
		ChainID:           56,
		VerifyingContract: "0x0000000000000000000000000000000000000000",
	}
}

// TestVerifyOfflineAuthAcceptsValidEnvelope covers the pre-signed offline
// path: a wallet signs the Payment authorization without ever calling this
// service, and confirm_payment verifies it in place of an online
// Blockchain.SignTransaction call. ConfirmPayment itself is exercised
// end-to-end via TestConfirmPaymentInsufficientBalanceFails; a full
// success run additionally requires Queue, which is a concrete
// pgx-backed *queue.Store with no live database in this package's tests,
// so the offline-auth branch is verified directly here instead.
func TestVerifyOfflineAuthAcceptsValidEnvelope(t *testing.T) {
	cache := quote.NewCache(quote.MockRateSource{})
	engine := quote.NewEngine(cache, decimal.NewFromInt(100000))

	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(150), models.TokenUSDT, models.PromptPayData{AccountID: "0812345678"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	collection := common.HexToAddress("0x2222222222222222222222222222222222222222")

	domain := testEIP712Domain()
	auth := eip712.Authorization{
		OrderID:   q.ID,
		Token:     string(q.Token),
		Amount:    eip712.AmountToUnits(q.AmountCrypto),
		Recipient: collection,
		Nonce:     1,
		Deadline:  time.Now().Add(time.Hour).Unix(),
	}
	sig, _, err := eip712.Sign(domain, auth, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth.Signature = sig
	auth.Signer = signer
	envelope, err := eip712.EncodeEnvelope(auth)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	o := &Orchestrator{EIP712Domain: domain, CollectionAddress: collection.Hex()}
	sigResult, err := o.verifyOfflineAuth(envelope, q, signer.Hex())
	if err != nil {
		t.Fatalf("verifyOfflineAuth: %v", err)
	}
	if sigResult.SignedTx != auth.Signature {
		t.Errorf("signedTx = %q, want the envelope's own signature %q", sigResult.SignedTx, auth.Signature)
	}
}

// TestVerifyOfflineAuthRejectsWrongRecipient guards the merchant-collection
// check: an otherwise valid signature authorizing a transfer to some other
// address must not be accepted for this order.
func TestVerifyOfflineAuthRejectsWrongRecipient(t *testing.T) {
	cache := quote.NewCache(quote.MockRateSource{})
	engine := quote.NewEngine(cache, decimal.NewFromInt(100000))
	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(150), models.TokenUSDT, models.PromptPayData{AccountID: "0812345678"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	domain := testEIP712Domain()

	auth := eip712.Authorization{
		OrderID:   q.ID,
		Token:     string(q.Token),
		Amount:    eip712.AmountToUnits(q.AmountCrypto),
		Recipient: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Nonce:     1,
		Deadline:  time.Now().Add(time.Hour).Unix(),
	}
	sig, _, _ := eip712.Sign(domain, auth, key)
	auth.Signature = sig
	auth.Signer = signer
	envelope, err := eip712.EncodeEnvelope(auth)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	o := &Orchestrator{
		EIP712Domain:      domain,
		CollectionAddress: "0x2222222222222222222222222222222222222222",
	}
	if _, err := o.verifyOfflineAuth(envelope, q, signer.Hex()); err == nil {
		t.Errorf("expected rejection of an authorization made out to a different recipient")
	}
}

func TestConfirmPaymentRejectsExpiredOfflineAuth(t *testing.T) {
	cache := quote.NewCache(quote.MockRateSource{})
	engine := quote.NewEngine(cache, decimal.NewFromInt(100000))
	q, err := engine.CreateQuote(context.Background(), decimal.NewFromInt(150), models.TokenUSDT, models.PromptPayData{AccountID: "0812345678"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	collection := common.HexToAddress("0x2222222222222222222222222222222222222222")
	domain := testEIP712Domain()

	auth := eip712.Authorization{
		OrderID:   q.ID,
		Token:     string(q.Token),
		Amount:    eip712.AmountToUnits(q.AmountCrypto),
		Recipient: collection,
		Nonce:     1,
		Deadline:  time.Now().Add(-time.Hour).Unix(),
	}
	sig, _, _ := eip712.Sign(domain, auth, key)
	auth.Signature = sig
	auth.Signer = signer
	envelope, err := eip712.EncodeEnvelope(auth)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	o := &Orchestrator{EIP712Domain: domain, CollectionAddress: collection.Hex()}
	if _, err := o.verifyOfflineAuth(envelope, q, signer.Hex()); err != ErrSignatureExpired {
		t.Errorf("err = %v, want ErrSignatureExpired", err)
	}
}

func TestCheckStatusRequiresOrderID(t *testing.T) {
	o := &Orchestrator{}
	result := o.CheckStatus(context.Background(), "")
	if result.Success || result.Error == "" {
		t.Fatalf("expected error for empty orderId, got %+v", result)
	}
}
