package eip712

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testDomain() Domain {
	return Domain{
		Name:              "BoonLink Payment",
		Version:           "1",
		ChainID:           56,
		VerifyingContract: "0x0000000000000000000000000000000000000000",
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	auth := Authorization{
		OrderID:   "order-1",
		Token:     "USDT",
		Amount:    big.NewInt(4408000000000000000),
		Recipient: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:     1,
		Deadline:  time.Now().Add(time.Hour).Unix(),
	}

	sig, signer, err := Sign(testDomain(), auth, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth.Signature = sig
	auth.Signer = signer

	result := Verify(testDomain(), auth, time.Now().Unix())
	if !result.Valid {
		t.Fatalf("verify failed: %s", result.Error)
	}
	if result.Signer != signer {
		t.Errorf("recovered signer = %s, want %s", result.Signer.Hex(), signer.Hex())
	}
}

func TestVerifyRejectsExpiredDeadline(t *testing.T) {
	key, _ := crypto.GenerateKey()
	auth := Authorization{
		OrderID:   "order-1",
		Token:     "USDT",
		Amount:    big.NewInt(1),
		Recipient: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:     1,
		Deadline:  time.Now().Add(-time.Hour).Unix(),
	}
	sig, signer, _ := Sign(testDomain(), auth, key)
	auth.Signature = sig
	auth.Signer = signer

	result := Verify(testDomain(), auth, time.Now().Unix())
	if result.Valid {
		t.Errorf("verify should fail on expired deadline")
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()

	auth := Authorization{
		OrderID:   "order-1",
		Token:     "USDT",
		Amount:    big.NewInt(1),
		Recipient: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:     1,
		Deadline:  time.Now().Add(time.Hour).Unix(),
	}
	sig, _, _ := Sign(testDomain(), auth, key)
	auth.Signature = sig
	auth.Signer = crypto.PubkeyToAddress(other.PublicKey)

	result := Verify(testDomain(), auth, time.Now().Unix())
	if result.Valid {
		t.Errorf("verify should fail on signer mismatch")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	auth := Authorization{
		OrderID:   "order-42",
		Token:     "USDC",
		Amount:    big.NewInt(1000000),
		Recipient: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nonce:     7,
		Deadline:  time.Now().Add(time.Hour).Unix(),
	}
	sig, signer, _ := Sign(testDomain(), auth, key)
	auth.Signature = sig
	auth.Signer = signer

	encoded, err := EncodeEnvelope(auth)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.OrderID != auth.OrderID || decoded.Token != auth.Token || decoded.Nonce != auth.Nonce {
		t.Errorf("decoded envelope mismatch: %+v", decoded)
	}
	if decoded.Amount.Cmp(auth.Amount) != 0 {
		t.Errorf("amount mismatch: %s != %s", decoded.Amount, auth.Amount)
	}
}

func TestDecodeEnvelopeRejectsNonBase64(t *testing.T) {
	_, err := DecodeEnvelope("not-base64!!!")
	if err == nil {
		t.Errorf("expected error for non-base64 input")
	}
}

func TestDecodeEnvelopeRejectsMissingField(t *testing.T) {
	// {"o":"x"} base64-encoded, missing every other field.
	_, err := DecodeEnvelope("eyJvIjoieCJ9")
	if err == nil {
		t.Errorf("expected error for missing fields")
	}
}
