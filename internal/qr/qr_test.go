package qr

import (
	"fmt"
	"testing"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

func TestRoundTripPhoneWithAmount(t *testing.T) {
	amount := decimal.NewFromFloat(150.00)
	payload, err := Generate("0812345678", &amount)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	data, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if data.AccountID != "0812345678" {
		t.Errorf("accountId = %q, want 0812345678", data.AccountID)
	}
	if data.AccountType != models.AccountTypePhone {
		t.Errorf("accountType = %q, want phone", data.AccountType)
	}
	if data.Amount == nil || !data.Amount.Equal(amount) {
		t.Errorf("amount = %v, want %v", data.Amount, amount)
	}
	if !data.IsValid {
		t.Errorf("isValid = false, want true")
	}
}

func TestRoundTripNationalIDNoAmount(t *testing.T) {
	payload, err := Generate("1234567890123", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	data, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if data.AccountID != "1234567890123" {
		t.Errorf("accountId = %q, want 1234567890123", data.AccountID)
	}
	if data.AccountType != models.AccountTypeNationalID {
		t.Errorf("accountType = %q, want national_id", data.AccountType)
	}
	if data.Amount != nil {
		t.Errorf("amount = %v, want nil", data.Amount)
	}
	if !data.IsValid {
		t.Errorf("isValid = false, want true")
	}
}

func TestNineDigitPhonePadded(t *testing.T) {
	payload, err := Generate("812345678", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	data, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if data.AccountID != "0812345678" {
		t.Errorf("accountId = %q, want 0812345678", data.AccountID)
	}
}

func TestCRCTamperingInvalidatesPayload(t *testing.T) {
	payload, err := Generate("0812345678", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tampered := []byte(payload)
	last := tampered[len(tampered)-1]
	if last == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}

	data, err := Parse(string(tampered))
	if err != nil {
		t.Fatalf("parse should still succeed structurally: %v", err)
	}
	if data.IsValid {
		t.Errorf("isValid = true after tampering, want false")
	}
}

func TestParseRejectsShortInput(t *testing.T) {
	_, err := Parse("0002")
	if err != ErrInvalidFormat {
		t.Errorf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestParseRejectsNonPromptPayAID(t *testing.T) {
	// merchant info sub-TLV with a bogus AID
	notPromptPay := "000201" + "010211" + field("29", field("00", "A000000000000000")) + field("53", "764") + field("58", "TH") + "6304"
	crc := crc16CCITTFalse([]byte(notPromptPay))
	payload := notPromptPay + fmt.Sprintf("%04X", crc)
	_, err := Parse(payload)
	if err != ErrNotPromptPay {
		t.Errorf("err = %v, want ErrNotPromptPay", err)
	}
}

func TestGenerateRejectsBadLength(t *testing.T) {
	_, err := Generate("123", nil)
	if err != ErrInvalidAccount {
		t.Errorf("err = %v, want ErrInvalidAccount", err)
	}
}
