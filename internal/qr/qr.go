// Package qr implements the EMVCo/PromptPay QR TLV codec: parsing a scanned
// payload into structured PromptPay data, and generating a payload from an
// account identifier and optional amount.
package qr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced verbatim to callers, per the error-kind table.
var (
	ErrInvalidFormat   = errors.New("qr: invalid format")
	ErrNotPromptPay    = errors.New("qr: not a promptpay payload")
	ErrInvalidAccount  = errors.New("qr: invalid account id")
)

const (
	tagPayloadFormat     = "00"
	tagPOIMethod         = "01"
	tagMerchantInfoStart = "29"
	tagMerchantInfoEnd   = "30"
	tagCurrency          = "53"
	tagAmount            = "54"
	tagCountry           = "58"
	tagMerchantName      = "59"
	tagMerchantCity      = "60"
	tagCRC               = "63"

	promptPayAID = "A000000677010111"

	minPayloadLen = 20
)

type tlv struct {
	tag   string
	value string
}

// parseTLV decodes a flat TT LL VV… stream. Each tag/length is two
// ASCII-decimal digits; the length counts characters of the value.
func parseTLV(s string) ([]tlv, error) {
	var out []tlv
	i := 0
	for i < len(s) {
		if i+4 > len(s) {
			return nil, ErrInvalidFormat
		}
		tag := s[i : i+2]
		lenStr := s[i+2 : i+4]
		length, err := strconv.Atoi(lenStr)
		if err != nil {
			return nil, ErrInvalidFormat
		}
		start := i + 4
		end := start + length
		if end > len(s) {
			return nil, ErrInvalidFormat
		}
		out = append(out, tlv{tag: tag, value: s[start:end]})
		i = end
	}
	return out, nil
}

// Parse decodes a scanned QR payload string into PromptPayData. Parse
// success is independent of CRC agreement; IsValid carries the CRC outcome.
func Parse(raw string) (models.PromptPayData, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	if len(cleaned) < minPayloadLen {
		return models.PromptPayData{}, ErrInvalidFormat
	}

	records, err := parseTLV(cleaned)
	if err != nil {
		return models.PromptPayData{}, err
	}

	data := models.PromptPayData{RawPayload: cleaned}
	var merchantInfo string
	var sawPayloadFormat bool

	for _, rec := range records {
		switch rec.tag {
		case tagPayloadFormat:
			sawPayloadFormat = true
		case tagMerchantInfoStart, tagMerchantInfoEnd:
			merchantInfo = rec.value
		case tagCurrency:
			data.Currency = rec.value
		case tagAmount:
			amt, err := decimal.NewFromString(rec.value)
			if err != nil {
				return models.PromptPayData{}, ErrInvalidFormat
			}
			data.Amount = &amt
		case tagCountry:
			data.Country = rec.value
		case tagMerchantName:
			data.MerchantName = rec.value
		}
	}

	if !sawPayloadFormat {
		return models.PromptPayData{}, ErrInvalidFormat
	}
	if merchantInfo == "" {
		return models.PromptPayData{}, ErrNotPromptPay
	}

	accountID, accountType, err := parseMerchantInfo(merchantInfo)
	if err != nil {
		return models.PromptPayData{}, err
	}
	data.AccountID = accountID
	data.AccountType = accountType
	data.IsValid = checkCRC(cleaned)

	return data, nil
}

func parseMerchantInfo(s string) (string, models.AccountType, error) {
	sub, err := parseTLV(s)
	if err != nil {
		return "", "", ErrInvalidFormat
	}

	var aid, phone, national string
	for _, rec := range sub {
		switch rec.tag {
		case "00":
			aid = rec.value
		case "01":
			phone = rec.value
		case "02":
			national = rec.value
		}
	}

	if aid != promptPayAID {
		return "", "", ErrNotPromptPay
	}

	identifier := phone
	if identifier == "" {
		identifier = national
	}
	if identifier == "" {
		return "", "", ErrInvalidAccount
	}

	if strings.HasPrefix(identifier, "00") {
		if len(identifier) <= 4 {
			return "", "", ErrInvalidAccount
		}
		identifier = identifier[4:]
	}

	switch len(identifier) {
	case 13:
		return identifier, models.AccountTypeNationalID, nil
	case 10:
		return identifier, models.AccountTypePhone, nil
	case 9:
		return "0" + identifier, models.AccountTypePhone, nil
	default:
		return "", "", ErrInvalidAccount
	}
}

// Generate builds a serialized PromptPay QR payload from an account
// identifier and optional amount. accountID may be 9, 10, or 13 digits.
func Generate(accountID string, amount *decimal.Decimal) (string, error) {
	var accountType models.AccountType
	switch len(accountID) {
	case 13:
		accountType = models.AccountTypeNationalID
	case 10, 9:
		accountType = models.AccountTypePhone
	default:
		return "", ErrInvalidAccount
	}
	if accountType == models.AccountTypePhone && len(accountID) == 9 {
		accountID = "0" + accountID
	}

	var b strings.Builder
	b.WriteString("000201")

	if amount != nil {
		b.WriteString("010212")
	} else {
		b.WriteString("010211")
	}

	var identifierField string
	if accountType == models.AccountTypePhone {
		trimmed := strings.TrimPrefix(accountID, "0")
		identifierField = field("01", "0066"+trimmed)
	} else {
		identifierField = field("02", "00TH"+accountID)
	}
	merchantInfo := field("00", promptPayAID) + identifierField
	b.WriteString(field(tagMerchantInfoStart, merchantInfo))

	b.WriteString(field(tagCurrency, "764"))

	if amount != nil {
		b.WriteString(field(tagAmount, amount.StringFixed(2)))
	}

	b.WriteString(field(tagCountry, "TH"))
	b.WriteString(tagCRC + "04")

	crc := crc16CCITTFalse([]byte(b.String()))
	b.WriteString(fmt.Sprintf("%04X", crc))

	return b.String(), nil
}

func field(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

// checkCRC verifies the trailing four-character CRC against a
// CRC-16/CCITT-FALSE checksum of everything preceding it.
func checkCRC(payload string) bool {
	if len(payload) < 4 {
		return false
	}
	body := payload[:len(payload)-4]
	trailer := strings.ToUpper(payload[len(payload)-4:])
	computed := fmt.Sprintf("%04X", crc16CCITTFalse([]byte(body)))
	return computed == trailer
}

// crc16CCITTFalse computes CRC-16/CCITT-FALSE: polynomial 0x1021, init
// 0xFFFF, no input/output reflection, no final XOR. Other CCITT variants
// (reflected, XModem) will not agree with real PromptPay QR checksums.
func crc16CCITTFalse(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
