// Package eip712 implements the offline-authorization codec: domain
// separated hashing, secp256k1 sign/recover, and a compact QR-envelope
// encoding for a Payment(orderId, token, amount, recipient, nonce, deadline)
// typed message.
package eip712

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Domain is the EIP-712 domain separator input.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

var paymentTypeHash = crypto.Keccak256Hash([]byte(
	"Payment(string orderId,string token,uint256 amount,address recipient,uint256 nonce,uint256 deadline)",
))

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Authorization is the offline payment authorization message, both before
// and after signing.
type Authorization struct {
	OrderID   string
	Token     string
	Amount    *big.Int
	Recipient common.Address
	Nonce     uint64
	Deadline  int64

	Signature string
	Signer    common.Address
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid  bool
	Signer common.Address
	Error  string
}

func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// domainSeparator builds keccak256(abi.encode(domainTypeHash, keccak256(name),
// keccak256(version), chainId, verifyingContract)) per EIP-712.
func domainSeparator(d Domain) common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))
	verifying := common.HexToAddress(d.VerifyingContract)

	buf := make([]byte, 0, 160)
	buf = append(buf, domainTypeHash.Bytes()...)
	buf = append(buf, nameHash.Bytes()...)
	buf = append(buf, versionHash.Bytes()...)
	buf = append(buf, padLeft32(big.NewInt(d.ChainID))...)
	buf = append(buf, addressTo32(verifying)...)
	return crypto.Keccak256Hash(buf)
}

// structHash builds the Payment struct hash. String fields are hashed with
// keccak256 per EIP-712's encoding rule for dynamic types.
func structHash(a Authorization) common.Hash {
	orderIDHash := crypto.Keccak256Hash([]byte(a.OrderID))
	tokenHash := crypto.Keccak256Hash([]byte(a.Token))

	buf := make([]byte, 0, 224)
	buf = append(buf, paymentTypeHash.Bytes()...)
	buf = append(buf, orderIDHash.Bytes()...)
	buf = append(buf, tokenHash.Bytes()...)
	buf = append(buf, padLeft32(a.Amount)...)
	buf = append(buf, addressTo32(a.Recipient)...)
	buf = append(buf, padLeft32(new(big.Int).SetUint64(a.Nonce))...)
	buf = append(buf, padLeft32(big.NewInt(a.Deadline))...)
	return crypto.Keccak256Hash(buf)
}

// Digest returns the final EIP-712 hash to sign/recover:
// keccak256(0x1901 || domainSeparator || structHash).
func Digest(domain Domain, a Authorization) common.Hash {
	sep := domainSeparator(domain)
	sh := structHash(a)
	buf := make([]byte, 0, 66)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, sep.Bytes()...)
	buf = append(buf, sh.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// Sign produces a 65-byte (r, s, v) secp256k1 signature over the digest and
// returns the hex-encoded signature plus the signer address.
func Sign(domain Domain, a Authorization, key *ecdsa.PrivateKey) (string, common.Address, error) {
	digest := Digest(domain, a)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return "", common.Address{}, fmt.Errorf("eip712: sign: %w", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	return "0x" + hex.EncodeToString(sig), signer, nil
}

// Verify recovers the signer from digest + signature, requires the deadline
// has not passed, and requires the recovered address matches the claimed
// signer case-insensitively.
func Verify(domain Domain, a Authorization, nowUnix int64) VerifyResult {
	sigHex := strings.TrimPrefix(a.Signature, "0x")
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return VerifyResult{Valid: false, Error: "invalid signature encoding"}
	}
	if len(sigBytes) != 65 {
		return VerifyResult{Valid: false, Error: "signature must be 65 bytes"}
	}

	sig := make([]byte, 65)
	copy(sig, sigBytes)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := Digest(domain, a)
	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return VerifyResult{Valid: false, Error: "signature recovery failed"}
	}
	recovered := crypto.PubkeyToAddress(*pubKey)

	if a.Deadline < nowUnix {
		return VerifyResult{Valid: false, Signer: recovered, Error: "authorization expired"}
	}
	if !strings.EqualFold(recovered.Hex(), a.Signer.Hex()) {
		return VerifyResult{Valid: false, Signer: recovered, Error: "signer mismatch"}
	}
	return VerifyResult{Valid: true, Signer: recovered}
}

// envelope is the compact wire shape carried inside a QR code.
type envelope struct {
	O string `json:"o"`
	T string `json:"t"`
	A string `json:"a"`
	R string `json:"r"`
	N string `json:"n"`
	D string `json:"d"`
	S string `json:"s"`
	F string `json:"f"`
}

// EncodeEnvelope base64-encodes the compact {o,t,a,r,n,d,s,f} mapping.
func EncodeEnvelope(a Authorization) (string, error) {
	env := envelope{
		O: a.OrderID,
		T: a.Token,
		A: a.Amount.String(),
		R: a.Recipient.Hex(),
		N: strconv.FormatUint(a.Nonce, 10),
		D: strconv.FormatInt(a.Deadline, 10),
		S: a.Signature,
		F: a.Signer.Hex(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeEnvelope reverses EncodeEnvelope, rejecting non-base64 input,
// missing fields, and non-decimal numeric fields.
func DecodeEnvelope(encoded string) (Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Authorization{}, errors.New("eip712: envelope is not valid base64")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Authorization{}, errors.New("eip712: envelope is not valid json")
	}

	if env.O == "" || env.T == "" || env.A == "" || env.R == "" || env.N == "" || env.D == "" || env.S == "" || env.F == "" {
		return Authorization{}, errors.New("eip712: envelope is missing a required field")
	}

	amount, ok := new(big.Int).SetString(env.A, 10)
	if !ok {
		return Authorization{}, errors.New("eip712: amount is not a decimal integer")
	}
	nonce, err := strconv.ParseUint(env.N, 10, 64)
	if err != nil {
		return Authorization{}, errors.New("eip712: nonce is not a decimal integer")
	}
	deadline, err := strconv.ParseInt(env.D, 10, 64)
	if err != nil {
		return Authorization{}, errors.New("eip712: deadline is not a decimal integer")
	}
	if !common.IsHexAddress(env.R) {
		return Authorization{}, errors.New("eip712: recipient is not a valid address")
	}
	if !common.IsHexAddress(env.F) {
		return Authorization{}, errors.New("eip712: signer is not a valid address")
	}

	return Authorization{
		OrderID:   env.O,
		Token:     env.T,
		Amount:    amount,
		Recipient: common.HexToAddress(env.R),
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: env.S,
		Signer:    common.HexToAddress(env.F),
	}, nil
}

// NowDeadline is a convenience for tests and mock signers: seconds since the
// epoch, matching the unit expected by Deadline.
func NowDeadline(t time.Time) int64 {
	return t.Unix()
}

// unitScale is the fixed-point exponent the Payment message's amount field
// is denominated in. Every settlement token the bridge quotes is converted
// at this scale for the purpose of the signed authorization; per-token
// decimals are not consulted.
const unitScale = 18

// AmountToUnits converts a decimal token amount into the base-unit integer
// carried in the typed Payment message and compared against on verify.
func AmountToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(unitScale).BigInt()
}
