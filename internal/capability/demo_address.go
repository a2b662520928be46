package capability

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

// DemoAddressDeriver derives deterministic, non-custodial *display*
// addresses for demo-mode wallets from an extended public key. It never
// touches a private key: the same bech32/HD derivation the teacher used for
// Cosmos addresses, repurposed here to label demo wallets distinctly from
// the real EVM recipient hex address used in EIP-712 authorizations.
// MockBlockchain.SeedDemoWallet is the wiring point: it derives an address
// at process startup (when Demo.XPub is configured) and pre-funds it so
// confirm_payment's balance check passes without a real wallet.
type DemoAddressDeriver struct {
	XPub   string
	Prefix string
}

func (d DemoAddressDeriver) Derive(index uint32) (string, error) {
	if d.XPub == "" {
		return "", errors.New("capability: demo xpub is not configured")
	}
	if d.Prefix == "" {
		d.Prefix = "demo"
	}

	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return "", err
	}
	child, err := key.Derive(index)
	if err != nil {
		return "", err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	compressed := pubKey.SerializeCompressed()
	hash := sha256.Sum256(compressed)
	rip := ripemd160.New()
	_, _ = rip.Write(hash[:])
	addr := rip.Sum(nil)

	converted, err := bech32.ConvertBits(addr, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(d.Prefix, converted)
}
