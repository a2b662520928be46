package capability

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestWaitTickPrefersWSHeadOverPoll(t *testing.T) {
	bc := &EVMBlockchain{heads: make(chan struct{}, 1)}
	bc.heads <- struct{}{}

	start := time.Now()
	if err := bc.waitTick(context.Background()); err != nil {
		t.Fatalf("waitTick: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("waitTick took %s, expected an immediate return on a pending head", elapsed)
	}
}

func TestWaitTickFallsBackToPollWithoutWatcher(t *testing.T) {
	bc := &EVMBlockchain{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := bc.waitTick(ctx); err == nil {
		t.Errorf("expected context deadline before the fixed poll interval elapses")
	}
}

// signedRawTxHex builds a real signed EIP-155 transaction and returns its
// raw hex encoding alongside the hash a node would assign it, for exercising
// hash recovery without a live RPC endpoint.
func signedRawTxHex(t *testing.T) (rawHex string, wantHash string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := types.NewTransaction(0, common.HexToAddress("0x1111111111111111111111111111111111111111"),
		big.NewInt(1000), 21000, big.NewInt(5_000_000_000), nil)
	signer := types.NewEIP155Signer(big.NewInt(56))
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	return "0x" + hex.EncodeToString(raw), signedTx.Hash().Hex()
}

func TestRecoverBroadcastHashMatchesOriginalHash(t *testing.T) {
	rawHex, wantHash := signedRawTxHex(t)

	got, err := recoverBroadcastHash(rawHex)
	if err != nil {
		t.Fatalf("recoverBroadcastHash: %v", err)
	}
	if got != wantHash {
		t.Errorf("recoverBroadcastHash = %s, want %s", got, wantHash)
	}
}

func TestIsAlreadyBroadcastErrorMatchesKnownMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"already known", true},
		{"replacement transaction underpriced: nonce too low", true},
		{"AlreadyKnown", true},
		{"insufficient funds for gas * price + value", false},
		{"execution reverted", false},
	}
	for _, c := range cases {
		if got := isAlreadyBroadcastError(errors.New(c.msg)); got != c.want {
			t.Errorf("isAlreadyBroadcastError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

// TestBroadcastTransactionRecoversHashOnAlreadyKnown drives BroadcastTransaction
// against a fake node that always rejects with "already known" and asserts the
// adapter still returns the transaction's real hash instead of failing the
// retry, satisfying the replay-idempotence invariant for the non-mock adapter.
func TestBroadcastTransactionRecoversHashOnAlreadyKnown(t *testing.T) {
	rawHex, wantHash := signedRawTxHex(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"already known"}}`))
	}))
	defer srv.Close()

	bc, err := NewEVMBlockchain([]string{srv.URL}, 3)
	if err != nil {
		t.Fatalf("new evm blockchain: %v", err)
	}

	hash, err := bc.BroadcastTransaction(context.Background(), rawHex)
	if err != nil {
		t.Fatalf("BroadcastTransaction: %v", err)
	}
	if hash != wantHash {
		t.Errorf("hash = %s, want %s", hash, wantHash)
	}
}

func TestBroadcastTransactionFailsOnUnrelatedError(t *testing.T) {
	rawHex, _ := signedRawTxHex(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"insufficient funds for gas * price + value"}}`))
	}))
	defer srv.Close()

	bc, err := NewEVMBlockchain([]string{srv.URL}, 3)
	if err != nil {
		t.Fatalf("new evm blockchain: %v", err)
	}

	if _, err := bc.BroadcastTransaction(context.Background(), rawHex); err == nil {
		t.Errorf("expected an unrelated RPC error to still fail the broadcast")
	}
}
