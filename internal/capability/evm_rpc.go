package capability

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// rpcEndpoint is a single JSON-RPC HTTP client.
type rpcEndpoint struct {
	url    string
	client *http.Client
}

func newRPCEndpoint(url string) *rpcEndpoint {
	return &rpcEndpoint{url: url, client: &http.Client{Timeout: 15 * time.Second}}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *rpcEndpoint) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope jsonRPCResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("evm rpc: decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("evm rpc: %s", envelope.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// EVMBlockchain is a concrete Blockchain adapter over standard EVM JSON-RPC,
// generalizing the teacher's Tendermint MultiRPCClient round-robin-on-failure
// strategy to eth_* methods.
type EVMBlockchain struct {
	mu            sync.Mutex
	endpoints     []*rpcEndpoint
	index         int
	failCount     int
	failThreshold int

	ws     *WSConfirmationWatcher
	heads  chan struct{}
	wsOnce sync.Once
}

func NewEVMBlockchain(urls []string, failThreshold int) (*EVMBlockchain, error) {
	var endpoints []*rpcEndpoint
	seen := map[string]bool{}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		endpoints = append(endpoints, newRPCEndpoint(u))
	}
	if len(endpoints) == 0 {
		return nil, errors.New("evm rpc: no endpoints configured")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &EVMBlockchain{endpoints: endpoints, failThreshold: failThreshold}, nil
}

// UseWSWatcher attaches a WSConfirmationWatcher as the pacing signal for
// WaitForConfirmation, replacing the fixed poll interval with a wake on
// every new block head. The watcher's Run loop is started in the
// background and kept alive for the process lifetime; a nil watcher
// leaves WaitForConfirmation on its fixed-interval poll.
func (c *EVMBlockchain) UseWSWatcher(ctx context.Context, w *WSConfirmationWatcher) {
	if w == nil {
		return
	}
	c.ws = w
	c.heads = make(chan struct{}, 1)
	c.wsOnce.Do(func() {
		go w.Run(ctx, func(string) {
			select {
			case c.heads <- struct{}{}:
			default:
			}
		})
	})
}

// waitTick blocks until either the next block head is observed over the WS
// watcher (when attached) or a fixed poll interval elapses, whichever the
// adapter is configured to use.
func (c *EVMBlockchain) waitTick(ctx context.Context) error {
	if c.heads != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.heads:
			return nil
		case <-time.After(15 * time.Second):
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
		return nil
	}
}

func (c *EVMBlockchain) current() (*rpcEndpoint, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.index], c.index
}

func (c *EVMBlockchain) noteResult(idx int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != idx {
		return
	}
	if ok {
		c.failCount = 0
		return
	}
	c.failCount++
	if c.failCount >= c.failThreshold {
		c.index = (c.index + 1) % len(c.endpoints)
		c.failCount = 0
	}
}

func (c *EVMBlockchain) call(ctx context.Context, method string, params []any, out any) error {
	var lastErr error
	attempts := len(c.endpoints)
	for i := 0; i < attempts; i++ {
		ep, idx := c.current()
		err := ep.call(ctx, method, params, out)
		c.noteResult(idx, err == nil)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// GetBalance calls eth_getBalance for the chain's native asset. ERC-20
// balance lookups for USDT/USDC would require an eth_call against the
// token contract's balanceOf selector; the demo deployment only wires the
// mock Exchange/Settlement stack for those, so this adapter path covers the
// native-asset case a real deployment would extend per token contract.
func (c *EVMBlockchain) GetBalance(ctx context.Context, address string, token models.Token) (decimal.Decimal, error) {
	var hexBalance string
	if err := c.call(ctx, "eth_getBalance", []any{address, "latest"}, &hexBalance); err != nil {
		return decimal.Decimal{}, err
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexBalance, "0x"), 16)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("evm rpc: malformed balance %q", hexBalance)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

func (c *EVMBlockchain) CreateTransferTx(_ context.Context, from, to string, amount decimal.Decimal, token models.Token) (models.TxRequest, error) {
	if from == "" || to == "" {
		return models.TxRequest{}, errors.New("evm rpc: from/to address required")
	}
	return models.TxRequest{From: from, To: to, Amount: amount, Token: token}, nil
}

// SignTransaction is deliberately unimplemented on this adapter: the core
// never custodies keys (Non-goals), so signing must happen in a wallet or
// HSM boundary outside this process. Callers on the online happy path use
// MockBlockchain's demo signer instead.
func (c *EVMBlockchain) SignTransaction(_ context.Context, _ models.TxRequest, _ string) (models.TransactionSignature, error) {
	return models.TransactionSignature{}, errors.New("evm rpc: signing must happen outside the core; no key custody")
}

// alreadyBroadcastErrors matches the node error strings a resubmission of an
// already-known transaction comes back with, across the go-ethereum,
// erigon, and BSC geth-fork RPC implementations this adapter's endpoints may
// front.
var alreadyBroadcastErrors = []string{
	"already known",
	"already exists",
	"already imported",
	"alreadyknown",
	"nonce too low",
	"transaction with the same hash was already imported",
}

func isAlreadyBroadcastError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, substr := range alreadyBroadcastErrors {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// recoverBroadcastHash re-derives the transaction hash by RLP-decoding the
// signed payload directly, rather than trusting the RPC response, so a
// retried broadcast can still report the same hash as the original.
func recoverBroadcastHash(signedTx string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signedTx, "0x"))
	if err != nil {
		return "", fmt.Errorf("evm rpc: decode signed tx: %w", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("evm rpc: parse signed tx: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// BroadcastTransaction matches the mock adapter's replay guarantee for a
// real node: per spec, rebroadcasting an already-broadcast transaction MUST
// be treated as success, matched by txHash. A node that already has the
// transaction rejects eth_sendRawTransaction with an "already known" or
// "nonce too low" style error instead of returning the hash again, so on
// that class of error the hash is recovered from the signed payload itself
// instead of failing the retry.
func (c *EVMBlockchain) BroadcastTransaction(ctx context.Context, signedTx string) (string, error) {
	var txHash string
	err := c.call(ctx, "eth_sendRawTransaction", []any{signedTx}, &txHash)
	if err == nil {
		return txHash, nil
	}
	if isAlreadyBroadcastError(err) {
		if hash, hashErr := recoverBroadcastHash(signedTx); hashErr == nil {
			return hash, nil
		}
	}
	return "", err
}

func (c *EVMBlockchain) WaitForConfirmation(ctx context.Context, txHash string, confirmations int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var receipt struct {
			BlockNumber string `json:"blockNumber"`
			Status      string `json:"status"`
		}
		err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt)
		if err == nil && receipt.BlockNumber != "" {
			var latestHex string
			if err := c.call(ctx, "eth_blockNumber", nil, &latestHex); err == nil {
				latest, ok1 := new(big.Int).SetString(strings.TrimPrefix(latestHex, "0x"), 16)
				txBlock, ok2 := new(big.Int).SetString(strings.TrimPrefix(receipt.BlockNumber, "0x"), 16)
				if ok1 && ok2 {
					confirmed := new(big.Int).Sub(latest, txBlock).Int64() + 1
					if confirmed >= int64(confirmations) {
						return receipt.Status == "0x1", nil
					}
				}
			}
		}

		if err := c.waitTick(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}
