package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/gorilla/websocket"
)

// WSConfirmationWatcher offers a lower-latency alternative to
// WaitForConfirmation polling by subscribing to newHeads over an EVM
// node's WebSocket endpoint, generalizing the teacher's Tendermint
// chain.WSClient subscriber. A concrete Blockchain adapter may embed one
// and prefer it over polling when available; it is optional infrastructure,
// not a capability-interface requirement.
type WSConfirmationWatcher struct {
	Endpoint string
	Log      logging.Logger

	conn *websocket.Conn
}

func NewWSConfirmationWatcher(endpoint string, log logging.Logger) *WSConfirmationWatcher {
	if log == nil {
		log = logging.NoopLogger{}
	}
	return &WSConfirmationWatcher{Endpoint: endpoint, Log: log}
}

func (w *WSConfirmationWatcher) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, w.Endpoint, nil)
	if err != nil {
		return err
	}
	w.conn = conn
	return w.conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	})
}

func (w *WSConfirmationWatcher) Close() {
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

// NextHead blocks until a new-head notification arrives, returning its
// block number as a hex string.
func (w *WSConfirmationWatcher) NextHead(ctx context.Context) (string, error) {
	type notification struct {
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
	}

	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var n notification
		if err := json.Unmarshal(msg, &n); err != nil {
			continue
		}
		if n.Params.Result.Number != "" {
			return n.Params.Result.Number, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
	}
}

// Run reconnects with backoff until ctx is done, invoking onHead for every
// new block number observed.
func (w *WSConfirmationWatcher) Run(ctx context.Context, onHead func(blockNumberHex string)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.Connect(ctx); err != nil {
			w.Log.Warn("ws confirmation watcher connect failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for {
			head, err := w.NextHead(ctx)
			if err != nil {
				w.Log.Warn("ws confirmation watcher read failed", map[string]any{"error": err.Error()})
				w.Close()
				break
			}
			onHead(head)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
