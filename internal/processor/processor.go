// Package processor implements the queue processor (C6): single-flight
// draining of the offline queue through broadcast, confirmation, and
// settlement, with exponential-backoff retry and network-aware gating.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/capability"
	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/metrics"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/network"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/boonlink/promptpay-bridge/internal/queue"
)

const (
	confirmations  = 3
	confirmTimeout = 60 * time.Second
	tickInterval   = 10 * time.Second
)

// Processor drains the offline queue. A single boolean gate (via
// atomic.Bool) prevents concurrent processQueue invocations; a new
// invocation returns immediately if one is active, matching the
// single-flight reentrancy requirement.
type Processor struct {
	Orders     *orders.Store
	Queue      *queue.Store
	Blockchain capability.Blockchain
	Settlement capability.Settlement
	Detector   *network.Detector
	Log        logging.Logger
	Metrics    metrics.Recorder

	draining atomic.Bool
	wake     chan struct{}
}

func New(o *orders.Store, q *queue.Store, bc capability.Blockchain, st capability.Settlement, detector *network.Detector, log logging.Logger, rec metrics.Recorder) *Processor {
	if log == nil {
		log = logging.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Processor{
		Orders:     o,
		Queue:      q,
		Blockchain: bc,
		Settlement: st,
		Detector:   detector,
		Log:        log,
		Metrics:    rec,
		wake:       make(chan struct{}, 1),
	}
}

// Wake schedules an immediate drain attempt without blocking the caller,
// used on enqueue-while-online and on a network transition into ONLINE.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the cooperative ticker loop: a 10s tick, plus immediate wakes
// via Wake(), plus an automatic wake on every transition into ONLINE.
func (p *Processor) Run(ctx context.Context) {
	if p.Detector != nil {
		sub := p.Detector.Subscribe(func(old, new models.NetworkStatus) {
			if new == models.NetworkOnline {
				p.Wake()
			}
		})
		defer sub.Unsubscribe()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessQueue(ctx)
		case <-p.wake:
			p.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue drains ready items in created_at order, stopping if network
// status falls to OFFLINE between items. It returns immediately if a drain
// is already in flight.
func (p *Processor) ProcessQueue(ctx context.Context) {
	if !p.draining.CompareAndSwap(false, true) {
		return
	}
	defer p.draining.Store(false)

	if p.Detector != nil && p.Detector.Status() == models.NetworkOffline {
		return
	}

	items, err := p.Queue.GetReadyItems(ctx)
	if err != nil {
		p.Log.Error("processor: get ready items failed", map[string]any{"error": err.Error()})
		return
	}

	for _, item := range items {
		if p.Detector != nil && p.Detector.Status() == models.NetworkOffline {
			return
		}
		p.processItem(ctx, item)
	}
}

func (p *Processor) processItem(ctx context.Context, item *models.OfflineQueueItem) {
	start := time.Now()
	order, err := p.Orders.Get(ctx, item.OrderID)
	if err != nil {
		p.Log.Error("processor: order lookup failed", map[string]any{"orderId": item.OrderID, "error": err.Error()})
		return
	}

	if order.Status == models.StatusSigned {
		updated, err := p.Orders.Transition(ctx, order.ID, models.StatusPending, nil)
		if err != nil {
			p.Log.Error("processor: transition to pending failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			return
		}
		order = updated
	}

	txHash, err := p.Blockchain.BroadcastTransaction(ctx, item.SignedTxBlob)
	if err != nil {
		p.scheduleRetry(ctx, item, order, fmt.Sprintf("BroadcastFailed: %v", err))
		return
	}
	if updated, err := p.Orders.Annotate(ctx, order.ID, func(o *models.PaymentOrder) {
		o.TxHash = &txHash
	}); err != nil {
		p.Log.Error("processor: record txHash failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	} else {
		order = updated
	}

	confirmed, err := p.Blockchain.WaitForConfirmation(ctx, txHash, confirmations, confirmTimeout)
	if err != nil || !confirmed {
		p.scheduleRetry(ctx, item, order, "Transaction not confirmed")
		return
	}

	settled := order
	if order.Status != models.StatusSettled {
		settled, err = p.Orders.Transition(ctx, order.ID, models.StatusSettled, nil)
		if err != nil {
			p.Log.Error("processor: transition to settled failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			return
		}
	}

	result, err := p.Settlement.Settle(ctx, *settled)
	if err != nil || !result.Success {
		p.scheduleRetry(ctx, item, order, "Settlement failed")
		return
	}

	if _, err := p.Orders.Transition(ctx, order.ID, models.StatusCompleted, func(o *models.PaymentOrder) {
		settlementID := result.SettlementID
		o.SettlementID = &settlementID
	}); err != nil {
		p.Log.Error("processor: transition to completed failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return
	}

	if err := p.Queue.Dequeue(ctx, item.ID); err != nil {
		p.Log.Error("processor: dequeue failed", map[string]any{"itemId": item.ID, "error": err.Error()})
	}

	p.Metrics.IncCounter("order_completed", nil)
	p.Metrics.ObserveLatency("drain_item", time.Since(start), nil)
}

// scheduleRetry increments retryCount and computes the next backoff delay.
// At MaxRetries, the order is marked FAILED with a descriptive reason and
// the queue row is removed.
func (p *Processor) scheduleRetry(ctx context.Context, item *models.OfflineQueueItem, order *models.PaymentOrder, reason string) {
	retryCount := item.RetryCount + 1
	now := time.Now().UTC()

	if retryCount >= queue.MaxRetries {
		msg := fmt.Sprintf("Max retries exceeded: %s", reason)
		if _, err := p.Orders.Transition(ctx, order.ID, models.StatusFailed, func(o *models.PaymentOrder) {
			o.Error = &msg
		}); err != nil {
			p.Log.Error("processor: mark failed failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
		if err := p.Queue.Dequeue(ctx, item.ID); err != nil {
			p.Log.Error("processor: dequeue after max retries failed", map[string]any{"itemId": item.ID, "error": err.Error()})
		}
		p.Metrics.IncCounter("order_failed", nil)
		return
	}

	delay := queue.BackoffDelay(retryCount)
	nextRetry := now.Add(delay)
	if err := p.Queue.UpdateRetry(ctx, item.ID, retryCount, now, nextRetry); err != nil {
		p.Log.Error("processor: update retry failed", map[string]any{"itemId": item.ID, "error": err.Error()})
	}
	p.Metrics.IncCounter("order_retry_scheduled", nil)
	p.Log.Warn("processor: retry scheduled", map[string]any{
		"orderId": order.ID, "retryCount": retryCount, "reason": reason, "nextRetry": nextRetry,
	})
}
