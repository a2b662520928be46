// Package sync implements the sync coordinator (C8): a manually triggered
// full queue drain with progress events, plus completed-order cleanup.
package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/logging"
	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/network"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/boonlink/promptpay-bridge/internal/processor"
	"github.com/boonlink/promptpay-bridge/internal/queue"
)

var (
	// ErrAlreadySyncing is returned when forceSync is called while a prior
	// sync is still draining the queue.
	ErrAlreadySyncing = errors.New("sync: already syncing")
	// ErrOffline is returned when forceSync is called while the network
	// detector reports OFFLINE.
	ErrOffline = errors.New("sync: network is offline")
)

// Event is one of sync_started, sync_progress, sync_completed, or
// sync_failed, carrying running totals.
type Event struct {
	Type      string
	Total     int
	Processed int
	Failed    int
	Error     string
}

// EventFunc receives every event emitted during a forceSync run.
type EventFunc func(Event)

// Coordinator drains the offline queue on demand, delegating the actual
// broadcast/confirm/settle pipeline to the processor.
type Coordinator struct {
	Orders    *orders.Store
	Queue     *queue.Store
	Processor *processor.Processor
	Detector  *network.Detector
	Log       logging.Logger

	syncing atomic.Bool
}

func New(o *orders.Store, q *queue.Store, p *processor.Processor, detector *network.Detector, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NoopLogger{}
	}
	return &Coordinator{Orders: o, Queue: q, Processor: p, Detector: detector, Log: log}
}

// ForceSync refuses to run while a sync is already in flight or the network
// is OFFLINE. Otherwise it snapshots the ready-queue size, drains it via the
// processor, and emits progress events as items disappear from the queue.
func (c *Coordinator) ForceSync(ctx context.Context, emit EventFunc) error {
	if emit == nil {
		emit = func(Event) {}
	}

	if !c.syncing.CompareAndSwap(false, true) {
		return ErrAlreadySyncing
	}
	defer c.syncing.Store(false)

	if c.Detector != nil && c.Detector.Status() == models.NetworkOffline {
		return ErrOffline
	}

	pending, err := c.Queue.GetReadyItems(ctx)
	if err != nil {
		emit(Event{Type: "sync_failed", Error: err.Error()})
		return err
	}
	total := len(pending)
	emit(Event{Type: "sync_started", Total: total})

	if total == 0 {
		emit(Event{Type: "sync_completed", Total: 0, Processed: 0, Failed: 0})
		return nil
	}

	remaining := map[string]bool{}
	for _, item := range pending {
		remaining[item.ID] = true
	}

	processed, failed := 0, 0
	for len(remaining) > 0 {
		if c.Detector != nil && c.Detector.Status() == models.NetworkOffline {
			err := ErrOffline
			emit(Event{Type: "sync_failed", Total: total, Processed: processed, Failed: failed, Error: err.Error()})
			return err
		}

		select {
		case <-ctx.Done():
			emit(Event{Type: "sync_failed", Total: total, Processed: processed, Failed: failed, Error: ctx.Err().Error()})
			return ctx.Err()
		default:
		}

		c.Processor.ProcessQueue(ctx)

		still, err := c.Queue.GetAll(ctx)
		if err != nil {
			emit(Event{Type: "sync_failed", Total: total, Processed: processed, Failed: failed, Error: err.Error()})
			return err
		}
		stillByID := map[string]bool{}
		for _, item := range still {
			stillByID[item.ID] = true
		}

		for id := range remaining {
			if stillByID[id] {
				continue
			}
			delete(remaining, id)
			order, err := c.orderForItem(ctx, id, pending)
			if err == nil && order != nil && order.Status == models.StatusFailed {
				failed++
			} else {
				processed++
			}
			emit(Event{Type: "sync_progress", Total: total, Processed: processed, Failed: failed})
		}

		if len(remaining) == 0 {
			break
		}
		if !anyStillReady(still, remaining) {
			// Everything left is backing off; nothing more to do this run.
			break
		}
	}

	emit(Event{Type: "sync_completed", Total: total, Processed: processed, Failed: failed})
	return nil
}

func anyStillReady(items []*models.OfflineQueueItem, remaining map[string]bool) bool {
	now := time.Now().UTC()
	for _, item := range items {
		if !remaining[item.ID] {
			continue
		}
		if item.NextRetry == nil || !item.NextRetry.After(now) {
			return true
		}
	}
	return false
}

func (c *Coordinator) orderForItem(ctx context.Context, itemID string, original []*models.OfflineQueueItem) (*models.PaymentOrder, error) {
	for _, item := range original {
		if item.ID == itemID {
			return c.Orders.Get(ctx, item.OrderID)
		}
	}
	return nil, nil
}

// CleanupOldOrders removes COMPLETED orders older than olderThanDays and
// returns the number removed.
func (c *Coordinator) CleanupOldOrders(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	removed, err := c.Orders.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.Log.Info("sync: cleaned up old orders", map[string]any{"removed": removed, "cutoff": cutoff})
	return removed, nil
}
