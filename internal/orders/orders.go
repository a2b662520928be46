// Package orders implements the payment order state machine and its
// durable, pgx-backed store (C4). Transitions are validated in-process
// before every persisted write; the store is the sole source of truth, per
// the design note that in-memory caches are derived views, not owners.
package orders

import (
	"errors"

	"github.com/boonlink/promptpay-bridge/internal/models"
)

var ErrIllegalTransition = errors.New("orders: illegal state transition")

// legalTransitions is the source→sink graph from the state machine spec.
// Terminal states have no outgoing edges.
var legalTransitions = map[models.PaymentStatus]map[models.PaymentStatus]bool{
	models.StatusInit: {
		models.StatusQuoted:    true,
		models.StatusCancelled: true,
	},
	models.StatusQuoted: {
		models.StatusSigned:    true,
		models.StatusExpired:   true,
		models.StatusCancelled: true,
		models.StatusFailed:    true,
	},
	models.StatusSigned: {
		models.StatusPending: true,
		models.StatusFailed:  true,
	},
	models.StatusPending: {
		models.StatusSettled: true,
		models.StatusFailed:  true,
		models.StatusTimeout: true,
	},
	models.StatusSettled: {
		models.StatusCompleted: true,
		models.StatusFailed:    true,
	},
}

// CanTransition reports whether from → to is a legal edge in the state
// machine graph. It is pure and synchronous, as required for C4.
func CanTransition(from, to models.PaymentStatus) bool {
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Cancellable reports whether a user-initiated cancel is legal for the
// given status: only while INIT or QUOTED, since a signed transaction may
// still land on-chain afterward.
func Cancellable(status models.PaymentStatus) bool {
	return status == models.StatusInit || status == models.StatusQuoted
}
