package posting

import (
	"errors"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
)

var (
	// ErrLockUnavailable indicates another processor holds the event lease.
	ErrLockUnavailable = errors.New("posting: event is locked by another processor")
	// ErrStorageConflict indicates the atomic apply lost a race on a balance
	// row or the ledger tables. Retrying re-reads current state.
	ErrStorageConflict = errors.New("posting: storage conflict")
	// ErrNotReversible indicates a reversal of an event that is not POSTED.
	ErrNotReversible = errors.New("posting: event is not reversible")
	// ErrPostingFailed wraps every error that moved an event to FAILED.
	ErrPostingFailed = errors.New("posting: event failed")
	// ErrNoRule indicates a payload without a posting rule.
	ErrNoRule = errors.New("posting: no rule for event type")
)

// lockedMessage is the result error when the lease is held elsewhere.
const lockedMessage = "locked"

// leaseExpiredMessage marks events recovered from a crashed processor.
const leaseExpiredMessage = "processing lease expired"

// Retryable reports whether a posting failure may be retried automatically.
// Rule failures need a corrected chart or a new event; everything else is
// transient.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ledger.ErrUnbalancedEntry),
		errors.Is(err, ledger.ErrEmptyEntry),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrInactiveAccount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidUnitCost),
		errors.Is(err, events.ErrValidation),
		errors.Is(err, ErrNoRule):
		return false
	}
	return true
}
