package stream

import (
	"time"

	"github.com/shopspring/decimal"
)

// lamportsPerSOL is the number of lamports in one SOL.
const lamportsPerSOL = 1_000_000_000

// BalanceUpdate is an immutable record of one observed balance state.
// Updates are delivered to the sink in arrival order; slot numbers come
// from the remote side and are not guaranteed monotonic.
type BalanceUpdate struct {
	// Timestamp is the wall-clock instant the update was recorded on our
	// side, not the chain time.
	Timestamp time.Time

	// Lamports is the account balance in the smallest native unit.
	Lamports uint64

	// Slot is the ledger slot the update was confirmed at. It is nil for
	// the synthetic seed update emitted from the initial balance fetch.
	Slot *uint64
}

// SOL returns the balance in whole SOL, derived from Lamports.
// The decimal representation is exact; callers that only need a display
// string can use SOL().String().
func (u BalanceUpdate) SOL() decimal.Decimal {
	return decimal.NewFromUint64(u.Lamports).Shift(-9)
}

// Status describes the connection phase of a session as seen by consumers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// Sink receives balance updates and connection-status transitions from a
// session. Updates arrive in the exact order the transport delivered the
// corresponding notifications. Implementations must not block for long;
// the session calls them from its event path.
type Sink interface {
	// OnBalanceUpdate is called once per observed balance state.
	OnBalanceUpdate(update BalanceUpdate)

	// OnStatusChange is called on every connection-phase transition.
	// attempt is the current reconnect attempt count; it is zero outside
	// of the reconnecting phase.
	OnStatusChange(status Status, attempt int)
}
