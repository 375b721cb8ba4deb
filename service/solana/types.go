package solana

import (
	"time"
)

// Balance represents an observed account balance.
// This is our domain model, independent of the RPC response format.
type Balance struct {
	Address   string
	Lamports  uint64
	Slot      uint64
	FetchedAt time.Time
}
