// Package ledger provides access to the upstream distributed ledger over RPC.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrSlotSkipped indicates the requested slot was skipped by the ledger or is
// no longer available. This is an expected, eventually-consistent condition,
// not a transport failure: callers advance past it.
var ErrSlotSkipped = errors.New("slot skipped or not available")

// Transaction is one transaction within a ledger block, reduced to the fields
// the indexer needs.
type Transaction struct {
	Signature string
	Succeeded bool
	Logs      []string
}

// Block holds the transactions and timestamp of a single slot
type Block struct {
	Transactions []Transaction
	BlockTime    *time.Time
}

// Client is the boundary to the remote ledger RPC endpoint
type Client interface {
	// GetTip returns the current tip slot of the ledger
	GetTip(ctx context.Context) (uint64, error)

	// GetBlock fetches the block at the given slot. Returns ErrSlotSkipped
	// when the slot was skipped or pruned; any other error is a transport
	// failure.
	GetBlock(ctx context.Context, slot uint64) (*Block, error)
}
