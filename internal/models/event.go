package models

import (
	"time"

	"github.com/registry-indexer/internal/types"
)

// Event is a structured registry event recovered from one ledger transaction.
// The transaction signature is the deduplication key: each transaction stores
// at most one event row.
type Event struct {
	ID                   int64           `json:"id" db:"id"`
	EventType            types.EventType `json:"eventType" db:"event_type"`
	PackageName          string          `json:"packageName" db:"package_name"`
	Version              *string         `json:"version,omitempty" db:"version"`
	TransactionSignature string          `json:"transactionSignature" db:"transaction_signature"`
	Slot                 uint64          `json:"slot" db:"slot"`
	BlockTime            *time.Time      `json:"blockTime,omitempty" db:"block_time"`
}

// IndexerState is the singleton cursor row the scan worker resumes from
type IndexerState struct {
	LastProcessedSlot uint64              `json:"lastProcessedSlot" db:"last_processed_slot"`
	LastProcessedTime *time.Time          `json:"lastProcessedTime,omitempty" db:"last_processed_time"`
	Status            types.IndexerStatus `json:"status" db:"status"`
	ErrorCount        int64               `json:"errorCount" db:"error_count"`
	LastError         *string             `json:"lastError,omitempty" db:"last_error"`
}
