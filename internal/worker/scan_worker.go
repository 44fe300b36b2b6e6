// Package worker runs the ledger scan loop that keeps the materialized
// registry state current.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/registry-indexer/internal/ledger"
	"github.com/registry-indexer/internal/logging"
	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/parser"
	"github.com/registry-indexer/internal/types"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxSlotsPerPoll = 200
	cursorSaveEvery        = 10

	// Tip-fetch failure handling: below the retry ceiling a short fixed
	// delay, at the ceiling exponential backoff doubling up to the cap.
	tipRetryCeiling  = 5
	tipRetryDelay    = 5 * time.Second
	backoffBaseDelay = 2 * time.Second
	backoffMaxDelay  = 5 * time.Minute
)

// EventStore records parsed events with insert-or-ignore semantics
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.Event) (bool, error)
}

// CursorStore persists scan progress and error diagnostics
type CursorStore interface {
	LastProcessedSlot(ctx context.Context) (uint64, error)
	SaveLastProcessedSlot(ctx context.Context, slot uint64, processedAt *time.Time) error
	RecordError(ctx context.Context, message string) error
	SetStatus(ctx context.Context, status types.IndexerStatus) error
}

// Ingester materializes a newly recorded event
type Ingester interface {
	Ingest(ctx context.Context, event *models.Event, rawLog string) error
}

// ScanWorker walks the ledger slot by slot, extracts registry events from
// program logs and applies them to the store. Scanning is strictly sequential:
// cursor correctness depends on in-order processing of a contiguous range.
type ScanWorker struct {
	client       ledger.Client
	events       EventStore
	cursor       CursorStore
	ingester     Ingester
	programID    string
	pollInterval time.Duration
	maxSlots     int
	startSlot    uint64
	logger       *logging.Logger

	mu            sync.RWMutex
	running       bool
	status        types.IndexerStatus
	lastProcessed uint64
	lastPollTime  time.Time
	eventsIndexed int64

	// Backoff state for repeated tip-fetch failures
	tipRetryCount int
	backoffDelay  time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// ScanWorkerConfig holds configuration for the scan worker
type ScanWorkerConfig struct {
	Client          ledger.Client
	Events          EventStore
	Cursor          CursorStore
	Ingester        Ingester
	ProgramID       string
	PollInterval    time.Duration
	MaxSlotsPerPoll int
	// StartSlot overrides the initial cursor when no progress was persisted.
	// Zero means start from the current tip (no historical backfill).
	StartSlot uint64
	Logger    *logging.Logger
}

// NewScanWorker creates a new scan worker
func NewScanWorker(cfg *ScanWorkerConfig) (*ScanWorker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("ledger client cannot be nil")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}
	if cfg.Cursor == nil {
		return nil, fmt.Errorf("cursor store cannot be nil")
	}
	if cfg.Ingester == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if cfg.ProgramID == "" {
		return nil, fmt.Errorf("program id cannot be empty")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxSlots := cfg.MaxSlotsPerPoll
	if maxSlots <= 0 {
		maxSlots = defaultMaxSlotsPerPoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ScanWorker{
		client:       cfg.Client,
		events:       cfg.Events,
		cursor:       cfg.Cursor,
		ingester:     cfg.Ingester,
		programID:    cfg.ProgramID,
		pollInterval: pollInterval,
		maxSlots:     maxSlots,
		startSlot:    cfg.StartSlot,
		logger:       logger.WithField("component", "scan_worker"),
		status:       types.StatusStarting,
		backoffDelay: backoffBaseDelay,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start resolves the initial cursor and begins the polling loop in a
// goroutine.
func (w *ScanWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("scan worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	startSlot, err := w.resolveStartSlot(ctx)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to resolve start slot: %w", err)
	}

	w.mu.Lock()
	w.lastProcessed = startSlot
	w.status = types.StatusRunning
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"startSlot":    startSlot,
		"programId":    w.programID,
		"pollInterval": w.pollInterval.String(),
	}).Info("Scan worker starting")

	go w.pollLoop(ctx)

	return nil
}

// Stop signals the polling loop to exit and waits for the in-flight slot to
// complete.
func (w *ScanWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("scan worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Scan worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("Scan worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.status = types.StatusStopped
	w.mu.Unlock()

	if err := w.cursor.SetStatus(context.Background(), types.StatusStopped); err != nil {
		w.logger.WithError(err).Warn("Failed to persist stopped status")
	}
	return nil
}

// resolveStartSlot determines the initial cursor: persisted progress wins,
// then an explicit override, then the ledger's current tip (no historical
// backfill by default).
func (w *ScanWorker) resolveStartSlot(ctx context.Context) (uint64, error) {
	persisted, err := w.cursor.LastProcessedSlot(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to load persisted cursor, falling back")
	} else if persisted > 0 {
		w.logger.WithField("slot", persisted).Info("Resuming from persisted cursor")
		return persisted, nil
	}

	if w.startSlot > 0 {
		w.logger.WithField("slot", w.startSlot).Info("No persisted cursor, starting from configured override")
		return w.startSlot, nil
	}

	tip, err := w.client.GetTip(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get initial tip: %w", err)
	}
	w.logger.WithField("slot", tip).Info("No persisted cursor or override, starting from current tip")
	return tip, nil
}

// pollLoop runs until Stop is called or the context is cancelled. Each
// iteration polls the tip and processes the slot range behind it; the delay
// until the next iteration depends on the outcome (poll interval when caught
// up, zero while catching up, retry or backoff delay on tip failures).
func (w *ScanWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		delay := w.poll(ctx)

		if delay > 0 {
			select {
			case <-ctx.Done():
				w.logger.Info("Scan worker context cancelled")
				return
			case <-w.stopCh:
				return
			case <-time.After(delay):
			}
		} else {
			select {
			case <-ctx.Done():
				w.logger.Info("Scan worker context cancelled")
				return
			case <-w.stopCh:
				return
			default:
			}
		}
	}
}

// poll performs one polling cycle and returns the delay before the next one
func (w *ScanWorker) poll(ctx context.Context) time.Duration {
	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.mu.Unlock()

	tip, err := w.client.GetTip(ctx)
	if err != nil {
		return w.handleTipFailure(ctx, err)
	}

	// A successful tip fetch resets the backoff state
	w.mu.Lock()
	w.tipRetryCount = 0
	w.backoffDelay = backoffBaseDelay
	w.status = types.StatusRunning
	cursor := w.lastProcessed
	w.mu.Unlock()

	if tip <= cursor {
		return w.pollInterval
	}

	target := w.processRange(ctx, cursor, tip)

	if target < tip {
		w.logger.WithFields(map[string]interface{}{
			"cursor": target,
			"tip":    tip,
		}).Debug("Still behind tip, continuing catch-up")
		return 0
	}
	return w.pollInterval
}

// handleTipFailure applies the retry/backoff policy for transport-level
// failures: short fixed delays below the retry ceiling, exponential backoff
// with a capped maximum at and above it.
func (w *ScanWorker) handleTipFailure(ctx context.Context, err error) time.Duration {
	w.mu.Lock()
	w.tipRetryCount++
	count := w.tipRetryCount
	w.mu.Unlock()

	w.logger.WithError(err).WithFields(map[string]interface{}{
		"attempt":      count,
		"retryCeiling": tipRetryCeiling,
	}).Error("Failed to fetch ledger tip")

	if recErr := w.cursor.RecordError(ctx, fmt.Sprintf("tip fetch: %v", err)); recErr != nil {
		w.logger.WithError(recErr).Warn("Failed to persist error diagnostic")
	}

	if count < tipRetryCeiling {
		return tipRetryDelay
	}

	w.mu.Lock()
	w.status = types.StatusBackoff
	delay := w.backoffDelay
	w.backoffDelay *= 2
	if w.backoffDelay > backoffMaxDelay {
		w.backoffDelay = backoffMaxDelay
	}
	w.tipRetryCount = 0
	w.mu.Unlock()

	if err := w.cursor.SetStatus(ctx, types.StatusBackoff); err != nil {
		w.logger.WithError(err).Warn("Failed to persist backoff status")
	}

	w.logger.WithField("delay", delay.String()).Warn("Retry ceiling reached, applying exponential backoff")
	return delay
}

// processRange walks slots cursor+1..tip in increasing order, bounded per
// cycle by maxSlots. A failed slot records a diagnostic and does not stall
// the cursor; a skipped slot is a no-op success. The cursor is persisted
// every few slots and unconditionally at the end of the batch, so a crash
// reprocesses at most a small bounded range.
func (w *ScanWorker) processRange(ctx context.Context, cursor, tip uint64) uint64 {
	target := tip
	if tip-cursor > uint64(w.maxSlots) {
		target = cursor + uint64(w.maxSlots)
		w.logger.WithFields(map[string]interface{}{
			"behind": tip - cursor,
			"batch":  w.maxSlots,
		}).Info("Catching up over multiple cycles")
	}

	for slot := cursor + 1; slot <= target; slot++ {
		select {
		case <-ctx.Done():
			return slot - 1
		case <-w.stopCh:
			return slot - 1
		default:
		}

		if err := w.processSlot(ctx, slot); err != nil {
			w.logger.WithError(err).WithField("slot", slot).Warn("Failed to process slot, continuing")
			if recErr := w.cursor.RecordError(ctx, fmt.Sprintf("slot %d: %v", slot, err)); recErr != nil {
				w.logger.WithError(recErr).Warn("Failed to persist error diagnostic")
			}
		}

		w.mu.Lock()
		w.lastProcessed = slot
		w.mu.Unlock()

		if slot%cursorSaveEvery == 0 {
			w.saveCursor(ctx, slot)
		}
	}

	w.saveCursor(ctx, target)
	return target
}

func (w *ScanWorker) saveCursor(ctx context.Context, slot uint64) {
	if err := w.cursor.SaveLastProcessedSlot(ctx, slot, nil); err != nil {
		w.logger.WithError(err).WithField("slot", slot).Warn("Failed to persist cursor")
	}
}

// processSlot fetches one block and scans it for registry events. A skipped
// or unavailable slot is an expected condition and advances the cursor.
func (w *ScanWorker) processSlot(ctx context.Context, slot uint64) error {
	block, err := w.client.GetBlock(ctx, slot)
	if err != nil {
		if errors.Is(err, ledger.ErrSlotSkipped) {
			w.logger.WithField("slot", slot).Debug("Slot skipped or not available")
			return nil
		}
		return fmt.Errorf("failed to fetch block: %w", err)
	}

	eventsFound := 0
	for _, tx := range block.Transactions {
		if !tx.Succeeded {
			continue
		}
		if !w.invokesProgram(tx.Logs) {
			continue
		}

		// One instruction invocation produces one event: the first log line
		// that parses wins for the whole transaction.
		for _, line := range tx.Logs {
			event := parser.Parse(line, tx.Signature, slot, block.BlockTime)
			if event == nil {
				continue
			}

			inserted, err := w.events.InsertEvent(ctx, event)
			if err != nil {
				w.logger.WithError(err).WithField("signature", tx.Signature).Warn("Failed to insert event")
				if recErr := w.cursor.RecordError(ctx, fmt.Sprintf("insert event %s: %v", tx.Signature, err)); recErr != nil {
					w.logger.WithError(recErr).Warn("Failed to persist error diagnostic")
				}
				break
			}
			if !inserted {
				// Already recorded: expected under reprocessing after a crash
				break
			}

			eventsFound++
			w.logger.WithFields(map[string]interface{}{
				"eventType": string(event.EventType),
				"package":   event.PackageName,
				"slot":      slot,
				"signature": truncateSignature(tx.Signature),
			}).Info("Indexed event")

			if err := w.ingester.Ingest(ctx, event, line); err != nil {
				// The event row stays; the projection catches up on replay
				w.logger.WithError(err).WithField("signature", tx.Signature).Warn("Ingestion failed for recorded event")
			}
			break
		}
	}

	if eventsFound > 0 {
		w.mu.Lock()
		w.eventsIndexed += int64(eventsFound)
		w.mu.Unlock()
		w.logger.WithFields(map[string]interface{}{
			"slot":   slot,
			"events": eventsFound,
		}).Info("Processed slot")
	}

	return nil
}

// invokesProgram reports whether any log line references the target program.
// Transactions that never invoked the program cannot carry registry events.
func (w *ScanWorker) invokesProgram(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, w.programID) {
			return true
		}
	}
	return false
}

// Status is a point-in-time snapshot of the worker
type Status struct {
	Running           bool                `json:"running"`
	Status            types.IndexerStatus `json:"status"`
	LastProcessedSlot uint64              `json:"lastProcessedSlot"`
	LastPollTime      time.Time           `json:"lastPollTime"`
	EventsIndexed     int64               `json:"eventsIndexed"`
	PollIntervalSecs  int                 `json:"pollIntervalSeconds"`
}

// GetStatus returns the current worker status
func (w *ScanWorker) GetStatus() *Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &Status{
		Running:           w.running,
		Status:            w.status,
		LastProcessedSlot: w.lastProcessed,
		LastPollTime:      w.lastPollTime,
		EventsIndexed:     w.eventsIndexed,
		PollIntervalSecs:  int(w.pollInterval.Seconds()),
	}
}

func truncateSignature(sig string) string {
	if len(sig) <= 8 {
		return sig
	}
	return sig[:8]
}
