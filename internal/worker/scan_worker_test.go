package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/registry-indexer/internal/ledger"
	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "RegProg1111111111111111111111111111111111111"

// fakeLedger serves scripted tips and blocks. Slots without a scripted block
// behave as skipped.
type fakeLedger struct {
	tip      uint64
	tipErr   error
	blocks   map[uint64]*ledger.Block
	blockErr map[uint64]error
}

func (f *fakeLedger) GetTip(ctx context.Context) (uint64, error) {
	if f.tipErr != nil {
		return 0, f.tipErr
	}
	return f.tip, nil
}

func (f *fakeLedger) GetBlock(ctx context.Context, slot uint64) (*ledger.Block, error) {
	if err, ok := f.blockErr[slot]; ok {
		return nil, err
	}
	if block, ok := f.blocks[slot]; ok {
		return block, nil
	}
	return nil, ledger.ErrSlotSkipped
}

// fakeCursor is an in-memory CursorStore
type fakeCursor struct {
	slot     uint64
	saves    int
	errors   []string
	statuses []types.IndexerStatus
}

func (f *fakeCursor) LastProcessedSlot(ctx context.Context) (uint64, error) {
	return f.slot, nil
}

func (f *fakeCursor) SaveLastProcessedSlot(ctx context.Context, slot uint64, processedAt *time.Time) error {
	if slot > f.slot {
		f.slot = slot
	}
	f.saves++
	return nil
}

func (f *fakeCursor) RecordError(ctx context.Context, message string) error {
	f.errors = append(f.errors, message)
	return nil
}

func (f *fakeCursor) SetStatus(ctx context.Context, status types.IndexerStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

// fakeEventStore deduplicates on transaction signature like the real table
type fakeEventStore struct {
	events    []*models.Event
	seen      map[string]bool
	insertErr error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seen: make(map[string]bool)}
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, event *models.Event) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if f.seen[event.TransactionSignature] {
		return false, nil
	}
	f.seen[event.TransactionSignature] = true
	f.events = append(f.events, event)
	return true, nil
}

// fakeIngester records which signatures were materialized
type fakeIngester struct {
	ingested []string
}

func (f *fakeIngester) Ingest(ctx context.Context, event *models.Event, rawLog string) error {
	f.ingested = append(f.ingested, event.TransactionSignature)
	return nil
}

func publishBlock(signature, pkg, version string) *ledger.Block {
	return &ledger.Block{
		Transactions: []ledger.Transaction{
			{
				Signature: signature,
				Succeeded: true,
				Logs: []string{
					fmt.Sprintf("Program %s invoke [1]", testProgramID),
					fmt.Sprintf(`Program log: PackagePublished {"package":"%s","version":"%s"}`, pkg, version),
					fmt.Sprintf("Program %s success", testProgramID),
				},
			},
		},
	}
}

func newTestWorker(t *testing.T, client ledger.Client, cursor CursorStore, events EventStore, ing Ingester) *ScanWorker {
	t.Helper()
	w, err := NewScanWorker(&ScanWorkerConfig{
		Client:          client,
		Events:          events,
		Cursor:          cursor,
		Ingester:        ing,
		ProgramID:       testProgramID,
		PollInterval:    time.Hour, // tests drive poll() directly
		MaxSlotsPerPoll: 50,
	})
	require.NoError(t, err)
	return w
}

func TestNewScanWorker_Validation(t *testing.T) {
	base := &ScanWorkerConfig{
		Client:    &fakeLedger{},
		Events:    newFakeEventStore(),
		Cursor:    &fakeCursor{},
		Ingester:  &fakeIngester{},
		ProgramID: testProgramID,
	}

	_, err := NewScanWorker(base)
	require.NoError(t, err)

	missing := *base
	missing.ProgramID = ""
	_, err = NewScanWorker(&missing)
	assert.Error(t, err)

	noClient := *base
	noClient.Client = nil
	_, err = NewScanWorker(&noClient)
	assert.Error(t, err)
}

func TestPoll_IndexesEventsFromBlocks(t *testing.T) {
	client := &fakeLedger{
		tip: 103,
		blocks: map[uint64]*ledger.Block{
			101: publishBlock("sig-a", "pkg-a", "1.0.0"),
			103: publishBlock("sig-b", "pkg-b", "2.0.0"),
		},
	}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()
	ing := &fakeIngester{}

	w := newTestWorker(t, client, cursor, events, ing)
	w.lastProcessed = 100

	w.poll(context.Background())

	require.Len(t, events.events, 2)
	assert.Equal(t, "pkg-a", events.events[0].PackageName)
	assert.Equal(t, uint64(101), events.events[0].Slot)
	assert.Equal(t, "pkg-b", events.events[1].PackageName)
	assert.Equal(t, []string{"sig-a", "sig-b"}, ing.ingested)
	assert.Equal(t, uint64(103), cursor.slot)
}

func TestPoll_SkippedSlotsAdvanceCursor(t *testing.T) {
	// Slots 101 and 102 are skipped on the ledger; no error may be recorded
	// and the cursor must still advance past them.
	client := &fakeLedger{
		tip:    103,
		blocks: map[uint64]*ledger.Block{103: publishBlock("sig-x", "pkg-x", "1.0.0")},
	}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()

	w := newTestWorker(t, client, cursor, events, &fakeIngester{})
	w.lastProcessed = 100

	w.poll(context.Background())

	assert.Empty(t, cursor.errors)
	assert.Equal(t, uint64(103), cursor.slot)
	assert.Len(t, events.events, 1)
}

func TestPoll_SlotErrorRecordedAndLoopContinues(t *testing.T) {
	client := &fakeLedger{
		tip:      103,
		blocks:   map[uint64]*ledger.Block{103: publishBlock("sig-after", "pkg-after", "1.0.0")},
		blockErr: map[uint64]error{101: errors.New("rpc exploded")},
	}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()

	w := newTestWorker(t, client, cursor, events, &fakeIngester{})
	w.lastProcessed = 100

	w.poll(context.Background())

	require.Len(t, cursor.errors, 1)
	assert.Contains(t, cursor.errors[0], "slot 101")
	// The failing slot does not stall the scan
	assert.Equal(t, uint64(103), cursor.slot)
	assert.Len(t, events.events, 1)
}

func TestPoll_IgnoresForeignAndFailedTransactions(t *testing.T) {
	block := &ledger.Block{
		Transactions: []ledger.Transaction{
			{
				Signature: "sig-failed",
				Succeeded: false,
				Logs: []string{
					fmt.Sprintf("Program %s invoke [1]", testProgramID),
					`Program log: PackagePublished {"package":"failed-pkg","version":"1.0.0"}`,
				},
			},
			{
				Signature: "sig-foreign",
				Succeeded: true,
				Logs: []string{
					"Program SomeOtherProgram1111111111111111111111 invoke [1]",
					`Program log: PackagePublished {"package":"foreign-pkg","version":"1.0.0"}`,
				},
			},
		},
	}
	client := &fakeLedger{tip: 101, blocks: map[uint64]*ledger.Block{101: block}}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()

	w := newTestWorker(t, client, cursor, events, &fakeIngester{})
	w.lastProcessed = 100

	w.poll(context.Background())

	assert.Empty(t, events.events)
	assert.Equal(t, uint64(101), cursor.slot)
}

func TestPoll_DuplicateSignatureNotReingested(t *testing.T) {
	client := &fakeLedger{
		tip:    101,
		blocks: map[uint64]*ledger.Block{101: publishBlock("sig-dup", "pkg-dup", "1.0.0")},
	}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()
	events.seen["sig-dup"] = true // already recorded by a previous run
	ing := &fakeIngester{}

	w := newTestWorker(t, client, cursor, events, ing)
	w.lastProcessed = 100

	w.poll(context.Background())

	assert.Empty(t, events.events)
	assert.Empty(t, ing.ingested, "a duplicate event must not be materialized again")
	assert.Equal(t, uint64(101), cursor.slot)
}

func TestPoll_BatchBoundedByMaxSlots(t *testing.T) {
	client := &fakeLedger{tip: 1000}
	cursor := &fakeCursor{slot: 100}

	w := newTestWorker(t, client, cursor, newFakeEventStore(), &fakeIngester{})
	w.lastProcessed = 100

	delay := w.poll(context.Background())

	// 50 slots per cycle, still behind the tip: no sleep before the next cycle
	assert.Equal(t, uint64(150), cursor.slot)
	assert.Equal(t, time.Duration(0), delay)
}

func TestPoll_CaughtUpWaitsPollInterval(t *testing.T) {
	client := &fakeLedger{tip: 100}
	cursor := &fakeCursor{slot: 100}

	w := newTestWorker(t, client, cursor, newFakeEventStore(), &fakeIngester{})
	w.lastProcessed = 100

	delay := w.poll(context.Background())
	assert.Equal(t, w.pollInterval, delay)
	assert.Equal(t, 0, cursor.saves)
}

func TestPoll_TipFailureBackoff(t *testing.T) {
	client := &fakeLedger{tipErr: errors.New("connection refused")}
	cursor := &fakeCursor{}

	w := newTestWorker(t, client, cursor, newFakeEventStore(), &fakeIngester{})
	ctx := context.Background()

	// Below the retry ceiling: short fixed delay
	for i := 0; i < tipRetryCeiling-1; i++ {
		assert.Equal(t, tipRetryDelay, w.poll(ctx))
	}

	// At the ceiling: exponential backoff kicks in and doubles per ceiling hit
	assert.Equal(t, backoffBaseDelay, w.poll(ctx))
	assert.Equal(t, types.StatusBackoff, w.GetStatus().Status)

	for i := 0; i < tipRetryCeiling-1; i++ {
		w.poll(ctx)
	}
	assert.Equal(t, 2*backoffBaseDelay, w.poll(ctx))

	assert.Len(t, cursor.errors, 2*tipRetryCeiling)

	// Recovery resets both the retry counter and the backoff delay
	client.tipErr = nil
	client.tip = 0
	w.poll(ctx)
	assert.Equal(t, types.StatusRunning, w.GetStatus().Status)

	client.tipErr = errors.New("connection refused")
	for i := 0; i < tipRetryCeiling-1; i++ {
		assert.Equal(t, tipRetryDelay, w.poll(ctx))
	}
	assert.Equal(t, backoffBaseDelay, w.poll(ctx))
}

func TestPoll_BackoffDelayCapped(t *testing.T) {
	client := &fakeLedger{tipErr: errors.New("down")}
	w := newTestWorker(t, client, &fakeCursor{}, newFakeEventStore(), &fakeIngester{})

	w.backoffDelay = backoffMaxDelay
	w.tipRetryCount = tipRetryCeiling - 1

	delay := w.poll(context.Background())
	assert.Equal(t, backoffMaxDelay, delay)
	assert.Equal(t, backoffMaxDelay, w.backoffDelay)
}

func TestResolveStartSlot_Precedence(t *testing.T) {
	ctx := context.Background()

	t.Run("persisted cursor wins", func(t *testing.T) {
		w := newTestWorker(t, &fakeLedger{tip: 500}, &fakeCursor{slot: 250}, newFakeEventStore(), &fakeIngester{})
		w.startSlot = 100

		slot, err := w.resolveStartSlot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(250), slot)
	})

	t.Run("configured override when nothing persisted", func(t *testing.T) {
		w := newTestWorker(t, &fakeLedger{tip: 500}, &fakeCursor{}, newFakeEventStore(), &fakeIngester{})
		w.startSlot = 100

		slot, err := w.resolveStartSlot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), slot)
	})

	t.Run("current tip as last resort", func(t *testing.T) {
		w := newTestWorker(t, &fakeLedger{tip: 500}, &fakeCursor{}, newFakeEventStore(), &fakeIngester{})

		slot, err := w.resolveStartSlot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), slot)
	})
}

func TestScanWorker_ResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	client := &fakeLedger{
		tip: 102,
		blocks: map[uint64]*ledger.Block{
			101: publishBlock("sig-1", "pkg-1", "1.0.0"),
			102: publishBlock("sig-2", "pkg-2", "1.0.0"),
		},
	}
	cursor := &fakeCursor{slot: 100}
	events := newFakeEventStore()

	first := newTestWorker(t, client, cursor, events, &fakeIngester{})
	first.lastProcessed = 100
	first.poll(ctx)
	require.Equal(t, uint64(102), cursor.slot)
	require.Len(t, events.events, 2)

	// A fresh worker against the same cursor store picks up after the last
	// committed slot and re-records nothing.
	client.tip = 103
	client.blocks[103] = publishBlock("sig-3", "pkg-3", "1.0.0")

	second := newTestWorker(t, client, cursor, events, &fakeIngester{})
	start, err := second.resolveStartSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), start)

	second.lastProcessed = start
	second.poll(ctx)

	require.Len(t, events.events, 3)
	assert.Equal(t, "sig-3", events.events[2].TransactionSignature)
}

func TestScanWorker_StartStop(t *testing.T) {
	client := &fakeLedger{tip: 10}
	cursor := &fakeCursor{slot: 10}

	w := newTestWorker(t, client, cursor, newFakeEventStore(), &fakeIngester{})

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.GetStatus().Running)

	// Starting twice is an error
	assert.Error(t, w.Start(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	status := w.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, types.StatusStopped, status.Status)
	assert.Contains(t, cursor.statuses, types.StatusStopped)
}
