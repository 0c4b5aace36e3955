// File: internal/scanner/scanner_test.go
package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/chain"
	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
)

// fakeReader serves a fixed chain tip
type fakeReader struct {
	mu  sync.Mutex
	tip uint64
}

func (f *fakeReader) Connect(ctx context.Context) error     { return nil }
func (f *fakeReader) Close() error                          { return nil }
func (f *fakeReader) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeReader) Stats() chain.ReaderStats              { return chain.ReaderStats{} }

func (f *fakeReader) GetSlot(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeReader) setTip(tip uint64) {
	f.mu.Lock()
	f.tip = tip
	f.mu.Unlock()
}

func (f *fakeReader) GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	return nil, chain.ErrSlotSkipped
}

func (f *fakeReader) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	return nil, fmt.Errorf("no account data")
}

func (f *fakeReader) SubscribeSlots(ctx context.Context) (<-chan uint64, func(), error) {
	return nil, nil, fmt.Errorf("no websocket")
}

// fakeProcessor records which slots were processed and returns canned events
type fakeProcessor struct {
	mu        sync.Mutex
	processed []uint64
	events    map[uint64][]models.IngestionEvent
	failSlots map[uint64]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		events:    make(map[uint64][]models.IngestionEvent),
		failSlots: make(map[uint64]bool),
	}
}

func (f *fakeProcessor) Process(ctx context.Context, slot uint64) ([]models.IngestionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, slot)
	if f.failSlots[slot] {
		return nil, fmt.Errorf("slot %d unavailable", slot)
	}
	return f.events[slot], nil
}

func (f *fakeProcessor) processedSlots() map[uint64]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]bool, len(f.processed))
	for _, slot := range f.processed {
		out[slot] = true
	}
	return out
}

// fakeCursorStore persists cursors in memory
type fakeCursorStore struct {
	mu      sync.Mutex
	cursors map[string]int64
	saves   int
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{cursors: make(map[string]int64)}
}

func (f *fakeCursorStore) GetCursor(ctx context.Context, name string) (*models.ScanCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.cursors[name]
	if !ok {
		return nil, nil
	}
	return &models.ScanCursor{ScannerName: name, LastProcessedSlot: slot}, nil
}

func (f *fakeCursorStore) SaveCursor(ctx context.Context, cursor *models.ScanCursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[cursor.ScannerName] = cursor.LastProcessedSlot
	f.saves++
	return nil
}

func (f *fakeCursorStore) get(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[name]
}

// fakePublisher collects published events. fail rejects every publish,
// failFirst rejects only the first N attempts.
type fakePublisher struct {
	mu        sync.Mutex
	events    []models.IngestionEvent
	fail      bool
	failFirst int
	attempts  int
}

func (f *fakePublisher) PublishIngestion(ctx context.Context, event *models.IngestionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return fmt.Errorf("broker down")
	}
	if f.failFirst > 0 {
		f.failFirst--
		return fmt.Errorf("broker down")
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakePublisher) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func scannerTestConfig() *config.ScannerConfig {
	return &config.ScannerConfig{
		Name:         "test-scanner",
		StartSlot:    101,
		WindowSize:   8,
		LiveLag:      2,
		PollInterval: 10 * time.Millisecond,
		RetryDelay:   10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScannerCatchesUpInWindows(t *testing.T) {
	reader := &fakeReader{tip: 126}
	processor := newFakeProcessor()
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// tip 126, lag 2: the confirmed target is 124. Start slot 101 means
	// slots 101..124 are processed in windows of 8.
	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 124 })

	processed := processor.processedSlots()
	for slot := uint64(101); slot <= 124; slot++ {
		assert.True(t, processed[slot], "slot %d not processed", slot)
	}
	assert.False(t, processed[100])
	assert.False(t, processed[125])

	assert.Equal(t, int64(124), cursors.get("test-scanner"))

	status := s.GetStatus()
	assert.Equal(t, StateLive, status.State)
	assert.True(t, status.Running)
}

func TestScannerResumesFromPersistedCursor(t *testing.T) {
	reader := &fakeReader{tip: 126}
	processor := newFakeProcessor()
	cursors := newFakeCursorStore()
	cursors.cursors["test-scanner"] = 120
	publisher := &fakePublisher{}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 124 })

	// The persisted cursor wins over StartSlot: nothing before 121 re-scans
	processed := processor.processedSlots()
	assert.False(t, processed[120])
	assert.True(t, processed[121])
	assert.True(t, processed[124])
}

func TestScannerPublishesEvents(t *testing.T) {
	reader := &fakeReader{tip: 105}
	processor := newFakeProcessor()
	processor.events[102] = []models.IngestionEvent{
		{ID: "sig1", Kind: models.KindCreate, BlockHeight: 102},
		{ID: "sig2", Kind: models.KindSteal, BlockHeight: 102},
	}
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	cfg := scannerTestConfig()
	cfg.StartSlot = 101
	s := NewScanner(reader, processor, cursors, publisher, cfg)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return publisher.count() == 2 })

	status := s.GetStatus()
	assert.Equal(t, uint64(2), status.Stats.EventsPublished)
}

func TestScannerSkipsFailedSlots(t *testing.T) {
	reader := &fakeReader{tip: 105}
	processor := newFakeProcessor()
	processor.failSlots[102] = true
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// A failing slot never wedges the cursor
	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 103 })

	status := s.GetStatus()
	assert.Equal(t, uint64(1), status.Stats.SlotsFailed)
	assert.NotEmpty(t, status.Stats.LastError)
}

func TestScannerPublishFailureDoesNotHaltScan(t *testing.T) {
	reader := &fakeReader{tip: 105}
	processor := newFakeProcessor()
	processor.events[101] = []models.IngestionEvent{{ID: "sig1", Kind: models.KindCreate}}
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{fail: true}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 103 })

	status := s.GetStatus()
	assert.Equal(t, uint64(1), status.Stats.PublishFailures)
}

func TestScannerRetriesPublishBeforeGivingUp(t *testing.T) {
	reader := &fakeReader{tip: 105}
	processor := newFakeProcessor()
	processor.events[101] = []models.IngestionEvent{{ID: "sig1", Kind: models.KindCreate}}
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{failFirst: 2}

	cfg := scannerTestConfig()
	cfg.RetryAttempts = 3
	s := NewScanner(reader, processor, cursors, publisher, cfg)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Two broker hiccups, third attempt lands
	waitFor(t, 2*time.Second, func() bool { return publisher.count() == 1 })

	status := s.GetStatus()
	assert.Equal(t, uint64(0), status.Stats.PublishFailures)
	assert.Equal(t, uint64(1), status.Stats.EventsPublished)
	assert.GreaterOrEqual(t, publisher.attemptCount(), 3)
}

func TestScannerRecordsPipelineMetrics(t *testing.T) {
	reader := &fakeReader{tip: 126}
	processor := newFakeProcessor()
	processor.events[102] = []models.IngestionEvent{
		{ID: "sig1", Kind: models.KindCreate, BlockHeight: 102},
	}
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	prom := metrics.NewPrometheusMetricsWith(prometheus.NewRegistry())
	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	s.SetMetrics(prom)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(prom.LastProcessedSlot) >= 124
	})

	// Slots 101..124 processed during catch-up
	assert.Equal(t, float64(24), testutil.ToFloat64(prom.SlotsProcessedTotal))
	assert.Equal(t, float64(124), testutil.ToFloat64(prom.LastProcessedSlot))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(prom.EventsClassifiedTotal.WithLabelValues(string(models.KindCreate))))
}

func TestScannerFollowsByPollingWhenTipAdvances(t *testing.T) {
	reader := &fakeReader{tip: 105}
	processor := newFakeProcessor()
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.GetStatus().State == StateLive })

	reader.setTip(110)
	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 108 })

	processed := processor.processedSlots()
	assert.True(t, processed[104])
	assert.True(t, processed[108])
}

func TestScannerStopPersistsCursor(t *testing.T) {
	reader := &fakeReader{tip: 110}
	processor := newFakeProcessor()
	cursors := newFakeCursorStore()
	publisher := &fakePublisher{}

	s := NewScanner(reader, processor, cursors, publisher, scannerTestConfig())
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, 2*time.Second, func() bool { return s.Cursor() >= 108 })
	require.NoError(t, s.Stop())

	assert.Equal(t, s.Cursor(), cursors.get("test-scanner"))
	assert.False(t, s.IsRunning())
	assert.Equal(t, StateStopped, s.GetStatus().State)

	// Stop is idempotent
	require.NoError(t, s.Stop())
}

func TestScannerDoubleStartRejected(t *testing.T) {
	reader := &fakeReader{tip: 110}
	s := NewScanner(reader, newFakeProcessor(), newFakeCursorStore(), &fakePublisher{}, scannerTestConfig())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestConfirmedTarget(t *testing.T) {
	assert.Equal(t, int64(98), confirmedTarget(100, 2))
	assert.Equal(t, int64(0), confirmedTarget(2, 2))
	assert.Equal(t, int64(0), confirmedTarget(1, 2))
	assert.Equal(t, int64(100), confirmedTarget(100, 0))
}
