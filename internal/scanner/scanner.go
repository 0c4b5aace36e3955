// File: internal/scanner/scanner.go
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/chain"
	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// ScanState is the scanner's position relative to the chain tip
type ScanState string

const (
	StateCatchingUp ScanState = "catching_up"
	StateLive       ScanState = "live"
	StateStopped    ScanState = "stopped"
)

// CursorStore persists the scan position between restarts
type CursorStore interface {
	GetCursor(ctx context.Context, scannerName string) (*models.ScanCursor, error)
	SaveCursor(ctx context.Context, cursor *models.ScanCursor) error
}

// EventPublisher hands ingestion events to the durable queue
type EventPublisher interface {
	PublishIngestion(ctx context.Context, event *models.IngestionEvent) error
}

// Scanner advances a cursor across blocks, processing up to WindowSize slots
// concurrently. The cursor moves only after an entire window has resolved,
// so a restart re-scans at most one window.
type Scanner struct {
	reader    chain.Reader
	processor BlockProcessor
	cursors   CursorStore
	publisher EventPublisher
	config    *config.ScannerConfig
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Entry

	mu       sync.RWMutex
	running  bool
	state    ScanState
	cursor   int64
	tip      uint64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats ScannerStats
}

// ScannerStats provides scanning statistics
type ScannerStats struct {
	StartTime        time.Time `json:"start_time"`
	WindowsProcessed uint64    `json:"windows_processed"`
	SlotsProcessed   uint64    `json:"slots_processed"`
	SlotsSkipped     uint64    `json:"slots_skipped"`
	SlotsFailed      uint64    `json:"slots_failed"`
	EventsPublished  uint64    `json:"events_published"`
	PublishFailures  uint64    `json:"publish_failures"`
	LastError        string    `json:"last_error,omitempty"`
}

// Status is the scanner's externally visible state
type Status struct {
	State       ScanState `json:"state"`
	Cursor      int64     `json:"cursor"`
	Tip         uint64    `json:"tip"`
	SlotsBehind int64     `json:"slots_behind"`
	Running     bool      `json:"running"`
	Stats       ScannerStats
}

// NewScanner creates a new scanner
func NewScanner(
	reader chain.Reader,
	processor BlockProcessor,
	cursors CursorStore,
	publisher EventPublisher,
	cfg *config.ScannerConfig,
) *Scanner {
	return &Scanner{
		reader:    reader,
		processor: processor,
		cursors:   cursors,
		publisher: publisher,
		config:    cfg,
		logger:    utils.ComponentLogger("scanner"),
		state:     StateStopped,
		stopChan:  make(chan struct{}),
	}
}

// SetMetrics attaches the scan metrics. Must be called before Start.
func (s *Scanner) SetMetrics(m *metrics.PrometheusMetrics) {
	s.metrics = m
}

// Start resumes from the persisted cursor (or the configured start slot)
// and runs the scan loop until Stop or context cancellation.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scanner already running", "")
	}

	cursor, err := s.loadCursor(ctx)
	if err != nil {
		return err
	}
	s.cursor = cursor
	s.running = true
	s.state = StateCatchingUp
	s.stats.StartTime = time.Now()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.WithFields(logrus.Fields{
		"scanner":     s.config.Name,
		"cursor":      cursor,
		"window_size": s.config.WindowSize,
	}).Info("Scanner started")

	return nil
}

// Stop stops scheduling new blocks, waits for in-flight work, and persists
// the final cursor.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.persistCursor(ctx)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.WithField("cursor", s.Cursor()).Info("Scanner stopped")
	return nil
}

// IsRunning returns whether the scanner is running
func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Cursor returns the last fully processed slot
func (s *Scanner) Cursor() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// GetStatus returns the scanner's current status
func (s *Scanner) GetStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	behind := int64(s.tip) - s.cursor
	if behind < 0 {
		behind = 0
	}
	return &Status{
		State:       s.state,
		Cursor:      s.cursor,
		Tip:         s.tip,
		SlotsBehind: behind,
		Running:     s.running,
		Stats:       s.stats,
	}
}

// run is the scan loop: catch up on the backlog, then follow slot
// notifications.
func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	if !s.catchUp(ctx) {
		return
	}
	s.follow(ctx)
}

// catchUp processes windows until the cursor is within LiveLag of the tip.
// Returns false when the scanner is stopping.
func (s *Scanner) catchUp(ctx context.Context) bool {
	for {
		if s.stopping(ctx) {
			return false
		}

		tip, err := s.reader.GetSlot(ctx)
		if err != nil {
			s.recordError(err)
			s.logger.WithError(err).Warn("Failed to get tip, retrying")
			if !s.sleep(ctx, s.config.RetryDelay) {
				return false
			}
			continue
		}
		s.setTip(tip)

		target := confirmedTarget(tip, s.config.LiveLag)
		if s.Cursor() >= target {
			s.setState(StateLive)
			s.logger.WithFields(logrus.Fields{
				"cursor": s.Cursor(),
				"tip":    tip,
			}).Info("Caught up with chain tip")
			return true
		}

		if !s.advanceTo(ctx, target) {
			return false
		}
	}
}

// follow reacts to slot-advance notifications, falling back to polling when
// no websocket subscription is available.
func (s *Scanner) follow(ctx context.Context) {
	slots, cancel, err := s.reader.SubscribeSlots(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Slot subscription unavailable, polling instead")
		s.pollFollow(ctx)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case slot, ok := <-slots:
			if !ok {
				s.logger.Warn("Slot notification stream closed, polling instead")
				s.pollFollow(ctx)
				return
			}
			s.setTip(slot)
			target := confirmedTarget(slot, s.config.LiveLag)
			if s.Cursor() < target {
				if !s.advanceTo(ctx, target) {
					return
				}
			}
		}
	}
}

// pollFollow is the ticker-driven fallback for LIVE mode
func (s *Scanner) pollFollow(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			tip, err := s.reader.GetSlot(ctx)
			if err != nil {
				s.recordError(err)
				continue
			}
			s.setTip(tip)
			target := confirmedTarget(tip, s.config.LiveLag)
			if s.Cursor() < target {
				if !s.advanceTo(ctx, target) {
					return
				}
			}
		}
	}
}

// advanceTo processes windows until the cursor reaches target. Returns false
// when the scanner is stopping.
func (s *Scanner) advanceTo(ctx context.Context, target int64) bool {
	for s.Cursor() < target {
		if s.stopping(ctx) {
			return false
		}

		from := s.Cursor() + 1
		to := from + int64(s.config.WindowSize) - 1
		if to > target {
			to = target
		}

		s.processWindow(ctx, from, to)

		s.mu.Lock()
		s.cursor = to
		s.stats.WindowsProcessed++
		tip := s.tip
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.UpdateCursorSlot(to)
			behind := int64(tip) - to
			if behind < 0 {
				behind = 0
			}
			s.metrics.UpdateSlotsBehind(uint64(behind))
		}

		s.persistCursor(ctx)
	}
	return true
}

// processWindow runs every slot in [from, to] concurrently and waits for all
// of them. Failed slots are logged and passed over; they never block the
// cursor forever.
func (s *Scanner) processWindow(ctx context.Context, from, to int64) {
	var wg sync.WaitGroup

	for slot := from; slot <= to; slot++ {
		wg.Add(1)
		go func(slot uint64) {
			defer wg.Done()
			s.processSlot(ctx, slot)
		}(uint64(slot))
	}

	wg.Wait()
}

func (s *Scanner) processSlot(ctx context.Context, slot uint64) {
	start := time.Now()
	events, err := s.processor.Process(ctx, slot)
	if err != nil {
		s.mu.Lock()
		s.stats.SlotsFailed++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		s.logger.WithField("slot", slot).WithError(err).Error("Slot processing failed, skipping")
		return
	}

	published := uint64(0)
	for i := range events {
		if s.metrics != nil {
			s.metrics.RecordEventClassified(string(events[i].Kind))
		}
		if err := s.publishWithRetry(ctx, &events[i]); err != nil {
			s.mu.Lock()
			s.stats.PublishFailures++
			s.stats.LastError = err.Error()
			s.mu.Unlock()
			s.logger.WithFields(logrus.Fields{
				"slot":      slot,
				"signature": events[i].ID,
			}).WithError(err).Error("Failed to publish ingestion event")
			continue
		}
		published++
	}

	s.mu.Lock()
	s.stats.SlotsProcessed++
	if len(events) == 0 {
		s.stats.SlotsSkipped++
	}
	s.stats.EventsPublished += published
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSlotProcessed(time.Since(start))
		if len(events) == 0 {
			s.metrics.RecordSlotSkipped()
		}
	}
}

// publishWithRetry retries a failed ingestion publish up to RetryAttempts
// times before the event is counted lost.
func (s *Scanner) publishWithRetry(ctx context.Context, event *models.IngestionEvent) error {
	attempts := s.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && !s.sleep(ctx, s.config.RetryDelay) {
			return lastErr
		}
		if lastErr = s.publisher.PublishIngestion(ctx, event); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (s *Scanner) loadCursor(ctx context.Context) (int64, error) {
	cursor, err := s.cursors.GetCursor(ctx, s.config.Name)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to load scan cursor", err.Error())
	}
	if cursor != nil {
		return cursor.LastProcessedSlot, nil
	}
	if s.config.StartSlot > 0 {
		return int64(s.config.StartSlot) - 1, nil
	}

	// No cursor and no explicit start: begin at the current tip rather than
	// replaying the whole chain.
	tip, err := s.reader.GetSlot(ctx)
	if err != nil {
		return 0, err
	}
	return int64(tip), nil
}

func (s *Scanner) persistCursor(ctx context.Context) {
	cursor := &models.ScanCursor{
		ScannerName:       s.config.Name,
		LastProcessedSlot: s.Cursor(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.cursors.SaveCursor(ctx, cursor); err != nil {
		s.recordError(err)
		s.logger.WithError(err).Error("Failed to persist scan cursor")
	}
}

func (s *Scanner) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Scanner) setTip(tip uint64) {
	s.mu.Lock()
	s.tip = tip
	cursor := s.cursor
	s.mu.Unlock()

	if s.metrics != nil {
		behind := int64(tip) - cursor
		if behind < 0 {
			behind = 0
		}
		s.metrics.UpdateSlotsBehind(uint64(behind))
	}
}

func (s *Scanner) setState(state ScanState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scanner) recordError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

func confirmedTarget(tip, lag uint64) int64 {
	if tip <= lag {
		return 0
	}
	return int64(tip - lag)
}
