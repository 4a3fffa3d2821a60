package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/metrics"
	"github.com/Hennamaria07/movieBookingBackend/internal/repository"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
)

// HoldSweeperConfig contains configuration for the hold sweeper
type HoldSweeperConfig struct {
	// Interval between sweeps
	Interval time.Duration
	// BatchSize caps the showtimes visited per sweep
	BatchSize int
	// Clock defaults to time.Now
	Clock func() time.Time
	// Recoverer, when set, is asked after every sweep to finish saga
	// compensations left undone.
	Recoverer SagaRecoverer
}

// SagaRecoverer rolls back sagas an earlier run could not compensate
type SagaRecoverer interface {
	RecoverSagas(ctx context.Context, limit int) (int, error)
}

// DefaultHoldSweeperConfig returns default configuration
func DefaultHoldSweeperConfig() *HoldSweeperConfig {
	return &HoldSweeperConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// SweeperStats reports what the sweeper has done so far
type SweeperStats struct {
	Running        bool      `json:"running"`
	Sweeps         int64     `json:"sweeps"`
	TotalReleased  int64     `json:"total_released"`
	LastSweep      time.Time `json:"last_sweep"`
	LastReleased   int       `json:"last_released"`
	SagasRecovered int64     `json:"sagas_recovered"`
}

// HoldSweeper releases seat holds whose payment window lapsed. Expired holds
// never block new holds, so the sweeper only keeps the seat map honest and
// the held seats visible to other customers.
type HoldSweeper struct {
	ledgers repository.LedgerStore
	config  *HoldSweeperConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	stats SweeperStats
}

// NewHoldSweeper creates a new hold sweeper
func NewHoldSweeper(ledgers repository.LedgerStore, config *HoldSweeperConfig) *HoldSweeper {
	defaults := DefaultHoldSweeperConfig()
	if config == nil {
		config = defaults
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &HoldSweeper{
		ledgers: ledgers,
		config:  config,
		log:     logger.Get().With(zap.String("worker", "hold-sweeper")),
		stopCh:  make(chan struct{}),
	}
}

// Start runs the sweeper until Stop is called or ctx is done
func (w *HoldSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stats.Running {
		w.mu.Unlock()
		return fmt.Errorf("hold sweeper already running")
	}
	w.stats.Running = true
	w.mu.Unlock()

	w.log.Info("starting hold sweeper",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the sweeper and waits for the current sweep to finish
func (w *HoldSweeper) Stop() {
	w.mu.Lock()
	if !w.stats.Running {
		w.mu.Unlock()
		return
	}
	w.stats.Running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("hold sweeper stopped")
}

// Stats returns a copy of the sweeper statistics
func (w *HoldSweeper) Stats() SweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *HoldSweeper) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *HoldSweeper) sweepAndLog(ctx context.Context) {
	if _, err := w.SweepOnce(ctx); err != nil {
		w.log.Error("hold sweep failed", zap.Error(err))
	}
	if _, err := w.RecoverOnce(ctx); err != nil {
		w.log.Error("saga recovery failed", zap.Error(err))
	}
}

// RecoverOnce runs one saga recovery pass over up to BatchSize instances.
func (w *HoldSweeper) RecoverOnce(ctx context.Context) (int, error) {
	if w.config.Recoverer == nil {
		return 0, nil
	}
	n, err := w.config.Recoverer.RecoverSagas(ctx, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.Info("sagas recovered", zap.Int("count", n))
		w.mu.Lock()
		w.stats.SagasRecovered += int64(n)
		w.mu.Unlock()
	}
	return n, nil
}

// SweepOnce releases expired holds on up to BatchSize showtimes and returns
// the number of hold tokens released. A showtime that fails is logged and
// skipped.
func (w *HoldSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := w.config.Clock().UTC()
	showtimes, err := w.ledgers.ShowtimesWithExpiredHolds(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list showtimes with expired holds: %w", err)
	}

	released := 0
	for _, showtimeID := range showtimes {
		var tokens []string
		err := w.ledgers.Update(ctx, showtimeID, func(tx repository.LedgerTx) error {
			tokens = tx.Ledger().PurgeExpired(now)
			return nil
		})
		if err != nil {
			w.log.Error("failed to release expired holds",
				zap.String("showtime_id", showtimeID),
				zap.Error(err),
			)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		released += len(tokens)
		metrics.RecordExpiredHolds(ctx, showtimeID, len(tokens))
		w.log.Info("expired holds released",
			zap.String("showtime_id", showtimeID),
			zap.Strings("tokens", tokens),
		)
	}

	w.mu.Lock()
	w.stats.Sweeps++
	w.stats.TotalReleased += int64(released)
	w.stats.LastSweep = now
	w.stats.LastReleased = released
	w.mu.Unlock()
	return released, nil
}
