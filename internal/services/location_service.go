package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/internal/metrics"
	"github.com/rootCircle/Beaconify/internal/models"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/rootCircle/Beaconify/pkg/sighting"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Start on a running service.
	ErrAlreadyRunning = errors.New("service is already running")
	// ErrNotRunning is returned by Stop on a stopped service.
	ErrNotRunning = errors.New("service is not running")
)

// LocationService turns sighting batches into a stream of location updates.
// Every batch delivered by the source is one cycle: the sightings are joined
// into the observation cache, the live set is handed to the estimator and the
// result is broadcast to subscribers.
type LocationService struct {
	// Configuration fields
	estimateTimeout time.Duration

	// Dependencies
	cache     *beacon.Cache
	estimator positioning.Estimator
	source    sighting.Source
	recorder  metrics.Recorder
	logger    zerolog.Logger
	updates   *Broadcaster[models.LocationUpdate]

	// Cycle state, serialized by cycleMu
	cycleMu   sync.Mutex
	cycle     uint64
	lastKnown *positioning.Position

	// Internal state management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewLocationService creates a new LocationService. A nil recorder disables metrics.
func NewLocationService(cache *beacon.Cache, estimator positioning.Estimator, source sighting.Source,
	estimateTimeout time.Duration, recorder metrics.Recorder, logger zerolog.Logger) *LocationService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if estimateTimeout <= 0 {
		estimateTimeout = constants.DefaultEstimateTimeout
	}
	return &LocationService{
		estimateTimeout: estimateTimeout,
		cache:           cache,
		estimator:       estimator,
		source:          source,
		recorder:        recorder,
		logger:          logger,
		updates:         NewBroadcaster[models.LocationUpdate](),
	}
}

// Start begins consuming sighting batches.
func (l *LocationService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		l.logger.Warn().Msg("LocationService is already running")
		return fmt.Errorf("location %w", ErrAlreadyRunning)
	}

	if err := l.source.Start(); err != nil {
		return fmt.Errorf("failed to start sighting source: %w", err)
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.running.Store(true)

	l.wg.Add(1)
	go l.run(l.ctx, l.source.Batches())

	l.logger.Info().
		Str("strategy", string(l.estimator.Strategy())).
		Dur("estimate_timeout", l.estimateTimeout).
		Msg("LocationService started")
	return nil
}

func (l *LocationService) run(ctx context.Context, batches <-chan []beacon.Sighting) {
	defer l.wg.Done()

	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				l.logger.Warn().Msg("Sighting source closed, location cycles paused until restart")
				return
			}
			l.ProcessCycle(ctx, batch)
		case <-ctx.Done():
			l.logger.Info().Msg("LocationService is stopping")
			return
		}
	}
}

// Stop halts the cycle loop, closes the source and clears the observation
// cache. Estimator state is kept. Subscribers receive a final empty update.
func (l *LocationService) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running.Load() {
		l.logger.Warn().Msg("LocationService is not running")
		return fmt.Errorf("location %w", ErrNotRunning)
	}

	l.cancel()
	l.wg.Wait()
	l.running.Store(false)

	err := l.source.Close()
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to close sighting source")
	}

	l.reset()
	l.logger.Info().Msg("LocationService stopped")
	return err
}

func (l *LocationService) reset() {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	l.cache.Clear()
	l.updates.Publish(models.LocationUpdate{
		Cycle:     l.cycle,
		Stopped:   true,
		Timestamp: time.Now(),
	})
}

// ProcessCycle runs one cycle for batch and publishes the resulting update.
// Cycles are serialized. When ctx is already done the update is returned but
// not published, and the estimator discards its work.
func (l *LocationService) ProcessCycle(ctx context.Context, batch []beacon.Sighting) models.LocationUpdate {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	l.cycle++
	joined := l.cache.Ingest(batch)
	snapshot := l.cache.Snapshot()

	started := time.Now()
	pos, err := l.estimate(ctx, snapshot)
	took := time.Since(started)

	update := models.LocationUpdate{
		Cycle:         l.cycle,
		NearbyBeacons: snapshot,
		Timestamp:     time.Now(),
	}

	switch {
	case err != nil:
		update.Error = err.Error()
		update.Position = copyPosition(l.lastKnown)
		l.logger.Error().Err(err).Uint64("cycle", l.cycle).Msg("Position estimation failed")
	case pos != nil:
		l.lastKnown = copyPosition(pos)
		update.Position = pos
	}

	l.recorder.ObserveCycle(update.Status(), len(snapshot), took, l.estimator.Stats())

	if ctx.Err() != nil {
		l.logger.Debug().Uint64("cycle", l.cycle).Msg("Cycle cancelled, update not published")
		return update
	}

	l.logger.Debug().
		Uint64("cycle", l.cycle).
		Int("sightings", len(batch)).
		Int("joined", joined).
		Int("live", len(snapshot)).
		Str("status", string(update.Status())).
		Dur("took", took).
		Msg("Location cycle complete")

	l.updates.Publish(update)
	return update
}

// estimate runs the estimator under the per-cycle deadline, converting a
// panic into an error.
func (l *LocationService) estimate(ctx context.Context, observations []beacon.Observation) (pos *positioning.Position, err error) {
	ctx, cancel := context.WithTimeout(ctx, l.estimateTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			pos = nil
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return l.estimator.Estimate(ctx, observations)
}

// Subscribe returns a channel receiving the newest update and a function that
// ends the subscription.
func (l *LocationService) Subscribe() (<-chan models.LocationUpdate, func()) {
	return l.updates.Subscribe()
}

// Latest returns the most recent update, if any.
func (l *LocationService) Latest() (models.LocationUpdate, bool) {
	return l.updates.Latest()
}

// Strategy reports the configured estimation strategy.
func (l *LocationService) Strategy() positioning.Strategy {
	return l.estimator.Strategy()
}

// IsRunning reports whether the cycle loop is active.
func (l *LocationService) IsRunning() bool {
	return l.running.Load()
}

func copyPosition(p *positioning.Position) *positioning.Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
