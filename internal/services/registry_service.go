package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/internal/metrics"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
)

// RegistryService loads the beacon registry snapshot when it starts and,
// with a positive interval, re-fetches it periodically. A failed refresh keeps
// the previous snapshot.
type RegistryService struct {
	// Configuration fields
	interval time.Duration
	timeout  time.Duration

	// Dependencies
	source   beacon.Source
	registry *beacon.Registry
	recorder metrics.Recorder
	logger   zerolog.Logger

	// Internal state management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRegistryService creates a new RegistryService filling registry from source.
func NewRegistryService(source beacon.Source, registry *beacon.Registry, interval, timeout time.Duration,
	recorder metrics.Recorder, logger zerolog.Logger) *RegistryService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if timeout <= 0 {
		timeout = constants.DefaultRegistryTimeout
	}
	return &RegistryService{
		interval: interval,
		timeout:  timeout,
		source:   source,
		registry: registry,
		recorder: recorder,
		logger:   logger,
	}
}

// Start loads the initial snapshot and starts the refresh loop. Start fails
// when the initial load fails.
func (r *RegistryService) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.logger.Warn().Msg("RegistryService is already running")
		return fmt.Errorf("registry %w", ErrAlreadyRunning)
	}

	if _, err := r.Refresh(context.Background()); err != nil {
		return fmt.Errorf("initial registry load failed: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	if r.interval > 0 {
		r.wg.Add(1)
		go r.loop(r.ctx)
	}

	r.logger.Info().
		Int("beacons", r.registry.Len()).
		Dur("refresh_interval", r.interval).
		Msg("RegistryService started")
	return nil
}

func (r *RegistryService) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Error().Err(err).Int("kept", r.registry.Len()).Msg("Registry refresh failed, keeping previous snapshot")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches the registry once and swaps the snapshot in. It returns the
// number of active beacons loaded.
func (r *RegistryService) Refresh(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries, err := r.source.Fetch(ctx)
	if err != nil {
		r.recorder.ObserveRegistryRefresh(0, err)
		return 0, err
	}

	active := r.registry.Replace(entries)
	r.recorder.ObserveRegistryRefresh(active, nil)
	r.logger.Debug().Int("fetched", len(entries)).Int("active", active).Msg("Registry snapshot replaced")
	return active, nil
}

// Stop ends the refresh loop. The last snapshot stays in place.
func (r *RegistryService) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		r.logger.Warn().Msg("RegistryService is not running")
		return fmt.Errorf("registry %w", ErrNotRunning)
	}

	r.cancel()
	r.wg.Wait()
	r.running = false
	r.logger.Info().Msg("RegistryService stopped")
	return nil
}
