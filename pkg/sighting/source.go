// Package sighting delivers per-scan-cycle batches of parsed beacon sightings
// from the scanners that produce them.
package sighting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the number of batches a source holds before dropping.
const DefaultBuffer = 8

// ErrClosed is returned when pushing into a closed source.
var ErrClosed = errors.New("sighting source is closed")

// Source produces one batch of sightings per scan cycle. The channel returned
// by Batches is closed once the source is closed. Starting a closed source
// opens a fresh channel, so Batches must be called after Start.
type Source interface {
	Start() error
	Batches() <-chan []beacon.Sighting
	Close() error
}

// emitter is the buffered batch channel shared by every source. Sends never
// block: when the consumer falls behind the batch is dropped.
type emitter struct {
	ch      chan []beacon.Sighting
	buffer  int
	logger  zerolog.Logger
	dropped atomic.Uint64

	closeMu sync.RWMutex
	closed  bool
}

func newEmitter(buffer int, logger zerolog.Logger) *emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &emitter{ch: make(chan []beacon.Sighting, buffer), buffer: buffer, logger: logger}
}

// reopen replaces a closed channel with a fresh one.
func (e *emitter) reopen() {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if !e.closed {
		return
	}
	e.ch = make(chan []beacon.Sighting, e.buffer)
	e.closed = false
}

// Batches implements Source.
func (e *emitter) Batches() <-chan []beacon.Sighting {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	return e.ch
}

func (e *emitter) emit(batch []beacon.Sighting) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.ch <- batch:
		return true
	default:
		n := e.dropped.Add(1)
		e.logger.Warn().Int("sightings", len(batch)).Uint64("dropped_total", n).Msg("Sighting batch dropped, consumer is behind")
		return false
	}
}

func (e *emitter) close() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	close(e.ch)
	return true
}

// Dropped returns how many batches were discarded because the buffer was full.
func (e *emitter) Dropped() uint64 { return e.dropped.Load() }

// ChannelSource is an in-memory Source fed through Push.
type ChannelSource struct {
	*emitter
}

// NewChannelSource creates a ChannelSource holding up to buffer batches.
func NewChannelSource(buffer int, logger zerolog.Logger) *ChannelSource {
	return &ChannelSource{emitter: newEmitter(buffer, logger)}
}

// Start implements Source. A closed ChannelSource accepts pushes again once started.
func (c *ChannelSource) Start() error {
	c.reopen()
	return nil
}

// Push blocks until batch is queued, ctx is done or the source is closed.
func (c *ChannelSource) Push(ctx context.Context, batch []beacon.Sighting) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush queues batch without blocking and reports whether it was accepted.
func (c *ChannelSource) TryPush(batch []beacon.Sighting) bool {
	return c.emit(batch)
}

// Close implements Source. Closing twice is a no-op.
func (c *ChannelSource) Close() error {
	c.close()
	return nil
}
