package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/internal/metrics"
	"github.com/rootCircle/Beaconify/internal/models"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/rs/zerolog"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("timed out publishing location")

// MessagePublisher is the slice of the MQTT client the publisher needs.
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// UpdateFeed is a source of location updates.
type UpdateFeed interface {
	Subscribe() (<-chan models.LocationUpdate, func())
	Strategy() positioning.Strategy
}

// PublisherService forwards every location update to an MQTT topic as JSON.
type PublisherService struct {
	// Configuration fields
	topic     string
	qos       int
	retain    bool
	timeout   time.Duration
	deviceID  string
	sessionID string

	// Dependencies
	feed     UpdateFeed
	client   MessagePublisher
	recorder metrics.Recorder
	logger   zerolog.Logger

	// Internal state management
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
	running     bool
}

// NewPublisherService creates a new PublisherService.
func NewPublisherService(topic string, qos int, retain bool, timeout time.Duration, deviceID, sessionID string,
	feed UpdateFeed, client MessagePublisher, recorder metrics.Recorder, logger zerolog.Logger) *PublisherService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if timeout <= 0 {
		timeout = constants.DefaultPublishTimeout
	}
	return &PublisherService{
		topic:     topic,
		qos:       qos,
		retain:    retain,
		timeout:   timeout,
		deviceID:  deviceID,
		sessionID: sessionID,
		feed:      feed,
		client:    client,
		recorder:  recorder,
		logger:    logger,
	}
}

// Start subscribes to the feed and begins publishing.
func (p *PublisherService) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("PublisherService is already running")
		return fmt.Errorf("publisher %w", ErrAlreadyRunning)
	}

	updates, unsubscribe := p.feed.Subscribe()
	p.unsubscribe = unsubscribe
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	p.wg.Add(1)
	go p.loop(p.ctx, updates)

	p.logger.Info().
		Str("topic", p.topic).
		Int("qos", p.qos).
		Bool("retain", p.retain).
		Msg("PublisherService started")
	return nil
}

func (p *PublisherService) loop(ctx context.Context, updates <-chan models.LocationUpdate) {
	defer p.wg.Done()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			p.publishLogged(update)
		case <-ctx.Done():
			// flush an update that was queued before stopping, e.g. the
			// final one sent when the location session stops
			select {
			case update, ok := <-updates:
				if ok {
					p.publishLogged(update)
				}
			default:
			}
			return
		}
	}
}

func (p *PublisherService) publishLogged(update models.LocationUpdate) {
	if err := p.Publish(update); err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Uint64("cycle", update.Cycle).Msg("Failed to publish location")
	}
}

// Publish serializes update and publishes it, waiting for the broker up to
// the configured timeout.
func (p *PublisherService) Publish(update models.LocationUpdate) error {
	message := models.NewLocation(p.deviceID, p.sessionID, p.feed.Strategy(), update)
	payload, err := json.Marshal(message)
	if err != nil {
		p.recorder.ObservePublish(err)
		return fmt.Errorf("failed to serialize location message: %w", err)
	}

	token := p.client.Publish(p.topic, byte(p.qos), p.retain, payload)
	if !token.WaitTimeout(p.timeout) {
		p.recorder.ObservePublish(ErrPublishTimeout)
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		p.recorder.ObservePublish(err)
		return err
	}

	p.recorder.ObservePublish(nil)
	p.logger.Debug().Str("topic", p.topic).Str("status", string(message.Status)).Msg("Location published")
	return nil
}

// Stop ends the subscription and the publishing loop.
func (p *PublisherService) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warn().Msg("PublisherService is not running")
		return fmt.Errorf("publisher %w", ErrNotRunning)
	}

	p.cancel()
	p.wg.Wait()
	p.unsubscribe()
	p.running = false
	p.logger.Info().Msg("PublisherService stopped")
	return nil
}
