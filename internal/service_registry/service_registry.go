package service_registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rootCircle/Beaconify/internal/metrics"
	"github.com/rootCircle/Beaconify/internal/services"
	"github.com/rootCircle/Beaconify/internal/utils"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rootCircle/Beaconify/pkg/file"
	"github.com/rootCircle/Beaconify/pkg/mqtt"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/rootCircle/Beaconify/pkg/sighting"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	promReg     *prometheus.Registry
	Logger      zerolog.Logger

	// Location is the session built by RegisterServices.
	Location *services.LocationService
}

// NewServiceRegistry initializes a new service registry with dependencies.
// mqttClient may be nil when no configured component uses the broker.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, promReg *prometheus.Registry,
	logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		promReg:    promReg,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
// Services start in the order metrics, publisher, registry, location and stop
// in reverse, so the publisher still forwards the final update of the session.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deviceID, sessionID string) error {
	var recorder metrics.Recorder = metrics.Nop{}
	if config.Metrics.Enabled && sr.promReg != nil {
		recorder = metrics.NewCollector(sr.promReg)
	}

	registry := beacon.NewRegistry()
	registrySource, err := sr.registrySource(config)
	if err != nil {
		return err
	}
	sightingSource, err := sr.sightingSource(config)
	if err != nil {
		return err
	}

	pcfg := config.PositioningConfig()
	estimator, err := positioning.New(config.Positioning.Strategy, pcfg, sr.Logger.With().Str("component", "estimator").Logger())
	if err != nil {
		return err
	}
	cache := beacon.NewCache(registry, pcfg.ObservationTTL, sr.Logger.With().Str("component", "cache").Logger())

	sr.Location = services.NewLocationService(
		cache,
		estimator,
		sightingSource,
		config.Positioning.EstimateTimeout,
		recorder,
		sr.Logger,
	)

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "metrics",
			enabled: config.Metrics.Enabled,
			constructor: func() (Service, error) {
				if sr.promReg == nil {
					return nil, errors.New("metrics enabled without a prometheus registry")
				}
				return metrics.NewServer(config.Metrics.Listen, sr.promReg, sr.Logger), nil
			},
		},
		{
			name:    "publisher",
			enabled: config.Publisher.Enabled,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("publisher enabled without an MQTT client")
				}
				return services.NewPublisherService(
					config.Publisher.Topic,
					config.Publisher.QOS,
					config.Publisher.Retain,
					config.Publisher.Timeout,
					deviceID,
					sessionID,
					sr.Location,
					sr.mqttClient,
					recorder,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "registry",
			enabled: true,
			constructor: func() (Service, error) {
				return services.NewRegistryService(
					registrySource,
					registry,
					config.Registry.RefreshInterval,
					config.Registry.Timeout,
					recorder,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "location",
			enabled: true,
			constructor: func() (Service, error) {
				return sr.Location, nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

func (sr *ServiceRegistry) registrySource(config *utils.Config) (beacon.Source, error) {
	switch config.Registry.Source {
	case utils.RegistrySourceFile:
		return beacon.NewFileSource(config.Registry.Path, sr.fileClient), nil
	case utils.RegistrySourceHTTP:
		return beacon.NewHTTPSource(config.Registry.URL, &http.Client{Timeout: config.Registry.Timeout}), nil
	case utils.RegistrySourceSQLite:
		return beacon.NewSQLiteSource(config.Registry.DSN), nil
	default:
		return nil, fmt.Errorf("unknown registry source %q", config.Registry.Source)
	}
}

func (sr *ServiceRegistry) sightingSource(config *utils.Config) (sighting.Source, error) {
	logger := sr.Logger.With().Str("source", config.Sightings.Source).Logger()
	switch config.Sightings.Source {
	case utils.SightingSourceMQTT:
		if sr.mqttClient == nil {
			return nil, errors.New("mqtt sighting source without an MQTT client")
		}
		return sighting.NewMQTTSource(sr.mqttClient, config.Sightings.Topic, byte(config.Sightings.QOS),
			config.Sightings.Buffer, logger), nil
	case utils.SightingSourceSerial:
		return sighting.NewSerialSource(sighting.SerialConfig{
			Port:       config.Sightings.SerialPort,
			BaudRate:   config.Sightings.BaudRate,
			ScanPeriod: config.Sightings.ScanPeriod,
			Buffer:     config.Sightings.Buffer,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sighting source %q", config.Sightings.Source)
	}
}
