package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/internal/service_registry"
	"github.com/rootCircle/Beaconify/internal/utils"
	"github.com/rootCircle/Beaconify/pkg/file"
	"github.com/rootCircle/Beaconify/pkg/identity"
	"github.com/rootCircle/Beaconify/pkg/mqtt"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log := zerolog.New(os.Stdout).With().Timestamp().Str("app", "beaconify").Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}
	level, _ := zerolog.ParseLevel(config.Log.Level)
	log = log.Level(level)

	// Resolve the device id, generating and persisting one on first run
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device information")
	}
	deviceID, err := deviceInfo.EnsureDeviceID(config.DeviceID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to persist device id")
	}
	sessionID := uuid.NewString()
	log = log.With().Str("device_id", deviceID).Logger()
	log.Info().Str("session_id", sessionID).Msg("Device identity resolved")

	var mqttClient mqtt.MQTTClient
	var mqttService *mqtt.MqttService
	if config.NeedsMQTT() {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		// Initialize the shared MQTT connection
		mqttService = mqtt.NewMqttService(fileClient, log)
		err = mqttService.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       clientID,
			CACertificate:  config.MQTT.CACertificate,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			ConnectTimeout: config.MQTT.ConnectTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	promReg := prometheus.NewRegistry()
	if config.Metrics.Enabled {
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, promReg, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, deviceID, sessionID); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().
		Str("strategy", string(config.Positioning.Strategy)).
		Str("sightings", config.Sightings.Source).
		Str("registry", config.Registry.Source).
		Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stopCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop cleanly")
	}
	if mqttService != nil {
		mqttService.Disconnect(250)
	}
	log.Info().Msg("Shutdown complete")
}
