package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/pkg/file"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/rs/zerolog"
)

// Registry source kinds.
const (
	RegistrySourceFile   = "file"
	RegistrySourceHTTP   = "http"
	RegistrySourceSQLite = "sqlite"
)

// Sighting source kinds.
const (
	SightingSourceMQTT   = "mqtt"
	SightingSourceSerial = "serial"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level string `yaml:"level"` // zerolog level name, defaults to info
	} `yaml:"log"`

	DeviceID string `yaml:"device_id"` // Overrides the stored or generated device id

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	MQTT struct {
		Broker         string        `yaml:"broker"`          // MQTT broker address
		ClientID       string        `yaml:"client_id"`       // MQTT client ID prefix
		CACertificate  string        `yaml:"ca_certificate"`  // Path to the CA certificate, enables TLS
		Username       string        `yaml:"username"`        // Optional broker username
		Password       string        `yaml:"password"`        // Optional broker password
		ConnectTimeout time.Duration `yaml:"connect_timeout"` // Timeout for the initial connection
	} `yaml:"mqtt"`

	Positioning struct {
		Strategy              positioning.Strategy `yaml:"strategy"`
		SmoothingAlpha        float64              `yaml:"smoothing_alpha"`
		TopK                  int                  `yaml:"top_k"`
		ObservationTTL        time.Duration        `yaml:"observation_ttl"`
		FingerprintCapacity   int                  `yaml:"fingerprint_capacity"`
		AffinityDamping       float64              `yaml:"affinity_damping"`
		AffinityMaxIterations int                  `yaml:"affinity_max_iterations"`
		AffinityEpsilon       float64              `yaml:"affinity_epsilon"`
		MinBeacons            int                  `yaml:"min_beacons"`
		MinDistance           float64              `yaml:"min_distance"`
		MaxDistance           float64              `yaml:"max_distance"`
		DefaultAccuracy       float64              `yaml:"default_accuracy"`
		EstimateTimeout       time.Duration        `yaml:"estimate_timeout"` // Deadline for a single estimation
	} `yaml:"positioning"`

	Registry struct {
		Source          string        `yaml:"source"`           // file, http or sqlite
		Path            string        `yaml:"path"`             // Registry file (YAML or JSON by extension)
		URL             string        `yaml:"url"`              // Registry API endpoint
		DSN             string        `yaml:"dsn"`              // SQLite data source name
		RefreshInterval time.Duration `yaml:"refresh_interval"` // Zero loads the registry once
		Timeout         time.Duration `yaml:"timeout"`          // Timeout for a single fetch
	} `yaml:"registry"`

	Sightings struct {
		Source     string        `yaml:"source"`      // mqtt or serial
		Topic      string        `yaml:"topic"`       // MQTT topic carrying sighting batches
		QOS        int           `yaml:"qos"`         // MQTT QoS level for the subscription
		SerialPort string        `yaml:"serial_port"` // UNIX port where the scanner is mounted
		BaudRate   int           `yaml:"baud_rate"`   // Baud rate of the scanner
		ScanPeriod time.Duration `yaml:"scan_period"` // Serial batching period
		Buffer     int           `yaml:"buffer"`      // Batches queued before dropping
	} `yaml:"sightings"`

	Publisher struct {
		Enabled bool          `yaml:"enabled"` // Enable/disable location publishing
		Topic   string        `yaml:"topic"`   // MQTT topic for location messages
		QOS     int           `yaml:"qos"`     // MQTT QoS level for location messages
		Retain  bool          `yaml:"retain"`  // Retain the last location on the broker
		Timeout time.Duration `yaml:"timeout"` // Timeout for broker acknowledgement
	} `yaml:"publisher"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"` // Enable/disable the Prometheus endpoint
		Listen  string `yaml:"listen"`  // Listen address of the metrics server
	} `yaml:"metrics"`
}

// LoadConfig loads the YAML configuration from the specified file, fills in
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
	if c.Identity.DeviceFile == "" {
		c.Identity.DeviceFile = constants.DefaultIdentityFile
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "beaconify"
	}

	if c.Positioning.Strategy == "" {
		c.Positioning.Strategy = positioning.StrategyFingerprintRefined
	}
	if c.Positioning.EstimateTimeout <= 0 {
		c.Positioning.EstimateTimeout = constants.DefaultEstimateTimeout
	}

	if c.Registry.Source == "" {
		c.Registry.Source = RegistrySourceFile
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = constants.DefaultRegistryTimeout
	}

	if c.Sightings.Source == "" {
		c.Sightings.Source = SightingSourceMQTT
	}
	if c.Sightings.Topic == "" {
		c.Sightings.Topic = constants.DefaultSightingsTopic
	}
	if c.Sightings.BaudRate == 0 {
		c.Sightings.BaudRate = constants.DefaultSerialBaudRate
	}

	if c.Publisher.Topic == "" {
		c.Publisher.Topic = constants.DefaultLocationTopic
	}
	if c.Publisher.Timeout <= 0 {
		c.Publisher.Timeout = constants.DefaultPublishTimeout
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = constants.DefaultMetricsListen
	}
}

// PositioningConfig returns the estimator tuning with defaults for unset values.
func (c *Config) PositioningConfig() positioning.Config {
	p := c.Positioning
	return positioning.Config{
		SmoothingAlpha:        p.SmoothingAlpha,
		TopK:                  p.TopK,
		ObservationTTL:        p.ObservationTTL,
		FingerprintCapacity:   p.FingerprintCapacity,
		AffinityDamping:       p.AffinityDamping,
		AffinityMaxIterations: p.AffinityMaxIterations,
		AffinityEpsilon:       p.AffinityEpsilon,
		MinBeacons:            p.MinBeacons,
		MinDistance:           p.MinDistance,
		MaxDistance:           p.MaxDistance,
		DefaultAccuracy:       p.DefaultAccuracy,
	}.WithDefaults()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	switch c.Positioning.Strategy {
	case positioning.StrategyWeightedCentroid, positioning.StrategyFingerprintRefined:
	default:
		errs = append(errs, fmt.Errorf("unknown positioning strategy %q", c.Positioning.Strategy))
	}
	if err := c.PositioningConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Registry.Source {
	case RegistrySourceFile:
		if c.Registry.Path == "" {
			errs = append(errs, errors.New("registry.path is required for the file source"))
		}
	case RegistrySourceHTTP:
		if c.Registry.URL == "" {
			errs = append(errs, errors.New("registry.url is required for the http source"))
		}
	case RegistrySourceSQLite:
		if c.Registry.DSN == "" {
			errs = append(errs, errors.New("registry.dsn is required for the sqlite source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry source %q", c.Registry.Source))
	}
	if c.Registry.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("registry.refresh_interval must not be negative, got %s", c.Registry.RefreshInterval))
	}

	switch c.Sightings.Source {
	case SightingSourceMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required for the mqtt sighting source"))
		}
	case SightingSourceSerial:
		if c.Sightings.SerialPort == "" {
			errs = append(errs, errors.New("sightings.serial_port is required for the serial source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sighting source %q", c.Sightings.Source))
	}
	if c.Sightings.QOS < 0 || c.Sightings.QOS > 2 {
		errs = append(errs, fmt.Errorf("sightings.qos must be 0, 1 or 2, got %d", c.Sightings.QOS))
	}

	if c.Publisher.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when the publisher is enabled"))
		}
		if c.Publisher.QOS < 0 || c.Publisher.QOS > 2 {
			errs = append(errs, fmt.Errorf("publisher.qos must be 0, 1 or 2, got %d", c.Publisher.QOS))
		}
	}

	return errors.Join(errs...)
}

// NeedsMQTT reports whether any configured component talks to the broker.
func (c *Config) NeedsMQTT() bool {
	return c.Sightings.Source == SightingSourceMQTT || c.Publisher.Enabled
}
