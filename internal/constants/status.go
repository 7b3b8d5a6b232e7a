package constants

import "time"

// UpdateStatus classifies the outcome of one location cycle.
type UpdateStatus string

const (
	StatusLocated UpdateStatus = "located"
	StatusNoFix   UpdateStatus = "no_fix"
	StatusError   UpdateStatus = "error"
	StatusStopped UpdateStatus = "stopped"
)

// Service defaults applied when the configuration leaves a value unset.
const (
	DefaultEstimateTimeout  = 500 * time.Millisecond
	DefaultPublishTimeout   = 5 * time.Second
	DefaultRegistryTimeout  = 10 * time.Second
	DefaultMetricsListen    = ":9110"
	DefaultSightingsTopic   = "beaconify/sightings"
	DefaultLocationTopic    = "beaconify/location"
	DefaultConfigPath       = "configs/config.yaml"
	DefaultIdentityFile     = "configs/identity.json"
	DefaultSerialBaudRate   = 115200
	DefaultRegistryEndpoint = "api/getAllVBeacons"
)
