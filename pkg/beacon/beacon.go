package beacon

import (
	"fmt"
	"time"
)

// Identity uniquely identifies a BLE beacon. Equality is structural, so the
// value can be used directly as a map key.
type Identity struct {
	UUID  string `json:"uuid" yaml:"uuid"`
	Major string `json:"major" yaml:"major"`
	Minor string `json:"minor" yaml:"minor"`
}

// String renders the identity as "uuid:major:minor".
func (id Identity) String() string {
	return fmt.Sprintf("%s:%s:%s", id.UUID, id.Major, id.Minor)
}

// Sighting is a single parsed radio sighting delivered by the platform scanner.
type Sighting struct {
	Identity Identity
	RSSI     int
	Distance float64 // platform-reported distance in meters
}

// Location is a registered beacon coordinate.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Observation is a sighting joined against the registry and tagged with its
// arrival time.
type Observation struct {
	Identity   Identity  `json:"identity"`
	RSSI       int       `json:"rssi"`
	Distance   float64   `json:"distance"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}
