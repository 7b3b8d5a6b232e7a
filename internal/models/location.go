package models

import (
	"time"

	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rootCircle/Beaconify/pkg/positioning"
)

// LocationUpdate is the outcome of one location cycle. Position is nil when
// no fix could be computed; Error carries the reason of a failed estimation.
// The empty update sent when a session stops has Stopped set.
type LocationUpdate struct {
	Cycle         uint64
	Stopped       bool
	Position      *positioning.Position
	NearbyBeacons []beacon.Observation
	Error         string
	Timestamp     time.Time
}

// Status classifies the update.
func (u LocationUpdate) Status() constants.UpdateStatus {
	switch {
	case u.Stopped:
		return constants.StatusStopped
	case u.Error != "":
		return constants.StatusError
	case u.Position != nil:
		return constants.StatusLocated
	default:
		return constants.StatusNoFix
	}
}

// Location is the message published to MQTT for every update.
type Location struct {
	DeviceID      string                 `json:"device_id"`
	SessionID     string                 `json:"session_id"`
	Cycle         uint64                 `json:"cycle"`
	Timestamp     time.Time              `json:"timestamp"`
	Status        constants.UpdateStatus `json:"status"`
	Strategy      positioning.Strategy   `json:"strategy"`
	Position      *positioning.Position  `json:"position"`
	NearbyBeacons []beacon.Observation   `json:"nearby_beacons"`
	Error         string                 `json:"error,omitempty"`
}

// NewLocation builds the published message for u.
func NewLocation(deviceID, sessionID string, strategy positioning.Strategy, u LocationUpdate) Location {
	nearby := u.NearbyBeacons
	if nearby == nil {
		nearby = []beacon.Observation{}
	}
	return Location{
		DeviceID:      deviceID,
		SessionID:     sessionID,
		Cycle:         u.Cycle,
		Timestamp:     u.Timestamp,
		Status:        u.Status(),
		Strategy:      strategy,
		Position:      u.Position,
		NearbyBeacons: nearby,
		Error:         u.Error,
	}
}
