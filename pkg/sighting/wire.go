package sighting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rootCircle/Beaconify/pkg/beacon"
)

// Record is the wire form of one sighting.
type Record struct {
	UUID     string  `json:"uuid"`
	Major    string  `json:"major"`
	Minor    string  `json:"minor"`
	RSSI     int     `json:"rssi"`
	Distance float64 `json:"distance"`
}

// Batch is the message a scanner publishes once per scan cycle.
type Batch struct {
	ScannerID string    `json:"scanner_id,omitempty"`
	ScannedAt time.Time `json:"scanned_at,omitempty"`
	Sightings []Record  `json:"sightings"`
}

// Sighting converts r, rejecting records without a uuid.
func (r Record) Sighting() (beacon.Sighting, error) {
	id := beacon.Identity{
		UUID:  strings.TrimSpace(r.UUID),
		Major: strings.TrimSpace(r.Major),
		Minor: strings.TrimSpace(r.Minor),
	}
	if id.UUID == "" {
		return beacon.Sighting{}, errors.New("sighting has no uuid")
	}
	return beacon.Sighting{Identity: id, RSSI: r.RSSI, Distance: r.Distance}, nil
}

// DecodeBatch parses a JSON batch. Both a Batch object and a bare array of
// records are accepted. Malformed records are skipped and reported in skipped.
func DecodeBatch(payload []byte) (sightings []beacon.Sighting, skipped int, err error) {
	var records []Record
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		var b Batch
		err = json.Unmarshal(trimmed, &b)
		records = b.Sightings
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode sighting batch: %w", err)
	}

	sightings = make([]beacon.Sighting, 0, len(records))
	for _, r := range records {
		s, err := r.Sighting()
		if err != nil {
			skipped++
			continue
		}
		sightings = append(sightings, s)
	}
	return sightings, skipped, nil
}

// ParseLine parses a scanner line of the form uuid,major,minor,rssi,distance.
func ParseLine(line string) (beacon.Sighting, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 5 {
		return beacon.Sighting{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return beacon.Sighting{}, fmt.Errorf("invalid rssi %q: %w", fields[3], err)
	}
	distance, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return beacon.Sighting{}, fmt.Errorf("invalid distance %q: %w", fields[4], err)
	}
	return Record{
		UUID:     fields[0],
		Major:    fields[1],
		Minor:    fields[2],
		RSSI:     rssi,
		Distance: distance,
	}.Sighting()
}
