package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the layout of the reading timestamp: ISO-8601 in UTC with microseconds and a trailing zone marker.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Location holds a GPS fix
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Reading holds a single telemetry data point from the cargo tracker.
// It is created fresh for each publish and is never mutated afterwards.
type Reading struct {
	DeviceID    string   `json:"device_id"`
	Timestamp   string   `json:"timestamp"`
	Location    Location `json:"location"`
	Temperature float64  `json:"temperature"`
	Battery     float64  `json:"battery"`
}

// Marshal serializes the reading into the JSON payload that is published to the broker.
func (r Reading) Marshal() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}
	return payload, nil
}

// Time parses the reading timestamp.
func (r Reading) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, r.Timestamp)
}

// Parse decodes a JSON payload back into a Reading.
func Parse(payload []byte) (Reading, error) {
	var reading Reading
	err := json.Unmarshal(payload, &reading)
	if err != nil {
		return Reading{}, fmt.Errorf("unmarshal reading: %w", err)
	}
	return reading, nil
}
