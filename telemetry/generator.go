package telemetry

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BatteryModel selects how the battery level of successive readings relates to each other.
type BatteryModel string

const (
	// BatteryIndependent draws each battery level fresh as `base - U[0, maxDrop)`, so successive readings can go up
	// as well as down.
	BatteryIndependent BatteryModel = "independent"

	// BatteryDrain keeps a running level that starts at `base` and drops by `U[0, drainPerReading)` on every reading.
	BatteryDrain BatteryModel = "drain"
)

// Valid returns an error if the model is not one that the generator knows about.
func (m BatteryModel) Valid() error {
	switch m {
	case BatteryIndependent, BatteryDrain:
		return nil
	default:
		return fmt.Errorf("unknown battery model '%s'", m)
	}
}

// Params describes the simulated device and the plausible range of values it reports.
type Params struct {
	DeviceID string

	BaseLat          float64
	BaseLon          float64
	LocationJitter   float64 // maximum absolute offset from the base coordinates, in degrees
	LocationDecimals int

	BaseTemperature   float64 // celsius
	TemperatureJitter float64

	BaseBattery     float64 // percent
	BatteryMaxDrop  float64 // used by BatteryIndependent
	BatteryModel    BatteryModel
	DrainPerReading float64 // used by BatteryDrain
}

// DefaultParams returns the parameters of a refrigerated container parked in Singapore.
func DefaultParams() Params {
	return Params{
		DeviceID:          "CARGO-ESP32-001",
		BaseLat:           1.3521,
		BaseLon:           103.8198,
		LocationJitter:    0.001,
		LocationDecimals:  4,
		BaseTemperature:   4.2,
		TemperatureJitter: 0.5,
		BaseBattery:       87,
		BatteryMaxDrop:    2,
		BatteryModel:      BatteryIndependent,
		DrainPerReading:   0.01,
	}
}

// Generator produces synthetic cargo telemetry.
// It is not safe for concurrent use.
type Generator struct {
	params Params
	rnd    *rand.Rand
	now    func() time.Time

	batteryLevel float64 // only tracked for BatteryDrain
}

// NewGenerator returns a generator for the given device parameters.
// If `rnd` is nil a time-seeded source is used, so output is not reproducible between runs. If `now` is nil the wall
// clock is used.
func NewGenerator(params Params, rnd *rand.Rand, now func() time.Time) *Generator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		params:       params,
		rnd:          rnd,
		now:          now,
		batteryLevel: params.BaseBattery,
	}
}

// Generate returns a new reading. It always succeeds.
func (g *Generator) Generate() Reading {
	p := g.params

	return Reading{
		DeviceID:  p.DeviceID,
		Timestamp: g.now().UTC().Format(TimestampLayout),
		Location: Location{
			Lat: round(p.BaseLat+g.uniform(-p.LocationJitter, p.LocationJitter), p.LocationDecimals),
			Lon: round(p.BaseLon+g.uniform(-p.LocationJitter, p.LocationJitter), p.LocationDecimals),
		},
		Temperature: round(p.BaseTemperature+g.uniform(-p.TemperatureJitter, p.TemperatureJitter), 1),
		Battery:     round(g.nextBattery(), 1),
	}
}

func (g *Generator) nextBattery() float64 {
	p := g.params

	if p.BatteryModel != BatteryDrain {
		return p.BaseBattery - g.rnd.Float64()*p.BatteryMaxDrop
	}

	g.batteryLevel = math.Max(0, g.batteryLevel-g.rnd.Float64()*p.DrainPerReading)
	return g.batteryLevel
}

// uniform returns a random float in the range [a, b)
func (g *Generator) uniform(a, b float64) float64 {
	return a + (b-a)*g.rnd.Float64()
}

// round rounds `v` to the given number of decimal places, halves away from zero.
func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
