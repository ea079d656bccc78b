package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cepro/cargosim/telemetry"
)

// Session is a live connection to a broker
type Session interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Connector opens broker sessions
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// ConnectorFunc lets an ordinary function act as a Connector
type ConnectorFunc func(ctx context.Context) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Generator produces telemetry readings
type Generator interface {
	Generate() telemetry.Reading
}

type Config struct {
	Topic    string
	Interval time.Duration
	Steps    int
}

// Simulator publishes a fixed number of readings, one every `Interval`, over a session that only lives for the
// duration of Run.
type Simulator struct {
	config    Config
	connector Connector
	generator Generator
	logger    *slog.Logger
}

// TotalSteps returns how many readings are published over `durationHours` at one reading every `intervalSecs`. The
// duration is taken to the nearest whole second before the integer division, and the result is capped at
// math.MaxInt32.
func TotalSteps(durationHours float64, intervalSecs int) int {
	if intervalSecs <= 0 {
		return 0
	}
	durationSecs := math.Round(durationHours * 3600)
	if !(durationSecs > 0) {
		return 0
	}
	steps := durationSecs / float64(intervalSecs)
	if steps >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(steps)
}

func New(config Config, connector Connector, generator Generator, logger *slog.Logger) *Simulator {
	return &Simulator{
		config:    config,
		connector: connector,
		generator: generator,
		logger:    logger.With("topic", config.Topic),
	}
}

// Run connects to the broker and publishes readings until all the steps are done or the context is cancelled.
// Cancellation is a normal exit and returns nil. If the connection fails the loop never starts. Once connected, the
// session is closed exactly once however Run exits.
func (s *Simulator) Run(ctx context.Context) error {

	session, err := s.connector.Connect(ctx)
	if err != nil {
		// interrupted before the broker answered
		if ctx.Err() != nil {
			s.logger.Info("Stopping...")
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	for i := 0; i < s.config.Steps; i++ {

		reading := s.generator.Generate()

		payload, err := reading.Marshal()
		if err != nil {
			return fmt.Errorf("reading %d/%d: %w", i+1, s.config.Steps, err)
		}

		err = session.Publish(s.config.Topic, payload)
		if err != nil {
			return fmt.Errorf("publish reading %d/%d: %w", i+1, s.config.Steps, err)
		}

		s.logger.Info("Published reading", "step", i+1, "total_steps", s.config.Steps, "temperature", reading.Temperature)

		if !sleep(ctx, s.config.Interval) {
			s.logger.Info("Stopping...")
			return nil
		}
	}

	s.logger.Info("Simulation complete", "total_steps", s.config.Steps)
	return nil
}

// sleep waits for `d`, returning false if the context was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
