package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cepro/cargosim/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type publishedMessage struct {
	topic   string
	payload []byte
}

// mockSession records publishes and closes. If `failOn` is non-zero, that publish (1-indexed) returns an error.
type mockSession struct {
	mu         sync.Mutex
	published  []publishedMessage
	closeCount int
	failOn     int
	onPublish  func(n int)
}

func (m *mockSession) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	m.published = append(m.published, publishedMessage{topic: topic, payload: payload})
	n := len(m.published)
	m.mu.Unlock()

	if m.onPublish != nil {
		m.onPublish(n)
	}
	if n == m.failOn {
		return errors.New("not connected")
	}
	return nil
}

func (m *mockSession) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
}

func connectorFor(session *mockSession) Connector {
	return ConnectorFunc(func(ctx context.Context) (Session, error) {
		return session, nil
	})
}

func newTestGenerator(seed int64) *telemetry.Generator {
	return telemetry.NewGenerator(telemetry.DefaultParams(), rand.New(rand.NewSource(seed)), nil)
}

func TestTotalSteps(t *testing.T) {
	type subTest struct {
		name          string
		durationHours float64
		intervalSecs  int
		expected      int
	}

	subTests := []subTest{
		{"FiveHoursEveryFiveSeconds", 5, 5, 3600},
		{"OneHourEveryMinute", 1, 60, 60},
		{"RemainderDiscarded", 1, 7, 514},
		{"TwoStepsOfFiveSeconds", 10.0 / 3600.0, 5, 2},
		{"DurationShorterThanInterval", 1.0 / 3600.0, 5, 0},
		{"ZeroInterval", 1, 0, 0},
		{"FractionalSecondsRounded", 4.68 / 3600.0, 5, 1},
		{"NegativeDuration", -1, 5, 0},
		{"HugeDurationCapped", 1e300, 5, math.MaxInt32},
	}

	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			assert.Equal(t, subTest.expected, TotalSteps(subTest.durationHours, subTest.intervalSecs))
		})
	}
}

func TestRunPublishesEveryStep(t *testing.T) {
	session := &mockSession{}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 2}, connectorFor(session), newTestGenerator(1), discardLogger())

	err := sim.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, session.published, 2)
	assert.Equal(t, 1, session.closeCount)

	for _, msg := range session.published {
		assert.Equal(t, "cargo/telemetry", msg.topic)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.payload, &payload))

		assert.Equal(t, "CARGO-ESP32-001", payload["device_id"])

		timestamp, ok := payload["timestamp"].(string)
		require.True(t, ok)
		assert.NotEmpty(t, timestamp)
		assert.True(t, strings.HasSuffix(timestamp, "Z"))

		location, ok := payload["location"].(map[string]interface{})
		require.True(t, ok)
		assert.IsType(t, float64(0), location["lat"])
		assert.IsType(t, float64(0), location["lon"])
		assert.IsType(t, float64(0), payload["temperature"])
		assert.IsType(t, float64(0), payload["battery"])
	}
}

func TestRunPublishCountMatchesTotalSteps(t *testing.T) {
	steps := TotalSteps(50.0/3600.0, 5)
	require.Equal(t, 10, steps)

	session := &mockSession{}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Microsecond, Steps: steps}, connectorFor(session), newTestGenerator(2), discardLogger())

	require.NoError(t, sim.Run(context.Background()))
	assert.Len(t, session.published, steps)
	assert.Equal(t, 1, session.closeCount)
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancel as the third reading goes out, the sleep that follows sees it straight away
	session := &mockSession{onPublish: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 1000}, connectorFor(session), newTestGenerator(3), discardLogger())

	err := sim.Run(ctx)
	assert.NoError(t, err)
	assert.Len(t, session.published, 3)
	assert.Equal(t, 1, session.closeCount)
}

func TestRunStopsDuringLongInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	session := &mockSession{}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Hour, Steps: 5}, connectorFor(session), newTestGenerator(4), discardLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sim.Run(ctx)
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, session.published, 1)
	assert.Equal(t, 1, session.closeCount)
}

func TestRunReturnsPublishErrorAfterTeardown(t *testing.T) {
	session := &mockSession{failOn: 2}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 5}, connectorFor(session), newTestGenerator(5), discardLogger())

	err := sim.Run(context.Background())
	assert.ErrorContains(t, err, "publish reading 2/5: not connected")
	assert.Len(t, session.published, 2)
	assert.Equal(t, 1, session.closeCount)
}

func TestRunDoesNotLoopWhenConnectFails(t *testing.T) {
	connectErr := errors.New("connection refused")
	generated := 0
	connector := ConnectorFunc(func(ctx context.Context) (Session, error) {
		return nil, connectErr
	})
	generator := generatorFunc(func() telemetry.Reading {
		generated++
		return telemetry.Reading{}
	})

	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 5}, connector, generator, discardLogger())

	err := sim.Run(context.Background())
	assert.ErrorIs(t, err, connectErr)
	assert.ErrorContains(t, err, "connect: connection refused")
	assert.Equal(t, 0, generated)
}

func TestRunStopsWhenInterruptedDuringConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// the broker never answers, so connecting only ends when the context does
	connector := ConnectorFunc(func(ctx context.Context) (Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	generated := 0
	generator := generatorFunc(func() telemetry.Reading {
		generated++
		return telemetry.Reading{}
	})

	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 5}, connector, generator, discardLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := sim.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, generated)
}

func TestRunWithZeroStepsStillTearsDown(t *testing.T) {
	session := &mockSession{}
	sim := New(Config{Topic: "cargo/telemetry", Interval: time.Millisecond, Steps: 0}, connectorFor(session), newTestGenerator(6), discardLogger())

	require.NoError(t, sim.Run(context.Background()))
	assert.Empty(t, session.published)
	assert.Equal(t, 1, session.closeCount)
}

type generatorFunc func() telemetry.Reading

func (f generatorFunc) Generate() telemetry.Reading { return f() }
