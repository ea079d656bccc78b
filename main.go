package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cepro/cargosim/config"
	"github.com/cepro/cargosim/mqttclient"
	"github.com/cepro/cargosim/simulator"
	"github.com/cepro/cargosim/telemetry"
)

func main() {

	configPath := flag.String("config", "", "Path to a YAML config file, the built in defaults are used if omitted")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Read(*configPath)
		if err != nil {
			slog.Error("Failed to read config", "error", err)
			os.Exit(1)
		}
	}
	// credentials are best kept out of the config file
	cfg.ApplyEnv(os.LookupEnv)

	err := cfg.Validate()
	if err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	mqttclient.BridgeLogging(handler)

	steps := simulator.TotalSteps(cfg.Publish.DurationHours, cfg.Publish.IntervalSecs)
	logger.Info("Starting cargo simulator...", "device_id", cfg.Device.ID, "total_steps", steps, "interval", cfg.Publish.Interval())

	connector, err := mqttclient.New(cfg.Broker, logger)
	if err != nil {
		logger.Error("Failed to create mqtt connector", "error", err)
		os.Exit(1)
	}

	generator := telemetry.NewGenerator(cfg.Device.TelemetryParams(), nil, nil)

	sim := simulator.New(
		simulator.Config{
			Topic:    cfg.Publish.Topic,
			Interval: cfg.Publish.Interval(),
			Steps:    steps,
		},
		simulator.ConnectorFunc(func(ctx context.Context) (simulator.Session, error) {
			session, err := connector.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}),
		generator,
		logger.With("device_id", cfg.Device.ID),
	)

	// a ctrl-c or SIGTERM stops the simulation gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sim.Run(ctx)
	if err != nil {
		logger.Error("Simulation failed", "error", err)
		stop()
		os.Exit(1)
	}

	logger.Info("Exiting")
}
