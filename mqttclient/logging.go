package mqttclient

import (
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BridgeLogging routes paho's package level loggers through the given slog handler.
// paho's DEBUG logger is left silent as it logs every packet.
func BridgeLogging(handler slog.Handler) {
	mqtt.CRITICAL = slog.NewLogLogger(handler, slog.LevelError)
	mqtt.ERROR = slog.NewLogLogger(handler, slog.LevelError)
	mqtt.WARN = slog.NewLogLogger(handler, slog.LevelWarn)
}
