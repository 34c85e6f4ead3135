package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv    string
	LogLevel  slog.Level
	LogFormat string
	HTTPAddr  string

	// UDPBind and UDPPort locate the telemetry datagram socket. HTTP and UDP
	// share port 8080 by default; TCP and UDP ports do not collide.
	UDPBind       string
	UDPPort       int
	UDPReadBuffer int

	HistorySize      int
	SubscriberBuffer int

	// MQTTBroker empty disables the MQTT sink.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string

	// NATSURL empty disables the NATS sink.
	NATSURL     string
	NATSSubject string

	ShutdownTimeout time.Duration
}

// MinUDPReadBuffer keeps the read buffer well above the longest firmware line
// so that a full reading is never mistaken for an oversized datagram.
const MinUDPReadBuffer = 256

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	defaultFormat := "text"
	if appEnv == "prod" {
		defaultFormat = "json"
	}
	logFormat := strings.ToLower(env("LOG_FORMAT", defaultFormat))
	switch logFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT %q (allowed: text, json)", logFormat)
	}

	udpPort, err := intInRange("UDP_PORT", 8080, 0, 65535)
	if err != nil {
		return Config{}, err
	}
	udpReadBuffer, err := intInRange("UDP_READ_BUFFER", 2048, MinUDPReadBuffer, 65535)
	if err != nil {
		return Config{}, err
	}
	historySize, err := intInRange("HISTORY_SIZE", 100, 1, 1_000_000)
	if err != nil {
		return Config{}, err
	}
	subscriberBuffer, err := intInRange("SUBSCRIBER_BUFFER", 16, 1, 65536)
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := intInRange("MQTT_PORT", 1883, 1, 65535)
	if err != nil {
		return Config{}, err
	}

	shutdownStr := env("SHUTDOWN_TIMEOUT", "10s")
	shutdownTimeout, err := time.ParseDuration(shutdownStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", shutdownStr, err)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: must be > 0", shutdownStr)
	}

	return Config{
		AppEnv:           appEnv,
		LogLevel:         level,
		LogFormat:        logFormat,
		HTTPAddr:         env("HTTP_ADDR", ":8080"),
		UDPBind:          env("UDP_BIND", "0.0.0.0"),
		UDPPort:          udpPort,
		UDPReadBuffer:    udpReadBuffer,
		HistorySize:      historySize,
		SubscriberBuffer: subscriberBuffer,
		MQTTBroker:       env("MQTT_BROKER", ""),
		MQTTPort:         mqttPort,
		MQTTClientID:     env("MQTT_CLIENT_ID", "airdetect-server"),
		MQTTTopic:        env("MQTT_TOPIC", "air-data"),
		NATSURL:          env("NATS_URL", ""),
		NATSSubject:      env("NATS_SUBJECT", "air-data"),
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intInRange(key string, def, lo, hi int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q (allowed: %d..%d)", key, s, lo, hi)
	}
	return n, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
