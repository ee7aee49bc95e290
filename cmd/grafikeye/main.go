// Grafik Eye Bridge
//
// This is the main entry point for the Grafik Eye bridge. It connects to a
// Lutron Grafik Eye 3000 over its telnet interface and exposes the control
// units on MQTT:
//   - Scene commands from MQTT are written to the link
//   - Scenes polled from the link are published as retained state
//   - Link health is published on grafikeye/health
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/grafikeye-bridge/internal/bridges/grafikeye"
	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/config"
	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Grafik Eye bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.ConnectWithLogger(cfg.MQTT, log.Component("mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var recorder grafikeye.LinkRecorder
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder = &linkRecorder{client: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	bridge, err := startBridge(ctx, cfg, mqttClient, recorder, log)
	if err != nil {
		return fmt.Errorf("starting Grafik Eye bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Grafik Eye bridge")
		bridge.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge (closes the telnet link, publishes "stopping")
	// 2. InfluxDB (if enabled)
	// 3. MQTT

	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAFIKEYE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAFIKEYE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBridge creates the controller and starts the bridge around it.
//
// Parameters:
//   - ctx: Context for the initial connection
//   - cfg: Application configuration
//   - mqttClient: MQTT client for publishing/subscribing
//   - recorder: Link counter storage (may be nil)
//   - log: Logger instance
//
// Returns:
//   - *grafikeye.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, recorder grafikeye.LinkRecorder, log *logging.Logger) (*grafikeye.Bridge, error) {
	linkLog := log.Component("grafikeye")
	ctrl := grafikeye.NewController(grafikeye.ControllerConfig(cfg.GrafikEye, linkLog))

	bridge, err := grafikeye.NewBridge(grafikeye.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Controller: ctrl,
		Recorder:   recorder,
		Logger:     log.Component("bridge"),
		Version:    version,
	})
	if err != nil {
		_ = ctrl.Close()
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	log.Info("Grafik Eye bridge started",
		"address", ctrl.Address(),
		"link_state", ctrl.State().String(),
	)

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements grafikeye.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements grafikeye.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements grafikeye.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements grafikeye.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// linkRecorder writes controller counters to InfluxDB.
type linkRecorder struct {
	client *influxdb.Client
}

// RecordLink implements grafikeye.LinkRecorder.
func (r *linkRecorder) RecordLink(bridgeID string, stats grafikeye.Stats) {
	r.client.WriteLinkStats(bridgeID, toLinkStats(stats))
}

func toLinkStats(stats grafikeye.Stats) influxdb.LinkStats {
	return influxdb.LinkStats{
		State:          stats.State.String(),
		Connected:      stats.State == grafikeye.StateReady,
		PollsSent:      stats.PollsSent,
		StatusReplies:  stats.StatusReplies,
		PollMisses:     stats.PollMisses,
		ParseMisses:    stats.ParseMisses,
		ReadFailures:   stats.ReadFailures,
		ScenesSelected: stats.ScenesSelected,
		WriteFailures:  stats.WriteFailures,
		CallbackErrors: stats.CallbackPanics,
	}
}
