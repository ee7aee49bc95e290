// Package logging provides structured logging for the Grafik Eye bridge.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	link := logger.Component("grafikeye")
//	link.Info("poll loop started", "interval", "500ms")
//
// Never log the Grafik Eye login token or MQTT credentials.
package logging
