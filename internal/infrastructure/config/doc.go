// Package config handles loading and validating Grafik Eye bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields (link host, control unit range, scene table)
//   - Default value handling
//
// Security Considerations:
//   - The MQTT password and InfluxDB token should be set via environment variables
//   - The Grafik Eye login token travels in clear text over telnet; keep the
//     link on an isolated network segment
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GrafikEye.Host)
package config
