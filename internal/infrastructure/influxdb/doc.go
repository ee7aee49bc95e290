// Package influxdb provides InfluxDB connectivity for the Grafik Eye bridge.
//
// It wraps the official influxdb-client-go v2 library and records link
// health counters (polls sent, replies parsed, misses, write failures) so
// an unreliable telnet link shows up on a dashboard before users notice.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteLinkStats("grafikeye-bridge-01", influxdb.LinkStats{State: "ready"})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so write
// errors arrive through the SetOnError callback.
package influxdb
