// Package mqtt provides MQTT client connectivity for the Grafik Eye bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The bridge exposes the Grafik Eye controller on an MQTT bus so home
// automation software can select scenes and observe the active scene per
// control unit without speaking the telnet protocol itself.
//
//	Automation ↔ MQTT Broker ↔ grafikeye bridge ↔ Telnet ↔ Grafik Eye QS/3000
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Credentials are never logged (MQTTAuthConfig redacts the password)
//
// # Usage
//
//	client, err := mqtt.ConnectWithLogger(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("grafikeye/state/+", 1,
//	    func(topic string, payload []byte) error {
//	        log.Info("state", "topic", topic, "payload", string(payload))
//	        return nil
//	    })
package mqtt
