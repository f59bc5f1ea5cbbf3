// Package mqtt provides MQTT client connectivity for the Gray Logic Reporter.
//
// This package manages:
//   - One broker session per configured connection
//   - Acknowledged publishing with a bounded wait
//   - Topic subscriptions restored on every connect
//   - A retained ONLINE/OFFLINE status topic, with OFFLINE as the Last Will
//
// Reconnection is not automatic. The connection layer watches for lost
// sessions and calls Connect again at a fixed delay so that reconnect
// actions and buffered readings are handled in one place.
//
// All destinations are relative to the configured root topic:
//
//	client := mqtt.New(cfg, mqtt.Options{StatusDestination: "status"})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe("lamp/cmd", func(topic string, payload []byte) error {
//	    return lamp.HandleCommand(topic, string(payload))
//	})
//	client.Publish("lamp/state", []byte("ON"), true)
//
// # Security Considerations
//
//   - TLS is recommended for any broker outside the local host
//   - A CA bundle may be supplied for self-hosted brokers
//   - Credentials should come from GRAYLOGIC_MQTT_USERNAME/PASSWORD
package mqtt
