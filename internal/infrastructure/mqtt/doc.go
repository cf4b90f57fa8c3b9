// Package mqtt provides MQTT client connectivity for Gray Logic Sync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained publishing for shared values
//   - Wildcard subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker is the shared medium between devices. Every shared value lives
// in a retained message under the configured root topic, so a device that
// connects later receives the current value of every key on subscribe.
//
//	device A ↔ MQTT broker (retained root/#) ↔ device B
//
// Devices never talk to each other directly.
//
// # Security Considerations
//
//   - TLS should be enabled when the broker is not on localhost
//   - Payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Store.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.Store.MQTT.RootTopic)
//	err = client.Subscribe(topics.All(), 1, func(topic string, payload []byte) error {
//	    key, ok := topics.Key(topic)
//	    ...
//	})
package mqtt
