// Package mqtt connects the gateway to an MQTT broker.
//
// The gateway publishes controller events, session state changes, device
// health samples and door state, and accepts door commands, all under
// acsgateway/{site}/. Topics builds every topic name.
//
// The client reconnects automatically with backoff, restores its
// subscriptions after each reconnect and announces availability on the
// retained status topic, with an LWT covering unexpected disconnects.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Site: cfg.Site.ID})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
