// Package mqtt connects obsrelay to an MQTT broker.
//
// MQTT is the optional home-automation control surface beside the
// HTTP/WebSocket API. Automation publishes to obsrelay/command/obs/{input}
// and obsrelay/request/obs/{id}; the relay answers on ack and response
// topics and keeps retained state and health topics current.
//
//	automation <-> broker <-> obsrelay <-> OBS
//
// Input names are percent-encoded into a single topic level (see
// EncodeTopicSegment) so names containing "/", "+" or "#" stay routable.
//
// The client publishes a retained presence message on
// obsrelay/system/status and registers an offline will, so subscribers
// can tell a crash from a shutdown. Paho handles reconnects; the client
// replays its subscriptions on every connect.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands(mqtt.ProtocolOBS), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
