package mqtt

import (
	"fmt"
	"net/url"
	"strings"
)

// Topic prefixes for obsrelay.
//
// Bridge topics use the flat scheme: obsrelay/{category}/{protocol}/{input_or_id}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "obsrelay"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "obsrelay/system"

	// ProtocolOBS is the protocol segment used for OBS inputs.
	ProtocolOBS = "obs"
)

// Topics provides builders for obsrelay MQTT topics.
//
// Input names may contain characters that are special in MQTT topics;
// builders that take an input name escape it with EncodeTopicSegment:
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("obs", "Mic/Aux")
//	// Returns: "obsrelay/state/obs/Mic%2FAux"
type Topics struct{}

// BridgeState returns the topic for retained input state.
//
// Example: obsrelay/state/obs/Desktop%20Audio
func (Topics) BridgeState(protocol, input string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, EncodeTopicSegment(input))
}

// BridgeCommand returns the topic for commands addressed to an input.
//
// Example: obsrelay/command/obs/Mic%2FAux
func (Topics) BridgeCommand(protocol, input string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, EncodeTopicSegment(input))
}

// BridgeAck returns the topic for command acknowledgements.
//
// Example: obsrelay/ack/obs/Mic%2FAux
func (Topics) BridgeAck(protocol, input string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, EncodeTopicSegment(input))
}

// BridgeRequest returns the topic for requests to a bridge.
//
// Example: obsrelay/request/obs/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeResponse returns the topic for request responses.
//
// Example: obsrelay/response/obs/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: obsrelay/health/obs
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// SystemStatus returns the client online/offline topic.
//
// Example: obsrelay/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBridgeCommands returns a pattern matching all commands for a protocol.
//
// Pattern: obsrelay/command/obs/+
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AllBridgeRequests returns a pattern matching all requests for a protocol.
//
// Pattern: obsrelay/request/obs/+
func (Topics) AllBridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, protocol)
}

// AllBridgeStates returns a pattern matching all state topics for a protocol.
//
// Pattern: obsrelay/state/obs/+
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, protocol)
}

// AllTopics returns a pattern matching all obsrelay topics.
//
// Pattern: obsrelay/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

var segmentEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
	" ", "%20",
)

// EncodeTopicSegment escapes a value for use as a single topic level.
// Slashes and MQTT wildcards are percent-encoded.
//
// Example: "Mic/Aux" → "Mic%2FAux"
func EncodeTopicSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// DecodeTopicSegment reverses EncodeTopicSegment. Malformed escapes are
// returned unchanged.
//
// Example: "Mic%2FAux" → "Mic/Aux"
func DecodeTopicSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// TopicCategory returns the category level of a bridge topic
// ("command", "request", ...) and the last level.
//
// Example: "obsrelay/command/obs/Mic%2FAux" → ("command", "Mic%2FAux", true)
func TopicCategory(topic string) (category, last string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != TopicPrefix {
		return "", "", false
	}
	return parts[1], parts[len(parts)-1], true
}
