package bridge

import (
	"time"
)

// MQTT message types exchanged on the obsrelay/... topics.

// Command names accepted on obsrelay/command/obs/{input}.
const (
	CommandToggleMute = "toggle_mute"
	CommandSetVolume  = "set_volume"
)

// CommandMessage asks the bridge to change one input.
// Topic: obsrelay/command/obs/{input}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is "toggle_mute" or "set_volume".
	Command string `json:"command"`

	// Parameters holds command values, e.g. {"volume_db": -10} for set_volume.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates who issued the command. Informational.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was carried out by OBS.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates OBS did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: obsrelay/ack/obs/{input}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	InputName string    `json:"input_name"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeOBSUnavailable    = "OBS_UNAVAILABLE"
	ErrCodeUnknownInput      = "UNKNOWN_INPUT"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeStopped     = "BRIDGE_STOPPED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
)

// errorCode maps a failure reason to its wire error code.
func errorCode(reason Reason) string {
	switch reason {
	case ReasonUnavailable:
		return ErrCodeOBSUnavailable
	case ReasonUnknownInput:
		return ErrCodeUnknownInput
	case ReasonTimeout:
		return ErrCodeTimeout
	case ReasonStopped:
		return ErrCodeBridgeStopped
	default:
		return ErrCodeProtocolError
	}
}

// StateMessage carries the last known state of one input.
// Topic: obsrelay/state/obs/{input}
// QoS: 1, Retained: Yes
type StateMessage struct {
	InputName string    `json:"input_name"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`

	// Origin is what produced the observation ("enumerate", "obs_event", ...).
	Origin string `json:"origin"`

	// State holds the known fields: input_kind, volume_db, muted.
	State map[string]any `json:"state"`
}

// Request actions accepted on obsrelay/request/obs/{request_id}.
const (
	ActionListInputs = "list_inputs"
)

// RequestMessage asks for data from the bridge.
// Topic: obsrelay/request/obs/{request_id}
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: obsrelay/response/obs/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates OBS and MQTT are both connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running without an OBS session.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: obsrelay/health/obs
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *HealthStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the OBS connection.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

// HealthStatistics contains operational counters.
type HealthStatistics struct {
	Enumerations         uint64 `json:"enumerations"`
	Toggles              uint64 `json:"toggles"`
	VolumeSets           uint64 `json:"volume_sets"`
	Failures             uint64 `json:"failures"`
	Connects             uint64 `json:"connects"`
	NotificationsDropped uint64 `json:"notifications_dropped"`
}

// newAckMessage creates an acknowledgment for a command.
func newAckMessage(cmd CommandMessage, input string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		InputName: input,
		Command:   cmd.Command,
		Status:    status,
		Protocol:  protocolOBS,
	}
}

// newAckError creates an acknowledgment with error details.
func newAckError(cmd CommandMessage, input, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := newAckMessage(cmd, input, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// newHealthMessage creates a health status message from bridge stats.
func newHealthMessage(version string, status HealthStatus, stats Stats, address string, startTime time.Time) HealthMessage {
	conn := &ConnectionStatus{Status: "disconnected", Address: address}
	if stats.Connected {
		conn.Status = "connected"
	}

	return HealthMessage{
		Bridge:        protocolOBS,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection:    conn,
		Statistics: &HealthStatistics{
			Enumerations:         stats.Enumerations,
			Toggles:              stats.Toggles,
			VolumeSets:           stats.VolumeSets,
			Failures:             stats.Failures,
			Connects:             stats.Connects,
			NotificationsDropped: stats.NotificationsDropped,
		},
	}
}
