package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/obsrelay/internal/infrastructure/mqtt"
)

const (
	protocolOBS = mqtt.ProtocolOBS

	// defaultCommandTimeout bounds how long an MQTT command waits for the worker.
	defaultCommandTimeout = 30 * time.Second
)

// MQTTClient is the subset of *mqtt.Client used by the adapter.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Ensure *mqtt.Client implements MQTTClient.
var _ MQTTClient = (*mqtt.Client)(nil)

// MQTTAdapter relays MQTT commands and requests into bridge intents and
// publishes observed input state as retained messages.
//
// Thread Safety:
//   - Handlers may run concurrently on paho goroutines; intents serialise
//     on the bridge worker.
type MQTTAdapter struct {
	bridge         *Bridge
	client         MQTTClient
	qos            byte
	commandTimeout time.Duration
	topics         mqtt.Topics

	// Last published state per input, merged with partial observations.
	states   map[string]map[string]any
	statesMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMQTTAdapter creates an adapter. Call Start to subscribe, and register
// the adapter with bridge.AddObserver to publish state.
func NewMQTTAdapter(b *Bridge, client MQTTClient, qos byte) *MQTTAdapter {
	return &MQTTAdapter{
		bridge:         b,
		client:         client,
		qos:            qos,
		commandTimeout: defaultCommandTimeout,
		states:         make(map[string]map[string]any),
	}
}

// SetLogger sets the logger for the adapter.
func (a *MQTTAdapter) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	defer a.loggerMu.Unlock()
	a.logger = logger
}

// Start subscribes to the command and request topics.
func (a *MQTTAdapter) Start() error {
	if err := a.client.Subscribe(a.topics.AllBridgeCommands(protocolOBS), a.qos, a.handleMessage); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if err := a.client.Subscribe(a.topics.AllBridgeRequests(protocolOBS), a.qos, a.handleMessage); err != nil {
		return fmt.Errorf("subscribing to requests: %w", err)
	}
	a.logInfo("MQTT adapter subscribed",
		"commands", a.topics.AllBridgeCommands(protocolOBS),
		"requests", a.topics.AllBridgeRequests(protocolOBS))
	return nil
}

// handleMessage routes an incoming message by topic category.
func (a *MQTTAdapter) handleMessage(topic string, payload []byte) error {
	category, last, ok := mqtt.TopicCategory(topic)
	if !ok {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	switch category {
	case "command":
		return a.handleCommand(mqtt.DecodeTopicSegment(last), payload)
	case "request":
		return a.handleRequest(last, payload)
	default:
		return fmt.Errorf("unknown message type: %s", category)
	}
}

// handleCommand executes a command for one input and publishes its ack.
func (a *MQTTAdapter) handleCommand(input string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		a.publishAck(newAckError(CommandMessage{ID: uuid.NewString()}, input, ErrCodeInvalidCommand, "malformed command payload"))
		return fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	a.logInfo("received command", "command_id", cmd.ID, "command", cmd.Command, "input", input)

	ctx, cancel := context.WithTimeout(WithSource(context.Background(), SourceMQTT), a.commandTimeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CommandToggleMute:
		err = a.bridge.ToggleMute(ctx, input)
	case CommandSetVolume:
		db, perr := volumeParameter(cmd.Parameters)
		if perr != nil {
			a.publishAck(newAckError(cmd, input, ErrCodeInvalidParameters, perr.Error()))
			return nil
		}
		err = a.bridge.SetVolumeDb(ctx, input, db)
	default:
		a.publishAck(newAckError(cmd, input, ErrCodeInvalidCommand, fmt.Sprintf("unknown command: %s", cmd.Command)))
		return nil
	}

	if err != nil {
		a.publishAck(newAckError(cmd, input, errorCode(ReasonOf(err)), err.Error()))
		return nil
	}
	a.publishAck(newAckMessage(cmd, input, AckAccepted))
	return nil
}

// volumeParameter extracts parameters.volume_db.
func volumeParameter(params map[string]any) (float64, error) {
	raw, ok := params["volume_db"]
	if !ok {
		return 0, errors.New("volume_db parameter required")
	}
	db, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("volume_db must be a number, got %T", raw)
	}
	return db, nil
}

func (a *MQTTAdapter) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		a.logError("failed to marshal ack", err)
		return
	}
	if err := a.client.Publish(a.topics.BridgeAck(protocolOBS, ack.InputName), payload, a.qos, false); err != nil {
		a.logError("failed to publish ack", err)
	}
}

// handleRequest answers a request on the matching response topic.
func (a *MQTTAdapter) handleRequest(requestID string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parsing request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	a.logInfo("received request", "request_id", req.RequestID, "action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionListInputs:
		resp = a.listInputs(req)
	default:
		resp = ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
			Error: &ResponseError{
				Code:    ErrCodeInvalidCommand,
				Message: fmt.Sprintf("unknown action: %s", req.Action),
			},
		}
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshalling response: %w", err)
	}
	if err := a.client.Publish(a.topics.BridgeResponse(protocolOBS, req.RequestID), respPayload, a.qos, false); err != nil {
		return fmt.Errorf("publishing response: %w", err)
	}
	return nil
}

func (a *MQTTAdapter) listInputs(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(WithSource(context.Background(), SourceMQTT), a.commandTimeout)
	defer cancel()

	resp := ResponseMessage{RequestID: req.RequestID}
	devices, err := a.bridge.Enumerate(ctx)
	resp.Timestamp = time.Now().UTC()
	if err != nil {
		resp.Error = &ResponseError{Code: errorCode(ReasonOf(err)), Message: err.Error()}
		return resp
	}

	resp.Success = true
	resp.Data = map[string]any{"devices": devices}
	return resp
}

// InputStateChanged publishes the merged state of the changed input as a
// retained message. It implements Observer.
func (a *MQTTAdapter) InputStateChanged(change StateChange) {
	if !a.client.IsConnected() {
		return
	}

	msg := StateMessage{
		InputName: change.InputName,
		Timestamp: change.Timestamp,
		Protocol:  protocolOBS,
		Origin:    change.Origin,
		State:     a.mergeState(change),
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		a.logError("failed to marshal state", err)
		return
	}
	if err := a.client.Publish(a.topics.BridgeState(protocolOBS, change.InputName), payload, a.qos, true); err != nil {
		a.logError("failed to publish state", err)
	}
}

// mergeState folds a change into the cached state and returns a copy.
func (a *MQTTAdapter) mergeState(change StateChange) map[string]any {
	a.statesMu.Lock()
	defer a.statesMu.Unlock()

	state, ok := a.states[change.InputName]
	if !ok {
		state = make(map[string]any, 3)
		a.states[change.InputName] = state
	}
	if change.InputKind != "" {
		state["input_kind"] = change.InputKind
	}
	if change.Muted != nil {
		state["muted"] = *change.Muted
	}
	if change.VolumeDb != nil {
		state["volume_db"] = *change.VolumeDb
	}

	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func (a *MQTTAdapter) getLogger() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

func (a *MQTTAdapter) logInfo(msg string, keysAndValues ...any) {
	if l := a.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (a *MQTTAdapter) logError(msg string, err error) {
	if l := a.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
