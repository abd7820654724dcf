package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// OpCode identifies the kind of an obs-websocket frame.
type OpCode int

// obs-websocket v5 op codes used by the client.
const (
	OpHello           OpCode = 0
	OpIdentify        OpCode = 1
	OpIdentified      OpCode = 2
	OpEvent           OpCode = 5
	OpRequest         OpCode = 6
	OpRequestResponse OpCode = 7
)

// rpcVersion is the obs-websocket RPC version the client negotiates.
const rpcVersion = 1

// Request status codes (subset).
const (
	StatusSuccess          = 100
	StatusResourceNotFound = 600
)

// Event subscription bits sent in Identify.
const (
	EventSubscriptionNone   uint32 = 0
	EventSubscriptionInputs uint32 = 1 << 3
)

// Request types.
const (
	requestGetInputList   = "GetInputList"
	requestGetInputMute   = "GetInputMute"
	requestSetInputMute   = "SetInputMute"
	requestGetInputVolume = "GetInputVolume"
	requestSetInputVolume = "SetInputVolume"
)

// Event types the client decodes.
const (
	EventInputMuteStateChanged = "InputMuteStateChanged"
	EventInputVolumeChanged    = "InputVolumeChanged"
)

// Close code OBS uses when the Identify authentication string is wrong.
const closeAuthenticationFailed = 4009

// envelope is the outer shape of every frame.
type envelope struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string         `json:"obsWebSocketVersion"`
	RPCVersion          int            `json:"rpcVersion"`
	Authentication      *authChallenge `json:"authentication,omitempty"`
}

type authChallenge struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
	// No omitempty: OBS treats a missing mask as "all events".
	EventSubscriptions uint32 `json:"eventSubscriptions"`
}

type identifiedData struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestResponseData struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type eventData struct {
	EventType   string          `json:"eventType"`
	EventIntent uint32          `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData,omitempty"`
}

// Request payloads.

type inputNameArgs struct {
	InputName string `json:"inputName"`
}

type setInputMuteArgs struct {
	InputName  string `json:"inputName"`
	InputMuted bool   `json:"inputMuted"`
}

type setInputVolumeArgs struct {
	InputName     string  `json:"inputName"`
	InputVolumeDb float64 `json:"inputVolumeDb"`
}

// Response payloads.

type inputListResponse struct {
	Inputs []struct {
		InputName string `json:"inputName"`
		InputKind string `json:"inputKind"`
	} `json:"inputs"`
}

type inputMuteResponse struct {
	InputMuted bool `json:"inputMuted"`
}

type inputVolumeResponse struct {
	InputVolumeMul float64 `json:"inputVolumeMul"`
	InputVolumeDb  float64 `json:"inputVolumeDb"`
}

// Input is one entry of the OBS input list.
type Input struct {
	Name string
	Kind string
}

// Event is an obs-websocket event relevant to inputs.
//
// InputName, Muted and VolumeDb are filled for the input events the client
// understands; Raw always holds the original eventData.
type Event struct {
	Type      string
	InputName string
	Muted     *bool
	VolumeDb  *float64
	Raw       json.RawMessage
}

// encodeFrame wraps d in an envelope with the given op code.
func encodeFrame(op OpCode, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding op %d payload: %w", op, err)
	}
	return json.Marshal(envelope{Op: op, D: raw})
}

// decodeFrame parses the outer envelope of a frame.
func decodeFrame(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return env, nil
}

// decodeEvent converts an op 5 payload into an Event.
func decodeEvent(raw json.RawMessage) (Event, error) {
	var ed eventData
	if err := json.Unmarshal(raw, &ed); err != nil {
		return Event{}, fmt.Errorf("%w: event: %w", ErrInvalidMessage, err)
	}

	ev := Event{Type: ed.EventType, Raw: ed.EventData}

	switch ed.EventType {
	case EventInputMuteStateChanged:
		var d struct {
			InputName  string `json:"inputName"`
			InputMuted bool   `json:"inputMuted"`
		}
		if err := json.Unmarshal(ed.EventData, &d); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, ed.EventType, err)
		}
		ev.InputName = d.InputName
		ev.Muted = &d.InputMuted
	case EventInputVolumeChanged:
		var d struct {
			InputName     string  `json:"inputName"`
			InputVolumeDb float64 `json:"inputVolumeDb"`
		}
		if err := json.Unmarshal(ed.EventData, &d); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, ed.EventType, err)
		}
		ev.InputName = d.InputName
		ev.VolumeDb = &d.InputVolumeDb
	}

	return ev, nil
}

// authResponse computes the Identify authentication string:
//
//	secret = base64(sha256(password + salt))
//	auth   = base64(sha256(secret + challenge))
func authResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])

	authHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}
