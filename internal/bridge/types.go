package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/obsrelay/internal/obsws"
)

// InputDevice is a snapshot of one OBS input. It is rebuilt on every
// enumeration and never cached by the bridge.
type InputDevice struct {
	Name      string  `json:"name"`
	InputKind string  `json:"input_kind"`
	VolumeDb  float64 `json:"volume_db"`
	Muted     bool    `json:"muted"`
}

// Link is the protocol connection the bridge drives.
// *obsws.Client satisfies it.
type Link interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	ListInputs(ctx context.Context) ([]obsws.Input, error)
	GetInputMute(ctx context.Context, name string) (bool, error)
	SetInputMute(ctx context.Context, name string, muted bool) error
	GetInputVolumeDb(ctx context.Context, name string) (float64, error)
	SetInputVolumeDb(ctx context.Context, name string, db float64) error
	Close() error
}

// Ensure obsws.Client implements Link.
var _ Link = (*obsws.Client)(nil)

// Origins of a StateChange.
const (
	OriginEnumerate  = "enumerate"
	OriginToggleMute = "toggle_mute"
	OriginSetVolume  = "set_volume"
	OriginOBSEvent   = "obs_event"
)

// StateChange describes newly observed state for one input.
// Nil fields were not observed.
type StateChange struct {
	InputName string
	InputKind string
	Muted     *bool
	VolumeDb  *float64
	Origin    string
	Timestamp time.Time
}

// Observer receives state changes. Calls are made from a single
// notification goroutine; implementations must not call bridge intents
// synchronously.
type Observer interface {
	InputStateChanged(change StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StateChange)

// InputStateChanged calls f(change).
func (f ObserverFunc) InputStateChanged(change StateChange) {
	f(change)
}

// Action names recorded for mutations.
const (
	ActionToggleMute = "toggle_mute"
	ActionSetVolume  = "set_volume"
)

// ActionRecord describes one completed mutation intent.
type ActionRecord struct {
	Action    string
	InputName string
	Source    string
	Success   bool
	Reason    Reason
	Details   map[string]any
}

// ActionRecorder persists mutation records. Errors are logged, never
// returned to the caller of the intent.
type ActionRecorder interface {
	RecordAction(ctx context.Context, rec ActionRecord) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
