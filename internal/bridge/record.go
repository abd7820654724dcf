package bridge

import "context"

type sourceKey struct{}

// Sources that issue intents.
const (
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
	SourceMQTT      = "mqtt"
	SourceProbe     = "probe"
)

// WithSource tags ctx with the relay path issuing an intent. The source is
// recorded in the action log.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by WithSource, or "unknown".
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// record writes an action record if a recorder is configured. It runs on
// the caller's goroutine with a context that survives caller cancellation.
func (b *Bridge) record(ctx context.Context, rec ActionRecord) {
	if b.recorder == nil {
		return
	}
	rec.Source = SourceFrom(ctx)

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := b.recorder.RecordAction(recCtx, rec); err != nil {
		b.logError("recording action", err, "action", rec.Action, "input", rec.InputName)
	}
}
