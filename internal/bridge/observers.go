package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/obsrelay/internal/obsws"
)

// AddObserver registers an observer for state changes.
func (b *Bridge) AddObserver(o Observer) {
	b.observerMu.Lock()
	defer b.observerMu.Unlock()
	b.observers = append(b.observers, o)
}

// HandleEvent relays an OBS input event to observers. Register it with
// obsws.Client.SetOnEvent.
func (b *Bridge) HandleEvent(ev obsws.Event) {
	if ev.InputName == "" || (ev.Muted == nil && ev.VolumeDb == nil) {
		return
	}
	b.publish(StateChange{
		InputName: ev.InputName,
		Muted:     ev.Muted,
		VolumeDb:  ev.VolumeDb,
		Origin:    OriginOBSEvent,
		Timestamp: time.Now().UTC(),
	})
}

// publish queues a state change for observers, dropping it if the queue is full.
func (b *Bridge) publish(change StateChange) {
	select {
	case b.notify <- change:
	default:
		b.notifyDropped.Add(1)
		b.logWarn("notification queue full, dropping state change", "input", change.InputName)
	}
}

// notifyLoop delivers state changes to observers.
func (b *Bridge) notifyLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			// Flush what the worker already produced.
			for {
				select {
				case change := <-b.notify:
					b.deliver(change)
				default:
					return
				}
			}
		case change := <-b.notify:
			b.deliver(change)
		}
	}
}

func (b *Bridge) deliver(change StateChange) {
	b.observerMu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.observerMu.RUnlock()

	for _, o := range observers {
		b.safeObserve(o, change)
	}
}

func (b *Bridge) safeObserve(o Observer, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("observer panic recovered", fmt.Errorf("%v", r), "input", change.InputName)
		}
	}()
	o.InputStateChanged(change)
}
