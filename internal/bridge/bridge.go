package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// defaultQueueSize is the number of intents that may wait for the worker.
	defaultQueueSize = 64

	// notifyQueueSize is the buffer between the worker and observers.
	notifyQueueSize = 256

	// recordTimeout bounds one action-log write.
	recordTimeout = 2 * time.Second
)

// Intent names used in errors, logs and action records.
const (
	opEnumerate  = "enumerate"
	opToggleMute = ActionToggleMute
	opSetVolume  = ActionSetVolume
)

// Task lifecycle. A task is claimed exactly once, by the worker (running)
// or by its caller (abandoned).
const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	fn     func(ctx context.Context) error
	state  atomic.Int32
	result chan error
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Link is the OBS connection. Required.
	Link Link

	// ReconnectOnFailure closes the link after a transport failure or
	// timeout so the next intent reconnects.
	ReconnectOnFailure bool

	// QueueSize bounds the number of waiting intents. Default: 64.
	QueueSize int

	// Recorder is an optional action log for mutations.
	Recorder ActionRecorder

	// Logger is an optional structured logger.
	Logger Logger
}

// Stats holds bridge counters.
type Stats struct {
	Enumerations         uint64
	Toggles              uint64
	VolumeSets           uint64
	Failures             uint64
	Connects             uint64 // Lazy connects performed by intents
	NotificationsDropped uint64
	QueueDepth           int
	Connected            bool
}

// Bridge serialises device-control intents onto a single OBS link.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Link round trips happen only on the worker goroutine started by Start.
type Bridge struct {
	link               Link
	reconnectOnFailure bool
	recorder           ActionRecorder

	tasks  chan *task
	notify chan StateChange

	observers  []Observer
	observerMu sync.RWMutex

	// Lifecycle
	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	exited    chan struct{}
	wg        sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	enumerations  atomic.Uint64
	toggles       atomic.Uint64
	volumeSets    atomic.Uint64
	failures      atomic.Uint64
	connects      atomic.Uint64
	notifyDropped atomic.Uint64
}

// New creates a bridge. Call Start to begin serving intents.
func New(opts Options) (*Bridge, error) {
	if opts.Link == nil {
		return nil, errors.New("bridge: link is required")
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Bridge{
		link:               opts.Link,
		reconnectOnFailure: opts.ReconnectOnFailure,
		recorder:           opts.Recorder,
		tasks:              make(chan *task, queueSize),
		notify:             make(chan StateChange, notifyQueueSize),
		done:               make(chan struct{}),
		exited:             make(chan struct{}),
		logger:             opts.Logger,
	}, nil
}

// Start launches the worker. The worker exits when ctx is cancelled or
// Stop is called. Tasks run with a context detached from ctx's
// cancellation so a started intent is never cut short.
func (b *Bridge) Start(ctx context.Context) error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	b.startOnce.Do(func() {
		b.running.Store(true)
		b.wg.Add(2)
		go b.run(ctx)
		go b.notifyLoop(ctx)
		b.logInfo("bridge started", "reconnect_on_failure", b.reconnectOnFailure)
	})
	return nil
}

// Stop shuts the worker down and closes the link. The running intent
// completes; queued intents fail with ReasonStopped. Safe to call more
// than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		if err := b.link.Close(); err != nil {
			b.logError("closing OBS link", err)
		}
		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = logger
}

// IsConnected reports the link's connection state.
func (b *Bridge) IsConnected() bool {
	return b.link.IsConnected()
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Enumerations:         b.enumerations.Load(),
		Toggles:              b.toggles.Load(),
		VolumeSets:           b.volumeSets.Load(),
		Failures:             b.failures.Load(),
		Connects:             b.connects.Load(),
		NotificationsDropped: b.notifyDropped.Load(),
		QueueDepth:           len(b.tasks),
		Connected:            b.link.IsConnected(),
	}
}

// run is the worker loop. It is the only goroutine that touches the link.
func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()
	defer close(b.exited)

	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-b.done:
			b.drain()
			return
		case t := <-b.tasks:
			if b.stopping(ctx) {
				b.abandon(t)
				b.drain()
				return
			}
			if t.state.CompareAndSwap(taskQueued, taskRunning) {
				t.result <- t.fn(work)
			}
		}
	}
}

// stopping reports whether shutdown was requested. It takes priority over
// queued work.
func (b *Bridge) stopping(ctx context.Context) bool {
	select {
	case <-b.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (b *Bridge) abandon(t *task) {
	if t.state.CompareAndSwap(taskQueued, taskAbandoned) {
		t.result <- ErrStopped
	}
}

// drain fails every task still in the queue.
func (b *Bridge) drain() {
	b.running.Store(false)
	for {
		select {
		case t := <-b.tasks:
			b.abandon(t)
		default:
			return
		}
	}
}

// submit queues fn and waits for its result.
func (b *Bridge) submit(ctx context.Context, op, input string, fn func(ctx context.Context) error) error {
	stopped := func(cause error) error {
		return &IntentError{Op: op, Input: input, Reason: ReasonStopped, Err: cause}
	}

	if !b.running.Load() {
		return stopped(ErrStopped)
	}

	t := &task{fn: fn, result: make(chan error, 1)}

	select {
	case b.tasks <- t:
	case <-ctx.Done():
		return stopped(ctx.Err())
	case <-b.exited:
		return stopped(ErrStopped)
	}

	select {
	case err := <-t.result:
		return wrapStopped(err, stopped)
	case <-ctx.Done():
	case <-b.exited:
	}

	if t.state.CompareAndSwap(taskQueued, taskAbandoned) {
		if ctx.Err() != nil {
			return stopped(ctx.Err())
		}
		return stopped(ErrStopped)
	}

	// Already started: wait for completion.
	return wrapStopped(<-t.result, stopped)
}

// wrapStopped converts the bare ErrStopped sent by drain into an IntentError.
func wrapStopped(err error, stopped func(error) error) error {
	if errors.Is(err, ErrStopped) && ReasonOf(err) == "" {
		return stopped(err)
	}
	return err
}

// ensureConnected connects the link if it reports disconnected.
func (b *Bridge) ensureConnected(ctx context.Context) error {
	if b.link.IsConnected() {
		return nil
	}
	if err := b.link.Connect(ctx); err != nil {
		return err
	}
	b.connects.Add(1)
	return nil
}

// fail builds the IntentError for err, logs it and applies the
// reconnect-on-failure policy.
func (b *Bridge) fail(op, input string, reason Reason, err error) *IntentError {
	b.failures.Add(1)
	b.logWarn("intent failed", "op", op, "input", input, "reason", string(reason), "error", err)

	if b.reconnectOnFailure && linkBroken(err) {
		b.logInfo("closing OBS link after failure", "op", op, "error", err)
		if cerr := b.link.Close(); cerr != nil {
			b.logError("closing OBS link", cerr)
		}
	}

	return &IntentError{Op: op, Input: input, Reason: reason, Err: err}
}

// Enumerate returns every OBS input with its volume and mute state, in
// OBS order. Any sub-call failure yields an empty list and an *IntentError.
func (b *Bridge) Enumerate(ctx context.Context) ([]InputDevice, error) {
	var devices []InputDevice
	err := b.submit(ctx, opEnumerate, "", func(ctx context.Context) error {
		var err error
		devices, err = b.enumerate(ctx)
		return err
	})
	if err != nil {
		return []InputDevice{}, err
	}
	return devices, nil
}

func (b *Bridge) enumerate(ctx context.Context) ([]InputDevice, error) {
	if err := b.ensureConnected(ctx); err != nil {
		return nil, b.fail(opEnumerate, "", ReasonUnavailable, err)
	}

	inputs, err := b.link.ListInputs(ctx)
	if err != nil {
		return nil, b.fail(opEnumerate, "", classify(err), err)
	}

	devices := make([]InputDevice, 0, len(inputs))
	for _, in := range inputs {
		volumeDb, err := b.link.GetInputVolumeDb(ctx, in.Name)
		if err != nil {
			return nil, b.fail(opEnumerate, in.Name, classify(err), err)
		}
		muted, err := b.link.GetInputMute(ctx, in.Name)
		if err != nil {
			return nil, b.fail(opEnumerate, in.Name, classify(err), err)
		}
		devices = append(devices, InputDevice{
			Name:      in.Name,
			InputKind: in.Kind,
			VolumeDb:  volumeDb,
			Muted:     muted,
		})
	}

	b.enumerations.Add(1)

	now := time.Now().UTC()
	for _, d := range devices {
		muted, volumeDb := d.Muted, d.VolumeDb
		b.publish(StateChange{
			InputName: d.Name,
			InputKind: d.InputKind,
			Muted:     &muted,
			VolumeDb:  &volumeDb,
			Origin:    OriginEnumerate,
			Timestamp: now,
		})
	}

	b.logDebug("enumerated inputs", "count", len(devices))
	return devices, nil
}

// ToggleMute inverts the mute state of the named input. The read and the
// write are both required to succeed.
func (b *Bridge) ToggleMute(ctx context.Context, name string) error {
	var muted bool
	err := b.submit(ctx, opToggleMute, name, func(ctx context.Context) error {
		var err error
		muted, err = b.toggleMute(ctx, name)
		return err
	})

	rec := ActionRecord{Action: ActionToggleMute, InputName: name, Success: err == nil, Reason: ReasonOf(err)}
	if err == nil {
		rec.Details = map[string]any{"muted": muted}
	}
	b.record(ctx, rec)
	return err
}

func (b *Bridge) toggleMute(ctx context.Context, name string) (bool, error) {
	if err := b.ensureConnected(ctx); err != nil {
		return false, b.fail(opToggleMute, name, ReasonUnavailable, err)
	}

	current, err := b.link.GetInputMute(ctx, name)
	if err != nil {
		return false, b.fail(opToggleMute, name, classify(err), err)
	}

	muted := !current
	if err := b.link.SetInputMute(ctx, name, muted); err != nil {
		return false, b.fail(opToggleMute, name, classify(err), err)
	}

	b.toggles.Add(1)
	b.publish(StateChange{InputName: name, Muted: &muted, Origin: OriginToggleMute, Timestamp: time.Now().UTC()})
	b.logInfo("toggled mute", "input", name, "muted", muted)
	return muted, nil
}

// SetVolumeDb sets the named input's volume. The value is not range-checked.
func (b *Bridge) SetVolumeDb(ctx context.Context, name string, db float64) error {
	err := b.submit(ctx, opSetVolume, name, func(ctx context.Context) error {
		return b.setVolumeDb(ctx, name, db)
	})

	b.record(ctx, ActionRecord{
		Action:    ActionSetVolume,
		InputName: name,
		Success:   err == nil,
		Reason:    ReasonOf(err),
		Details:   map[string]any{"volume_db": db},
	})
	return err
}

func (b *Bridge) setVolumeDb(ctx context.Context, name string, db float64) error {
	if err := b.ensureConnected(ctx); err != nil {
		return b.fail(opSetVolume, name, ReasonUnavailable, err)
	}

	if err := b.link.SetInputVolumeDb(ctx, name, db); err != nil {
		return b.fail(opSetVolume, name, classify(err), err)
	}

	b.volumeSets.Add(1)
	volumeDb := db
	b.publish(StateChange{InputName: name, VolumeDb: &volumeDb, Origin: OriginSetVolume, Timestamp: time.Now().UTC()})
	b.logInfo("set volume", "input", name, "volume_db", db)
	return nil
}

// Devices is Enumerate with failures collapsed to an empty list.
func (b *Bridge) Devices(ctx context.Context) []InputDevice {
	devices, _ := b.Enumerate(ctx)
	return devices
}

// Toggle is ToggleMute with failures collapsed to false.
func (b *Bridge) Toggle(ctx context.Context, name string) bool {
	return b.ToggleMute(ctx, name) == nil
}

// SetVolume is SetVolumeDb with failures collapsed to false.
func (b *Bridge) SetVolume(ctx context.Context, name string, db float64) bool {
	return b.SetVolumeDb(ctx, name, db) == nil
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
