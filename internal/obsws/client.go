package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits.
const (
	// defaultConnectTimeout bounds dial plus handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one request/response round trip.
	defaultRequestTimeout = 5 * time.Second

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second

	// maxMessageSize caps frames read from OBS. Input lists of large scenes
	// stay well below this.
	maxMessageSize = 1 << 20

	// eventQueueSize is the buffer between the reader and the event callback.
	eventQueueSize = 64
)

// State is the client's connection state.
type State int

const (
	// StateDisconnected means no session has been established, or Close was called.
	StateDisconnected State = iota
	// StateConnected means the handshake completed.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Config holds obs-websocket connection settings.
type Config struct {
	Host     string
	Port     int
	Password string

	// TLS selects wss:// instead of ws://.
	TLS bool

	// ConnectTimeout bounds dial plus handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request round trip. Default: 5 seconds.
	RequestTimeout time.Duration

	// EventSubscriptions is the event mask sent in Identify.
	// Use EventSubscriptionInputs to receive mute and volume events.
	EventSubscriptions uint32
}

// URL returns the WebSocket URL for the configured endpoint.
func (c Config) URL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
	return u.String()
}

// Stats holds operational statistics.
type Stats struct {
	RequestsTotal  uint64
	RequestsFailed uint64
	EventsRx       uint64
	EventsDropped  uint64 // Events dropped due to a full callback queue
	ConnectsTotal  uint64 // Successful handshakes
	LastActivity   time.Time
	Connected      bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// session is one established WebSocket session.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan requestResponseData

	events chan Event

	done *closeOnce
	wg   sync.WaitGroup

	// readErr records why the reader stopped.
	readErrMu sync.Mutex
	readErr   error
}

func (s *session) failure() error {
	s.readErrMu.Lock()
	defer s.readErrMu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	return errors.New("session closed")
}

// Client is an obs-websocket v5 client.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event callbacks run on a dedicated goroutine, one at a time.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	// connectMu serialises Connect and Close.
	connectMu sync.Mutex

	mu    sync.RWMutex
	state State
	sess  *session

	onEvent    func(Event)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	eventsRx       atomic.Uint64
	eventsDropped  atomic.Uint64
	connectsTotal  atomic.Uint64
	lastActivity   atomic.Int64
}

// New creates a disconnected client. Call Connect to establish the session.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		state: StateDisconnected,
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// SetOnEvent registers the callback for OBS events. Pass nil to stop
// receiving events. Events arriving while the callback queue is full are
// dropped and counted in Stats.
func (c *Client) SetOnEvent(callback func(Event)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onEvent = callback
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether State is StateConnected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns a snapshot of the client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		RequestsTotal:  c.requestsTotal.Load(),
		RequestsFailed: c.requestsFailed.Load(),
		EventsRx:       c.eventsRx.Load(),
		EventsDropped:  c.eventsDropped.Load(),
		ConnectsTotal:  c.connectsTotal.Load(),
		LastActivity:   time.Unix(c.lastActivity.Load(), 0),
		Connected:      c.IsConnected(),
	}
}

// Connect establishes the session with OBS.
//
// If the client is already connected, Connect returns nil without touching
// the network. On failure the cause is logged, the state is left unchanged
// and the returned error wraps ErrConnectionFailed.
//
// Parameters:
//   - ctx: Context for cancellation of dial and handshake
//
// Returns:
//   - error: nil once the session is identified
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	sess, err := c.dial(ctx)
	if err != nil {
		c.logError("connect to OBS failed", err, "url", c.cfg.URL())
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	c.connectsTotal.Add(1)
	c.touch()

	sess.wg.Add(2)
	go c.readLoop(sess)
	go c.eventLoop(sess)

	c.logInfo("connected to OBS", "url", c.cfg.URL())
	return nil
}

// dial opens the socket and completes the Hello/Identify/Identified exchange.
func (c *Client) dial(ctx context.Context) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(connectCtx, c.cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.cfg.URL(), err)
	}
	conn.SetReadLimit(maxMessageSize)

	if err := c.identify(connectCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}

	return &session{
		conn:    conn,
		pending: make(map[string]chan requestResponseData),
		events:  make(chan Event, eventQueueSize),
		done:    newCloseOnce(),
	}, nil
}

// identify runs the handshake on a freshly dialled socket. The socket's
// read and write deadlines follow the context deadline.
func (c *Client) identify(ctx context.Context, conn *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.ConnectTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	env, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if env.Op != OpHello {
		return fmt.Errorf("%w: expected hello, got op %d", ErrInvalidMessage, env.Op)
	}

	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("%w: hello: %w", ErrInvalidMessage, err)
	}

	ident := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: c.cfg.EventSubscriptions,
	}
	if hello.Authentication != nil {
		ident.Authentication = authResponse(c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	frame, err := encodeFrame(OpIdentify, ident)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing identify: %w", err)
	}

	env, err = readFrame(conn)
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == closeAuthenticationFailed {
			return fmt.Errorf("authentication failed: %w", err)
		}
		return fmt.Errorf("reading identified: %w", err)
	}
	if env.Op != OpIdentified {
		return fmt.Errorf("%w: expected identified, got op %d", ErrInvalidMessage, env.Op)
	}

	// Clear the handshake deadlines; the reader runs without one.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear write deadline: %w", err)
	}

	return nil
}

// readFrame reads one text frame and decodes its envelope.
func readFrame(conn *websocket.Conn) (envelope, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return envelope{}, err
	}
	return decodeFrame(data)
}

// Close ends the session with a normal close frame. State becomes
// StateDisconnected. Requests waiting for a response fail with ErrTransport.
// Calling Close on a disconnected client is a no-op.
func (c *Client) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.done.Close()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := sess.conn.Close()

	sess.wg.Wait()

	c.logInfo("disconnected from OBS")
	return err
}

// readLoop owns the read side of the socket until it fails or Close is called.
func (c *Client) readLoop(sess *session) {
	defer sess.wg.Done()

	for {
		env, err := readFrame(sess.conn)
		if err != nil {
			if errors.Is(err, ErrInvalidMessage) {
				c.logWarn("ignoring malformed frame from OBS", "error", err)
				continue
			}
			select {
			case <-sess.done.Done():
			default:
				c.logError("OBS connection lost", err)
			}
			sess.readErrMu.Lock()
			sess.readErr = err
			sess.readErrMu.Unlock()
			sess.done.Close()
			return
		}

		c.touch()

		switch env.Op {
		case OpRequestResponse:
			c.handleResponse(sess, env.D)
		case OpEvent:
			c.handleEvent(sess, env.D)
		default:
			c.logDebug("ignoring frame", "op", int(env.Op))
		}
	}
}

func (c *Client) handleResponse(sess *session, raw json.RawMessage) {
	var resp requestResponseData
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logWarn("ignoring malformed response", "error", err)
		return
	}

	sess.pendingMu.Lock()
	ch, ok := sess.pending[resp.RequestID]
	if ok {
		delete(sess.pending, resp.RequestID)
	}
	sess.pendingMu.Unlock()

	if !ok {
		c.logDebug("response for unknown request", "request_id", resp.RequestID, "request_type", resp.RequestType)
		return
	}

	// Never blocks: see newReplySlot.
	ch <- resp
}

func (c *Client) handleEvent(sess *session, raw json.RawMessage) {
	ev, err := decodeEvent(raw)
	if err != nil {
		c.logWarn("ignoring malformed event", "error", err)
		return
	}
	c.eventsRx.Add(1)

	c.callbackMu.RLock()
	hasCallback := c.onEvent != nil
	c.callbackMu.RUnlock()
	if !hasCallback {
		return
	}

	select {
	case sess.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event queue full, dropping event", "event_type", ev.Type)
	}
}

// eventLoop delivers queued events to the callback.
func (c *Client) eventLoop(sess *session) {
	defer sess.wg.Done()

	for {
		select {
		case <-sess.done.Done():
			return
		case ev := <-sess.events:
			c.callbackMu.RLock()
			cb := c.onEvent
			c.callbackMu.RUnlock()
			if cb != nil {
				cb(ev)
			}
		}
	}
}

// newReplySlot allocates the channel a request waits on. It must hold
// one value: handleResponse removes the entry under pendingMu and sends
// after releasing it, possibly after the requester has timed out and
// stopped receiving. The read loop relies on that send never blocking.
func newReplySlot() chan requestResponseData {
	return make(chan requestResponseData, 1)
}

// request performs one round trip. out, when non-nil, receives responseData.
func (c *Client) request(ctx context.Context, requestType string, args, out any) error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("%s: %w", requestType, ErrNotConnected)
	}

	c.requestsTotal.Add(1)
	err := c.roundTrip(ctx, sess, requestType, args, out)
	if err != nil {
		c.requestsFailed.Add(1)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, sess *session, requestType string, args, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-sess.done.Done():
		return fmt.Errorf("%w: %s: %w", ErrTransport, requestType, sess.failure())
	default:
	}

	id := uuid.NewString()
	frame, err := encodeFrame(OpRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: args,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, requestType, err)
	}

	ch := newReplySlot()
	sess.pendingMu.Lock()
	sess.pending[id] = ch
	sess.pendingMu.Unlock()
	defer func() {
		sess.pendingMu.Lock()
		delete(sess.pending, id)
		sess.pendingMu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.write(sess, frame); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, requestType, err)
	}

	var resp requestResponseData
	select {
	case resp = <-ch:
	case <-sess.done.Done():
		return fmt.Errorf("%w: %s: %w", ErrTransport, requestType, sess.failure())
	case <-reqCtx.Done():
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, requestType, c.cfg.RequestTimeout)
		}
		return fmt.Errorf("%s: %w", requestType, reqCtx.Err())
	}

	if !resp.RequestStatus.Result {
		sentinel := ErrRequestFailed
		if resp.RequestStatus.Code == StatusResourceNotFound {
			sentinel = ErrUnknownInput
		}
		return fmt.Errorf("%w: %s: code %d: %s", sentinel, requestType,
			resp.RequestStatus.Code, resp.RequestStatus.Comment)
	}

	if out != nil && len(resp.ResponseData) > 0 {
		if err := json.Unmarshal(resp.ResponseData, out); err != nil {
			return fmt.Errorf("%w: %s response: %w", ErrInvalidMessage, requestType, err)
		}
	}
	return nil
}

func (c *Client) write(sess *session, frame []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return sess.conn.WriteMessage(websocket.TextMessage, frame)
}

// ListInputs returns every input OBS knows about, in OBS order.
func (c *Client) ListInputs(ctx context.Context) ([]Input, error) {
	var resp inputListResponse
	if err := c.request(ctx, requestGetInputList, nil, &resp); err != nil {
		return nil, err
	}

	inputs := make([]Input, 0, len(resp.Inputs))
	for _, in := range resp.Inputs {
		inputs = append(inputs, Input{Name: in.InputName, Kind: in.InputKind})
	}
	return inputs, nil
}

// GetInputMute returns whether the named input is muted.
func (c *Client) GetInputMute(ctx context.Context, name string) (bool, error) {
	var resp inputMuteResponse
	if err := c.request(ctx, requestGetInputMute, inputNameArgs{InputName: name}, &resp); err != nil {
		return false, err
	}
	return resp.InputMuted, nil
}

// SetInputMute sets the mute state of the named input.
func (c *Client) SetInputMute(ctx context.Context, name string, muted bool) error {
	return c.request(ctx, requestSetInputMute, setInputMuteArgs{InputName: name, InputMuted: muted}, nil)
}

// GetInputVolumeDb returns the named input's volume in decibels. A response
// without inputVolumeDb reads as 0.
func (c *Client) GetInputVolumeDb(ctx context.Context, name string) (float64, error) {
	var resp inputVolumeResponse
	if err := c.request(ctx, requestGetInputVolume, inputNameArgs{InputName: name}, &resp); err != nil {
		return 0, err
	}
	return resp.InputVolumeDb, nil
}

// SetInputVolumeDb sets the named input's volume in decibels. The value is
// passed through unchanged; OBS applies its own limits.
func (c *Client) SetInputVolumeDb(ctx context.Context, name string, db float64) error {
	return c.request(ctx, requestSetInputVolume, setInputVolumeArgs{InputName: name, InputVolumeDb: db}, nil)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
