package obsws

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	fakeSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	fakeChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

type fakeInput struct {
	name     string
	kind     string
	muted    bool
	volumeDb float64
	// noVolumeDb omits inputVolumeDb from GetInputVolume responses.
	noVolumeDb bool
}

type fakeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (fc *fakeConn) send(op OpCode, d any) error {
	frame, err := encodeFrame(op, d)
	if err != nil {
		return err
	}
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	return fc.conn.WriteMessage(websocket.TextMessage, frame)
}

// fakeOBS is an in-process obs-websocket v5 server.
type fakeOBS struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	password   string
	inputs     []*fakeInput
	requests   []string
	silent     map[string]bool
	failCodes  map[string]int
	conns      []*fakeConn
	identifies []identifyData
	handshakes int
}

func newFakeOBS(t *testing.T, inputs ...*fakeInput) *fakeOBS {
	t.Helper()

	f := &fakeOBS{
		t:         t,
		inputs:    inputs,
		silent:    make(map[string]bool),
		failCodes: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.close)
	return f
}

func (f *fakeOBS) close() {
	f.dropConnections()
	f.srv.Close()
}

// config returns a client Config pointing at the fake server.
func (f *fakeOBS) config() Config {
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		f.t.Fatalf("parse server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		f.t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	f.mu.Lock()
	pw := f.password
	f.mu.Unlock()

	return Config{Host: host, Port: port, Password: pw}
}

func (f *fakeOBS) setPassword(pw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.password = pw
}

// setSilent makes the server swallow requests of the given type.
func (f *fakeOBS) setSilent(requestType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent[requestType] = true
}

// setFailure makes requests of the given type fail with code.
func (f *fakeOBS) setFailure(requestType string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCodes[requestType] = code
}

func (f *fakeOBS) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeOBS) handshakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakes
}

func (f *fakeOBS) lastIdentify() identifyData {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.identifies) == 0 {
		return identifyData{}
	}
	return f.identifies[len(f.identifies)-1]
}

func (f *fakeOBS) input(name string) *fakeInput {
	for _, in := range f.inputs {
		if in.name == name {
			return in
		}
	}
	return nil
}

// dropConnections closes every server-side socket without a close frame.
func (f *fakeOBS) dropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()

	for _, fc := range conns {
		_ = fc.conn.Close()
	}
}

// broadcast sends an event to every connected client.
func (f *fakeOBS) broadcast(eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		f.t.Fatalf("marshal event: %v", err)
	}

	f.mu.Lock()
	conns := append([]*fakeConn(nil), f.conns...)
	f.mu.Unlock()

	for _, fc := range conns {
		_ = fc.send(OpEvent, eventData{EventType: eventType, EventIntent: EventSubscriptionInputs, EventData: raw})
	}
}

func (f *fakeOBS) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fc := &fakeConn{conn: conn}
	defer conn.Close()

	f.mu.Lock()
	pw := f.password
	f.mu.Unlock()

	hello := helloData{ObsWebSocketVersion: "5.0.0", RPCVersion: rpcVersion}
	if pw != "" {
		hello.Authentication = &authChallenge{Challenge: fakeChallenge, Salt: fakeSalt}
	}
	if err := fc.send(OpHello, hello); err != nil {
		return
	}

	env, err := readFrame(conn)
	if err != nil || env.Op != OpIdentify {
		return
	}
	var ident identifyData
	if err := json.Unmarshal(env.D, &ident); err != nil {
		return
	}

	if pw != "" && ident.Authentication != authResponse(pw, fakeSalt, fakeChallenge) {
		msg := websocket.FormatCloseMessage(closeAuthenticationFailed, "Authentication failed.")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}

	if err := fc.send(OpIdentified, identifiedData{NegotiatedRPCVersion: rpcVersion}); err != nil {
		return
	}

	f.mu.Lock()
	f.identifies = append(f.identifies, ident)
	f.handshakes++
	f.conns = append(f.conns, fc)
	f.mu.Unlock()

	for {
		env, err := readFrame(conn)
		if err != nil {
			return
		}
		if env.Op != OpRequest {
			continue
		}
		var req struct {
			RequestType string          `json:"requestType"`
			RequestID   string          `json:"requestId"`
			RequestData json.RawMessage `json:"requestData"`
		}
		if err := json.Unmarshal(env.D, &req); err != nil {
			continue
		}

		resp, answer := f.respond(req.RequestType, req.RequestData)
		if !answer {
			continue
		}
		resp.RequestType = req.RequestType
		resp.RequestID = req.RequestID
		if err := fc.send(OpRequestResponse, resp); err != nil {
			return
		}
	}
}

// respond applies a request to the fake state. The bool is false when the
// request should go unanswered.
func (f *fakeOBS) respond(requestType string, raw json.RawMessage) (requestResponseData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var args struct {
		InputName     string   `json:"inputName"`
		InputMuted    *bool    `json:"inputMuted"`
		InputVolumeDb *float64 `json:"inputVolumeDb"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}

	entry := requestType
	if args.InputName != "" {
		entry += ":" + args.InputName
	}
	f.requests = append(f.requests, entry)

	if f.silent[requestType] {
		return requestResponseData{}, false
	}
	if code, ok := f.failCodes[requestType]; ok {
		return requestResponseData{RequestStatus: requestStatus{Code: code, Comment: "forced failure"}}, true
	}

	ok := requestStatus{Result: true, Code: StatusSuccess}
	notFound := requestStatus{Code: StatusResourceNotFound, Comment: "No source was found by the name of `" + args.InputName + "`."}

	marshal := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}

	switch requestType {
	case requestGetInputList:
		list := make([]map[string]string, 0, len(f.inputs))
		for _, in := range f.inputs {
			list = append(list, map[string]string{"inputName": in.name, "inputKind": in.kind})
		}
		return requestResponseData{RequestStatus: ok, ResponseData: marshal(map[string]any{"inputs": list})}, true

	case requestGetInputMute, requestSetInputMute, requestGetInputVolume, requestSetInputVolume:
		in := f.input(args.InputName)
		if in == nil {
			return requestResponseData{RequestStatus: notFound}, true
		}
		switch requestType {
		case requestGetInputMute:
			return requestResponseData{RequestStatus: ok, ResponseData: marshal(map[string]bool{"inputMuted": in.muted})}, true
		case requestSetInputMute:
			if args.InputMuted != nil {
				in.muted = *args.InputMuted
			}
			return requestResponseData{RequestStatus: ok}, true
		case requestGetInputVolume:
			data := map[string]float64{"inputVolumeMul": 1}
			if !in.noVolumeDb {
				data["inputVolumeDb"] = in.volumeDb
			}
			return requestResponseData{RequestStatus: ok, ResponseData: marshal(data)}, true
		default:
			if args.InputVolumeDb != nil {
				in.volumeDb = *args.InputVolumeDb
			}
			return requestResponseData{RequestStatus: ok}, true
		}
	}

	return requestResponseData{RequestStatus: requestStatus{Code: 204, Comment: "unknown request type"}}, true
}
