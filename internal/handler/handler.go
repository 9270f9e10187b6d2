// Package handler implements the wslink protocol handler (spec.md §4,
// component C5): the HTTP upgrade entrypoint, the per-connection read
// loop and dispatch table, the wslink.hello system method, and the
// publish delivery path. Grounded on the teacher's internal/ws/handler.go
// (upgrade + per-client read loop + keepalive) and the aiohttp reference's
// handleWsRequest/onMessage/handleSystemMessage/sendWrappedMessage.
package handler

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stepherg/wslink/internal/pubsub"
	"github.com/stepherg/wslink/internal/registry"
	"github.com/stepherg/wslink/internal/session"
	"github.com/stepherg/wslink/internal/transport"
	"github.com/stepherg/wslink/internal/wire"
)

// Keepalive timing, aligned with the teacher's internal/ws/handler.go
// constants.
const (
	pongWait   = 75 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
	readLimit  = 512 * 1024
)

// LifecycleHooks lets the server lifecycle coordinator (C6) observe
// connect/disconnect events to arm and cancel its idle-shutdown timer
// (spec.md §4.4, §9).
type LifecycleHooks struct {
	OnConnect    func()
	OnDisconnect func(remaining int)
}

// Handler upgrades HTTP requests to wslink WebSocket connections and
// dispatches RPC traffic against a single root protocol object.
type Handler struct {
	Upgrader websocket.Upgrader
	Manager  *pubsub.Manager
	Hooks    LifecycleHooks

	root registry.ProtocolObject

	buildOnce sync.Once
	methods   map[string]registry.Entry
	stopFunc  func()

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New builds a Handler serving root's registry over manager.
func New(root registry.ProtocolObject, manager *pubsub.Manager) *Handler {
	return &Handler{
		Upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		Manager:  manager,
		root:     root,
		sessions: make(map[string]*session.Session),
	}
}

// ensureBuilt performs the one-time registry build and Init call, lazily on
// first connection, mirroring the reference's "functionMap isn't populated
// until the first connect" comment.
func (h *Handler) ensureBuilt() {
	h.buildOnce.Do(func() {
		stop := h.stopFunc
		if stop == nil {
			stop = func() { log.Printf("wslink: stop requested but no StopFunc configured") }
		}
		registry.InitAll(h.root, h.publishAdapter, h.Manager.AddAttachment, stop)
		h.methods = registry.Build(h.root)
		h.Manager.RegisterProtocol(h)
	})
}

// SetStopFunc rewires the StopFunc passed to protocol objects during
// ensureBuilt. Must be called before the first connection.
func (h *Handler) SetStopFunc(stop func()) {
	h.stopFunc = stop
}

// publishAdapter matches registry.PublishFunc's any-typed payload to
// pubsub.Manager.Publish's json.RawMessage parameter.
func (h *Handler) publishAdapter(topic string, data any, clientID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("wslink: publish payload for topic %q cannot be serialized: %v", topic, err)
		return
	}
	h.Manager.Publish(topic, raw, clientID)
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the client disconnects (spec.md §4.4, §4.5).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ensureBuilt()

	t, err := transport.Upgrade(w, r, h.Upgrader)
	if err != nil {
		log.Printf("wslink: upgrade failed: %v", err)
		return
	}

	id := newClientID()
	sess := session.New(id, t)
	sess.MarkOpen()

	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()

	if h.Hooks.OnConnect != nil {
		h.Hooks.OnConnect()
	}

	log.Printf("wslink: client %s connected", id)

	h.runReadLoop(sess)

	h.mu.Lock()
	delete(h.sessions, id)
	remaining := len(h.sessions)
	h.mu.Unlock()

	log.Printf("wslink: client %s disconnected", id)

	if h.Hooks.OnDisconnect != nil {
		h.Hooks.OnDisconnect(remaining)
	}
}

func newClientID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (h *Handler) runReadLoop(sess *session.Session) {
	t := sess.Transport
	t.SetReadLimit(readLimit)
	_ = t.SetReadDeadline(time.Now().Add(pongWait))
	t.SetPongHandler(func(string) error {
		_ = t.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go pingLoop(t, done)
	defer close(done)

	for {
		mt, data, err := t.ReadMessage()
		if err != nil {
			break
		}
		switch mt {
		case transport.BinaryMessage:
			sess.PushBinary(data)
		case transport.TextMessage:
			h.handleText(sess, data)
		}
	}
}

// pingLoop sends a PING control frame every pingPeriod until done is
// closed, keeping an idle-but-alive connection from hitting pongWait and
// letting a dead one be dropped when the write fails (teacher's
// client.run ping goroutine).
func pingLoop(t transport.Transport, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.WriteControl(transport.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) handleText(sess *session.Session, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		log.Printf("wslink: client %s sent malformed message: %v", sess.ID, err)
		return
	}

	if msg.ID == "" {
		// System frame with no id: only the attachment header is defined.
		if msg.Method == wire.AttachmentMethod {
			keys := decodeStringArgs(msg.Args)
			sess.PushAttachmentHeader(keys)
		}
		return
	}

	if strings.HasPrefix(msg.ID, "system:") {
		h.handleSystemMessage(sess, msg)
		return
	}

	entry, ok := h.methods[msg.Method]
	if !ok {
		h.sendError(sess.ID, msg.ID, wire.MethodNotFound, "Unregistered method called", msg.Method)
		return
	}

	go h.invoke(sess, msg, entry)
}

// handleSystemMessage implements wslink.hello and rejects any other
// system-namespaced method (spec.md §4.5, the reference's
// handleSystemMessage).
func (h *Handler) handleSystemMessage(sess *session.Session, msg *wire.Message) {
	if msg.Method != "wslink.hello" {
		h.sendError(sess.ID, msg.ID, wire.MethodNotFound, "Unknown system method called", nil)
		return
	}

	if !h.checkSecret(msg.Args) {
		h.sendError(sess.ID, msg.ID, wire.AuthenticationError, "Authentication failed", nil)
		return
	}

	result := map[string]string{"clientID": "c" + sess.ID}
	h.sendResult(sess.ID, msg.ID, result)
}

// checkSecret diverges from the reference on one edge case: with no
// secret configured, it accepts hello with no args at all, where the
// original would still fail that call with AUTHENTICATION_ERROR since its
// check short-circuits on `args and args[0] and ...`. An empty secret is
// treated here as "auth disabled" rather than "auth that always fails".
func (h *Handler) checkSecret(args []json.RawMessage) bool {
	want := h.root.Secret()
	if want == "" {
		return true
	}
	if len(args) == 0 {
		return false
	}
	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(args[0], &body); err != nil {
		return false
	}
	return body.Secret == want
}

// invoke runs one RPC call as an independent goroutine so the read loop
// is never blocked on handler execution (spec.md §5).
func (h *Handler) invoke(sess *session.Session, msg *wire.Message, entry registry.Entry) {
	argTrees, err := wire.ArgsToTree(msg.Args)
	if err != nil {
		h.sendError(sess.ID, msg.ID, wire.ExceptionError, "Exception raised", errorData(msg.Method, err, string(debug.Stack())))
		return
	}
	kwargTrees, err := wire.KwargsToTree(msg.Kwargs)
	if err != nil {
		h.sendError(sess.ID, msg.ID, wire.ExceptionError, "Exception raised", errorData(msg.Method, err, string(debug.Stack())))
		return
	}

	received := sess.Received()
	for i, a := range argTrees {
		argTrees[i] = wire.SubstitutePlaceholders(a, received)
	}
	for k, v := range kwargTrees {
		kwargTrees[k] = wire.SubstitutePlaceholders(v, received)
	}

	result, trace, err := safeCall(entry, argTrees, kwargTrees)
	if err != nil {
		h.sendError(sess.ID, msg.ID, wire.ExceptionError, "Exception raised", errorData(msg.Method, err, trace))
		return
	}

	reply, err := wire.NewResult(msg.ID, result)
	if err != nil {
		h.sendError(sess.ID, msg.ID, wire.ResultSerializeError, "Method result cannot be serialized", msg.Method)
		return
	}
	h.sendMessage(sess.ID, reply)
}

// safeCall invokes entry.Call, recovering a panicking method body into an
// error plus the stack at the point of the panic — the trace is captured
// here, inside the recover, since by the time invoke sees the error the
// panicking frames are already gone.
func safeCall(entry registry.Entry, args []wire.Tree, kwargs map[string]wire.Tree) (result any, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			trace = string(debug.Stack())
		}
	}()
	result, err = entry.Call(entry.Object, args, kwargs)
	return result, "", err
}

// errorData builds the EXCEPTION_ERROR data payload (spec.md §4.5, §7):
// method, the exception text, and a stack trace — shaped like the
// reference's {"method", "exception": repr(e), "trace": format_exc()}.
// The trace is the panic stack when a method panicked, the invoking
// goroutine's stack when argument decoding failed, and empty when a
// method returned an error.
func errorData(method string, err error, trace string) map[string]string {
	return map[string]string{"method": method, "exception": err.Error(), "trace": trace}
}

// sendResult and sendError address a single client; sendMessage is the
// lower-level primitive both use.
func (h *Handler) sendResult(clientID, rpcID string, result any) {
	msg, err := wire.NewResult(rpcID, result)
	if err != nil {
		h.sendError(clientID, rpcID, wire.ResultSerializeError, "Method result cannot be serialized", "")
		return
	}
	h.sendMessage(clientID, msg)
}

func (h *Handler) sendError(clientID, rpcID string, code wire.Code, message string, data any) {
	msg, err := wire.NewError(rpcID, code, message, data)
	if err != nil {
		log.Printf("wslink: failed to encode error reply: %v", err)
		return
	}
	h.sendMessage(clientID, msg)
}

// sendMessage frames msg, resolves any attachment placeholders that appear
// in its serialized text against the manager's live attachment map, and
// writes header/binary/json frame groups to clientID (or, if empty, every
// connected session) — spec.md §4.1's send protocol, grounded directly on
// the reference's sendWrappedMessage.
func (h *Handler) sendMessage(clientID string, msg *wire.Message) {
	encoded, err := wire.Encode(msg)
	if err != nil {
		log.Printf("wslink: failed to encode message: %v", err)
		return
	}

	targets := h.targetSessions(clientID)
	if len(targets) == 0 {
		return
	}

	attachments := h.Manager.GetAttachmentMap()
	if len(attachments) > 0 {
		known := make(map[string]struct{}, len(attachments))
		for k := range attachments {
			known[k] = struct{}{}
		}
		foundKeys := wire.ScanPlaceholderKeys(encoded, known)
		for _, key := range foundKeys {
			h.Manager.RegisterAttachment(key)
			header, herr := wire.NewAttachmentHeader([]string{key})
			if herr == nil {
				headerBytes, _ := wire.Encode(header)
				for _, s := range targets {
					s.Send(session.TextFrame(headerBytes), session.BinaryFrame(attachments[key]))
				}
			}
			h.Manager.UnregisterAttachment(key)
		}
		h.Manager.FreeAttachments(foundKeys)
	}

	for _, s := range targets {
		s.Send(session.TextFrame(encoded))
	}
}

func (h *Handler) targetSessions(clientID string) []*session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clientID != "" {
		if s, ok := h.sessions[clientID]; ok {
			return []*session.Session{s}
		}
		return nil
	}
	out := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Deliver implements pubsub.Publisher: a publish is wrapped as a wire
// message and sent through the same attachment-aware send path as an RPC
// reply (spec.md §4.3).
func (h *Handler) Deliver(topic string, data json.RawMessage, clientID string) {
	msg := &wire.Message{Wslink: wire.Version, Method: topic, Args: []json.RawMessage{data}}
	h.sendMessage(clientID, msg)
}

// DisconnectAll closes every connected session with the given close code
// and reason, for use by the lifecycle coordinator's shutdown path
// (spec.md §4.4, the reference's disconnectClients).
func (h *Handler) DisconnectAll(code int, reason string) {
	h.mu.Lock()
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		log.Printf("wslink: disconnecting client %s", s.ID)
		_ = s.Close(code, reason)
	}
}

func decodeStringArgs(args []json.RawMessage) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		var s string
		if err := json.Unmarshal(a, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}
