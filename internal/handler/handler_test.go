package handler

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stepherg/wslink/internal/pubsub"
	"github.com/stepherg/wslink/internal/registry"
	"github.com/stepherg/wslink/internal/wire"
)

// echoProto is a minimal protocol object exercising the attachment send
// protocol, grounded on the demo Echo object spec.md §7 describes.
type echoProto struct {
	secret        string
	addAttachment registry.AddAttachmentFunc
}

func (e *echoProto) LinkProtocols() []registry.ProtocolObject { return nil }

func (e *echoProto) Init(publish registry.PublishFunc, addAttachment registry.AddAttachmentFunc, stop registry.StopFunc) {
	e.addAttachment = addAttachment
}

func (e *echoProto) Secret() string { return e.secret }

func (e *echoProto) Methods() []registry.Method {
	return []registry.Method{
		{URI: "echo.blob", Call: func(obj registry.ProtocolObject, args []wire.Tree, kwargs map[string]wire.Tree) (any, error) {
			self := obj.(*echoProto)
			if len(args) == 0 {
				return nil, fmt.Errorf("missing blob argument")
			}
			b, ok := args[0].(wire.Bytes)
			if !ok {
				return nil, fmt.Errorf("expected a substituted attachment")
			}
			key := self.addAttachment([]byte(b))
			return map[string]string{"blob": key}, nil
		}},
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func readDecoded(t *testing.T, c *websocket.Conn) *wire.Message {
	t.Helper()
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestHelloSucceedsWithCorrectSecret(t *testing.T) {
	proto := &echoProto{secret: "s3cr3t"}
	h := New(proto, pubsub.New())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	hello, err := wire.Encode(&wire.Message{
		Wslink: wire.Version, ID: "system:1", Method: "wslink.hello",
		Args: []json.RawMessage{json.RawMessage(`{"secret":"s3cr3t"}`)},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readDecoded(t, c)
	if resp.Error != nil {
		t.Fatalf("expected success, got error: %+v", resp.Error)
	}
	var result struct {
		ClientID string `json:"clientID"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ClientID == "" {
		t.Fatalf("expected a non-empty clientID")
	}
}

func TestHelloFailsWithWrongSecret(t *testing.T) {
	proto := &echoProto{secret: "s3cr3t"}
	h := New(proto, pubsub.New())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	hello, _ := wire.Encode(&wire.Message{
		Wslink: wire.Version, ID: "system:1", Method: "wslink.hello",
		Args: []json.RawMessage{json.RawMessage(`{"secret":"wrong"}`)},
	})
	if err := c.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readDecoded(t, c)
	if resp.Error == nil {
		t.Fatalf("expected an authentication error")
	}
	if resp.Error.Code != wire.AuthenticationError {
		t.Fatalf("expected AuthenticationError, got %v", resp.Error.Code)
	}
}

func TestUnknownSystemMethodReturnsMethodNotFound(t *testing.T) {
	proto := &echoProto{}
	h := New(proto, pubsub.New())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	msg, _ := wire.Encode(&wire.Message{Wslink: wire.Version, ID: "system:2", Method: "wslink.unknown"})
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readDecoded(t, c)
	if resp.Error == nil || resp.Error.Code != wire.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

func TestUnregisteredMethodReturnsMethodNotFound(t *testing.T) {
	proto := &echoProto{}
	h := New(proto, pubsub.New())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	msg, _ := wire.Encode(&wire.Message{Wslink: wire.Version, ID: "1", Method: "does.not.exist"})
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readDecoded(t, c)
	if resp.Error == nil || resp.Error.Code != wire.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

// TestBinaryAttachmentRoundTrip exercises the full send/receive attachment
// protocol: the client uploads a blob as an attachment, echo.blob hands it
// back via AddAttachment, and the server must emit an attachment header +
// binary frame ahead of the JSON result that references the new placeholder
// key (spec.md §4.1).
func TestBinaryAttachmentRoundTrip(t *testing.T) {
	proto := &echoProto{}
	h := New(proto, pubsub.New())
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	header, _ := wire.NewAttachmentHeader([]string{"wslink_bin0"})
	headerBytes, _ := wire.Encode(header)
	if err := c.WriteMessage(websocket.TextMessage, headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}
	payload := []byte("hello binary world")
	if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	argRaw, _ := json.Marshal("wslink_bin0")
	req, _ := wire.Encode(&wire.Message{
		Wslink: wire.Version, ID: "1", Method: "echo.blob",
		Args: []json.RawMessage{argRaw},
	})
	if err := c.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var gotHeader bool
	var gotBinary []byte
	var gotResult *wire.Message
	for time.Now().Before(deadline) && gotResult == nil {
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt == websocket.BinaryMessage {
			gotBinary = data
			continue
		}
		m, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.Method == wire.AttachmentMethod {
			gotHeader = true
			continue
		}
		gotResult = m
	}

	if !gotHeader {
		t.Fatalf("expected an attachment header before the result")
	}
	if string(gotBinary) != string(payload) {
		t.Fatalf("expected binary echo of %q, got %q", payload, gotBinary)
	}
	if gotResult == nil || gotResult.Error != nil {
		t.Fatalf("expected a successful result, got %+v", gotResult)
	}
	var result struct {
		Blob string `json:"blob"`
	}
	if err := json.Unmarshal(gotResult.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Blob == "" {
		t.Fatalf("expected a non-empty blob placeholder in the result")
	}
}
