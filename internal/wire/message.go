// Package wire defines the wslink control-message envelope: the JSON
// frames exchanged over the WebSocket transport, the binary attachment
// placeholder convention, and the argument tree used to carry RPC
// arguments and results without losing track of substituted attachments.
package wire

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/bytedance/sonic"
)

// Version is the wslink protocol version string, present on every
// message the server emits.
const Version = "1.0"

// codec marshals without HTML escaping, so <, > and & are written
// literally; non-ASCII text is not escaped either (sonic's default), so it
// survives on the wire exactly as produced, matching the aiohttp
// reference's json.dumps(..., ensure_ascii=False).
var codec = sonic.Config{EscapeHTML: false}.Froze()

// Code is a stable wslink error code.
type Code int

const (
	AuthenticationError  Code = 1
	MethodNotFound       Code = 2
	ExceptionError       Code = 3
	ResultSerializeError Code = 4
)

// WireError is the error object carried on failure replies.
type WireError struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is the control-frame envelope. Exactly one of Result/Error is
// present on a reply; ID is absent on unsolicited system frames such as
// attachment headers and publishes.
type Message struct {
	Wslink string                     `json:"wslink"`
	ID     string                     `json:"id,omitempty"`
	Method string                     `json:"method,omitempty"`
	Args   []json.RawMessage          `json:"args,omitempty"`
	Kwargs map[string]json.RawMessage `json:"kwargs,omitempty"`
	Result json.RawMessage            `json:"result,omitempty"`
	Error  *WireError                 `json:"error,omitempty"`
}

// AttachmentMethod is the reserved method name for attachment headers.
const AttachmentMethod = "wslink.binary.attachment"

// Encode serializes a Message to its wire form.
func Encode(m *Message) ([]byte, error) {
	return codec.Marshal(m)
}

// Decode parses a wire-form control frame.
func Decode(raw []byte) (*Message, error) {
	m := &Message{}
	if err := codec.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewAttachmentHeader builds the header declaring that binary frames for
// the given keys follow, in order, on this connection.
func NewAttachmentHeader(keys []string) (*Message, error) {
	args := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		raw, err := codec.Marshal(k)
		if err != nil {
			return nil, err
		}
		args[i] = raw
	}
	return &Message{Wslink: Version, Method: AttachmentMethod, Args: args}, nil
}

// NewResult builds a success reply for the given request ID.
func NewResult(id string, result any) (*Message, error) {
	raw, err := codec.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{Wslink: Version, ID: id, Result: raw}, nil
}

// NewError builds an error reply. data may be nil.
func NewError(id string, code Code, message string, data any) (*Message, error) {
	m := &Message{Wslink: Version, ID: id, Error: &WireError{Code: code, Message: message}}
	if data != nil {
		raw, err := codec.Marshal(data)
		if err != nil {
			return nil, err
		}
		m.Error.Data = raw
	}
	return m, nil
}

// NewPublish builds an id-less notification frame for topic/data.
func NewPublish(topic string, data any) (*Message, error) {
	raw, err := codec.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Wslink: Version, Method: topic, Args: []json.RawMessage{raw}}, nil
}

// PlaceholderPattern matches an attachment placeholder key such as
// "wslink_bin7". SubstitutePlaceholders uses it to decide which inbound
// strings may stand for a received attachment; ScanPlaceholderKeys does
// not use it.
var PlaceholderPattern = regexp.MustCompile(`^wslink_bin\d+$`)

// ScanPlaceholderKeys scans the serialized JSON text of an outgoing
// message for every key in known, in first-appearance order, deduplicated.
//
// This is a scan of the encoded bytes, not a structured walk of the
// message tree, but each key is searched for wrapped in double quotes, so
// only a JSON string (or object key) equal to the whole key matches. A
// user string that merely contains a key inside longer text does not
// match, and "wslink_bin1" is not found inside "wslink_bin10"; this is
// narrower than the aiohttp reference's plain `if key in encMsg`.
func ScanPlaceholderKeys(encoded []byte, known map[string]struct{}) []string {
	type hit struct {
		key string
		pos int
	}
	var hits []hit
	for key := range known {
		quoted := []byte(`"` + key + `"`)
		pos := bytes.Index(encoded, quoted)
		if pos >= 0 {
			hits = append(hits, hit{key: key, pos: pos})
		}
	}
	// Sort by first appearance.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.key
	}
	return out
}
