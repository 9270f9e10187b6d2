package wire

import "encoding/json"

// Tree is the tagged-variant argument tree used to carry RPC args/kwargs
// and results. Spec.md §9 calls for this in place of the source's
// in-place mutation of heterogeneous containers: placeholder substitution
// walks a Tree and produces a new Tree rather than mutating shared state.
type Tree interface {
	isTree()
}

type (
	// Null represents a JSON null.
	Null struct{}
	// Bool represents a JSON boolean.
	Bool bool
	// Number represents a JSON number.
	Number float64
	// String represents a JSON string, including an unsubstituted
	// attachment placeholder.
	String string
	// Bytes represents a substituted attachment: raw binary data that
	// replaced a placeholder string during decode.
	Bytes []byte
	// List represents a JSON array.
	List []Tree
	// Object represents a JSON object.
	Object map[string]Tree
)

func (Null) isTree()   {}
func (Bool) isTree()   {}
func (Number) isTree() {}
func (String) isTree() {}
func (Bytes) isTree()  {}
func (List) isTree()   {}
func (Object) isTree() {}

// FromJSON decodes a single JSON value into a Tree.
func FromJSON(raw json.RawMessage) (Tree, error) {
	var v any
	if err := codec.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return fromAny(v), nil
}

func fromAny(v any) Tree {
	switch t := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = fromAny(e)
		}
		return out
	case map[string]any:
		out := make(Object, len(t))
		for k, e := range t {
			out[k] = fromAny(e)
		}
		return out
	default:
		return Null{}
	}
}

// ArgsToTree decodes a positional argument list.
func ArgsToTree(args []json.RawMessage) ([]Tree, error) {
	out := make([]Tree, len(args))
	for i, a := range args {
		t, err := FromJSON(a)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// KwargsToTree decodes a keyword argument map.
func KwargsToTree(kwargs map[string]json.RawMessage) (map[string]Tree, error) {
	out := make(map[string]Tree, len(kwargs))
	for k, v := range kwargs {
		t, err := FromJSON(v)
		if err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, nil
}

// SubstitutePlaceholders recursively replaces placeholder strings present
// in received with the raw bytes they stand for, returning a new Tree.
// Matched entries are deleted from received as they're consumed — the
// caller's map is a session-owned, single-goroutine-mutated structure
// (internal/session), so this is safe and mirrors the aiohttp reference's
// `del self.attachmentsReceived[o]`.
func SubstitutePlaceholders(t Tree, received map[string][]byte) Tree {
	switch v := t.(type) {
	case String:
		if PlaceholderPattern.MatchString(string(v)) {
			if b, ok := received[string(v)]; ok {
				delete(received, string(v))
				return Bytes(b)
			}
		}
		return v
	case List:
		out := make(List, len(v))
		for i, e := range v {
			out[i] = SubstitutePlaceholders(e, received)
		}
		return out
	case Object:
		out := make(Object, len(v))
		for k, e := range v {
			out[k] = SubstitutePlaceholders(e, received)
		}
		return out
	default:
		return t
	}
}

// ToInterface converts a Tree back into plain Go values (map[string]any,
// []any, string, float64, bool, nil, or []byte for a substituted
// attachment) for callers that want to destructure it with type switches
// rather than walking Tree directly.
func ToInterface(t Tree) any {
	switch v := t.(type) {
	case Null:
		return nil
	case Bool:
		return bool(v)
	case Number:
		return float64(v)
	case String:
		return string(v)
	case Bytes:
		return []byte(v)
	case List:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ToInterface(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = ToInterface(e)
		}
		return out
	default:
		return nil
	}
}
