// Package registry implements the method registry (spec.md §4.2, §6.2):
// discovering the callable RPC endpoints exposed by a server protocol
// object and its link protocols, and building the URI -> (object, callable)
// function map a protocol handler dispatches against.
//
// Spec.md §9's redesign note replaces the source's reflection-based
// attribute-tag scan (`inspect.getmembers` + `_wslinkuris`) with an
// explicit registration step: a ProtocolObject additionally implementing
// MethodSource hands back its URI table directly, rather than having it
// discovered by scanning struct members for metadata.
package registry

import "github.com/stepherg/wslink/internal/wire"

// PublishFunc publishes a topic/data pair, optionally to a single client.
type PublishFunc func(topic string, data any, clientID string)

// AddAttachmentFunc allocates a placeholder key for payload in the
// process-wide attachment store.
type AddAttachmentFunc func(payload []byte) string

// StopFunc requests an immediate server shutdown.
type StopFunc func()

// MethodFunc is an RPC callable. obj is the protocol object the method
// was registered against — spec.md §9's "insert obj at args[0]" becomes
// this explicit first parameter in the statically typed target.
type MethodFunc func(obj ProtocolObject, args []wire.Tree, kwargs map[string]wire.Tree) (any, error)

// Method pairs a URI with its callable.
type Method struct {
	URI  string
	Call MethodFunc
}

// ProtocolObject is a user-supplied server or link protocol (spec.md §6.2).
type ProtocolObject interface {
	// LinkProtocols returns the auxiliary objects whose methods merge
	// into this object's URI space.
	LinkProtocols() []ProtocolObject
	// Init is called once, before the registry is built, with the three
	// callables the handler injects.
	Init(publish PublishFunc, addAttachment AddAttachmentFunc, stop StopFunc)
	// Secret is the shared secret checked by wslink.hello.
	Secret() string
}

// MethodSource is implemented by any ProtocolObject that exposes RPC
// methods (a link protocol with none, e.g. a pure auth shim, need not).
type MethodSource interface {
	Methods() []Method
}

// Entry is one resolved function-map row.
type Entry struct {
	Object ProtocolObject
	Call   MethodFunc
}

// Build walks root's link protocols, then root itself, collecting their
// Methods() into a URI -> Entry map. Link protocols are visited first and
// root last, so that on a URI collision root's own methods win — this
// mirrors the source's plain dict assignment order, where the server
// protocol is appended to protocolList after its link protocols and thus
// overwrites any of their URIs sharing the same key.
func Build(root ProtocolObject) map[string]Entry {
	out := make(map[string]Entry)
	for _, link := range root.LinkProtocols() {
		addEntries(out, link)
	}
	addEntries(out, root)
	return out
}

func addEntries(out map[string]Entry, obj ProtocolObject) {
	src, ok := obj.(MethodSource)
	if !ok {
		return
	}
	for _, m := range src.Methods() {
		out[m.URI] = Entry{Object: obj, Call: m.Call}
	}
}

// InitAll calls Init on root and every link protocol it declares, each
// with the same three injected callables (spec.md §4.2).
func InitAll(root ProtocolObject, publish PublishFunc, addAttachment AddAttachmentFunc, stop StopFunc) {
	for _, link := range root.LinkProtocols() {
		link.Init(publish, addAttachment, stop)
	}
	root.Init(publish, addAttachment, stop)
}
