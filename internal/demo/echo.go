// Package demo provides a minimal example ProtocolObject, Echo, used by
// cmd/wslinkd and exercised in internal/handler's tests — the role the
// teacher's rpc.EchoDispatcher plays for internal/ws.
package demo

import (
	"fmt"
	"sync"

	"github.com/stepherg/wslink/internal/registry"
	"github.com/stepherg/wslink/internal/wire"
)

// Echo is a ProtocolObject exposing two RPC methods. echo.blob stores its
// binary first argument as a fresh attachment and returns
// {"blob": <placeholder key>} (spec.md §8 scenario 4: a binary attachment
// sent up round-trips back down under a fresh placeholder key).
// echo.string returns its string first argument unchanged.
type Echo struct {
	mu            sync.RWMutex
	secret        string
	addAttachment registry.AddAttachmentFunc
	publish       registry.PublishFunc
	stop          registry.StopFunc
}

// NewEcho builds an Echo protocol object requiring secret on wslink.hello.
// An empty secret disables the check.
func NewEcho(secret string) *Echo {
	return &Echo{secret: secret}
}

// LinkProtocols implements registry.ProtocolObject; Echo has none.
func (e *Echo) LinkProtocols() []registry.ProtocolObject { return nil }

// Init implements registry.ProtocolObject.
func (e *Echo) Init(publish registry.PublishFunc, addAttachment registry.AddAttachmentFunc, stop registry.StopFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish = publish
	e.addAttachment = addAttachment
	e.stop = stop
}

// Secret implements registry.ProtocolObject.
func (e *Echo) Secret() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.secret
}

// SetSecret changes the shared secret after construction — kept for
// parity with the aiohttp reference's setSecret, which test harnesses use
// to flip the secret between cases.
func (e *Echo) SetSecret(secret string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.secret = secret
}

// Methods implements registry.MethodSource.
func (e *Echo) Methods() []registry.Method {
	return []registry.Method{
		{URI: "echo.blob", Call: callEchoBlob},
		{URI: "echo.string", Call: callEchoString},
	}
}

func callEchoBlob(obj registry.ProtocolObject, args []wire.Tree, kwargs map[string]wire.Tree) (any, error) {
	self, ok := obj.(*Echo)
	if !ok {
		return nil, fmt.Errorf("echo.blob called against the wrong protocol object")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("echo.blob requires one argument")
	}
	b, ok := args[0].(wire.Bytes)
	if !ok {
		return nil, fmt.Errorf("echo.blob expects a binary attachment argument")
	}
	self.mu.RLock()
	addAttachment := self.addAttachment
	self.mu.RUnlock()
	key := addAttachment([]byte(b))
	return map[string]string{"blob": key}, nil
}

func callEchoString(obj registry.ProtocolObject, args []wire.Tree, kwargs map[string]wire.Tree) (any, error) {
	if len(args) == 0 {
		return "", nil
	}
	s, ok := args[0].(wire.String)
	if !ok {
		return nil, fmt.Errorf("echo.string expects a string argument")
	}
	return string(s), nil
}
