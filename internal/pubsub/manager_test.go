package pubsub

import (
	"encoding/json"
	"sync"
	"testing"
)

type recordingPublisher struct {
	mu   sync.Mutex
	recv []string
}

func (r *recordingPublisher) Deliver(topic string, data json.RawMessage, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recv = append(r.recv, topic+"|"+clientID)
}

func TestPublishFansOutToAllRegisteredHandlers(t *testing.T) {
	m := New()
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	m.RegisterProtocol(a)
	m.RegisterProtocol(b)

	m.Publish("topic.x", json.RawMessage(`{}`), "")

	if len(a.recv) != 1 || len(b.recv) != 1 {
		t.Fatalf("expected both handlers to receive the publish, got a=%v b=%v", a.recv, b.recv)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	m := New()
	a := &recordingPublisher{}
	m.RegisterProtocol(a)
	m.UnregisterProtocol(a)

	m.Publish("topic.x", json.RawMessage(`{}`), "")

	if len(a.recv) != 0 {
		t.Fatalf("expected no delivery after unregister, got %v", a.recv)
	}
}

func TestAttachmentRefcountLifecycle(t *testing.T) {
	m := New()
	key := m.AddAttachment([]byte{1, 2, 3})

	snap := m.GetAttachmentMap()
	if _, ok := snap[key]; !ok {
		t.Fatalf("expected key %s present in snapshot", key)
	}

	m.RegisterAttachment(key)
	// Still referenced: Free should not remove it.
	m.FreeAttachments([]string{key})
	if _, ok := m.GetAttachmentMap()[key]; !ok {
		t.Fatalf("expected key to remain live while refcount > 0")
	}

	m.UnregisterAttachment(key)
	m.FreeAttachments([]string{key})
	if _, ok := m.GetAttachmentMap()[key]; ok {
		t.Fatalf("expected key to be freed once refcount returned to zero")
	}
}

func TestAttachmentKeysAreMonotonicAndDistinct(t *testing.T) {
	m := New()
	k1 := m.AddAttachment([]byte("a"))
	k2 := m.AddAttachment([]byte("b"))
	if k1 == k2 {
		t.Fatalf("expected distinct keys, got %s twice", k1)
	}
}
