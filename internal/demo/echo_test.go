package demo

import (
	"testing"

	"github.com/stepherg/wslink/internal/wire"
)

func TestEchoStringReturnsArgumentUnchanged(t *testing.T) {
	e := NewEcho("")
	e.Init(nil, nil, nil)

	got, err := callEchoString(e, []wire.Tree{wire.String("hi")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi" {
		t.Fatalf("expected echo of %q, got %v", "hi", got)
	}
}

func TestEchoBlobAllocatesFreshAttachment(t *testing.T) {
	e := NewEcho("")
	var captured []byte
	e.Init(nil, func(payload []byte) string {
		captured = payload
		return "wslink_bin5"
	}, nil)

	got, err := callEchoBlob(e, []wire.Tree{wire.Bytes("payload")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := got.(map[string]string)
	if !ok || m["blob"] != "wslink_bin5" {
		t.Fatalf("expected blob placeholder wslink_bin5, got %v", got)
	}
	if string(captured) != "payload" {
		t.Fatalf("expected addAttachment to receive the raw payload, got %q", captured)
	}
}

func TestSetSecretOverridesConstructorValue(t *testing.T) {
	e := NewEcho("first")
	e.SetSecret("second")
	if e.Secret() != "second" {
		t.Fatalf("expected secret to be updated, got %q", e.Secret())
	}
}
