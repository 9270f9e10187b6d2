package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw, err := codec.Marshal("hello")
	if err != nil {
		t.Fatalf("marshal arg: %v", err)
	}
	in := &Message{
		Wslink: Version,
		ID:     "rpc:1",
		Method: "echo.blob",
		Args:   []json.RawMessage{raw},
		Kwargs: map[string]json.RawMessage{"k": raw},
	}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Wslink != Version || out.ID != in.ID || out.Method != in.Method {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.Args) != 1 || string(out.Args[0]) != string(raw) {
		t.Fatalf("args mismatch: %+v", out.Args)
	}
	if string(out.Kwargs["k"]) != string(raw) {
		t.Fatalf("kwargs mismatch: %+v", out.Kwargs)
	}
}

func TestEncodePreservesNonASCII(t *testing.T) {
	m, err := NewResult("rpc:2", "héllo wörld 日本語")
	if err != nil {
		t.Fatalf("new result: %v", err)
	}
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !contains(encoded, []byte("日本語")) {
		t.Fatalf("expected literal non-ASCII in output, got %s", encoded)
	}
}

func TestScanPlaceholderKeysFindsKnownKeysOnce(t *testing.T) {
	msg, err := NewResult("rpc:3", map[string]any{
		"b": "wslink_bin2",
		"a": []any{"wslink_bin1", "wslink_bin2"},
	})
	if err != nil {
		t.Fatalf("new result: %v", err)
	}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	known := map[string]struct{}{"wslink_bin1": {}, "wslink_bin2": {}, "wslink_bin9": {}}
	keys := ScanPlaceholderKeys(encoded, known)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys found, got %v", keys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate key in scan result: %v", keys)
		}
		seen[k] = true
	}
}

func TestPlaceholderPattern(t *testing.T) {
	cases := map[string]bool{
		"wslink_bin0":   true,
		"wslink_bin123": true,
		"wslink_bin":    false,
		"wslink_binX":   false,
		"xwslink_bin1":  false,
	}
	for s, want := range cases {
		if got := PlaceholderPattern.MatchString(s); got != want {
			t.Errorf("PlaceholderPattern.MatchString(%q) = %v, want %v", s, got, want)
		}
	}
}

func contains(haystack, needle []byte) bool {
	return bytes.Index(haystack, needle) >= 0
}
