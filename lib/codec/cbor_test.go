// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// storedPart mirrors the shape of persisted message content.
type storedPart struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func TestRoundtrip(t *testing.T) {
	t.Parallel()
	original := []storedPart{
		{Kind: "text", Text: "look at this"},
		{Kind: "image", ImageURL: "https://example.com/cat.png"},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded []storedPart
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Text != "look at this" || decoded[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()
	value := map[string]int{"b": 2, "a": 1, "c": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical values encoded to different bytes")
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()
	type wide struct {
		Kind  string `json:"kind"`
		Extra string `json:"extra"`
	}
	data, err := Marshal(wide{Kind: "text", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var narrow storedPart
	if err := Unmarshal(data, &narrow); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if narrow.Kind != "text" {
		t.Errorf("Kind = %q", narrow.Kind)
	}
}

func TestDefaultMapType(t *testing.T) {
	t.Parallel()
	data, err := Marshal(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Errorf("decoded type = %T, want map[string]any", decoded)
	}
}
