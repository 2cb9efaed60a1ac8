// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package factory

import (
	"testing"

	"github.com/couriergram/courier/lib/config"
)

func TestNewBuildsConfiguredProvider(t *testing.T) {
	t.Parallel()
	tests := []struct {
		provider string
		model    string
	}{
		{"openai", "gpt-4o-mini"},
		{"groq", "llama-3.3-70b-versatile"},
	}
	for _, test := range tests {
		t.Run(test.provider, func(t *testing.T) {
			t.Parallel()
			adapter, counter, err := New(config.ProviderConfig{
				Name:   test.provider,
				APIKey: "test-key",
				Model:  test.model,
			}, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if adapter.ModelName() != test.model {
				t.Errorf("ModelName = %q, want %q", adapter.ModelName(), test.model)
			}
			if counter == nil {
				t.Error("counter is nil")
			}
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()
	if _, _, err := New(config.ProviderConfig{Name: "gemini", APIKey: "k", Model: "m"}, nil); err == nil {
		t.Error("New with an unknown provider succeeded")
	}
}

func TestNewPropagatesAdapterErrors(t *testing.T) {
	t.Parallel()
	if _, _, err := New(config.ProviderConfig{Name: "openai"}, nil); err == nil {
		t.Error("New without credentials succeeded")
	}
}
