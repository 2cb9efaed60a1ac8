// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package window

// modelRegistry maps model identifiers to context window sizes in
// tokens. Best-effort: models not listed fall back to
// defaultContextWindow. Values are from provider documentation as of
// early 2026.
var modelRegistry = map[string]int{
	// OpenAI.
	"gpt-5-mini":    128_000,
	"gpt-4.1-mini":  128_000,
	"gpt-4o":        128_000,
	"gpt-4o-mini":   128_000,
	"gpt-4-turbo":   128_000,
	"gpt-4":         8_192,
	"gpt-3.5-turbo": 16_385,

	// xAI (served through the OpenAI-compatible surface).
	"grok-4":      256_000,
	"grok-3-mini": 131_072,

	// Groq-hosted models.
	"llama-3.3-70b-versatile": 128_000,
	"llama-3.1-8b-instant":    128_000,
	"mixtral-8x7b-32768":      32_768,
	"gemma2-9b-it":            8_192,
}

// defaultContextWindow is used for unrecognized models. Deliberately
// conservative: overestimating capacity risks oversized requests the
// provider will reject, underestimating merely trims a little early.
const defaultContextWindow = 16_384

// ContextWindowForModel returns the context window size in tokens for
// the given model identifier, or defaultContextWindow when the model
// is not in the registry.
func ContextWindowForModel(model string) int {
	if size, found := modelRegistry[model]; found {
		return size
	}
	return defaultContextWindow
}
