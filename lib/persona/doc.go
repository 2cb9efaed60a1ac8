// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona stores named system-prompt bodies and tracks which
// one is active for group chats.
//
// The active persona is a single global setting. The name "normal" is
// reserved: it means "use the built-in default prompt" and never
// resolves to a stored body.
//
// Reads are cached with a short TTL because the pipeline resolves the
// active persona on every group request. Writes invalidate the cache
// immediately, so a persona switch takes effect on the next request.
package persona
