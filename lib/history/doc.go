// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists conversation messages in SQLite.
//
// Messages are append-only: once written they are never modified,
// only deleted by [Store.Clear] or the group retention pass
// [Store.CleanupGroup]. Content part lists are stored as a CBOR blob
// so multimodal messages round-trip without a second table.
//
// [Store.RecentWithinBudget] is the read path the request pipeline
// uses: it walks recent messages newest first, accumulating while the
// stored token counts fit an approximate budget. The pipeline's
// trimmer then does exact accounting on the result. The store's
// budget is a coarse pre-filter bounding how much history leaves the
// database, not a correctness guarantee.
package history
