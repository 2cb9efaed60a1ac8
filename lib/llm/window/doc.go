// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package window bounds conversation history to a model's context
// budget.
//
// [Trimmer.Trim] greedily selects the longest contiguous suffix of a
// chronological message sequence that fits within the budget (the
// window minus a reserve for the response), always keeping the most
// recent message regardless of its cost. Stored per-message token
// counts are trusted; fresh content is priced through an injected
// [CostFunc].
//
// [ContextWindowForModel] looks up per-model window sizes with a
// conservative default for unrecognized models.
package window
