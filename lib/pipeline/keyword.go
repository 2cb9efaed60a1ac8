// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// Keyword matches an activation keyword as a whole word, case
// insensitively, and strips it from the surrounding text.
type Keyword struct {
	word    string
	pattern *regexp.Regexp
}

// NewKeyword compiles an activation keyword. Empty means no keyword
// gate: Extract then accepts every message unchanged.
func NewKeyword(word string) (*Keyword, error) {
	if word == "" {
		return &Keyword{}, nil
	}
	pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compiling keyword %q: %w", word, err)
	}
	return &Keyword{word: word, pattern: pattern}, nil
}

// Extract reports whether text contains the keyword and returns the
// text with the keyword removed. Case of the remaining text is
// preserved.
func (keyword *Keyword) Extract(text string) (bool, string) {
	if keyword.pattern == nil {
		return true, strings.TrimSpace(text)
	}
	if !keyword.pattern.MatchString(text) {
		return false, ""
	}
	cleaned := keyword.pattern.ReplaceAllString(text, "")
	return true, strings.TrimSpace(cleaned)
}
