// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one Server-Sent Event parsed from a response stream.
type SSEEvent struct {
	// Type is the value of the "event:" field, or empty when the
	// stream uses only the default event type.
	Type string

	// Data is the payload assembled from the event's "data:" lines,
	// joined with newlines when there are several.
	Data string
}

// SSEScanner reads Server-Sent Events from an [io.Reader]. Events are
// delimited by blank lines; "data:" lines carry the payload, "event:"
// sets the type, comment lines (leading ":") and unknown fields are
// ignored.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	    ...
//	}
//	if err := scanner.Err(); err != nil {
//	    ...
//	}
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner creates a scanner reading from reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(reader, 64*1024)}
}

// Next advances to the next event. Returns false at end of stream or
// on error; call [Err] afterwards to tell the two apart.
func (scanner *SSEScanner) Next() bool {
	scanner.current = SSEEvent{}

	var dataLines []string
	var eventType string

	for {
		line, readErr := scanner.reader.ReadString('\n')

		if readErr != nil && line == "" {
			if readErr == io.EOF {
				// A stream may end without a trailing blank line;
				// emit whatever was accumulated.
				if len(dataLines) > 0 {
					scanner.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
					scanner.err = io.EOF
					return true
				}
				return false
			}
			scanner.err = readErr
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(dataLines) > 0 {
				scanner.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			// Empty block, keep scanning.
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if hasColon {
			// The spec strips exactly one leading space from the value.
			value = strings.TrimPrefix(value, " ")
		} else {
			field = line
			value = ""
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "event":
			eventType = value
		default:
			// "id", "retry", and anything unrecognized are ignored.
		}
	}
}

// Event returns the most recently parsed event. Valid only after
// [Next] returned true.
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the first error encountered, or nil when scanning ended
// at a clean EOF.
func (scanner *SSEScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
