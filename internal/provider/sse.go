// SPDX-License-Identifier: AGPL-3.0-only
package provider

import "bytes"

// lineAssembler retains the undelimited remainder of a byte stream
// across successive reads so SSE events split across TCP reads are
// never lost or mis-parsed. This is the explicit fix for
// bamboo-llm/src/provider/base.rs's naive per-Read line split, which
// discards (or mis-concatenates) a line spanning two reads; see §4.1's
// SSE framing contract and Testable Property #1.
type lineAssembler struct {
	buf []byte
}

// feed appends data and returns every complete (\n-terminated) line
// found so far, each with a trailing \r stripped. Any trailing partial
// line is retained in buf for the next call.
func (la *lineAssembler) feed(data []byte) []string {
	la.buf = append(la.buf, data...)

	var lines []string
	for {
		idx := bytes.IndexByte(la.buf, '\n')
		if idx < 0 {
			break
		}
		line := la.buf[:idx]
		la.buf = la.buf[idx+1:]
		lines = append(lines, string(bytes.TrimSuffix(line, []byte("\r"))))
	}
	return lines
}

// flush returns whatever partial line remains unterminated, treating
// it as a final line (used when the stream ends without a trailing
// newline).
func (la *lineAssembler) flush() string {
	if len(la.buf) == 0 {
		return ""
	}
	rest := string(la.buf)
	la.buf = nil
	return rest
}
