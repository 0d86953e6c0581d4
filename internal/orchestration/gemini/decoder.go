package gemini

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxLineSize caps a single buffered line. Longer lines are dropped.
const DefaultMaxLineSize = 16 * 1024 * 1024

// Decoder turns a byte stream of newline-delimited JSON into StreamEvents.
//
// Chunks may split a line anywhere; the unterminated tail of each chunk is
// carried over and completed by the next one. Blank lines are skipped and a
// line that fails to decode is discarded without affecting its neighbours.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	carry     []byte
	maxLine   int
	skipping  bool // discarding an oversized line up to its newline
	malformed int
}

// NewDecoder creates a Decoder with DefaultMaxLineSize.
func NewDecoder() *Decoder {
	return &Decoder{maxLine: DefaultMaxLineSize}
}

// NewDecoderWithMaxLine creates a Decoder that drops lines longer than n bytes.
func NewDecoderWithMaxLine(n int) *Decoder {
	if n < 1 {
		n = DefaultMaxLineSize
	}
	return &Decoder{maxLine: n}
}

// Feed consumes one chunk and returns the events of every line it completed,
// in stream order.
func (d *Decoder) Feed(chunk []byte) []StreamEvent {
	var events []StreamEvent
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.buffer(chunk)
			break
		}
		if d.skipping {
			d.skipping = false
		} else if len(d.carry) > 0 {
			d.buffer(chunk[:i])
			if !d.skipping {
				events = d.appendLine(events, d.carry)
			}
			d.skipping = false
			d.carry = d.carry[:0]
		} else {
			events = d.appendLine(events, chunk[:i])
		}
		chunk = chunk[i+1:]
	}
	return events
}

// Flush decodes any final line left without a terminator and resets the
// carry-over. Call it once the stream has ended.
func (d *Decoder) Flush() []StreamEvent {
	defer func() {
		d.carry = d.carry[:0]
		d.skipping = false
	}()
	if d.skipping || len(d.carry) == 0 {
		return nil
	}
	return d.appendLine(nil, d.carry)
}

// Malformed returns the number of non-blank lines that failed to decode or
// exceeded the line size limit.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// Pending returns the number of carried-over bytes awaiting a newline.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

func (d *Decoder) buffer(b []byte) {
	if d.skipping {
		return
	}
	if len(d.carry)+len(b) > d.maxLine {
		d.carry = d.carry[:0]
		d.skipping = true
		d.malformed++
		return
	}
	d.carry = append(d.carry, b...)
}

func (d *Decoder) appendLine(events []StreamEvent, line []byte) []StreamEvent {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return events
	}
	if len(line) > d.maxLine || line[0] != '{' {
		d.malformed++
		return events
	}
	var ev StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		d.malformed++
		return events
	}
	ev.Raw = string(line)
	return append(events, ev)
}
