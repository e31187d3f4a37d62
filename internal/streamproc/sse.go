// Package streamproc implements the provider-agnostic half of streaming
// completion parsing: reassembling Server-Sent-Events byte chunks into
// discrete frames, decoding their JSON payloads with tolerance for partial or
// malformed trailers, and accumulating per-index tool-call arguments with a
// late JSON-repair fallback. The provider-specific mapping from a decoded
// frame to a normalized delta (stage 3's "what does this payload mean") is
// supplied by each adapter; this package owns the reassembly, decode, and
// accumulation plumbing around that mapping.
package streamproc

import (
	"bytes"
	"strings"
)

// Frame is one decoded (eventType, payload) pair ready for adapter-specific
// interpretation. eventType is the most recent "event: " line seen before
// this "data: " line, or "" if the wire format doesn't use typed events.
type Frame struct {
	EventType string
	Data      []byte
}

// doneSentinel is the SSE end-of-stream marker used by OpenAI-family wire
// formats.
const doneSentinel = "[DONE]"

// Reassembler buffers raw bytes and reconstructs SSE frames across arbitrary
// chunk boundaries. It is safe to feed any byte-split permutation of a
// transcript and get the same frame sequence as feeding it whole.
type Reassembler struct {
	buf           bytes.Buffer
	pendingEvent  string
	done          bool
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends a chunk and returns every complete frame it now yields.
// Incomplete trailing data stays buffered for the next call.
func (r *Reassembler) Feed(chunk []byte) []Frame {
	r.buf.Write(chunk)
	return r.drain(false)
}

// Flush drains any remaining buffered content, treating it as if terminated
// by a final newline. Call once after the underlying stream closes.
func (r *Reassembler) Flush() []Frame {
	return r.drain(true)
}

// Done reports whether a [DONE] sentinel or equivalent terminal marker has
// been observed.
func (r *Reassembler) Done() bool { return r.done }

func (r *Reassembler) drain(flush bool) []Frame {
	var frames []Frame
	data := r.buf.Bytes()

	lastNL := bytes.LastIndexByte(data, '\n')
	var lineBlock []byte
	if lastNL >= 0 {
		lineBlock = data[:lastNL+1]
		r.buf.Next(lastNL + 1)
	} else if flush {
		lineBlock = data
		r.buf.Reset()
	} else {
		return nil
	}

	for _, raw := range strings.Split(string(lineBlock), "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			continue // SSE comment
		}
		if strings.HasPrefix(trimmed, "event:") {
			r.pendingEvent = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
			continue
		}
		if strings.HasPrefix(trimmed, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if payload == doneSentinel {
				r.done = true
				r.pendingEvent = ""
				continue
			}
			frames = append(frames, Frame{EventType: r.pendingEvent, Data: []byte(payload)})
			continue
		}
		// Unrecognized line kind (id:, retry:, blank continuation) — ignored.
	}
	return frames
}
