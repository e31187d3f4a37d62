package streamproc

import "encoding/json"

// Decode attempts to JSON-decode a frame's payload into dst. Malformed
// payloads (a partial trailer, a provider keepalive ping, server-side
// truncation) must never terminate the stream — callers should simply skip
// the frame on a false return.
func Decode(data []byte, dst any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}
