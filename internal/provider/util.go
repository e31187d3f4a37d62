package provider

import (
	"bytes"
	"io"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// rawOrEmptyObject returns b if non-empty, otherwise the empty object schema
// {"type":"object","properties":{}} —
// used when a tool's Parameters/Arguments schema is absent so downstream
// wire encoders always have a well-formed value.
func rawOrEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return []byte(`{"type":"object","properties":{}}`)
	}
	return b
}
