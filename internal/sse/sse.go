// Package sse implements the wire framing shared by every streaming
// endpoint in this module: "data: <json>\n\n" records, as produced by the
// in-container HTTP service and consumed by the control plane's
// streaming wrappers and, ultimately, the client façade.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Encode writes v as a single SSE "data:" record to w. v is marshaled to
// JSON on one line; callers that need multi-line payloads must escape
// newlines themselves (JSON already does this).
func Encode(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encode: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}

// Decoder reassembles "data: <json>\n\n" records from an arbitrary byte
// stream, tolerating chunk boundaries that split a record (or even a
// single UTF-8 rune) anywhere. A parse error on one record is reported to
// the caller but does not poison subsequent records.
type Decoder struct {
	r   io.Reader
	buf bytes.Buffer
	tmp [4096]byte
	eof bool
}

// NewDecoder returns a Decoder reading SSE records from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the raw bytes of the next "data:" line's payload (the
// JSON body, with the "data: " prefix and newlines already stripped),
// reading more of the underlying stream as needed. It returns io.EOF once
// the stream is exhausted with no further complete record pending.
func (d *Decoder) Next() ([]byte, error) {
	for {
		if rec, ok := d.takeRecord(); ok {
			return rec, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		n, err := d.r.Read(d.tmp[:])
		if n > 0 {
			d.buf.Write(d.tmp[:n])
		}
		if err != nil {
			if err == io.EOF {
				d.eof = true
				continue
			}
			return nil, err
		}
	}
}

// takeRecord extracts one complete "\n\n"-terminated record from the
// buffer, if one is present, and parses out its "data:" payload.
func (d *Decoder) takeRecord() ([]byte, bool) {
	data := d.buf.Bytes()
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, false
	}

	record := make([]byte, idx)
	copy(record, data[:idx])
	d.buf.Next(idx + 2)

	return extractDataPayload(record), true
}

// extractDataPayload joins every "data:" line in a record (SSE allows
// multiple data lines per event, concatenated with newlines) and returns
// the payload bytes, trimming the single leading space convention.
func extractDataPayload(record []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(record))
	var payload bytes.Buffer
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		const prefix = "data:"
		if !bytes.HasPrefix(line, []byte(prefix)) {
			continue
		}
		value := line[len(prefix):]
		value = bytes.TrimPrefix(value, []byte(" "))
		if !first {
			payload.WriteByte('\n')
		}
		payload.Write(value)
		first = false
	}
	return payload.Bytes()
}

// DecodeJSON is a convenience wrapper around Next that unmarshals the
// payload into v. A JSON parse error is returned without advancing past
// the next record, matching the "parse errors on one record do not
// poison the stream" guarantee required by callers that retry Next.
func (d *Decoder) DecodeJSON(v any) error {
	payload, err := d.Next()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("sse: decode json: %w", err)
	}
	return nil
}
