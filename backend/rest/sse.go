package rest

import (
	"bufio"
	"bytes"
	"io"
)

// sseReader parses a Server-Sent Events stream. Only the "event" and "data"
// fields are used; the server does not send ids or retry hints.
type sseReader struct {
	s *bufio.Scanner

	// Event and Data are valid until the next call to Next. Data backed by
	// an internal buffer that is reused between events.
	Event string
	Data  []byte

	buf bytes.Buffer
	err error
}

func newSSEReader(r io.Reader) *sseReader {
	sr := &sseReader{s: bufio.NewScanner(r)}
	sr.s.Buffer(nil, 1024*1024)
	return sr
}

// Next advances to the next event. It returns false at end of stream or on
// read error; check Err afterwards.
func (sr *sseReader) Next() bool {
	sr.Event = ""
	sr.buf.Reset()

	for sr.s.Scan() {
		line := sr.s.Bytes()

		if len(line) == 0 {
			if sr.buf.Len() == 0 {
				sr.Event = ""
				continue
			}
			data := sr.buf.Bytes()
			sr.Data = bytes.TrimSuffix(data, []byte("\n"))
			return true
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if found && len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		switch string(field) {
		case "event":
			sr.Event = string(value)
		case "data":
			sr.buf.Write(value)
			sr.buf.WriteByte('\n')
		}
	}

	sr.Data = nil
	sr.err = sr.s.Err()
	return false
}

func (sr *sseReader) Err() error { return sr.err }
