package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const ContentTypeSSE = "text/event-stream"

// WriteSSE writes ev as one SSE data frame and flushes when w supports it.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SSEReader reads events from an SSE body. Lines that are not data frames,
// malformed payloads and unknown event types are skipped.
type SSEReader struct {
	sc  *bufio.Scanner
	log *slog.Logger
}

func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SSEReader{sc: sc, log: slog.Default()}
}

// Next returns the next event, or io.EOF once the body is exhausted.
func (r *SSEReader) Next() (Event, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		payload, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 {
			continue
		}
		ev, err := Decode(payload)
		if err != nil {
			if !errors.Is(err, ErrUnknownType) {
				r.log.Debug("skip malformed sse frame", "err", err)
			}
			continue
		}
		return ev, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
