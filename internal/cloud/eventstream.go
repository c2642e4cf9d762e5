package cloud

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// frameSeparator ends one event frame.
var frameSeparator = []byte("\n\n")

// FrameSink receives the data payload of each complete event frame. It is
// called synchronously from the read loop.
type FrameSink interface {
	OnFrame(payload []byte) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(payload []byte) error

// OnFrame calls f(payload).
func (f FrameSinkFunc) OnFrame(payload []byte) error { return f(payload) }

// WriterSink writes each payload to W.
type WriterSink struct {
	W io.Writer
}

// OnFrame writes payload to the underlying writer.
func (s WriterSink) OnFrame(payload []byte) error {
	_, err := s.W.Write(payload)

	return err
}

// frameDecoder accumulates a text/event-stream body and splits it into
// frames. A frame looks like
//
//	event: put
//	data: {"path":"/","data":{...}}
//
// followed by a blank line. The payload is the second line with everything
// up to and including the first colon removed, minus one optional space
// after the colon. Servers write "data: " with that space, and dropping it
// keeps the payload byte-identical to the JSON they sent; any further
// whitespace is passed through.
type frameDecoder struct {
	buf []byte
}

// feed appends chunk and returns the payloads of every frame it completed.
// Bytes after the last separator stay buffered for the next call.
func (d *frameDecoder) feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var payloads [][]byte

	for {
		end := bytes.Index(d.buf, frameSeparator)
		if end < 0 {
			break
		}

		if p, ok := framePayload(d.buf[:end]); ok {
			payloads = append(payloads, p)
		}

		d.buf = d.buf[end+len(frameSeparator):]
	}

	// Move the partial tail to the front so buf does not grow without bound.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	} else {
		d.buf = append([]byte(nil), d.buf...)
	}

	return payloads
}

// framePayload extracts a copy of the data payload of one frame.
func framePayload(frame []byte) ([]byte, bool) {
	lines := bytes.Split(frame, []byte("\n"))
	if len(lines) < 2 {
		return nil, false
	}

	line := bytes.TrimSuffix(lines[1], []byte("\r"))

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return nil, false
	}

	payload := line[colon+1:]
	payload = bytes.TrimPrefix(payload, []byte(" "))

	return append([]byte(nil), payload...), true
}

// frameWriter is the io.Writer the response body is copied into. Each
// completed frame goes to sink, under lock when one is given.
type frameWriter struct {
	dec    frameDecoder
	sink   FrameSink
	lock   sync.Locker
	frames int
}

func (w *frameWriter) Write(p []byte) (int, error) {
	for _, payload := range w.dec.feed(p) {
		if err := w.deliver(payload); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

func (w *frameWriter) deliver(payload []byte) error {
	if w.lock != nil {
		w.lock.Lock()
		defer w.lock.Unlock()
	}

	if err := w.sink.OnFrame(payload); err != nil {
		return fmt.Errorf("cloud: frame sink: %w", err)
	}

	w.frames++

	return nil
}
