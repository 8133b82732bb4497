// Package stream decodes newline-delimited JSON event streams.
//
// A Decoder owns a single pending buffer. Bytes are appended as they arrive,
// complete lines are cut off and decoded, and the trailing fragment waits for
// the next chunk. Splitting happens on raw bytes: the newline byte never
// occurs inside a multi-byte UTF-8 sequence, so a character split across two
// chunks is reassembled before it is ever decoded.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/metrics"
)

const (
	// Delimiter separates records on the wire.
	Delimiter = '\n'

	// MaxLineSize bounds a single record. Longer lines are dropped as
	// malformed without being buffered in full.
	MaxLineSize = 1 << 20

	readBufferSize = 4096
	maxLoggedLine  = 256
)

var (
	// ErrStop may be returned by a Handler to end a session early. Run then
	// returns nil.
	ErrStop = errors.New("stop decoding")
	// ErrDecoderClosed is returned when a finished decoder is reused.
	ErrDecoderClosed = errors.New("decoder already closed")
)

// Handler receives decoded events in arrival order.
type Handler func(model.Event) error

// Stats counts what a session has seen.
type Stats struct {
	Chunks    int
	Bytes     int
	Lines     int
	Events    int
	Malformed int
	Unknown   int
}

// Dropped returns the number of soft decode errors.
func (s Stats) Dropped() int {
	return s.Malformed + s.Unknown
}

// Decoder turns byte chunks into events. It is single use and not safe for
// concurrent use.
type Decoder struct {
	pending []byte
	closed  bool
	// skipping is set while the rest of an oversized line is discarded.
	skipping bool
	stats    Stats
	logger   *logger.Logger
}

// NewDecoder creates a decode session.
func NewDecoder(log *logger.Logger) *Decoder {
	return &Decoder{logger: logger.OrGlobal(log)}
}

// Stats returns the counters of this session.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Feed appends a chunk and returns the events of every line it completed.
func (d *Decoder) Feed(chunk []byte) []model.Event {
	if d.closed || len(chunk) == 0 {
		return nil
	}
	d.stats.Chunks++
	d.stats.Bytes += len(chunk)

	if d.skipping {
		i := bytes.IndexByte(chunk, Delimiter)
		if i < 0 {
			return nil
		}
		d.skipping = false
		chunk = chunk[i+1:]
	}
	d.pending = append(d.pending, chunk...)

	var events []model.Event
	rest := d.pending
	for {
		i := bytes.IndexByte(rest, Delimiter)
		if i < 0 {
			break
		}
		if i > MaxLineSize {
			d.dropOversized(rest[:i])
		} else if ev, ok := d.decodeLine(rest[:i]); ok {
			events = append(events, ev)
		}
		rest = rest[i+1:]
	}

	if len(rest) > MaxLineSize {
		d.dropOversized(rest)
		d.skipping = true
		rest = nil
	}
	if len(rest) < len(d.pending) {
		d.pending = append([]byte(nil), rest...)
	}
	return events
}

// Flush ends the session. A non-empty trailing line is decoded; anything else
// is discarded.
func (d *Decoder) Flush() []model.Event {
	if d.closed {
		return nil
	}
	d.closed = true
	line := d.pending
	d.pending = nil

	if ev, ok := d.decodeLine(line); ok {
		return []model.Event{ev}
	}
	return nil
}

// Run reads r until EOF, handing every event to h before the next read.
// A read error other than EOF is returned wrapped; the pending fragment is
// not decoded in that case.
func (d *Decoder) Run(ctx context.Context, r io.Reader, h Handler) error {
	if d.closed {
		return ErrDecoderClosed
	}

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			d.closed = true
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if err := d.dispatch(d.Feed(buf[:n]), h); err != nil {
				d.closed = true
				return stopped(err)
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			return stopped(d.dispatch(d.Flush(), h))
		}
		d.closed = true
		return fmt.Errorf("read stream: %w", readErr)
	}
}

func (d *Decoder) dispatch(events []model.Event, h Handler) error {
	for _, ev := range events {
		if err := h(ev); err != nil {
			return err
		}
	}
	return nil
}

func stopped(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (d *Decoder) dropOversized(line []byte) {
	d.stats.Lines++
	d.stats.Malformed++
	metrics.RecordDecodeError("oversized")
	d.logger.Debug("dropping stream line",
		zap.String("reason", "oversized"),
		zap.Int("size", len(line)),
		zap.ByteString("line", truncate(line, maxLoggedLine)),
	)
}

func (d *Decoder) decodeLine(line []byte) (model.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	d.stats.Lines++

	ev, err := model.ParseEvent(line)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, model.ErrUnknownEvent) {
			reason = "unknown_type"
			d.stats.Unknown++
		} else {
			d.stats.Malformed++
		}
		metrics.RecordDecodeError(reason)
		d.logger.Debug("dropping stream line",
			zap.String("reason", reason),
			zap.Error(err),
			zap.ByteString("line", truncate(line, maxLoggedLine)),
		)
		return nil, false
	}

	d.stats.Events++
	metrics.RecordStreamEvent(string(ev.Type()))
	return ev, true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
