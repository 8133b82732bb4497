package handler

import (
	"errors"
	"net/http"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

// ContentTypeNDJSON is the media type of streamed replies.
const ContentTypeNDJSON = "application/x-ndjson"

// eventWriter writes one NDJSON event per line and flushes after each, so
// the client sees fragments as they are produced.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (ew *eventWriter) start() {
	if ew.started {
		return
	}
	ew.started = true
	h := ew.w.Header()
	h.Set("Content-Type", ContentTypeNDJSON+"; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	ew.w.WriteHeader(http.StatusOK)
}

// Write sends ev and flushes it.
func (ew *eventWriter) Write(ev model.Event) error {
	line, err := model.EncodeEvent(ev)
	if err != nil {
		return err
	}
	ew.start()
	if _, err := ew.w.Write(line); err != nil {
		return err
	}
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
