package stream

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"huewatch/internal/pipeline"
)

// Boundary separates MJPEG parts.
const Boundary = "frame"

// Source is the stream the handlers read from. *pipeline.Loop implements it.
type Source interface {
	Subscribe(bufferSize int) *pipeline.Subscription
	Unsubscribe(sub *pipeline.Subscription)
	Latest() *pipeline.EncodedFrame
}

// MJPEGHandler serves the live stream as multipart/x-mixed-replace.
type MJPEGHandler struct {
	source  Source
	buffer  int
	log     zerolog.Logger
	clients atomic.Int64
}

// NewMJPEGHandler returns a handler giving each client a buffer of
// bufferSize frames. Slow clients miss frames.
func NewMJPEGHandler(source Source, bufferSize int, log zerolog.Logger) *MJPEGHandler {
	return &MJPEGHandler{source: source, buffer: bufferSize, log: log}
}

// Clients returns the number of connected viewers.
func (h *MJPEGHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP streams frames until the client goes away or the loop stops.
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.source.Subscribe(h.buffer)
	defer h.source.Unsubscribe(sub)

	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	h.log.Info().Str("remote", r.RemoteAddr).Int64("clients", n).Msg("stream client connected")

	if latest := h.source.Latest(); latest != nil {
		if err := WritePart(w, latest.Data); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("stream client disconnected")
			return
		case <-sub.Done:
			return
		case frame := <-sub.Channel:
			if err := WritePart(w, frame.Data); err != nil {
				h.log.Debug().Err(err).Msg("stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// WritePart writes one JPEG as a multipart element.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// SnapshotHandler serves the latest frame as a single JPEG.
type SnapshotHandler struct {
	source Source
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(source Source) *SnapshotHandler {
	return &SnapshotHandler{source: source}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.source.Latest()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.Header().Set("Cache-Control", "no-cache")
	if frame.Placeholder {
		w.Header().Set("X-Frame-Placeholder", "true")
	}
	w.Write(frame.Data)
}
