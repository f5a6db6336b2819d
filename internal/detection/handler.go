package detection

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	goahttp "goa.design/goa/v3/http"
)

// Handler serves Detect as JSON. It always answers 200 unless the body
// cannot be encoded.
type Handler struct {
	svc *Service
	enc func(context.Context, http.ResponseWriter) goahttp.Encoder
	log zerolog.Logger
}

// NewHandler returns the HTTP handler for the detection query.
func NewHandler(svc *Service, enc func(context.Context, http.ResponseWriter) goahttp.Encoder, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, enc: enc, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.Detect(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := h.enc(r.Context(), w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("encode detection response")
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
