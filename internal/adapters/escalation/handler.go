package escalation

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// Handler exposes the engine at the internal escalation endpoint. It accepts
// RequestMetadata and answers with the full decision, synchronously; the
// enforcement hand-off for malicious verdicts happens in the background.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var meta domain.RequestMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, `{"error":"invalid metadata payload"}`, http.StatusBadRequest)
		return
	}
	if meta.SourceIP == "" {
		http.Error(w, `{"error":"missing source ip"}`, http.StatusBadRequest)
		return
	}

	dec := h.engine.Evaluate(r.Context(), &meta)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dec); err != nil {
		log.Error().Err(err).Msg("Failed to encode escalation decision")
	}
}
