package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// StreamNotifications pushes order events to the client as server-sent
// events until the client disconnects.
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	events, cancel := h.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal notification", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: order\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
