package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/splax/dealership/internal/ws"
)

const streamWriteTimeout = 10 * time.Second

// streamTopic validates the dealer_id query parameter and returns the hub
// topic for it.
func streamTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return "", false
	}
	id, err := strconv.Atoi(req.URL.Query().Get("dealer_id"))
	if err != nil || id <= 0 {
		writeStatus(w, http.StatusBadRequest, msgBadRequest)
		return "", false
	}
	return strconv.Itoa(id), true
}

func (r *Router) handleReviewsWS(w http.ResponseWriter, req *http.Request) {
	topic, ok := streamTopic(w, req)
	if !ok {
		return
	}
	if r.hub == nil {
		writeStatus(w, http.StatusServiceUnavailable, "Streams unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleReviewsSSE(w http.ResponseWriter, req *http.Request) {
	topic, ok := streamTopic(w, req)
	if !ok {
		return
	}
	if r.hub == nil {
		writeStatus(w, http.StatusServiceUnavailable, "Streams unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeStatus(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, "review", r.logger)
	client.SetWriteTimeout(streamWriteTimeout, http.NewResponseController(w).SetWriteDeadline)
	r.hub.Register(topic, client)
	defer func() {
		client.Close()
		r.hub.Unregister(topic, client)
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if client.Closed() {
				return
			}
			if time.Since(client.LastActivity()) < r.heartbeat/2 {
				continue
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
