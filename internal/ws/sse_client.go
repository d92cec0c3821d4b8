package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	event   string
	log     *slog.Logger
	closed  bool
	last    time.Time
	seq     uint64

	writeTimeout time.Duration
	setDeadline  func(time.Time) error
}

// NewSSEClient builds an SSE client that labels frames with event.
func NewSSEClient(writer io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, event: event, log: logger, last: time.Now().UTC()}
}

// SetWriteTimeout bounds every frame write by timeout using set, typically
// http.ResponseController.SetWriteDeadline.
func (c *SSEClient) SetWriteTimeout(timeout time.Duration, set func(time.Time) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimeout = timeout
	c.setDeadline = set
}

func (c *SSEClient) armDeadline() {
	if c.setDeadline == nil || c.writeTimeout <= 0 {
		return
	}
	_ = c.setDeadline(time.Now().Add(c.writeTimeout))
}

// Send emits a data event to the SSE stream. Events carry increasing ids
// starting at 1 for this connection.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", c.seq)
	if c.event != "" {
		fmt.Fprintf(&b, "event: %s\n", c.event)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	c.armDeadline()
	if _, err := io.WriteString(c.writer, b.String()); err != nil {
		c.closed = true
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.armDeadline()
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closed = true
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether the stream was closed.
func (c *SSEClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
