package ws

import "sync"

// queueSize bounds the payloads waiting for one subscriber. A subscriber
// that falls this far behind is dropped.
const queueSize = 16

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to subscribers grouped by topic (a dealer id).
// Every subscriber is written to by its own goroutine, so a slow client
// never stalls the hub or the callers of Broadcast.
type Hub struct {
	clients   map[string]map[Subscriber]*peer
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	writers   sync.WaitGroup
}

type peer struct {
	client Subscriber
	queue  chan []byte
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

type countRequest struct {
	topic string
	reply chan int
}

// NewHub creates a running Hub. Call Close to stop its goroutine.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*peer),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.topic]; !ok {
				h.clients[sub.topic] = make(map[Subscriber]*peer)
			}
			if _, ok := h.clients[sub.topic][sub.client]; ok {
				continue
			}
			p := &peer{client: sub.client, queue: make(chan []byte, queueSize)}
			h.clients[sub.topic][sub.client] = p
			h.writers.Add(1)
			go h.write(sub.topic, p)
		case sub := <-h.unreg:
			h.drop(sub.topic, sub.client)
		case msg := <-h.broadcast:
			for c, p := range h.clients[msg.topic] {
				select {
				case p.queue <- msg.payload:
				default:
					h.drop(msg.topic, c)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.topic])
		case <-h.done:
			for _, clients := range h.clients {
				for _, p := range clients {
					close(p.queue)
				}
			}
			h.clients = nil
			return
		}
	}
}

// drop removes a subscriber and ends its writer. Must run on the hub loop.
func (h *Hub) drop(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	if p, ok := clients[client]; ok {
		close(p.queue)
		delete(clients, client)
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// write delivers queued payloads to one subscriber and closes it once the
// queue is closed or a send fails.
func (h *Hub) write(topic string, p *peer) {
	defer h.writers.Done()
	defer p.client.Close()
	for payload := range p.queue {
		if err := p.client.Send(payload); err != nil {
			h.Unregister(topic, p.client)
			for range p.queue {
			}
			return
		}
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for all clients of a topic. It does not wait for
// delivery.
func (h *Hub) Broadcast(topic string, payload []byte) {
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients listen on topic.
func (h *Hub) Subscribers(topic string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{topic: topic, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub, closes every registered client and waits for their
// writers to finish.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	<-h.stopped
	h.writers.Wait()
}
