package network

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facetrack/internal/face/pipeline"
	"github.com/banshee-data/facetrack/internal/monitoring"
	"github.com/gorilla/websocket"
)

const (
	wsSendBuffer   = 16
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 512
)

// wsMessage is the JSON pushed to browser avatars.
type wsMessage struct {
	pipeline.FrameOutput
	Values [pipeline.NumOutputValues]float64 `json:"values"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster streams FrameOutputs as JSON to every connected WebSocket
// client. A client that cannot keep up loses frames rather than slowing
// the tracker.
type Broadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	dropped atomic.Uint64
}

// NewBroadcaster returns a Broadcaster with no clients. Mount it as an
// http.Handler.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local avatar pages are served from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns the number of per-client frames discarded.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		monitoring.Logf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	monitoring.Logf("websocket client %s connected", r.RemoteAddr)

	go b.writeLoop(c)

	// Drain reads so close frames and pongs are processed.
	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.remove(c)
	monitoring.Logf("websocket client %s disconnected", r.RemoteAddr)
}

func (b *Broadcaster) remove(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Send encodes out once and queues it for every client.
func (b *Broadcaster) Send(out pipeline.FrameOutput) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return
	}

	msg, err := json.Marshal(wsMessage{FrameOutput: out, Values: out.Values()})
	if err != nil {
		monitoring.Logf("websocket encode frame %d: %v", out.Index, err)
		return
	}
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}
