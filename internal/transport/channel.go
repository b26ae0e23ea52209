package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	// StatusUnauthenticated is a 401-class rejection of the handshake. It is
	// distinct from an ordinary disconnect because it triggers the
	// credential-invalidation flow instead of a reconnect.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "disconnected"
	}
}

// Envelope is one socket frame: an event name plus its raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
)

type subscriber struct {
	events map[string]bool
	ch     chan Envelope
}

type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Channel owns the one persistent socket connection. It remembers nothing
// about rooms: after a reconnect the coordinator re-establishes every join.
type Channel struct {
	socketURL string
	opts      Options
	dialer    *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	subs       map[*subscriber]bool
	statusSubs map[chan Status]bool
	started    bool

	send chan Envelope
	done chan struct{}
	once sync.Once
}

func NewChannel(socketURL string, opts Options) *Channel {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Channel{
		socketURL:  socketURL,
		opts:       opts,
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		subs:       make(map[*subscriber]bool),
		statusSubs: make(map[chan Status]bool),
		send:       make(chan Envelope, 256),
		done:       make(chan struct{}),
	}
}

// Connect establishes the connection with the given credential. A missing
// credential fails silently but observably: a disconnected status is emitted
// and nothing else happens.
func (ch *Channel) Connect(token string) {
	if token == "" {
		log.Println("[CHANNEL] Connect called without a credential, staying offline")
		ch.publishStatus(StatusDisconnected)
		return
	}

	ch.mu.Lock()
	if ch.started {
		ch.mu.Unlock()
		return
	}
	ch.started = true
	ch.mu.Unlock()

	go ch.run(token)
}

func (ch *Channel) run(token string) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	for {
		conn := ch.dialWithRetry(header)
		if conn == nil {
			return
		}

		ch.setConn(conn)
		ch.publishStatus(StatusConnected)

		stop := make(chan struct{})
		go ch.writePump(conn, stop)
		ch.readLoop(conn)
		close(stop)

		ch.clearConn()
		ch.publishStatus(StatusDisconnected)

		select {
		case <-ch.done:
			return
		default:
		}
	}
}

// dialWithRetry makes a bounded number of attempts with a fixed delay. A 401
// on the handshake aborts immediately with an unauthenticated status.
func (ch *Channel) dialWithRetry(header http.Header) *websocket.Conn {
	for attempt := 1; attempt <= ch.opts.ReconnectAttempts; attempt++ {
		select {
		case <-ch.done:
			return nil
		default:
		}

		conn, resp, err := ch.dialer.Dial(ch.wsURL(), header)
		if err == nil {
			log.Printf("[CHANNEL] Connected to %s", ch.socketURL)
			return conn
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			log.Println("[CHANNEL] Handshake rejected with 401, credential invalid")
			ch.publishStatus(StatusUnauthenticated)
			return nil
		}

		log.Printf("[CHANNEL] Dial attempt %d/%d failed: %v", attempt, ch.opts.ReconnectAttempts, err)
		select {
		case <-time.After(ch.opts.ReconnectDelay):
		case <-ch.done:
			return nil
		}
	}

	log.Printf("[CHANNEL] Giving up after %d attempts", ch.opts.ReconnectAttempts)
	return nil
}

func (ch *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CHANNEL] Unexpected close: %v", err)
			}
			return
		}
		if env.Event == "" {
			continue
		}
		ch.dispatch(env)
	}
}

func (ch *Channel) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-ch.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Emit sends a fire-and-forget outbound event. It is a no-op while
// disconnected; callers that need reliability must watch Status.
func (ch *Channel) Emit(event string, payload any) {
	if !ch.IsConnected() {
		log.Printf("[CHANNEL] Dropping emit %q: not connected", event)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[CHANNEL] Failed to marshal %q payload: %v", event, err)
		return
	}

	select {
	case ch.send <- Envelope{Event: event, Data: data}:
	default:
		log.Printf("[CHANNEL] Send buffer full, dropping emit %q", event)
	}
}

// Events subscribes to one or more event names on a single channel. Frames
// arrive in server delivery order; the subscriber sees events from the moment
// of subscription onward.
func (ch *Channel) Events(events ...string) (<-chan Envelope, func()) {
	sub := &subscriber{
		events: make(map[string]bool, len(events)),
		ch:     make(chan Envelope, 64),
	}
	for _, e := range events {
		sub.events[e] = true
	}

	ch.mu.Lock()
	ch.subs[sub] = true
	ch.mu.Unlock()

	cancel := func() {
		ch.mu.Lock()
		delete(ch.subs, sub)
		ch.mu.Unlock()
	}
	return sub.ch, cancel
}

// Status subscribes to connectivity transitions.
func (ch *Channel) Status() (<-chan Status, func()) {
	sc := make(chan Status, 8)

	ch.mu.Lock()
	ch.statusSubs[sc] = true
	ch.mu.Unlock()

	cancel := func() {
		ch.mu.Lock()
		delete(ch.statusSubs, sc)
		ch.mu.Unlock()
	}
	return sc, cancel
}

func (ch *Channel) IsConnected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

func (ch *Channel) Close() error {
	ch.once.Do(func() {
		close(ch.done)
		ch.mu.Lock()
		conn := ch.conn
		ch.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

func (ch *Channel) dispatch(env Envelope) {
	ch.mu.Lock()
	targets := make([]*subscriber, 0, len(ch.subs))
	for sub := range ch.subs {
		if sub.events[env.Event] {
			targets = append(targets, sub)
		}
	}
	ch.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- env:
		default:
			log.Printf("[CHANNEL] WARNING: Subscriber buffer full, dropping %q", env.Event)
		}
	}
}

func (ch *Channel) setConn(conn *websocket.Conn) {
	ch.mu.Lock()
	ch.conn = conn
	ch.connected = true
	ch.mu.Unlock()
}

func (ch *Channel) clearConn() {
	ch.mu.Lock()
	if ch.conn != nil {
		ch.conn.Close()
		ch.conn = nil
	}
	ch.connected = false
	ch.mu.Unlock()
}

func (ch *Channel) publishStatus(s Status) {
	ch.mu.Lock()
	targets := make([]chan Status, 0, len(ch.statusSubs))
	for sc := range ch.statusSubs {
		targets = append(targets, sc)
	}
	ch.mu.Unlock()

	for _, sc := range targets {
		select {
		case sc <- s:
		default:
		}
	}
}

func (ch *Channel) wsURL() string {
	u := ch.socketURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}
