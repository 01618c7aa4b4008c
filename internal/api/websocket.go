package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventDoorTagStateChanged carries a netatmo.SensorSnapshot.
	EventDoorTagStateChanged = "doortag.state_changed"
)

// clientQueueLen is how many outbound messages a client may fall behind
// before events to it are dropped.
const clientQueueLen = 64

// WSRequest is a message from a client:
//
//	{"type":"subscribe","id":"1","sensors":["Front","Back"]}
//
// Clients start out watching every door tag. Subscribe with no sensors goes
// back to watching all of them; unsubscribe with no sensors stops all events.
type WSRequest struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Sensors []string `json:"sensors,omitempty"`
}

// WSMessage is a message to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// SubscriptionState answers subscribe and unsubscribe requests.
type SubscriptionState struct {
	// All is true while the client watches every door tag.
	All bool `json:"all"`

	// Sensors lists the watched unique ids when All is false.
	Sensors []string `json:"sensors"`

	// Current holds the present state of the sensors a subscribe named, so
	// the client need not wait for the next change.
	Current []netatmo.SensorSnapshot `json:"current,omitempty"`
}

// sensorFilter is the set of door tags one client watches.
type sensorFilter struct {
	mu  sync.RWMutex
	all bool
	ids map[string]struct{}
}

func watchingAll() *sensorFilter {
	return &sensorFilter{all: true, ids: map[string]struct{}{}}
}

func (f *sensorFilter) matches(uniqueID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.all {
		return true
	}
	_, ok := f.ids[uniqueID]
	return ok
}

// watch adds ids; no ids means every door tag.
func (f *sensorFilter) watch(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) == 0 {
		f.all = true
		clear(f.ids)
		return
	}
	if f.all {
		return
	}
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
}

// unwatch removes ids; no ids means every door tag. Leaving "all" for an
// explicit set needs the known ids.
func (f *sensorFilter) unwatch(ids, known []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) == 0 {
		f.all = false
		clear(f.ids)
		return
	}
	if f.all {
		f.all = false
		for _, id := range known {
			f.ids[id] = struct{}{}
		}
	}
	for _, id := range ids {
		delete(f.ids, id)
	}
}

func (f *sensorFilter) state() SubscriptionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st := SubscriptionState{All: f.all, Sensors: []string{}}
	if !f.all {
		for id := range f.ids {
			st.Sensors = append(st.Sensors, id)
		}
		slices.Sort(st.Sensors)
	}
	return st
}

// keepalive holds the per-connection limits, with fallbacks applied.
type keepalive struct {
	readLimit int64
	ping      time.Duration
	pongWait  time.Duration
}

func keepaliveFrom(cfg config.WebSocketConfig) keepalive {
	k := keepalive{readLimit: 8192, ping: 30 * time.Second, pongWait: 10 * time.Second}
	if cfg.MaxMessageSize > 0 {
		k.readLimit = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		k.ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		k.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return k
}

// readDeadline is the latest time the next frame or pong may arrive.
func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.ping + k.pongWait)
}

// Hub tracks connected WebSocket clients and fans door-tag state changes
// out to those watching the changed tag.
type Hub struct {
	logger  *logging.Logger
	timing  keepalive
	sensors func() []netatmo.SensorSnapshot

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub. sensors lists the current door tags; it validates
// subscriptions and supplies their initial state.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, sensors func() []netatmo.SensorSnapshot) *Hub {
	return &Hub{
		logger:  logger,
		timing:  keepaliveFrom(cfg),
		sensors: sensors,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.closeQueue()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register starts delivering events to c.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister stops delivering events to c and closes its queue. Repeated
// calls are harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if known {
		c.closeQueue()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishState sends snap as a doortag.state_changed event to every client
// watching snap.UniqueID. Clients whose queue is full miss the event.
func (h *Hub) PublishState(snap netatmo.SensorSnapshot) {
	data, err := encode(WSMessage{Type: WSTypeEvent, EventType: EventDoorTagStateChanged, Payload: snap})
	if err != nil {
		h.logger.Error("failed to encode state event", "sensor", snap.UniqueID, "error", err)
		return
	}

	h.mu.RLock()
	var targets []*WSClient
	for c := range h.clients {
		if c.filter.matches(snap.UniqueID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Debug("websocket client behind, event dropped", "sensor", snap.UniqueID)
		}
	}
}

// knownSensors returns the current door tags keyed by unique id, and their
// ids in discovery order.
func (h *Hub) knownSensors() (map[string]netatmo.SensorSnapshot, []string) {
	byID := make(map[string]netatmo.SensorSnapshot)
	var order []string
	if h.sensors == nil {
		return byID, order
	}
	for _, s := range h.sensors() {
		byID[s.UniqueID] = s
		order = append(order, s.UniqueID)
	}
	return byID, order
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	filter *sensorFilter

	queue  chan []byte
	qMu    sync.Mutex
	closed bool
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:    hub,
		conn:   conn,
		filter: watchingAll(),
		queue:  make(chan []byte, clientQueueLen),
	}
}

// enqueue hands data to the write loop without blocking. It reports false
// when the queue is full or closed.
func (c *WSClient) enqueue(data []byte) bool {
	c.qMu.Lock()
	defer c.qMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

// closeQueue ends the write loop once queued messages are written.
func (c *WSClient) closeQueue() {
	c.qMu.Lock()
	defer c.qMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// handleWebSocket upgrades the request and registers the client, which
// starts out watching every door tag.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", append(requestFields(r), "error", err)...)
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

// readLoop handles client requests until the connection fails or closes.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	k := c.hub.timing
	c.conn.SetReadLimit(k.readLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(k.readDeadline())

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handle(data)
	}
}

// writeLoop writes queued messages and pings until the queue is closed or
// a write fails.
func (c *WSClient) writeLoop() {
	k := c.hub.timing
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		kind, data := websocket.PingMessage, []byte(nil)
		select {
		case msg, open := <-c.queue:
			if !open {
				//nolint:errcheck // the peer may already be gone
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(k.pongWait))
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
		}

		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(k.pongWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// handle answers one client request.
func (c *WSClient) handle(data []byte) {
	var req WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(WSTypePong, req.ID, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscription(req)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// changeSubscription applies a subscribe or unsubscribe. Unknown sensor ids
// reject the whole request.
func (c *WSClient) changeSubscription(req WSRequest) {
	byID, order := c.hub.knownSensors()
	for _, id := range req.Sensors {
		if _, ok := byID[id]; !ok {
			c.fail(req.ID, "unknown door tag: "+id)
			return
		}
	}

	if req.Type == WSTypeUnsubscribe {
		c.filter.unwatch(req.Sensors, order)
		c.reply(WSTypeResponse, req.ID, c.filter.state())
		return
	}

	c.filter.watch(req.Sensors)
	named := req.Sensors
	if len(named) == 0 {
		named = order
	}
	st := c.filter.state()
	for _, id := range named {
		st.Current = append(st.Current, byID[id])
	}
	c.reply(WSTypeResponse, req.ID, st)
}

func (c *WSClient) reply(msgType, id string, payload any) {
	data, err := encode(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		c.hub.logger.Error("failed to encode websocket reply", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *WSClient) fail(id, message string) {
	c.reply(WSTypeError, id, map[string]string{"message": message})
}

// encode stamps msg with the current time and marshals it.
func encode(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
