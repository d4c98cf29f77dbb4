// Package ws serves WebSocket clients. The Toolbox owns every live connection, dispatches client requests to
// registered handlers and delivers server-pushed messages by connection id.
package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/conduiterrors"
	"github.com/G-Research/conduit/internal/common/logging"
	"github.com/G-Research/conduit/internal/common/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// HandlerFunc serves one request method. The returned value is sent back as the response data.
type HandlerFunc func(ctx *conduitcontext.Context, req pubsub.RequestContext, params json.RawMessage) (interface{}, error)

type connection struct {
	id        pubsub.ConnectionId
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Toolbox implements pubsub.Sender.
type Toolbox struct {
	ctx      *conduitcontext.Context
	upgrader websocket.Upgrader
	handlers map[uint32]HandlerFunc
	nextId   atomic.Uint64

	mu      sync.RWMutex
	conns   map[pubsub.ConnectionId]*connection
	onClose []func(pubsub.ConnectionId)
}

func NewToolbox(ctx *conduitcontext.Context) *Toolbox {
	return &Toolbox{
		ctx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		handlers: map[uint32]HandlerFunc{},
		conns:    map[pubsub.ConnectionId]*connection{},
	}
}

// Handle registers the handler for method. Handlers must be registered before serving.
func (t *Toolbox) Handle(method uint32, handler HandlerFunc) {
	t.handlers[method] = handler
}

// OnClose registers a callback run after a connection has gone.
func (t *Toolbox) OnClose(callback func(pubsub.ConnectionId)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, callback)
}

// Connections returns the number of live connections.
func (t *Toolbox) Connections() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Send queues msg for connId. It returns false if the connection is gone or cannot keep up, in which case the
// connection is closed.
func (t *Toolbox) Send(connId pubsub.ConnectionId, msg interface{}) bool {
	t.mu.RLock()
	conn, ok := t.conns[connId]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := jsonConfig.Marshal(msg)
	if err != nil {
		t.ctx.Log.WithError(err).Errorf("Failed to serialize message for connection %d", connId)
		return true
	}
	select {
	case <-conn.closed:
		return false
	default:
	}
	select {
	case conn.send <- data:
		return true
	default:
		t.ctx.Log.Warnf("Connection %d is not keeping up; closing it", connId)
		conn.close()
		return false
	}
}

func (t *Toolbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		t.ctx.Log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	conn := &connection{
		id:     pubsub.ConnectionId(t.nextId.Add(1)),
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	ctx := conduitcontext.WithLogFields(t.ctx, log.Fields{
		"connection": conn.id,
		"session":    uuid.New().String(),
		"peer":       r.RemoteAddr,
	})
	t.register(conn)
	ctx.Log.Debug("Connection opened")

	go t.writeLoop(ctx, conn)
	t.readLoop(ctx, conn, r.RemoteAddr)

	t.unregister(conn)
	ctx.Log.Debug("Connection closed")
}

func (t *Toolbox) register(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[conn.id] = conn
	openConnections.Inc()
}

func (t *Toolbox) unregister(conn *connection) {
	conn.close()
	t.mu.Lock()
	delete(t.conns, conn.id)
	callbacks := append([]func(pubsub.ConnectionId){}, t.onClose...)
	t.mu.Unlock()
	openConnections.Dec()
	for _, callback := range callbacks {
		callback(conn.id)
	}
}

func (t *Toolbox) readLoop(ctx *conduitcontext.Context, conn *connection, remoteAddr string) {
	defer func() {
		_ = conn.ws.Close()
	}()
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.WithStacktrace(ctx.Log, err).Info("Connection closed unexpectedly")
			}
			return
		}
		select {
		case <-conn.closed:
			return
		default:
		}
		t.Send(conn.id, t.dispatch(ctx, conn.id, remoteAddr, payload))
	}
}

func (t *Toolbox) dispatch(ctx *conduitcontext.Context, connId pubsub.ConnectionId, remoteAddr string, payload []byte) *Response {
	var req Request
	if err := jsonConfig.Unmarshal(payload, &req); err != nil {
		return errorResponse(req, &conduiterrors.ErrInvalidArgument{
			Name:    "request",
			Value:   string(payload),
			Message: "malformed request",
		})
	}
	handler, ok := t.handlers[req.Method]
	if !ok {
		return errorResponse(req, &conduiterrors.ErrNotFound{Type: "method", Value: strconv.FormatUint(uint64(req.Method), 10)})
	}

	requestContext := pubsub.RequestContext{
		ConnectionId: connId,
		Seq:          req.Seq,
		Method:       req.Method,
		RemoteAddr:   remoteAddr,
	}
	start := time.Now()
	data, err := handler(conduitcontext.WithLogField(ctx, "method", req.Method), requestContext, req.Params)
	requestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Debugf("Request %d failed", req.Seq)
		return errorResponse(req, err)
	}
	return immediateResponse(req, data)
}

func (t *Toolbox) writeLoop(ctx *conduitcontext.Context, conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()
	for {
		select {
		case data := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				ctx.Log.WithError(err).Debug("Write failed")
				conn.close()
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		case <-conn.closed:
			_ = conn.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Close closes every live connection.
func (t *Toolbox) Close() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, conn := range t.conns {
		conn.close()
	}
}
