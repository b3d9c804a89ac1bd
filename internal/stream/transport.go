package stream

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/appforge/internal/logger"
)

// ErrTransportClosed is returned by writes after the peer went away
var ErrTransportClosed = errors.New("stream: transport closed")

// Transport is a client-bound event channel
type Transport interface {
	WriteEvent(ev *Event) error
	// Ping writes a no-op heartbeat
	Ping() error
	// Done is closed when the peer disconnects
	Done() <-chan struct{}
}

// NDJSONTransport writes one JSON object per line and flushes after each
type NDJSONTransport struct {
	mu       sync.Mutex
	w        io.Writer
	flush    func() error
	deadline func(time.Time) error
	done     <-chan struct{}
}

// NewNDJSONTransport writes to w. flush and done may be nil.
func NewNDJSONTransport(w io.Writer, flush func() error, done <-chan struct{}) *NDJSONTransport {
	return &NDJSONTransport{w: w, flush: flush, done: done}
}

// NewHTTPTransport prepares w for a streaming NDJSON response. The transport
// is done when the request context ends.
func NewHTTPTransport(w http.ResponseWriter, r *http.Request) *NDJSONTransport {
	h := w.Header()
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	_ = flush()
	t := NewNDJSONTransport(w, flush, r.Context().Done())
	t.deadline = rc.SetWriteDeadline
	return t
}

func (t *NDJSONTransport) WriteEvent(ev *Event) error {
	line, err := MarshalLine(ev)
	if err != nil {
		return err
	}
	return t.writeLine(line)
}

func (t *NDJSONTransport) Ping() error {
	return t.writeLine(pingLine)
}

func (t *NDJSONTransport) writeLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed() {
		return ErrTransportClosed
	}
	if t.deadline != nil {
		if err := t.deadline(time.Now().Add(httpWriteWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		// An idle keep-alive connection must not inherit the deadline.
		defer func() { _ = t.deadline(time.Time{}) }()
	}
	if _, err := t.w.Write(line); err != nil {
		return err
	}
	if t.flush != nil {
		return t.flush()
	}
	return nil
}

func (t *NDJSONTransport) closed() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *NDJSONTransport) Done() <-chan struct{} {
	return t.done
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
)

// httpWriteWait bounds a single NDJSON line write to a client that stopped
// reading.
var httpWriteWait = writeWait

// WebSocketTransport sends events as text frames and heartbeats as ping
// control frames. ReadLoop must run for Done to fire.
type WebSocketTransport struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{
		conn: conn,
		done: make(chan struct{}),
	}
}

// ReadLoop reads frames until the peer closes, passing each text frame to
// handle. It closes Done on return.
func (t *WebSocketTransport) ReadLoop(maxMessage int64, handle func(data []byte)) {
	defer t.markDone()

	t.conn.SetReadLimit(maxMessage)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("stream: websocket read error: %v", err)
			}
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (t *WebSocketTransport) markDone() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *WebSocketTransport) WriteEvent(ev *Event) error {
	data, err := MarshalLine(ev)
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, data[:len(data)-1])
}

func (t *WebSocketTransport) Ping() error {
	return t.write(websocket.PingMessage, nil)
}

func (t *WebSocketTransport) write(msgType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(msgType, data)
}

func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Close sends a close frame and closes the connection
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.mu.Unlock()
	t.markDone()
	return t.conn.Close()
}
