package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/appforge/internal/store"
)

type fakeTransport struct {
	mu       sync.Mutex
	events   []*Event
	pings    int
	writeErr error
	done     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (f *fakeTransport) WriteEvent(ev *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) counts() (events, pings int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events), f.pings
}

func TestEventJSON(t *testing.T) {
	line, err := MarshalLine(Chunk("hi "))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"chunk","content":"hi "}`+"\n", string(line))

	line, err = MarshalLine(&Event{
		Type:    EventActionsCompleted,
		Actions: []store.ActionRecord{{Text: "Writing files", Status: store.StatusCompleted}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"actions_completed","actions":[{"text":"Writing files","status":"completed"}]}`, string(line))

	line, err = MarshalLine(Error("invalid JSON", "write_file", `{"path":`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"invalid JSON","tool_name":"write_file","excerpt":"{\"path\":"}`, string(line))

	assert.JSONEq(t, `{"type":"ping"}`, string(pingLine))
}

func TestMonitor_SendsAndHeartbeats(t *testing.T) {
	ft := newFakeTransport()
	m := NewMonitor(ft, 10*time.Millisecond)
	defer m.Close()

	assert.True(t, m.Send(Chunk("a")))
	assert.True(t, m.Connected())

	assert.Eventually(t, func() bool {
		_, pings := ft.counts()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_DisconnectSuppressesWrites(t *testing.T) {
	ft := newFakeTransport()
	m := NewMonitor(ft, 0)
	defer m.Close()

	require.True(t, m.Send(Chunk("before")))
	assert.Eventually(t, func() bool {
		events, _ := ft.counts()
		return events == 1
	}, time.Second, 5*time.Millisecond)
	close(ft.done)

	assert.Eventually(t, func() bool { return !m.Connected() }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Send(Chunk("after")))
	assert.False(t, m.Send(Done("msg-1")))

	events, _ := ft.counts()
	assert.Equal(t, 1, events)
	assert.Equal(t, 2, m.Dropped())
}

func TestMonitor_WriteErrorClosesChannel(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = errors.New("broken pipe")
	m := NewMonitor(ft, 0)
	defer m.Close()

	m.Send(Chunk("x"))
	assert.Eventually(t, func() bool { return !m.Connected() }, time.Second, 5*time.Millisecond)

	ft.mu.Lock()
	ft.writeErr = nil
	ft.mu.Unlock()
	assert.False(t, m.Send(Chunk("y")), "stays closed")
	m.Close()
	assert.Equal(t, 2, m.Dropped())
	events, _ := ft.counts()
	assert.Zero(t, events)
}

// blockingTransport never completes a write until released
type blockingTransport struct {
	*fakeTransport
	release chan struct{}
}

func (b *blockingTransport) WriteEvent(ev *Event) error {
	<-b.release
	return b.fakeTransport.WriteEvent(ev)
}

func TestMonitor_SendNeverBlocksOnStalledWriter(t *testing.T) {
	bt := &blockingTransport{fakeTransport: newFakeTransport(), release: make(chan struct{})}
	m := NewMonitor(bt, 0)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 3*sendQueueSize; i++ {
			m.Send(Chunk("x"))
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a stalled transport")
	}
	assert.False(t, m.Connected(), "a client that stops keeping up is treated as gone")
	assert.Positive(t, m.Dropped())

	close(bt.release)
	m.Close()
	events, _ := bt.counts()
	assert.Equal(t, 3*sendQueueSize, events+m.Dropped())
}

func TestMonitor_CloseFlushesQueuedEvents(t *testing.T) {
	ft := newFakeTransport()
	m := NewMonitor(ft, 0)
	for i := 0; i < 50; i++ {
		require.True(t, m.Send(Chunk("x")))
	}
	m.Close()

	events, _ := ft.counts()
	assert.Equal(t, 50, events)
	assert.Zero(t, m.Dropped())
}

func TestMonitor_CloseIsIdempotent(t *testing.T) {
	m := NewMonitor(newFakeTransport(), time.Millisecond)
	m.Close()
	m.Close()
	assert.False(t, m.Connected())
	assert.False(t, m.Send(Chunk("x")))
}

func TestNDJSONTransport(t *testing.T) {
	var buf bytes.Buffer
	flushes := 0
	tr := NewNDJSONTransport(&buf, func() error { flushes++; return nil }, nil)

	require.NoError(t, tr.WriteEvent(Action("Creating files")))
	require.NoError(t, tr.Ping())
	require.NoError(t, tr.WriteEvent(Done("m1")))
	assert.Equal(t, 3, flushes)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"type":"action","action":"Creating files"}`, lines[0])
	assert.JSONEq(t, `{"type":"ping"}`, lines[1])
	assert.JSONEq(t, `{"type":"done","message_id":"m1"}`, lines[2])

	done := make(chan struct{})
	closed := NewNDJSONTransport(&buf, nil, done)
	close(done)
	assert.ErrorIs(t, closed.WriteEvent(Chunk("x")), ErrTransportClosed)
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := NewHTTPTransport(w, r)
		m := NewMonitor(tr, 0)
		defer m.Close()
		m.Send(Chunk("hello "))
		m.Send(Chunk("world"))
		m.Send(Done("m1"))
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var types []EventType
	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		types = append(types, ev.Type)
		text.WriteString(ev.Content)
	}
	assert.Equal(t, []EventType{EventChunk, EventChunk, EventDone}, types)
	assert.Equal(t, "hello world", text.String())
}

func TestHTTPTransport_StalledClientHitsWriteDeadline(t *testing.T) {
	prev := httpWriteWait
	httpWriteWait = 200 * time.Millisecond
	defer func() { httpWriteWait = prev }()

	type result struct{ dropped int }
	finished := make(chan result, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := NewMonitor(NewHTTPTransport(w, r), 0)
		big := strings.Repeat("a", 256<<10)
		for i := 0; i < 100; i++ {
			m.Send(Chunk(big))
		}
		m.Close()
		finished <- result{dropped: m.Dropped()}
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "POST / HTTP/1.1\r\nHost: %s\r\nContent-Length: 0\r\n\r\n", srv.Listener.Addr())
	require.NoError(t, err)

	// Read the status line, then stop reading with the socket left open.
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "200")

	select {
	case res := <-finished:
		assert.Positive(t, res.dropped)
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not give up on a client that stopped reading")
	}
}

func TestWebSocketTransport(t *testing.T) {
	received := make(chan string, 4)
	serverDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		tr := NewWebSocketTransport(conn)
		go func() {
			defer close(serverDone)
			<-tr.Done()
		}()
		tr.ReadLoop(1<<16, func(data []byte) {
			received <- string(data)
			assert.NoError(t, tr.WriteEvent(Chunk("echo:"+string(data))))
		})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`hi`)))
	assert.Equal(t, "hi", <-received)

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chunk","content":"echo:hi"}`, string(data))

	require.NoError(t, client.Close())
	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not observe the disconnect")
	}
}
