package stream

import (
	"sync"
	"time"

	"github.com/codefionn/appforge/internal/logger"
)

// sendQueueSize bounds the events buffered for a slow client. A client that
// falls this far behind is treated as gone.
const sendQueueSize = 1024

// Monitor guards a transport for one chat turn. A single writer goroutine
// owns the transport, so Send never blocks on client I/O. Once the peer is
// gone every event is dropped. Work driving the monitor is never cancelled
// by it.
type Monitor struct {
	transport Transport
	interval  time.Duration
	queue     chan *Event

	mu          sync.Mutex
	closed      bool
	queueClosed bool
	dropped     int

	exited chan struct{}
}

// NewMonitor starts the writer and heartbeats on t every interval
// (disabled if <= 0)
func NewMonitor(t Transport, interval time.Duration) *Monitor {
	m := &Monitor{
		transport: t,
		interval:  interval,
		queue:     make(chan *Event, sendQueueSize),
		exited:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	defer close(m.exited)

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	peerDone := m.transport.Done()

	for {
		select {
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			if !m.Connected() {
				m.drop(1)
				continue
			}
			if err := m.transport.WriteEvent(ev); err != nil {
				m.markClosed("write failed: " + err.Error())
				m.drop(1)
			}
		case <-peerDone:
			peerDone = nil
			m.markClosed("peer disconnected")
		case <-tick:
			if !m.Connected() {
				tick = nil
				continue
			}
			if err := m.transport.Ping(); err != nil {
				m.markClosed("heartbeat failed: " + err.Error())
			}
		}
	}
}

func (m *Monitor) markClosed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		logger.Debug("stream: client channel closed (%s)", reason)
	}
}

func (m *Monitor) drop(n int) {
	m.mu.Lock()
	m.dropped += n
	m.mu.Unlock()
}

// Send queues ev for the client. It reports false when ev is dropped because
// the client is gone or has stopped keeping up.
func (m *Monitor) Send(ev *Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.queueClosed {
		m.dropped++
		return false
	}
	select {
	case m.queue <- ev:
		return true
	default:
		m.closed = true
		m.dropped++
		logger.Debug("stream: client fell %d events behind, suppressing further events", sendQueueSize)
		return false
	}
}

// Connected reports whether events are still being delivered
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Dropped is the number of events that never reached the client
func (m *Monitor) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close flushes queued events, stops heartbeats and suppresses further
// sends. It returns once the writer has released the transport.
func (m *Monitor) Close() {
	m.mu.Lock()
	if !m.queueClosed {
		m.queueClosed = true
		close(m.queue)
	}
	m.mu.Unlock()
	<-m.exited
	m.markClosed("closed")
}
