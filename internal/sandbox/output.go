package sandbox

import (
	"strings"
	"sync"
)

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	total   int64
	dropped bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 64 * 1024
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(p))
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.dropped = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Lines returns up to n trailing lines without line terminators.
func (t *tailBuffer) Lines(n int) []string {
	s := strings.TrimRight(t.String(), "\r\n")
	if s == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(s, "\n")
	if t.truncated() && len(lines) > 1 {
		// first line is likely partial
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	return lines
}

func (t *tailBuffer) truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
