package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ScriptSeparator separates responses in a script file
const ScriptSeparator = "\n---\n"

// ErrScriptEmpty is returned when a scripted client has nothing to replay
var ErrScriptEmpty = errors.New("scripted client has no responses")

// ScriptedTurn is one canned model response
type ScriptedTurn struct {
	Chunks []string
	// Err is returned after Chunks were delivered
	Err error
}

// ScriptedClient replays canned responses in order, cycling when the script
// is exhausted. Used for tests and offline demos.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	requests []*CompletionRequest
	delay    time.Duration
}

// NewScriptedClient splits each response into chunks of chunkSize runes
func NewScriptedClient(chunkSize int, responses ...string) *ScriptedClient {
	c := &ScriptedClient{}
	for _, r := range responses {
		c.Push(ScriptedTurn{Chunks: SplitChunks(r, chunkSize)})
	}
	return c
}

// LoadScript reads responses separated by ScriptSeparator from path
func LoadScript(path string, chunkSize int) (*ScriptedClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	responses := strings.Split(string(data), ScriptSeparator)
	return NewScriptedClient(chunkSize, responses...), nil
}

// Push appends a turn
func (c *ScriptedClient) Push(turn ScriptedTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
}

// SetDelay sleeps between chunks
func (c *ScriptedClient) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Requests returns the requests received so far
func (c *ScriptedClient) Requests() []*CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*CompletionRequest(nil), c.requests...)
}

func (c *ScriptedClient) GetModelName() string {
	return "scripted"
}

func (c *ScriptedClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return ErrScriptEmpty
	}
	turn := c.turns[c.next%len(c.turns)]
	c.next++
	delay := c.delay
	c.mu.Unlock()

	for _, chunk := range turn.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return turn.Err
}

// SplitChunks cuts s into pieces of size runes. size <= 0 yields s whole.
func SplitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
