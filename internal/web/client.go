package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/codefionn/appforge/internal/agent"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/stream"
)

// Client is a websocket connection bound to one project. It runs at most one
// turn at a time.
type Client struct {
	ID        string
	projectID string
	userID    string
	transport *stream.WebSocketTransport
	server    *Server
	busy      atomic.Bool
}

func newClient(s *Server, transport *stream.WebSocketTransport, projectID, userID string) *Client {
	id, _ := generateClientID()
	return &Client{
		ID:        id,
		projectID: projectID,
		userID:    userID,
		transport: transport,
		server:    s,
	}
}

// handleMessage handles one inbound frame
func (c *Client) handleMessage(data []byte) {
	var msg WebMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(stream.Error("invalid message: "+err.Error(), "", ""))
		return
	}

	switch msg.Type {
	case MessageTypeChat:
		if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
			c.reply(stream.Error("message content is required", "", ""))
			return
		}
		if !c.busy.CompareAndSwap(false, true) {
			c.reply(stream.Error("a turn is already running", "", ""))
			return
		}
		go c.runTurn(msg)

	case MessageTypePing:

	default:
		logger.Warn("web: unknown message type %q from client %s", msg.Type, c.ID)
		c.reply(stream.Error("unknown message type: "+msg.Type, "", ""))
	}
}

func (c *Client) runTurn(msg WebMessage) {
	defer c.busy.Store(false)

	monitor := stream.NewMonitor(c.transport, c.server.opts.HeartbeatInterval)
	defer monitor.Close()

	req := agent.TurnRequest{ProjectID: c.projectID, Content: msg.Content, Attachments: msg.Attachments}
	outcome, err := c.server.deps.Turns.RunTurn(c.server.baseCtx, req, monitor)
	if err != nil {
		logger.Warn("web: turn for project %s failed: %v", c.projectID, err)
		if outcome == nil {
			monitor.Send(stream.Error(err.Error(), "", ""))
		}
	}
}

func (c *Client) reply(ev *stream.Event) {
	if err := c.transport.WriteEvent(ev); err != nil {
		logger.Debug("web: failed to reply to client %s: %v", c.ID, err)
	}
}

// Busy reports whether a turn is running
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Close disconnects the client. A running turn continues without it.
func (c *Client) Close() {
	if err := c.transport.Close(); err != nil {
		logger.Debug("web: closing client %s: %v", c.ID, err)
	}
}

// generateClientID generates a random client ID
func generateClientID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
