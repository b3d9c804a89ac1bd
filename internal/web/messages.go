package web

import (
	"time"

	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
)

// Inbound websocket message types
const (
	MessageTypeChat = "chat"
	MessageTypePing = "ping"
)

// WebMessage is a frame sent by a websocket client
type WebMessage struct {
	Type        string             `json:"type"`
	Content     string             `json:"content,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type chatRequest struct {
	Content     string             `json:"content"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type fileResponse struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

type sandboxResponse struct {
	sandbox.State
	Status string `json:"status"` // "active", "inactive" or "unknown"
}
