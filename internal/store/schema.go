package store

import "time"

// Project is a user's app workspace
type Project struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Name            string    `json:"name" db:"name"`
	WorkflowCommand string    `json:"workflow_command,omitempty" db:"workflow_command"` // replayed when a sandbox is recreated
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// File is the record of a project file whose content lives in blob storage
type File struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Path      string    `json:"path" db:"path"`
	BlobKey   string    `json:"blob_key" db:"blob_key"`
	Size      int64     `json:"size" db:"size"`
	Checksum  string    `json:"checksum" db:"checksum"` // xxhash64, hex
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role of a chat turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status of an action or tool call
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ActionRecord is a progress announcement made during an assistant turn
type ActionRecord struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}

// ToolCallRecord is an executed tool call. Records are only created after the
// side effect returned.
type ToolCallRecord struct {
	Tool    string                 `json:"tool"`
	Args    map[string]interface{} `json:"args"`
	Summary string                 `json:"summary"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Status  Status                 `json:"status"`
	Error   string                 `json:"error,omitempty"`
}

// Attachment references a file supplied with a user message
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"` // inline text content
}

// ChatTurn is one user or assistant message. Turns are immutable once created.
type ChatTurn struct {
	ID          string           `json:"id" db:"id"`
	ProjectID   string           `json:"project_id" db:"project_id"`
	Role        Role             `json:"role" db:"role"`
	Content     string           `json:"content" db:"content"`
	ToolCalls   []ToolCallRecord `json:"tool_calls,omitempty" db:"tool_calls"`
	Actions     []ActionRecord   `json:"actions,omitempty" db:"actions"`
	Attachments []Attachment     `json:"attachments,omitempty" db:"attachments"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}
