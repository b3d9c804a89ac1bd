package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const turnColumns = "id, project_id, role, content, tool_calls, actions, attachments, created_at"

// CreateTurn persists a chat turn. ID and CreatedAt are assigned when empty.
func (d *DB) CreateTurn(ctx context.Context, t *ChatTurn) error {
	if err := validateTurn(t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = d.now()
	}

	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	attachments, err := json.Marshal(t.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO chat_turns ("+turnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.ProjectID, string(t.Role), t.Content, string(toolCalls), string(actions), string(attachments), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat turn: %w", err)
	}
	return nil
}

func validateTurn(t *ChatTurn) error {
	if t.ProjectID == "" {
		return errors.New("chat turn requires a project")
	}
	switch t.Role {
	case RoleUser:
		if t.Content == "" && len(t.Attachments) == 0 {
			return errors.New("user turns require content")
		}
		if len(t.ToolCalls) > 0 || len(t.Actions) > 0 {
			return errors.New("user turns cannot carry tool calls or actions")
		}
	case RoleAssistant:
		for _, a := range t.Actions {
			if a.Status == StatusInProgress {
				return fmt.Errorf("action %q is still in progress", a.Text)
			}
		}
	default:
		return fmt.Errorf("invalid chat turn role %q", t.Role)
	}
	return nil
}

// RecentTurns returns up to limit most recent turns in chronological order.
// limit <= 0 returns all turns.
func (d *DB) RecentTurns(ctx context.Context, projectID string, limit int) ([]*ChatTurn, error) {
	query := "SELECT " + turnColumns + " FROM chat_turns WHERE project_id = ? ORDER BY created_at DESC, rowid DESC"
	args := []interface{}{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat turns: %w", err)
	}
	defer rows.Close()

	turns := []*ChatTurn{}
	for rows.Next() {
		var (
			t                               ChatTurn
			role                            string
			toolCalls, actions, attachments string
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &role, &t.Content, &toolCalls, &actions, &attachments, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = Role(role)
		if err := decodeJSONColumn(toolCalls, &t.ToolCalls); err != nil {
			return nil, fmt.Errorf("turn %s tool_calls: %w", t.ID, err)
		}
		if err := decodeJSONColumn(actions, &t.Actions); err != nil {
			return nil, fmt.Errorf("turn %s actions: %w", t.ID, err)
		}
		if err := decodeJSONColumn(attachments, &t.Attachments); err != nil {
			return nil, fmt.Errorf("turn %s attachments: %w", t.ID, err)
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns every turn of the project in chronological order
func (d *DB) ListTurns(ctx context.Context, projectID string) ([]*ChatTurn, error) {
	return d.RecentTurns(ctx, projectID, 0)
}

func decodeJSONColumn(raw string, dst interface{}) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
