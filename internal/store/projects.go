package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const projectColumns = "id, owner_id, name, workflow_command, created_at, updated_at"

func scanProject(row interface{ Scan(...interface{}) error }) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.WorkflowCommand, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject inserts a new project owned by ownerID
func (d *DB) CreateProject(ctx context.Context, ownerID, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, errors.New("project owner and name are required")
	}

	now := d.now()
	p := &Project{ID: newID(), OwnerID: ownerID, Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.OwnerID, p.Name, p.WorkflowCommand, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return p, nil
}

// GetProject returns the project or ErrNotFound
func (d *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return p, nil
}

// ListProjects returns the owner's projects, newest first
func (d *DB) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project; files and chat turns go with it
func (d *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectRow(res, "project", id)
}

// SetWorkflowCommand stores the command replayed after sandbox recreation
func (d *DB) SetWorkflowCommand(ctx context.Context, projectID, command string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE projects SET workflow_command = ?, updated_at = ? WHERE id = ?",
		command, d.now(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update workflow command: %w", err)
	}
	return expectRow(res, "project", projectID)
}

// WorkflowCommand returns the stored workflow command, empty if none
func (d *DB) WorkflowCommand(ctx context.Context, projectID string) (string, error) {
	p, err := d.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return p.WorkflowCommand, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
