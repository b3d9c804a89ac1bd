package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
)

// Per-target outcomes reported by the file tools
const (
	outcomeWritten     = "written"
	outcomeUnchanged   = "unchanged"
	outcomeDeleted     = "deleted"
	outcomeNotFound    = "not_found"
	outcomeError       = "error"
	outcomeUnavailable = "unavailable"
	outcomeKept        = "kept"
)

// Checksum returns the hex xxhash64 of data
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func cleanPathArg(call Call) (string, error) {
	raw, err := requireString(call.Args, "path")
	if err != nil {
		return "", err
	}
	return sandbox.CleanPath(raw)
}

// writeOutcome is the result of storing one file
type writeOutcome struct {
	Path       string
	Created    bool
	Unchanged  bool
	Size       int
	Checksum   string
	Sandbox    string
	SandboxErr error
}

// storeFile persists content to blob storage, the file record and the
// sandbox. Only storage or record failures are returned as errors.
func (d *Dispatcher) storeFile(ctx context.Context, scope Scope, filePath string, content []byte) (*writeOutcome, error) {
	out := &writeOutcome{
		Path:     filePath,
		Size:     len(content),
		Checksum: Checksum(content),
	}

	if prev, err := d.deps.Files.GetFile(ctx, scope.ProjectID, filePath); err == nil {
		out.Unchanged = prev.Checksum == out.Checksum
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	key := blob.FileKey(scope.ProjectID, filePath)
	if err := d.deps.Blobs.Put(ctx, key, content); err != nil {
		return nil, fmt.Errorf("storage write failed: %w", err)
	}

	switch {
	case scope.Sandbox == nil:
		out.Sandbox = outcomeUnavailable
	default:
		if err := scope.Sandbox.WriteFile(ctx, filePath, content); err != nil {
			out.Sandbox = outcomeError
			out.SandboxErr = err
		} else {
			out.Sandbox = outcomeWritten
		}
	}

	created, err := d.deps.Files.UpsertFile(ctx, &store.File{
		ProjectID: scope.ProjectID,
		Path:      filePath,
		BlobKey:   key,
		Size:      int64(len(content)),
		Checksum:  out.Checksum,
	})
	if err != nil {
		return nil, fmt.Errorf("file record update failed: %w", err)
	}
	out.Created = created
	return out, nil
}

func (o *writeOutcome) output() map[string]interface{} {
	storage := outcomeWritten
	if o.Unchanged {
		storage = outcomeUnchanged
	}
	m := map[string]interface{}{
		"path":     o.Path,
		"size":     o.Size,
		"checksum": o.Checksum,
		"created":  o.Created,
		"storage":  storage,
		"sandbox":  o.Sandbox,
	}
	if o.SandboxErr != nil {
		m["sandbox_error"] = o.SandboxErr.Error()
	}
	return m
}

func (o *writeOutcome) summary(verb string) string {
	var sb strings.Builder
	switch {
	case o.Unchanged:
		fmt.Fprintf(&sb, "%s unchanged", o.Path)
	case o.Created:
		fmt.Fprintf(&sb, "Created %s (%d bytes)", o.Path, o.Size)
	default:
		fmt.Fprintf(&sb, "%s %s (%d bytes)", verb, o.Path, o.Size)
	}
	switch o.Sandbox {
	case outcomeError:
		sb.WriteString("; sandbox sync failed")
	case outcomeUnavailable:
		sb.WriteString("; sandbox unavailable")
	}
	return sb.String()
}

func (d *Dispatcher) writeFileTool(ctx context.Context, scope Scope, call Call) *Result {
	filePath, err := cleanPathArg(call)
	if err != nil {
		return failed(call, err)
	}
	content, err := requireString(call.Args, "content")
	if err != nil {
		return failed(call, err)
	}

	out, err := d.storeFile(ctx, scope, filePath, []byte(content))
	if err != nil {
		return failed(call, err)
	}
	return completed(call, out.summary("Updated"), out.output())
}

func (d *Dispatcher) editFile(ctx context.Context, scope Scope, call Call) *Result {
	filePath, err := cleanPathArg(call)
	if err != nil {
		return failed(call, err)
	}
	oldStr, err := requireString(call.Args, "old_str")
	if err != nil {
		return failed(call, err)
	}
	if oldStr == "" {
		return failed(call, argError("old_str must not be empty"))
	}
	newStr := GetStringParam(call.Args, "new_str", "")

	current, err := d.deps.Blobs.Get(ctx, blob.FileKey(scope.ProjectID, filePath))
	if errors.Is(err, blob.ErrNotFound) {
		return failed(call, fmt.Errorf("file %s not found: %w", filePath, err))
	}
	if err != nil {
		return failed(call, fmt.Errorf("storage read failed: %w", err))
	}

	text := string(current)
	if !strings.Contains(text, oldStr) {
		return failed(call, fmt.Errorf("old_str not found in %s", filePath))
	}
	edited := strings.Replace(text, oldStr, newStr, 1)

	out, err := d.storeFile(ctx, scope, filePath, []byte(edited))
	if err != nil {
		return failed(call, err)
	}
	return completed(call, out.summary("Edited"), out.output())
}

// deleteFile removes the file from storage and sandbox independently. The
// record goes away once at least one target no longer holds the file.
func (d *Dispatcher) deleteFile(ctx context.Context, scope Scope, call Call) *Result {
	filePath, err := cleanPathArg(call)
	if err != nil {
		return failed(call, err)
	}

	outcomes := map[string]interface{}{}
	errs := map[string]interface{}{}

	storageGone := false
	switch err := d.deps.Blobs.Delete(ctx, blob.FileKey(scope.ProjectID, filePath)); {
	case err == nil:
		outcomes["storage"] = outcomeDeleted
		storageGone = true
	case errors.Is(err, blob.ErrNotFound):
		outcomes["storage"] = outcomeNotFound
		storageGone = true
	default:
		outcomes["storage"] = outcomeError
		errs["storage"] = err.Error()
	}

	sandboxGone := false
	if scope.Sandbox == nil {
		outcomes["sandbox"] = outcomeUnavailable
	} else {
		switch err := scope.Sandbox.RemoveFile(ctx, filePath); {
		case err == nil:
			outcomes["sandbox"] = outcomeDeleted
			sandboxGone = true
		case sandbox.IsNotExist(err):
			outcomes["sandbox"] = outcomeNotFound
			sandboxGone = true
		default:
			outcomes["sandbox"] = outcomeError
			errs["sandbox"] = err.Error()
		}
	}

	if storageGone || sandboxGone {
		switch err := d.deps.Files.DeleteFile(ctx, scope.ProjectID, filePath); {
		case err == nil:
			outcomes["record"] = outcomeDeleted
		case errors.Is(err, store.ErrNotFound):
			outcomes["record"] = outcomeNotFound
		default:
			outcomes["record"] = outcomeError
			errs["record"] = err.Error()
		}
	} else {
		outcomes["record"] = outcomeKept
	}

	output := map[string]interface{}{
		"path":     filePath,
		"outcomes": outcomes,
	}
	if len(errs) > 0 {
		output["errors"] = errs
	}

	allMissing := outcomes["storage"] == outcomeNotFound &&
		outcomes["sandbox"] != outcomeDeleted &&
		outcomes["record"] == outcomeNotFound
	switch {
	case outcomes["record"] == outcomeKept || outcomes["record"] == outcomeError:
		res := failed(call, fmt.Errorf("could not delete %s: %s", filePath, joinErrors(errs)))
		res.Output = output
		return res
	case allMissing:
		res := failed(call, fmt.Errorf("file %s not found", filePath))
		res.Output = output
		return res
	case len(errs) > 0:
		return completed(call, fmt.Sprintf("Deleted %s (partial: %s)", filePath, joinErrors(errs)), output)
	default:
		return completed(call, "Deleted "+filePath, output)
	}
}

func joinErrors(errs map[string]interface{}) string {
	parts := make([]string, 0, len(errs))
	for _, target := range []string{"storage", "sandbox", "record"} {
		if msg, ok := errs[target]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", target, msg))
		}
	}
	return strings.Join(parts, "; ")
}

func (d *Dispatcher) listFiles(ctx context.Context, scope Scope, call Call) *Result {
	records, err := d.deps.Files.ListFiles(ctx, scope.ProjectID)
	if err != nil {
		return failed(call, err)
	}
	files := make([]interface{}, 0, len(records))
	for _, f := range records {
		files = append(files, map[string]interface{}{
			"path":       f.Path,
			"size":       f.Size,
			"updated_at": f.UpdatedAt,
		})
	}
	summary := fmt.Sprintf("%d files", len(files))
	if len(files) == 1 {
		summary = "1 file"
	}
	return completed(call, summary, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

func (d *Dispatcher) readFile(ctx context.Context, scope Scope, call Call) *Result {
	filePath, err := cleanPathArg(call)
	if err != nil {
		return failed(call, err)
	}
	data, err := d.deps.Blobs.Get(ctx, blob.FileKey(scope.ProjectID, filePath))
	if errors.Is(err, blob.ErrNotFound) {
		return failed(call, fmt.Errorf("file %s not found: %w", filePath, err))
	}
	if err != nil {
		return failed(call, fmt.Errorf("storage read failed: %w", err))
	}
	return completed(call, fmt.Sprintf("Read %s (%d bytes)", filePath, len(data)), map[string]interface{}{
		"path":    filePath,
		"content": string(data),
		"size":    len(data),
	})
}
