package executors

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

var fileOps = map[string]bool{
	"read": true, "write": true, "append": true, "delete": true,
	"copy": true, "move": true, "list": true, "stat": true,
}

// FileOperationExecutor runs file_operation nodes against a workspace
// root. Every path in a definition is relative to that root; a resolved
// path escaping it is a PATH_VIOLATION regardless of how the escape is
// spelled (.., absolute path, symlink).
type FileOperationExecutor struct {
	root string
}

// NewFileOperationExecutor creates the file_operation executor jailed to root.
func NewFileOperationExecutor(root string) *FileOperationExecutor {
	return &FileOperationExecutor{root: filepath.Clean(root)}
}

func (e *FileOperationExecutor) Type() schema.NodeType { return schema.NodeTypeFileOperation }

func (e *FileOperationExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.FileOperationConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if !fileOps[cfg.Op] {
		return schema.NewErrorf(schema.ErrCodeValidation, "file_operation node %q: unknown op %q", node.ID, cfg.Op).WithNode(node.ID)
	}
	if cfg.Path == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "file_operation node %q: path is required", node.ID).WithNode(node.ID)
	}
	if (cfg.Op == "copy" || cfg.Op == "move") && cfg.Dest == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "file_operation node %q: %s requires dest", node.ID, cfg.Op).WithNode(node.ID)
	}
	return nil
}

func (e *FileOperationExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	if e.root == "" || e.root == "." {
		return nil, schema.NewError(schema.ErrCodeExecutor, "no workspace root configured").
			WithDetails(map[string]any{"retryable": false}).WithNode(in.Node.ID)
	}

	var cfg schema.FileOperationConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	rel, err := in.RenderString(cfg.Path)
	if err != nil {
		return nil, err
	}
	path, err := e.jail(rel, in.Node.ID)
	if err != nil {
		return nil, err
	}

	switch cfg.Op {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, opErr(in.Node.ID, "read", err)
		}
		return &ExecutionResult{Output: map[string]any{
			"content": string(data),
			"size":    len(data),
			"path":    rel,
		}}, nil

	case "write", "append":
		content, err := in.RenderString(cfg.Content)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, opErr(in.Node.ID, cfg.Op, err)
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cfg.Op == "append" {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, opErr(in.Node.ID, cfg.Op, err)
		}
		n, werr := f.WriteString(content)
		cerr := f.Close()
		if werr != nil {
			return nil, opErr(in.Node.ID, cfg.Op, werr)
		}
		if cerr != nil {
			return nil, opErr(in.Node.ID, cfg.Op, cerr)
		}
		return &ExecutionResult{Output: map[string]any{"bytes_written": n, "path": rel}}, nil

	case "delete":
		if err := os.RemoveAll(path); err != nil {
			return nil, opErr(in.Node.ID, "delete", err)
		}
		return &ExecutionResult{Output: map[string]any{"deleted": true, "path": rel}}, nil

	case "copy", "move":
		destRel, err := in.RenderString(cfg.Dest)
		if err != nil {
			return nil, err
		}
		dest, err := e.jail(destRel, in.Node.ID)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, opErr(in.Node.ID, cfg.Op, err)
		}
		if cfg.Op == "move" {
			if err := os.Rename(path, dest); err != nil {
				return nil, opErr(in.Node.ID, "move", err)
			}
		} else if err := copyFile(path, dest); err != nil {
			return nil, opErr(in.Node.ID, "copy", err)
		}
		return &ExecutionResult{Output: map[string]any{"path": rel, "dest": destRel}}, nil

	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, opErr(in.Node.ID, "list", err)
		}
		items := make([]any, 0, len(entries))
		for _, entry := range entries {
			item := map[string]any{
				"name": entry.Name(),
				"dir":  entry.IsDir(),
			}
			if info, err := entry.Info(); err == nil {
				item["size"] = info.Size()
				item["modified"] = info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			items = append(items, item)
		}
		return &ExecutionResult{Output: map[string]any{"entries": items, "count": len(items), "path": rel}}, nil

	case "stat":
		info, err := os.Stat(path)
		if err != nil {
			return nil, opErr(in.Node.ID, "stat", err)
		}
		return &ExecutionResult{Output: map[string]any{
			"path":     rel,
			"size":     info.Size(),
			"dir":      info.IsDir(),
			"mode":     info.Mode().String(),
			"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		}}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown op %q", cfg.Op).WithNode(in.Node.ID)
}

// jail resolves a definition path under the workspace root, rejecting any
// escape. Symlinks are resolved on the longest existing ancestor so new
// files cannot dodge the check.
func (e *FileOperationExecutor) jail(rel, nodeID string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", pathViolation(nodeID, rel)
	}
	joined := filepath.Join(e.root, filepath.Clean("/"+rel))
	resolved := resolveExisting(joined)
	rootResolved := resolveExisting(e.root)
	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", pathViolation(nodeID, rel)
	}
	return joined, nil
}

// resolveExisting resolves symlinks on the longest existing prefix of path
// and re-appends the unresolved suffix.
func resolveExisting(path string) string {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r
	}
	dir := path
	for range 256 {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, rerr := filepath.Rel(parent, path)
			if rerr != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

func pathViolation(nodeID, rel string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodePathViolation, "path %q escapes the workspace root", rel).
		WithNode(nodeID)
}

func opErr(nodeID, op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeExecutor, "%s failed: %v", op, err).
		WithCause(err).WithNode(nodeID).
		WithDetails(map[string]any{"retryable": false})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ NodeExecutor = (*FileOperationExecutor)(nil)
