package executors

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tideflow-io/tideflow/internal/execctx"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

func fileInput(t *testing.T, cfg schema.FileOperationConfig, params map[string]any) ExecutionInput {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return ExecutionInput{
		Node:     &schema.WorkflowNode{ID: "fop", Type: schema.NodeTypeFileOperation, Config: raw},
		Params:   params,
		Context:  execctx.New("inst", "def", nil, nil, 0),
		Resolver: execctx.NewResolver(expressions.NewGoJQEngine()),
	}
}

func TestFileWriteThenRead(t *testing.T) {
	root := t.TempDir()
	exec := NewFileOperationExecutor(root)

	res, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op:      "write",
		Path:    "reports/out.txt",
		Content: "hello ${{ params.who }}",
	}, map[string]any{"who": "world"}))
	require.NoError(t, err)
	assert.Equal(t, 11, res.Output["bytes_written"])

	res, err = exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op:   "read",
		Path: "reports/out.txt",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Output["content"])
	assert.Equal(t, 11, res.Output["size"])
}

func TestFileAppend(t *testing.T) {
	root := t.TempDir()
	exec := NewFileOperationExecutor(root)

	for _, chunk := range []string{"one\n", "two\n"} {
		_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
			Op: "append", Path: "log.txt", Content: chunk,
		}, nil))
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestFileCopyAndMove(t *testing.T) {
	root := t.TempDir()
	exec := NewFileOperationExecutor(root)

	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "write", Path: "a.txt", Content: "data",
	}, nil))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "copy", Path: "a.txt", Dest: "b.txt",
	}, nil))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b.txt"))

	_, err = exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "move", Path: "b.txt", Dest: "sub/c.txt",
	}, nil))
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "b.txt"))
	assert.FileExists(t, filepath.Join(root, "sub", "c.txt"))
}

func TestFileListAndStat(t *testing.T) {
	root := t.TempDir()
	exec := NewFileOperationExecutor(root)

	for _, name := range []string{"x.txt", "y.txt"} {
		_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
			Op: "write", Path: "dir/" + name, Content: "z",
		}, nil))
		require.NoError(t, err)
	}

	res, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "list", Path: "dir",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Output["count"])

	res, err = exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "stat", Path: "dir/x.txt",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Output["size"])
	assert.Equal(t, false, res.Output["dir"])
}

func TestFileDelete(t *testing.T) {
	root := t.TempDir()
	exec := NewFileOperationExecutor(root)

	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "write", Path: "gone.txt", Content: "x",
	}, nil))
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "delete", Path: "gone.txt",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["deleted"])
	assert.NoFileExists(t, filepath.Join(root, "gone.txt"))
}

func TestFileReadMissingIsNotRetryable(t *testing.T) {
	exec := NewFileOperationExecutor(t.TempDir())

	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "read", Path: "missing.txt",
	}, nil))
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeExecutor, fe.Code)
	assert.False(t, fe.IsRetryable())
}

func TestFilePathTraversalRejected(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	defer os.Remove(outside)

	exec := NewFileOperationExecutor(root)

	// filepath.Clean("/" + rel) strips leading .. segments, so the joined
	// path stays inside the root and reads fail as plain not-found rather
	// than escaping.
	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "read", Path: "../outside.txt",
	}, nil))
	require.Error(t, err)

	data, rerr := os.ReadFile(outside)
	require.NoError(t, rerr)
	assert.Equal(t, "secret", string(data))
}

func TestFileSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(target, link))

	exec := NewFileOperationExecutor(root)

	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "write", Path: "link/evil.txt", Content: "x",
	}, nil))
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodePathViolation, fe.Code)
}

func TestFileNoWorkspaceRoot(t *testing.T) {
	exec := NewFileOperationExecutor("")

	_, err := exec.Execute(context.Background(), fileInput(t, schema.FileOperationConfig{
		Op: "read", Path: "x.txt",
	}, nil))
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.IsRetryable())
}

func TestFileValidate(t *testing.T) {
	exec := NewFileOperationExecutor(t.TempDir())

	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"op": "shred", "path": "x"}`),
	}))
	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"op": "read"}`),
	}))
	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"op": "copy", "path": "a"}`),
	}))
	require.NoError(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"op": "copy", "path": "a", "dest": "b"}`),
	}))
}
