package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callHandler(t *testing.T, hs *HandlerSet, api string, payload any) (json.RawMessage, error) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return hs.Handle(context.Background(), api, data)
}

func TestHandleUnknownAPI(t *testing.T) {
	hs := NewHandlerSet()

	_, err := hs.Handle(context.Background(), "nlb_status", nil)
	require.Error(t, err)
	assert.Equal(t, "Unknown API: nlb_status", err.Error())
}

func TestHandleWriteReadFile(t *testing.T) {
	hs := NewHandlerSet()
	path := filepath.Join(t.TempDir(), "notes.txt")

	_, err := callHandler(t, hs, "write_file", map[string]string{
		"path":    path,
		"content": "hello panel",
	})
	require.NoError(t, err)

	result, err := callHandler(t, hs, "read_file", map[string]string{"path": path})
	require.NoError(t, err)

	var resp struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(result, &resp))
	assert.Equal(t, "hello panel", resp.Content)
}

func TestHandleUploadFileBase64(t *testing.T) {
	hs := NewHandlerSet()
	path := filepath.Join(t.TempDir(), "blob.bin")
	raw := []byte{0x00, 0xFF, 0x10, 0x80}

	_, err := callHandler(t, hs, "upload_file", map[string]string{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(raw),
	})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = callHandler(t, hs, "upload_file", map[string]string{
		"path":    path,
		"content": "not base64 !!!",
	})
	assert.Error(t, err)
}

func TestHandleListFiles(t *testing.T) {
	hs := NewHandlerSet()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a-dir"), 0755))

	result, err := callHandler(t, hs, "list_files", map[string]string{"path": dir})
	require.NoError(t, err)

	var resp struct {
		Files []fileEntry `json:"files"`
	}
	require.NoError(t, json.Unmarshal(result, &resp))
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "a-dir", resp.Files[0].Name, "directories sort first")
	assert.True(t, resp.Files[0].IsDir)
	assert.Equal(t, "b.txt", resp.Files[1].Name)
}

func TestHandleCreateDeleteRename(t *testing.T) {
	hs := NewHandlerSet()
	dir := t.TempDir()

	sub := filepath.Join(dir, "new", "nested")
	_, err := callHandler(t, hs, "create_directory", map[string]string{"path": sub})
	require.NoError(t, err)
	assert.DirExists(t, sub)

	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))

	_, err = callHandler(t, hs, "rename", map[string]string{
		"path":     oldPath,
		"new_path": newPath,
	})
	require.NoError(t, err)
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)

	_, err = callHandler(t, hs, "delete", map[string]string{"path": newPath})
	require.NoError(t, err)
	assert.NoFileExists(t, newPath)
}

func TestHandlersRejectMissingPath(t *testing.T) {
	hs := NewHandlerSet()

	for _, api := range []string{"list_files", "read_file", "create_directory", "delete"} {
		_, err := callHandler(t, hs, api, map[string]string{})
		assert.Error(t, err, fmt.Sprintf("%s must require a path", api))
	}
}

func TestHandleCollectMetrics(t *testing.T) {
	hs := NewHandlerSet()

	result, err := hs.Handle(context.Background(), "collect_metrics", nil)
	require.NoError(t, err)

	var m Metrics
	require.NoError(t, json.Unmarshal(result, &m))
	assert.NotEmpty(t, m.CollectedAt)
	assert.Greater(t, m.MemTotal, uint64(0))
}
