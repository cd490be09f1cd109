package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// HandlerFunc serves one relayed API call. The returned value is marshaled
// into the api_response result; a returned error travels back to the caller
// verbatim in the error field.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// HandlerSet maps API names to their handlers.
type HandlerSet struct {
	handlers map[string]HandlerFunc
}

func NewHandlerSet() *HandlerSet {
	hs := &HandlerSet{handlers: make(map[string]HandlerFunc)}
	hs.Register("collect_metrics", handleCollectMetrics)
	hs.Register("list_files", handleListFiles)
	hs.Register("read_file", handleReadFile)
	hs.Register("write_file", handleWriteFile)
	hs.Register("upload_file", handleUploadFile)
	hs.Register("create_directory", handleCreateDirectory)
	hs.Register("delete", handleDelete)
	hs.Register("rename", handleRename)
	return hs
}

func (hs *HandlerSet) Register(api string, fn HandlerFunc) {
	hs.handlers[api] = fn
}

func (hs *HandlerSet) Handle(ctx context.Context, api string, payload json.RawMessage) (json.RawMessage, error) {
	fn, ok := hs.handlers[api]
	if !ok {
		return nil, fmt.Errorf("Unknown API: %s", api)
	}

	result, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

type pathRequest struct {
	Path string `json:"path"`
}

func decodePath(payload json.RawMessage) (string, error) {
	var req pathRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if req.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	return req.Path, nil
}

type fileEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Mode     string    `json:"mode"`
	Modified time.Time `json:"modified"`
}

func handleListFiles(_ context.Context, payload json.RawMessage) (any, error) {
	path, err := decodePath(payload)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Name:     e.Name(),
			Path:     filepath.Join(path, e.Name()),
			IsDir:    e.IsDir(),
			Size:     info.Size(),
			Mode:     info.Mode().String(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDir != files[j].IsDir {
			return files[i].IsDir
		}
		return files[i].Name < files[j].Name
	})

	return map[string]any{"path": path, "files": files}, nil
}

func handleReadFile(_ context.Context, payload json.RawMessage) (any, error) {
	path, err := decodePath(payload)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return map[string]any{
		"path":    path,
		"content": string(data),
	}, nil
}

func handleWriteFile(_ context.Context, payload json.RawMessage) (any, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	if err := os.WriteFile(req.Path, []byte(req.Content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Path, err)
	}
	return map[string]any{"path": req.Path, "written": len(req.Content)}, nil
}

// handleUploadFile accepts base64 content so binary uploads survive the
// JSON frame.
func handleUploadFile(_ context.Context, payload json.RawMessage) (any, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	if err := os.WriteFile(req.Path, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Path, err)
	}
	return map[string]any{"path": req.Path, "written": len(data)}, nil
}

func handleCreateDirectory(_ context.Context, payload json.RawMessage) (any, error) {
	path, err := decodePath(payload)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", path, err)
	}
	return map[string]any{"path": path}, nil
}

func handleDelete(_ context.Context, payload json.RawMessage) (any, error) {
	path, err := decodePath(payload)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}
	return map[string]any{"path": path, "deleted": true}, nil
}

func handleRename(_ context.Context, payload json.RawMessage) (any, error) {
	var req struct {
		Path    string `json:"path"`
		NewPath string `json:"new_path"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Path == "" || req.NewPath == "" {
		return nil, fmt.Errorf("path and new_path are required")
	}

	if err := os.Rename(req.Path, req.NewPath); err != nil {
		return nil, fmt.Errorf("rename %s: %w", req.Path, err)
	}
	return map[string]any{"path": req.NewPath}, nil
}
