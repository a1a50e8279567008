package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// containedPath ensures that the resolved path stays within basePath.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrustedPath))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

// LocalSink writes artifacts below a directory.
type LocalSink struct {
	BasePath string
}

// NewLocalSink keeps basePath as given; an empty path is rejected by Put
// rather than resolving to the working directory.
func NewLocalSink(basePath string) *LocalSink {
	return &LocalSink{BasePath: basePath}
}

func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if strings.TrimSpace(s.BasePath) == "" {
		return "", errors.New("local sink base path is required")
	}
	if key == "" {
		return "", errors.New("artifact key is required")
	}
	dest, err := containedPath(s.BasePath, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// write then rename so readers never see a partial file
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return dest, nil
}
