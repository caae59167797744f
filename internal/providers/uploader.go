package providers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Uploader publishes task artifacts (export dumps) and returns where they landed.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error)
}

type localUploader struct {
	rootDir string
}

// NewLocalUploader stores artifacts under rootDir.
func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) Upload(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root, err := filepath.Abs(u.rootDir)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(root, filepath.FromSlash(objectPath))
	if !strings.HasPrefix(dst, root+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes upload root", objectPath)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return "file://" + dst, nil
}
