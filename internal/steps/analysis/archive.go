package analysis

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

const (
	maxArchiveEntries = 10000
	maxExtractedBytes = 512 << 20
)

var errArchiveTooLarge = errors.New("report archive exceeds extraction limits")

// extract spools r to disk and unpacks the zip archive into the holder. Entries that
// would land outside the extraction directory are rejected.
func (h *ReportHolder) extract(ctx context.Context, r io.Reader) (int, error) {
	spool := filepath.Join(h.dir, "payload.zip")
	f, err := os.Create(spool)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("spool payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	zr, err := zip.OpenReader(spool)
	if err != nil {
		return 0, fmt.Errorf("open report archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) > maxArchiveEntries {
		return 0, errArchiveTooLarge
	}
	root := h.extractedDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}

	var total int64
	n := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		dst, err := entryPath(root, zf.Name)
		if err != nil {
			return n, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			return n, fmt.Errorf("archive entry %q is not a regular file", zf.Name)
		}
		written, err := extractFile(zf, dst, maxExtractedBytes-total)
		total += written
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func entryPath(root, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || path.IsAbs(slashed) || slices.Contains(strings.Split(slashed, "/"), "..") {
		return "", fmt.Errorf("illegal archive entry %q", name)
	}
	dst := filepath.Join(root, filepath.FromSlash(path.Clean(slashed)))
	if !strings.HasPrefix(dst, root+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal archive entry %q", name)
	}
	return dst, nil
}

func extractFile(zf *zip.File, dst string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	src, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, io.LimitReader(src, budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	if written > budget {
		return written, errArchiveTooLarge
	}
	return written, nil
}
