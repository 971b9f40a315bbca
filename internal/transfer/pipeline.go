// Package transfer implements the byte-moving half of an upload: chunked
// streaming to disk with mid-stream size enforcement, collision-free
// destination naming, and cleanup of partials on any failure path.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ChunkSize bounds pipeline memory per in-flight transfer: no matter how
// large the file, at most one chunk of its content is held at a time.
const ChunkSize = 1 << 20

var (
	ErrSizeLimit     = errors.New("upload exceeds size limit")
	ErrSourceMissing = errors.New("source file does not exist")
	ErrNotAbsolute   = errors.New("path must be absolute")
	ErrNotRegular    = errors.New("path is not a regular file")
)

// StreamChunks copies src to dst in fixed-size chunks, failing with
// ErrSizeLimit as soon as the observed byte count exceeds maxBytes. The limit
// is enforced on observed bytes, not headers, because a client may lie about
// or omit its content length. maxBytes <= 0 means unlimited.
func StreamChunks(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if maxBytes > 0 && total > maxBytes {
				return total, ErrSizeLimit
			}
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, fmt.Errorf("writing chunk: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("reading upload stream: %w", readErr)
		}
	}
}

// SaveStream streams src into dir under a collision-free variant of
// desiredName and returns the final path, stored name and size. On any
// failure, including a size-limit abort or the client hanging up mid-stream,
// the partial file is removed.
func SaveStream(dir, desiredName string, src io.Reader, maxBytes int64) (path, storedName string, size int64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("creating save dir: %w", err)
	}

	file, path, err := createUnique(dir, desiredName)
	if err != nil {
		return "", "", 0, err
	}

	size, err = StreamChunks(file, src, maxBytes)
	if err != nil {
		file.Close()
		os.Remove(path)
		return "", "", 0, err
	}

	// Success means flushed: a crash after return must not lose bytes the
	// client believes were saved.
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return "", "", 0, fmt.Errorf("syncing file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", "", 0, fmt.Errorf("closing file: %w", err)
	}

	return path, filepath.Base(path), size, nil
}

// createUnique opens a destination that did not exist before. Duplicate
// names get a " (N)" suffix before the extension, like desktop file
// managers do; O_EXCL closes the gap between picking the name and creating
// the file under concurrent uploads.
func createUnique(dir, desiredName string) (*os.File, string, error) {
	clean := SanitizeFileName(desiredName)
	stem := strings.TrimSuffix(clean, filepath.Ext(clean))
	ext := filepath.Ext(clean)

	for index := 0; ; index++ {
		name := clean
		if index > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, index, ext)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("creating destination file: %w", err)
		}
	}
}

// SanitizeFileName strips directory components and characters that are
// invalid on Windows file systems, since the save dir may live on one.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, ch := range name {
		switch ch {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			b.WriteRune('_')
		default:
			b.WriteRune(ch)
		}
	}
	cleaned := strings.Trim(b.String(), " .")
	if cleaned == "" || cleaned == "_" {
		return "file"
	}
	return cleaned
}

// ValidateSourcePath checks a desktop-supplied path for a no-copy transfer:
// absolute, existing, a regular file, and actually readable by this process.
func ValidateSourcePath(path string) (int64, error) {
	if !filepath.IsAbs(path) {
		return 0, ErrNotAbsolute
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrSourceMissing
		}
		return 0, fmt.Errorf("inspecting source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, ErrNotRegular
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening source file: %w", err)
	}
	file.Close()

	return info.Size(), nil
}
