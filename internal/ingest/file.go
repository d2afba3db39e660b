package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// File is the record of one uploaded file part. Size and Hash are
// authoritative only after the ingestion's completion resolved.
type File struct {
	Field        string `json:"field"`
	Name         string `json:"name"`
	TempFilePath string `json:"tempFilePath,omitempty"`
	Hash         string `json:"md5"`
	Size         int64  `json:"size"`
	Encoding     string `json:"encoding"`
	Truncated    bool   `json:"truncated"`
	MimeType     string `json:"mimetype"`

	backend          Backend
	createParentPath bool
}

// Data returns the in-memory payload. It is nil for temp-file uploads and
// after the backend was cleaned up.
func (f *File) Data() []byte {
	if f.backend == nil {
		return nil
	}
	return f.backend.Finalize()
}

// Open returns a reader over the payload regardless of the backend.
func (f *File) Open() (io.ReadCloser, error) {
	if f.TempFilePath != "" {
		return os.Open(f.TempFilePath)
	}
	data := f.Data()
	if data == nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, ErrBackendClosed)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// MoveTo stores the upload at dst. Temp files are renamed (copied when dst is
// on another device); memory payloads are written out. A moved temp file is
// no longer removed by cleanup.
func (f *File) MoveTo(dst string) error {
	if f.createParentPath {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create parent path: %w", err)
		}
	}

	if f.TempFilePath == "" {
		data := f.Data()
		if data == nil {
			return fmt.Errorf("move %s: %w", f.Name, ErrBackendClosed)
		}
		return os.WriteFile(dst, data, 0o644)
	}

	err := os.Rename(f.TempFilePath, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", f.Name, err)
	}
	if err := copyFile(f.TempFilePath, dst); err != nil {
		return fmt.Errorf("move %s: %w", f.Name, err)
	}
	return os.Remove(f.TempFilePath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
