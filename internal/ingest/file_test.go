package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// parseFileName
// ============================================================================

func TestParseFileName(t *testing.T) {
	base := Options{}.withDefaults()

	tests := []struct {
		name  string
		opts  func(o *Options)
		input string
		want  string
	}{
		{"plain", nil, "report.csv", "report.csv"},
		{"strips unix path", nil, "../../etc/passwd", "passwd"},
		{"strips windows path", nil, `C:\Users\me\photo.png`, "photo.png"},
		{"safe names drop extension dot", func(o *Options) { o.SafeFileNames = true }, "my file!.tar.gz", "myfiletargz"},
		{"safe names keep extension", func(o *Options) {
			o.SafeFileNames = true
			o.PreserveExtension = -1
		}, "my file!.png", "myfile.png"},
		{"overlong extension keeps tail", func(o *Options) {
			o.SafeFileNames = true
			o.PreserveExtension = 2
		}, "archive.gzip", "archivegz.ip"},
		{"uri decode", func(o *Options) { o.URIDecodeFileNames = true }, "na%C3%AFve.txt", "naïve.txt"},
		{"bad escape left alone", func(o *Options) { o.URIDecodeFileNames = true }, "100%.txt", "100%.txt"},
		{"length cap", func(o *Options) { o.MaxFileNameLength = 4 }, "abcdefgh", "abcd"},
		{"length cap keeps whole runes", func(o *Options) { o.MaxFileNameLength = 3 }, "naïve.txt", "na"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			if tt.opts != nil {
				tt.opts(&o)
			}
			assert.Equal(t, tt.want, parseFileName(o, tt.input))
		})
	}
}

func TestParseFileName_EmptyGetsGenerated(t *testing.T) {
	got := parseFileName(Options{}.withDefaults(), "")
	assert.True(t, strings.HasPrefix(got, "tmp-"), got)
	assert.NotEqual(t, got, parseFileName(Options{}.withDefaults(), ""))
}

// ============================================================================
// File
// ============================================================================

func TestFile_MemoryOpenAndMove(t *testing.T) {
	b := NewMemoryBackend()
	b.Write([]byte("content"))
	b.Finalize()
	f := &File{Name: "a.txt", backend: b, createParentPath: true}

	rc, err := f.Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "content", string(data))

	dst := filepath.Join(t.TempDir(), "sub", "dir", "a.txt")
	require.NoError(t, f.MoveTo(dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestFile_MoveWithoutParentFails(t *testing.T) {
	b := NewMemoryBackend()
	b.Write([]byte("x"))
	f := &File{Name: "a.txt", backend: b}

	err := f.MoveTo(filepath.Join(t.TempDir(), "missing", "a.txt"))
	assert.Error(t, err)
}

func TestFile_TempFileMoveSurvivesCleanup(t *testing.T) {
	b, err := NewTempFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	b.Write([]byte("on disk"))
	b.Finalize()
	require.NoError(t, b.Wait(context.Background()))

	f := &File{Name: "d.bin", TempFilePath: b.Path(), backend: b}
	assert.Nil(t, f.Data())

	dst := filepath.Join(t.TempDir(), "d.bin")
	require.NoError(t, f.MoveTo(dst))
	b.Cleanup()

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(got))
}

func TestFile_OpenAfterCleanup(t *testing.T) {
	b := NewMemoryBackend()
	b.Write([]byte("gone"))
	b.Cleanup()

	f := &File{Name: "g.txt", backend: b}
	_, err := f.Open()
	assert.ErrorIs(t, err, ErrBackendClosed)
	assert.ErrorIs(t, f.MoveTo(filepath.Join(t.TempDir(), "g.txt")), ErrBackendClosed)
}
