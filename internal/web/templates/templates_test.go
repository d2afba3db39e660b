package templates

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/formingest/internal/ledger"
)

func render(t *testing.T, c interface {
	Render(context.Context, io.Writer) error
}) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return buf.String()
}

func TestErrorAlert_Escapes(t *testing.T) {
	got := render(t, ErrorAlert("<script>x</script>", "retry", "ING004"))

	if strings.Contains(got, "<script>") {
		t.Errorf("message not escaped: %s", got)
	}
	if !strings.Contains(got, "ING004") || !strings.Contains(got, "retry") {
		t.Errorf("missing code or action: %s", got)
	}
}

func TestUploadPage(t *testing.T) {
	recent := []ledger.Summary{{ID: "abc", ReceivedAt: time.Now(), FileCount: 2, TotalBytes: 42}}
	got := render(t, UploadPage(PageInfo{MaxFiles: 3, PartSizeLimit: 100 << 20}, recent))

	for _, want := range []string{
		`enctype="multipart/form-data"`,
		"3 files",
		"100 MiB per file",
		"no limit in total",
		`/api/uploads/abc`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestSizeText(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "no limit"},
		{512, "512 bytes"},
		{2048, "2 KiB"},
		{1 << 20, "1 MiB"},
		{3 << 30, "3 GiB"},
		{1500, "1500 bytes"},
	}
	for _, tt := range tests {
		if got := sizeText(tt.n); got != tt.want {
			t.Errorf("sizeText(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

// brokenWriter fails every write after the first n.
type brokenWriter struct {
	n      int
	writes int
}

var errBroken = errors.New("connection reset")

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.n {
		return 0, errBroken
	}
	return len(p), nil
}

func TestRender_PropagatesWriteErrors(t *testing.T) {
	recent := []ledger.Summary{{ID: "abc", ReceivedAt: time.Now()}, {ID: "def", ReceivedAt: time.Now()}}

	for name, c := range map[string]interface {
		Render(context.Context, io.Writer) error
	}{
		"upload page": UploadPage(PageInfo{}, recent),
		"alert":       ErrorAlert("bad", "retry", "ING004"),
		"message":     Message(400, "bad", "retry", "ING004"),
	} {
		t.Run(name, func(t *testing.T) {
			w := &brokenWriter{n: 1}
			if err := c.Render(context.Background(), w); !errors.Is(err, errBroken) {
				t.Fatalf("Render() error = %v, want %v", err, errBroken)
			}
			if w.writes != 2 {
				t.Errorf("writes = %d, want writing to stop after the first failure", w.writes)
			}
		})
	}
}
