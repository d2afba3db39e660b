package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// captured writes a two-part body and returns its path and boundary.
func captured(t *testing.T) (string, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("user[name]", "alice"))
	fw, err := w.CreateFormFile("doc", "notes.txt")
	require.NoError(t, err)
	fw.Write([]byte("hello world"))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "body.bin")
	require.NoError(t, os.WriteFile(path, body.Bytes(), 0o644))
	return path, w.Boundary()
}

type printed struct {
	State  string         `json:"state"`
	Bytes  int64          `json:"bytes"`
	Fields map[string]any `json:"fields"`
	Files  []struct {
		Field     string `json:"field"`
		Name      string `json:"name"`
		Size      int64  `json:"size"`
		Truncated bool   `json:"truncated"`
	} `json:"files"`
}

// =============================================================================
// decode
// =============================================================================

func TestDecode_File(t *testing.T) {
	path, boundary := captured(t)

	out, err := run(t, nil, "decode", "--boundary", boundary, "--nested", path)
	require.NoError(t, err)

	var got printed
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "terminal", got.State)
	assert.Equal(t, int64(11), got.Bytes)
	assert.Equal(t, map[string]any{"name": "alice"}, got.Fields["user"])
	require.Len(t, got.Files, 1)
	assert.Equal(t, "doc", got.Files[0].Field)
	assert.Equal(t, "notes.txt", got.Files[0].Name)
	assert.Equal(t, int64(11), got.Files[0].Size)
}

func TestDecode_Stdin(t *testing.T) {
	path, boundary := captured(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out, err := run(t, bytes.NewReader(data),
		"decode", "--content-type", "multipart/form-data; boundary="+boundary,
		"--part-limit", "5", "-")
	require.NoError(t, err)

	var got printed
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	require.Len(t, got.Files, 1)
	assert.True(t, got.Files[0].Truncated)
	assert.Equal(t, int64(5), got.Files[0].Size)
	assert.Equal(t, "alice", got.Fields["user[name]"])
}

func TestDecode_Errors(t *testing.T) {
	path, boundary := captured(t)

	_, err := run(t, nil, "decode", path)
	assert.ErrorContains(t, err, "--content-type or --boundary")

	_, err = run(t, nil, "decode", "--boundary", boundary, "--max-files", "0", "--total-limit", "4", path)
	assert.ErrorContains(t, err, "total size limit")

	_, err = run(t, nil, "decode", "--boundary", boundary, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "open body")

	_, err = run(t, nil, "decode", "--boundary", boundary, "--storage", "tmpfile", path)
	assert.ErrorContains(t, err, `unknown --storage "tmpfile"`)
}

// =============================================================================
// send
// =============================================================================

func TestParseFormArg(t *testing.T) {
	tests := []struct {
		in      string
		want    formArg
		wantErr bool
	}{
		{"a=b", formArg{name: "a", value: "b"}, false},
		{"a=", formArg{name: "a", value: ""}, false},
		{"a=x=y", formArg{name: "a", value: "x=y"}, false},
		{"f=@/tmp/x.csv", formArg{name: "f", value: "/tmp/x.csv", file: true}, false},
		{"f=@", formArg{}, true},
		{"=b", formArg{}, true},
		{"novalue", formArg{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFormArg(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, fh, err := r.FormFile("report")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		fmt.Fprintf(w, "desc=%s file=%s type=%s body=%s trace=%s",
			r.FormValue("description"), fh.Filename, fh.Header.Get("Content-Type"), data, r.Header.Get("X-Trace"))
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "q3.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"a":1}`), 0o644))

	out, err := run(t, nil, "send", "--url", srv.URL, "--api-key", "k",
		"-H", "X-Trace: 42",
		"-F", "description=q3", "-F", "report=@"+file)
	require.NoError(t, err)
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "desc=q3 file=q3.json type=application/json")
	assert.Contains(t, out, `body={"a":1}`)
	assert.Contains(t, out, "trace=42")
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "too big", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	out, err := run(t, nil, "send", "--url", srv.URL, "-F", "a=b")
	assert.ErrorContains(t, err, "413")
	assert.Contains(t, out, "too big")
}

func TestSend_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	_, err := run(t, nil, "send", "--url", srv.URL, "-F", "f=@"+filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
