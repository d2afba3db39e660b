package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type sendOptions struct {
	url     string
	forms   []string
	headers []string
	apiKey  string
	timeout time.Duration
}

// formArg is one -F argument: name=value or name=@path.
type formArg struct {
	name  string
	value string
	file  bool
}

func newSendCmd() *cobra.Command {
	o := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream a multipart form to a URL and print the response",
		Example: `  formctl send --url http://localhost:8080/api/upload -F description=q3 -F report=@q3.csv`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "http://localhost:8080/api/upload", "target URL")
	f.StringArrayVarP(&o.forms, "form", "F", nil, "form part, name=value or name=@path (repeatable)")
	f.StringArrayVarP(&o.headers, "header", "H", nil, "extra request header, 'Name: value' (repeatable)")
	f.StringVar(&o.apiKey, "api-key", os.Getenv("FORMCTL_API_KEY"), "X-API-Key header value")
	f.DurationVar(&o.timeout, "timeout", 5*time.Minute, "request timeout")

	return cmd
}

func parseFormArg(s string) (formArg, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return formArg{}, fmt.Errorf("invalid form part %q, want name=value or name=@path", s)
	}
	if path, isFile := strings.CutPrefix(value, "@"); isFile {
		if path == "" {
			return formArg{}, fmt.Errorf("invalid form part %q: empty path", s)
		}
		return formArg{name: name, value: path, file: true}, nil
	}
	return formArg{name: name, value: value}, nil
}

func runSend(cmd *cobra.Command, o *sendOptions) error {
	parts := make([]formArg, 0, len(o.forms))
	for _, s := range o.forms {
		p, err := parseFormArg(s)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, pr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}
	for _, h := range o.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	// The body is produced while the request is in flight.
	var g errgroup.Group
	g.Go(func() error {
		err := writeForm(mw, parts)
		pw.CloseWithError(err)
		return err
	})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		g.Wait()
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Status)
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// A server may answer before the body was fully sent, e.g. on a limit.
	pr.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("write form: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	return nil
}

func writeForm(mw *multipart.Writer, parts []formArg) error {
	for _, p := range parts {
		if !p.file {
			if err := mw.WriteField(p.name, p.value); err != nil {
				return err
			}
			continue
		}
		if err := writeFilePart(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, p formArg) error {
	f, err := os.Open(p.value)
	if err != nil {
		return err
	}
	defer f.Close()

	ctype := mime.TypeByExtension(filepath.Ext(p.value))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     p.name,
		"filename": filepath.Base(p.value),
	}))
	h.Set("Content-Type", ctype)

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
