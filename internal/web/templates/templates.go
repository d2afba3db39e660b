// Package templates renders the HTML pages of the upload service.
package templates

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/formingest/internal/ledger"
)

// PageInfo carries the limits shown on the upload form.
type PageInfo struct {
	MaxFiles      int
	PartSizeLimit int64
	TotalLimit    int64
}

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>%s</title></head><body><main>`, templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// UploadPage is the upload form followed by the most recent uploads.
func UploadPage(info PageInfo, recent []ledger.Summary) templ.Component {
	return Layout("Upload files", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.print(`<h1>Upload files</h1>`)
		hw.print(`<form method="post" action="/api/upload" enctype="multipart/form-data">`)
		hw.print(`<label>Description <input type="text" name="description"></label>`)
		hw.print(`<input type="file" name="files" multiple>`)
		hw.print(`<button type="submit">Upload</button></form>`)
		hw.printf(`<p class="limits">Up to %s, %s per file, %s in total.</p>`,
			countText(info.MaxFiles, "file"), sizeText(info.PartSizeLimit), sizeText(info.TotalLimit))

		if len(recent) == 0 {
			hw.print(`<p>No uploads yet.</p>`)
			return hw.err
		}
		hw.print(`<table><thead><tr><th>ID</th><th>Received</th><th>Files</th><th>Bytes</th></tr></thead><tbody>`)
		for _, s := range recent {
			hw.printf(`<tr><td><a href="/api/uploads/%s">%s</a></td><td>%s</td><td>%d</td><td>%d</td></tr>`,
				templ.EscapeString(s.ID), templ.EscapeString(s.ID),
				s.ReceivedAt.Format("2006-01-02 15:04:05"), s.FileCount, s.TotalBytes)
		}
		hw.print(`</tbody></table>`)
		return hw.err
	}))
}

// Message is a full error page.
func Message(status int, message, action, code string) templ.Component {
	return Layout(http.StatusText(status), ErrorAlert(message, action, code))
}

// ErrorAlert is the error fragment used inside pages and for HTMX swaps.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.printf(`<div class="error" role="alert"><p>%s</p>`, templ.EscapeString(message))
		if action != "" {
			hw.printf(`<p class="action">%s</p>`, templ.EscapeString(action))
		}
		hw.printf(`<p class="code">Error code: %s</p></div>`, templ.EscapeString(code))
		return hw.err
	})
}

// htmlWriter stops writing after the first error and keeps it.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) print(s string) {
	if hw.err == nil {
		_, hw.err = io.WriteString(hw.w, s)
	}
}

func (hw *htmlWriter) printf(format string, args ...any) {
	if hw.err == nil {
		_, hw.err = fmt.Fprintf(hw.w, format, args...)
	}
}

func countText(n int, noun string) string {
	if n <= 0 {
		return "any number of " + noun + "s"
	}
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func sizeText(n int64) string {
	switch {
	case n <= 0:
		return "no limit"
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%d GiB", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
