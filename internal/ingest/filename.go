package ingest

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^\w-]`)

// parseFileName turns the client supplied filename into the stored name:
// basename only, capped in length, optionally URI-decoded and stripped to
// safe characters. An empty name gets a generated one.
func parseFileName(opts Options, name string) string {
	if name == "" {
		return "tmp-" + uuid.NewString()
	}

	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > opts.MaxFileNameLength {
		cut := opts.MaxFileNameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	if opts.URIDecodeFileNames {
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	if !opts.SafeFileNames {
		return name
	}

	base, ext := splitExtension(opts.PreserveExtension, name)
	if ext != "" {
		ext = "." + unsafeNameChars.ReplaceAllString(ext, "")
	}
	return unsafeNameChars.ReplaceAllString(base, "") + ext
}

// splitExtension separates the extension to keep when PreserveExtension is
// set. A positive value is the maximum extension length; a negative value
// enables the default length. Overlong extensions keep their tail and the
// rest stays in the base name.
func splitExtension(preserve int, name string) (string, string) {
	if preserve == 0 {
		return name, ""
	}
	maxLen := preserve
	if maxLen < 0 {
		maxLen = defaultExtensionLength
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name, ""
	}
	base, ext := name[:dot], name[dot+1:]
	if len(ext) > maxLen {
		base += "." + ext[:len(ext)-maxLen]
		ext = ext[len(ext)-maxLen:]
	}
	return base, ext
}
