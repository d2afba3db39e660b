package ingest

import (
	"sort"
	"strconv"
	"strings"
)

// maxNestedIndex bounds numeric bracket keys so that a[99999999] cannot
// allocate a huge slice. Larger indexes are kept as map keys.
const maxNestedIndex = 1000

// Values is the field structure. Each name maps to a string, to a []any of
// strings for repeated names, or to nested map[string]any / []any values
// once bracket keys are expanded.
type Values map[string]any

// FileSet is the file structure. Leaves are *File instead of strings.
type FileSet map[string]any

// Get returns the first value stored under name.
func (v Values) Get(name string) string {
	s, _ := first(v[name]).(string)
	return s
}

// All returns every string stored under name in submission order.
func (v Values) All(name string) []string {
	var out []string
	for _, e := range flatten(v[name]) {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the first file stored under name.
func (fs FileSet) Get(name string) *File {
	f, _ := first(fs[name]).(*File)
	return f
}

// All returns every file stored under name in arrival order.
func (fs FileSet) All(name string) []*File {
	var out []*File
	for _, e := range flatten(fs[name]) {
		if f, ok := e.(*File); ok {
			out = append(out, f)
		}
	}
	return out
}

// Each calls fn for every file in the set, nested ones included. Top-level
// names are visited in sorted order.
func (fs FileSet) Each(fn func(*File)) {
	for _, name := range sortedKeys(fs) {
		walk(fs[name], func(e any) {
			if f, ok := e.(*File); ok {
				fn(f)
			}
		})
	}
}

// Len returns the number of files in the set.
func (fs FileSet) Len() int {
	n := 0
	fs.Each(func(*File) { n++ })
	return n
}

// addEntry appends value under key. A repeated key collapses into an ordered
// sequence.
func addEntry(m map[string]any, key string, value any) {
	cur, ok := m[key]
	if !ok {
		m[key] = value
		return
	}
	if seq, ok := cur.([]any); ok {
		m[key] = append(seq, value)
		return
	}
	m[key] = []any{cur, value}
}

// nest expands bracket keys: a[b] becomes {a: {b: ...}} and a[0] or a[]
// becomes {a: [...]}. Keys are processed in sorted order so the result does
// not depend on map iteration. When a name holds both a plain value and a
// nested path, the plain value is kept.
func nest(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for _, key := range sortedKeys(flat) {
		parts := splitKey(key)
		if len(parts) == 1 {
			out[key] = flat[key]
			continue
		}
		out[parts[0]] = place(out[parts[0]], parts[1:], flat[key])
	}
	return out
}

func place(existing any, rest []string, value any) any {
	if len(rest) == 0 {
		return value
	}
	return assign(existing, rest, value)
}

func assign(node any, parts []string, value any) any {
	key, rest := parts[0], parts[1:]

	switch n := node.(type) {
	case []any:
		i, ok := sliceIndex(key, len(n))
		if !ok {
			m := make(map[string]any, len(n)+1)
			for j, e := range n {
				m[strconv.Itoa(j)] = e
			}
			m[key] = place(m[key], rest, value)
			return m
		}
		if key == "" && len(rest) == 0 {
			if seq, ok := value.([]any); ok {
				return append(n, seq...)
			}
		}
		for len(n) <= i {
			n = append(n, nil)
		}
		n[i] = place(n[i], rest, value)
		return n
	case map[string]any:
		n[key] = place(n[key], rest, value)
		return n
	default:
		// A plain value already stored under this name wins over deeper paths.
		if node != nil {
			return node
		}
		if _, ok := sliceIndex(key, 0); ok {
			return assign([]any{}, parts, value)
		}
		return assign(map[string]any{}, parts, value)
	}
}

func sliceIndex(key string, length int) (int, bool) {
	if key == "" {
		return length, true
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i > maxNestedIndex {
		return 0, false
	}
	return i, true
}

// splitKey splits "a[b][0]" into ["a", "b", "0"]. Keys that are not well
// formed bracket paths are returned whole.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}

	parts := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts
}

// clone deep-copies the map and slice skeleton of a tree. Leaves are shared.
func clone(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = clone(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = clone(v)
		}
		return out
	default:
		return node
	}
}

func first(node any) any {
	if seq, ok := node.([]any); ok {
		if len(seq) == 0 {
			return nil
		}
		return seq[0]
	}
	return node
}

func flatten(node any) []any {
	var out []any
	walk(node, func(e any) { out = append(out, e) })
	return out
}

func walk(node any, fn func(any)) {
	switch n := node.(type) {
	case nil:
	case []any:
		for _, e := range n {
			walk(e, fn)
		}
	case map[string]any:
		for _, k := range sortedKeys(n) {
			walk(n[k], fn)
		}
	default:
		fn(n)
	}
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
