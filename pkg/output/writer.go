// Package output serializes merged rule-set documents deterministically:
// identical inputs produce byte-identical files across runs.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Write renders doc with recursively sorted object keys and two-space
// indentation, creating the parent directory as needed. List order is
// preserved; value lists are expected to be sorted by the merge stage.
// Returns the number of bytes written.
func Write(doc map[string]any, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	data, err := Marshal(doc)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return int64(len(data)), nil
}

// Marshal produces the canonical indented form of doc.
func Marshal(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(canonical(doc)); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	// Encode appends a trailing newline; keep it, files end with one.
	return buf.Bytes(), nil
}

// canonical rewraps maps so their keys marshal in sorted order at every
// nesting level. Slices keep their element order.
func canonical(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sortedMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonical(e)
		}
		return out
	default:
		return v
	}
}

type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(canonical(m[k]))
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
