package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func testDoc() map[string]any {
	return map[string]any{
		"version": 2,
		"rules": []any{
			map[string]any{"domain": []string{"a.com", "b.com"}},
			map[string]any{"domain_suffix": []string{"c.com"}},
			map[string]any{
				"type": "logical",
				"mode": "and",
				"rules": []any{
					map[string]any{"domain": "foo.com"},
					map[string]any{"port": "443"},
				},
			},
		},
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	first, err := Marshal(testDoc())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(testDoc())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("repeated marshals differ")
	}
}

func TestMarshalSortsKeysKeepsListOrder(t *testing.T) {
	data, err := Marshal(testDoc())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(data)

	// Top-level keys are sorted: rules before version.
	if idx := bytes.Index(data, []byte(`"rules"`)); idx < 0 || idx > bytes.Index(data, []byte(`"version"`)) {
		t.Errorf("keys not sorted:\n%s", got)
	}
	// Logical rule keys sort as mode, rules, type.
	modeIdx := bytes.Index(data, []byte(`"mode"`))
	typeIdx := bytes.Index(data, []byte(`"type"`))
	if modeIdx < 0 || typeIdx < 0 || modeIdx > typeIdx {
		t.Errorf("logical rule keys not sorted:\n%s", got)
	}
	// The rules list keeps its order: domain group before domain_suffix,
	// logical rule last.
	domainIdx := bytes.Index(data, []byte(`"domain"`))
	suffixIdx := bytes.Index(data, []byte(`"domain_suffix"`))
	logicalIdx := bytes.Index(data, []byte(`"logical"`))
	if !(domainIdx < suffixIdx && suffixIdx < logicalIdx) {
		t.Errorf("rules list reordered:\n%s", got)
	}
}

func TestWriteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")
	size, err := Write(testDoc(), path)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if size != info.Size() {
		t.Errorf("reported size %d, on disk %d", size, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("output does not end with a newline")
	}
}
