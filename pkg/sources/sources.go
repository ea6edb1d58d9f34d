// Package sources classifies configured rule-list URLs.
package sources

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Kind is the closed set of source payload shapes. It is decided once per URL
// at classification time and never re-derived downstream.
type Kind int

const (
	// StructuredFragment marks a JSON rule fragment source. Note that the
	// upstream ".list" convention is JSON, not plain text.
	StructuredFragment Kind = iota
	// LineList marks a line-oriented text source: plain CIDR/domain tokens,
	// tagged proxy-rule records, or a YAML payload document.
	LineList
)

// String implements fmt.Stringer for diagnostics.
func (k Kind) String() string {
	switch k {
	case StructuredFragment:
		return "structured"
	case LineList:
		return "linelist"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source describes a single classified rule-list source. Immutable after
// construction.
type Source struct {
	Ruleset string
	URL     string
	Kind    Kind
}

// Classify maps a URL onto its payload kind by suffix heuristics.
func Classify(rawURL string) Kind {
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".list") ||
		strings.HasSuffix(lower, ".jsonl") ||
		strings.Contains(lower, "json") {
		return StructuredFragment
	}
	return LineList
}

// BuildSources expands a configured ruleset into classified sources,
// preserving the configured URL order.
func BuildSources(ruleset string, urls []string) []Source {
	built := make([]Source, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		built = append(built, Source{
			Ruleset: ruleset,
			URL:     trimmed,
			Kind:    Classify(trimmed),
		})
	}
	return built
}

// FileName derives a filesystem-safe name for a source URL, used for the
// per-source download destination inside a ruleset working directory.
func FileName(rawURL string, index int) string {
	base := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		base = sanitize(path.Base(parsed.Path))
	}
	if base == "" || base == "." || base == "/" || !strings.Contains(base, ".") {
		base = fmt.Sprintf("source_%d.txt", index+1)
	}
	return fmt.Sprintf("%02d_%s", index+1, base)
}

func sanitize(input string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, input)
	const maxLength = 100
	if len(replaced) > maxLength {
		return replaced[:maxLength]
	}
	return replaced
}
