package rules

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// maxLineBytes caps a single source line; anything longer is malformed input.
const maxLineBytes = 1 << 20

// maxKeywordDiagnostics limits per-source log noise for unmapped keywords.
const maxKeywordDiagnostics = 10

// AddLineList folds a line-oriented payload. Clash-style YAML documents with
// a payload key are detected by the file name or by sniffing the first
// non-comment line; everything else is parsed as proxy-rule text: one
// `PATTERN,value[,...]` record or one bare domain/CIDR token per line.
// Comment and blank lines are skipped. Records whose pattern field is AND
// become logical rules and bypass scalar dedup.
func (a *Accumulator) AddLineList(r io.Reader, name string) error {
	a.payloads++
	a.flushPending()

	if isYAMLName(name) {
		return a.addYAML(r)
	}

	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(512)
	if looksLikeYAML(head) {
		return a.addYAML(br)
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	unknown := 0
	unknownLogged := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern, value, tagged := cutRecord(line)
		if pattern == "AND" {
			if rule, ok := parseLogicalLine(line); ok {
				a.addLogical(rule)
			}
			continue
		}
		if !tagged {
			a.add(classifyBareToken(pattern), pattern)
			continue
		}
		ruleType, ok := keywordMap[pattern]
		if !ok {
			a.droppedKeywords++
			unknown++
			if unknownLogged < maxKeywordDiagnostics {
				a.log.Warn("skipping unmapped rule keyword", "keyword", pattern, "source", name)
				unknownLogged++
			}
			continue
		}
		a.add(ruleType, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read line list %s: %w", name, err)
	}
	if unknown > unknownLogged {
		a.log.Warn("unmapped rule keywords skipped", "source", name, "count", unknown)
	}
	return nil
}

// addYAML folds a clash-style document: the payload list holds either
// `PATTERN,value` strings, bare domains, or maps of pattern to value(s).
func (a *Accumulator) addYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read yaml payload: %w", err)
	}
	var doc struct {
		Payload []any `yaml:"payload"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode yaml payload: %w", err)
	}

	for _, item := range doc.Payload {
		switch v := item.(type) {
		case string:
			pattern, value, tagged := cutRecord(v)
			if !tagged {
				a.add(classifyBareToken(pattern), pattern)
				continue
			}
			if ruleType, ok := keywordMap[pattern]; ok {
				a.add(ruleType, value)
			} else {
				a.droppedKeywords++
			}
		case map[string]any:
			for key, raw := range v {
				ruleType, ok := keywordMap[key]
				if !ok {
					a.droppedKeywords++
					continue
				}
				switch val := raw.(type) {
				case []any:
					for _, e := range val {
						if s, ok := e.(string); ok {
							a.add(ruleType, s)
						}
					}
				case string:
					a.add(ruleType, val)
				}
			}
		}
	}
	return nil
}

// parseLogicalLine extracts the parenthesized components of a compound line
// such as `AND,((DOMAIN,foo.com),(DST-PORT,443))`.
func parseLogicalLine(line string) (LogicalRule, bool) {
	var rule LogicalRule
	for _, component := range parenGroups(line) {
		for _, keyword := range keywordOrder {
			// Anchored at the component start so IP-CIDR never claims a
			// SRC-IP-CIDR component.
			if !strings.HasPrefix(component, keyword+",") {
				continue
			}
			value := component[len(keyword)+1:]
			rule.Subrules = append(rule.Subrules, Subrule{Type: keywordMap[keyword], Value: value})
			break
		}
	}
	return rule, len(rule.Subrules) > 0
}

// parenGroups returns the contents of each innermost (...) pair, in order.
func parenGroups(s string) []string {
	var groups []string
	depth := 0
	start := -1
	for i, c := range s {
		switch c {
		case '(':
			depth++
			start = i + 1
		case ')':
			if depth > 0 && start >= 0 {
				groups = append(groups, s[start:i])
				start = -1
			}
			depth--
		}
	}
	return groups
}

// cutRecord splits a `pattern,address[,...]` record. Untagged single-token
// lines report tagged=false with the token in pattern.
func cutRecord(line string) (pattern, value string, tagged bool) {
	pattern, rest, found := strings.Cut(line, ",")
	pattern = strings.TrimSpace(pattern)
	if !found {
		return pattern, "", false
	}
	// Trailing columns (policy, no-resolve, ...) are dropped.
	value, _, _ = strings.Cut(rest, ",")
	return pattern, strings.TrimSpace(value), true
}

// classifyBareToken decides whether an untagged line is an address or a
// domain name.
func classifyBareToken(token string) string {
	if _, err := netip.ParsePrefix(token); err == nil {
		return "ip_cidr"
	}
	if _, err := netip.ParseAddr(token); err == nil {
		return "ip_cidr"
	}
	return ruleTypeDomain
}

// validValue applies the optional well-formedness check used in strict mode.
// Only address and domain shapes are verified; other rule types pass.
func validValue(ruleType, value string) bool {
	switch ruleType {
	case "ip_cidr", "source_ip_cidr":
		if _, err := netip.ParsePrefix(value); err == nil {
			return true
		}
		_, err := netip.ParseAddr(value)
		return err == nil
	case "domain", "domain_suffix":
		name := strings.TrimPrefix(value, ".")
		_, ok := dns.IsDomainName(name)
		return ok
	default:
		return true
	}
}

func isYAMLName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// looksLikeYAML sniffs for a clash-style payload document.
func looksLikeYAML(head []byte) bool {
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "payload:")
	}
	return false
}
