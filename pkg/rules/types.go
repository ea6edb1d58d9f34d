// Package rules implements the merge, dedup and filter engine for rule-set
// sources. Structured JSON fragments and proxy-rule line lists are folded
// into one accumulator per ruleset and finalized into the document the
// rule-set compiler consumes.
package rules

// ruleTypeDomain is special cased during assembly: its group is emitted
// first in the rules list.
const ruleTypeDomain = "domain"

// keywordMap translates raw proxy-rule vocabulary to canonical rule types.
var keywordMap = map[string]string{
	"DOMAIN-SUFFIX":  "domain_suffix",
	"HOST-SUFFIX":    "domain_suffix",
	"host-suffix":    "domain_suffix",
	"DOMAIN":         "domain",
	"HOST":           "domain",
	"host":           "domain",
	"DOMAIN-KEYWORD": "domain_keyword",
	"HOST-KEYWORD":   "domain_keyword",
	"host-keyword":   "domain_keyword",
	"IP-CIDR":        "ip_cidr",
	"ip-cidr":        "ip_cidr",
	"IP-CIDR6":       "ip_cidr",
	"IP6-CIDR":       "ip_cidr",
	"SRC-IP-CIDR":    "source_ip_cidr",
	"GEOIP":          "geoip",
	"DST-PORT":       "port",
	"SRC-PORT":       "source_port",
	"URL-REGEX":      "domain_regex",
	"DOMAIN-REGEX":   "domain_regex",
}

// keywordOrder fixes the matching order for logical-rule components so the
// output is deterministic. Longer keywords come before their prefixes.
var keywordOrder = []string{
	"DOMAIN-SUFFIX", "HOST-SUFFIX", "host-suffix",
	"DOMAIN-KEYWORD", "HOST-KEYWORD", "host-keyword",
	"DOMAIN-REGEX", "URL-REGEX",
	"DOMAIN", "HOST", "host",
	"SRC-IP-CIDR", "IP-CIDR6", "IP6-CIDR", "IP-CIDR", "ip-cidr",
	"GEOIP", "DST-PORT", "SRC-PORT",
}

// Subrule is one condition of a compound rule.
type Subrule struct {
	Type  string
	Value string
}

// LogicalRule is an AND-composed compound rule. Logical rules are kept
// structurally intact: they are never deduplicated against scalar groups
// and are appended after them in the final document.
type LogicalRule struct {
	Subrules []Subrule
}

// asRule renders the compound rule in document form.
func (l LogicalRule) asRule() map[string]any {
	subs := make([]any, 0, len(l.Subrules))
	for _, s := range l.Subrules {
		subs = append(subs, map[string]any{s.Type: s.Value})
	}
	return map[string]any{
		"type":  "logical",
		"mode":  "and",
		"rules": subs,
	}
}
