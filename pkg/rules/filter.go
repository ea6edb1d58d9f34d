package rules

import "strings"

// Filter removes every scalar value containing any denylist substring,
// case-insensitively, from the document's rules list. Rule-type entries left
// with no values are dropped, as are rule objects left with no list fields
// other than their structural markers. The removed-value count is returned
// for the run summary.
func Filter(doc map[string]any, denylist []string) int {
	if len(denylist) == 0 {
		return 0
	}
	ruleList, ok := doc["rules"].([]any)
	if !ok {
		return 0
	}
	lowered := make([]string, len(denylist))
	for i, k := range denylist {
		lowered[i] = strings.ToLower(k)
	}

	filtered := make([]any, 0, len(ruleList))
	removed := 0
	for _, raw := range ruleList {
		rule, ok := raw.(map[string]any)
		if !ok {
			filtered = append(filtered, raw)
			continue
		}
		listFields := 0
		for ruleType, rawValues := range rule {
			values, ok := rawValues.([]any)
			if !ok {
				if values, ok := rawValues.([]string); ok {
					kept, dropped := filterStrings(values, lowered)
					removed += dropped
					if len(kept) == 0 {
						delete(rule, ruleType)
					} else {
						rule[ruleType] = kept
						listFields++
					}
				}
				continue
			}
			kept := make([]any, 0, len(values))
			for _, v := range values {
				if s, isStr := v.(string); isStr && denied(s, lowered) {
					removed++
					continue
				}
				kept = append(kept, v)
			}
			if len(kept) == 0 {
				delete(rule, ruleType)
				continue
			}
			rule[ruleType] = kept
			listFields++
		}
		if listFields > 0 || isLogical(rule) {
			filtered = append(filtered, rule)
		}
	}
	doc["rules"] = filtered
	return removed
}

func filterStrings(values []string, lowered []string) ([]string, int) {
	kept := make([]string, 0, len(values))
	dropped := 0
	for _, v := range values {
		if denied(v, lowered) {
			dropped++
			continue
		}
		kept = append(kept, v)
	}
	return kept, dropped
}

func denied(value string, lowered []string) bool {
	v := strings.ToLower(value)
	for _, k := range lowered {
		if strings.Contains(v, k) {
			return true
		}
	}
	return false
}

func isLogical(rule map[string]any) bool {
	t, _ := rule["type"].(string)
	return t == "logical"
}

// CountValues returns the number of scalar rule values in a finalized
// document, counting each logical rule as one.
func CountValues(doc map[string]any) int {
	ruleList, ok := doc["rules"].([]any)
	if !ok {
		return 0
	}
	n := 0
	for _, raw := range ruleList {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if isLogical(rule) {
			n++
			continue
		}
		for _, rawValues := range rule {
			switch values := rawValues.(type) {
			case []any:
				n += len(values)
			case []string:
				n += len(values)
			}
		}
	}
	return n
}
