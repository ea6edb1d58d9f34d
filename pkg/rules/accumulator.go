package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// mergeBatchSize bounds how many values are folded per step so one oversized
// rule group cannot spike memory.
const mergeBatchSize = 1000

// Accumulator folds parsed payloads into per-ruleType value sets. One
// accumulator serves exactly one merge invocation; it holds no state shared
// across rulesets.
type Accumulator struct {
	groups  map[string]map[string]struct{}
	order   []string
	domains map[string]struct{}
	logical []LogicalRule

	payloads int
	pending  map[string]any

	strict          bool
	droppedKeywords int
	droppedValues   int
	log             *slog.Logger
}

// NewAccumulator returns an empty accumulator. With strict enabled, CIDR and
// domain values that fail well-formedness checks are dropped with a
// diagnostic instead of merged.
func NewAccumulator(strict bool, log *slog.Logger) *Accumulator {
	if log == nil {
		log = slog.Default()
	}
	return &Accumulator{
		groups:  make(map[string]map[string]struct{}),
		domains: make(map[string]struct{}),
		strict:  strict,
		log:     log,
	}
}

// AddFragment folds one structured JSON payload. The first fragment is held
// back unfolded: if it turns out to be the only payload, Finalize passes it
// through with just the version replaced.
func (a *Accumulator) AddFragment(r io.Reader) error {
	var doc map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode rule fragment: %w", err)
	}

	a.payloads++
	if a.payloads == 1 {
		a.pending = doc
		return nil
	}
	a.flushPending()
	a.foldFragment(doc)
	return nil
}

// flushPending folds the held-back first fragment once a second payload of
// any kind arrives.
func (a *Accumulator) flushPending() {
	if a.pending != nil {
		doc := a.pending
		a.pending = nil
		a.foldFragment(doc)
	}
}

// foldFragment merges every (ruleType, values) pair of the fragment into the
// per-type sets. Unknown rule types are carried through unchanged. Fields
// whose value is not a list, such as the markers of embedded logical rules,
// are ignored the way the upstream sources expect.
func (a *Accumulator) foldFragment(doc map[string]any) {
	ruleList, ok := doc["rules"].([]any)
	if !ok {
		ruleList = []any{any(doc)}
	}

	for _, raw := range ruleList {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		// Object keys carry no order after decoding; sort them so the
		// encounter order, and with it the output, is reproducible.
		types := make([]string, 0, len(rule))
		for t := range rule {
			types = append(types, t)
		}
		sort.Strings(types)

		for _, ruleType := range types {
			values, ok := rule[ruleType].([]any)
			if !ok {
				continue
			}
			for start := 0; start < len(values); start += mergeBatchSize {
				end := start + mergeBatchSize
				if end > len(values) {
					end = len(values)
				}
				for _, v := range values[start:end] {
					s, ok := v.(string)
					if !ok {
						continue
					}
					a.add(ruleType, s)
				}
			}
		}
	}
}

// add places one value into its rule-type set, applying strict validation
// when enabled.
func (a *Accumulator) add(ruleType, value string) {
	if value == "" {
		return
	}
	if a.strict && !validValue(ruleType, value) {
		a.droppedValues++
		a.log.Debug("dropping malformed rule value", "type", ruleType, "value", value)
		return
	}
	if ruleType == ruleTypeDomain {
		a.domains[value] = struct{}{}
		return
	}
	set, ok := a.groups[ruleType]
	if !ok {
		set = make(map[string]struct{})
		a.groups[ruleType] = set
		a.order = append(a.order, ruleType)
	}
	set[value] = struct{}{}
}

// addLogical appends a compound rule verbatim.
func (a *Accumulator) addLogical(rule LogicalRule) {
	a.logical = append(a.logical, rule)
}

// Empty reports whether nothing was accumulated.
func (a *Accumulator) Empty() bool {
	return a.pending == nil && len(a.groups) == 0 && len(a.domains) == 0 && len(a.logical) == 0
}

// Finalize assembles the merged document: scalar groups in encounter order
// with sorted, deduplicated values, the domain group first when present, and
// logical rules last. A lone structured fragment is passed through with only
// the version replaced.
func (a *Accumulator) Finalize(version int) map[string]any {
	if a.pending != nil && a.payloads == 1 &&
		len(a.groups) == 0 && len(a.domains) == 0 && len(a.logical) == 0 {
		doc := a.pending
		a.pending = nil
		doc["version"] = version
		return doc
	}
	a.flushPending()

	merged := make([]any, 0, len(a.order)+2)
	for _, ruleType := range a.order {
		set := a.groups[ruleType]
		if len(set) == 0 {
			continue
		}
		merged = append(merged, map[string]any{ruleType: sortedValues(set)})
	}
	if len(a.domains) > 0 {
		merged = append([]any{map[string]any{ruleTypeDomain: sortedValues(a.domains)}}, merged...)
	}
	for _, l := range a.logical {
		merged = append(merged, l.asRule())
	}

	return map[string]any{"version": version, "rules": merged}
}

// sortedValues flattens a set into a lexicographically sorted slice.
func sortedValues(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}
