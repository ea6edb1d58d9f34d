package rules

import (
	"reflect"
	"testing"
)

func TestFilterRemovesDenylistedValues(t *testing.T) {
	doc := map[string]any{
		"version": 1,
		"rules": []any{
			map[string]any{"domain": []string{"keep.com", "ruleset.skk.moe"}},
		},
	}

	removed := Filter(doc, []string{"ruleset.skk.moe"})
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got := doc["rules"].([]any)[0].(map[string]any)["domain"].([]string)
	if !reflect.DeepEqual(got, []string{"keep.com"}) {
		t.Errorf("domain values = %v, want [keep.com]", got)
	}
}

func TestFilterIsCaseInsensitive(t *testing.T) {
	doc := map[string]any{
		"rules": []any{
			map[string]any{"domain": []any{"RULESET.SKK.MOE", "sub.Ruleset.Skk.Moe.example"}},
		},
	}
	if removed := Filter(doc, []string{"ruleset.skk.moe"}); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if got := doc["rules"].([]any); len(got) != 0 {
		t.Errorf("rules = %#v, want empty", got)
	}
}

func TestFilterDropsEmptiedGroups(t *testing.T) {
	doc := map[string]any{
		"rules": []any{
			map[string]any{"domain": []string{"blocked.skk.moe"}},
			map[string]any{"ip_cidr": []string{"10.0.0.0/8"}},
		},
	}
	if removed := Filter(doc, []string{"skk.moe"}); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	ruleList := doc["rules"].([]any)
	if len(ruleList) != 1 {
		t.Fatalf("got %d rules, want 1", len(ruleList))
	}
	if _, ok := ruleList[0].(map[string]any)["ip_cidr"]; !ok {
		t.Errorf("surviving rule = %#v, want ip_cidr", ruleList[0])
	}
}

func TestFilterKeepsLogicalRules(t *testing.T) {
	logical := map[string]any{
		"type": "logical",
		"mode": "and",
		"rules": []any{
			map[string]any{"domain": "foo.com"},
			map[string]any{"port": "443"},
		},
	}
	doc := map[string]any{
		"rules": []any{
			map[string]any{"domain": []string{"keep.com"}},
			logical,
		},
	}
	if removed := Filter(doc, []string{"skk.moe"}); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	ruleList := doc["rules"].([]any)
	if len(ruleList) != 2 {
		t.Fatalf("got %d rules, want 2", len(ruleList))
	}
	if !reflect.DeepEqual(ruleList[1], logical) {
		t.Errorf("logical rule mutated: %#v", ruleList[1])
	}
}

func TestFilterWithoutDenylist(t *testing.T) {
	doc := map[string]any{
		"rules": []any{map[string]any{"domain": []string{"a.com"}}},
	}
	if removed := Filter(doc, nil); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestCountValues(t *testing.T) {
	doc := map[string]any{
		"rules": []any{
			map[string]any{"domain": []string{"a.com", "b.com"}},
			map[string]any{"ip_cidr": []any{"10.0.0.0/8"}},
			map[string]any{"type": "logical", "mode": "and", "rules": []any{}},
		},
	}
	if got := CountValues(doc); got != 4 {
		t.Errorf("CountValues = %d, want 4", got)
	}
}
