package toolexecutor

import (
	"fmt"
	"sort"
)

// ToolPolicy defines which tools an agent can use. Deny always wins.
type ToolPolicy struct {
	Allow          []string       `json:"allow" yaml:"allow"` // tool names, * for all
	Deny           []string       `json:"deny" yaml:"deny"`
	DenyCategories []ToolCategory `json:"deny_categories,omitempty" yaml:"deny_categories,omitempty"`
}

// AllowOnly returns a policy allowing exactly names
func AllowOnly(names ...string) *ToolPolicy {
	return &ToolPolicy{Allow: append([]string(nil), names...)}
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// Permits checks the tool name and its category
func (tp *ToolPolicy) Permits(def ToolDefinition) bool {
	if tp == nil {
		return true
	}
	for _, c := range tp.DenyCategories {
		if def.category() == c {
			return false
		}
	}
	return tp.IsToolAllowed(def.Name)
}

// Validate rejects policies that can never allow anything
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}
	for _, d := range tp.Deny {
		if d == "*" {
			return fmt.Errorf("policy denies every tool")
		}
	}
	for _, c := range tp.DenyCategories {
		if !IsValidCategory(string(c)) {
			return fmt.Errorf("invalid category in policy: %s", c)
		}
	}
	return nil
}

// MergePolicies merges policies into one: the intersection of the allow
// lists and the union of the deny lists. Nil policies are skipped.
func MergePolicies(policies ...*ToolPolicy) *ToolPolicy {
	var valid []*ToolPolicy
	for _, p := range policies {
		if p != nil {
			valid = append(valid, p)
		}
	}

	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	}

	denySet := make(map[string]bool)
	catSet := make(map[ToolCategory]bool)
	for _, p := range valid {
		for _, d := range p.Deny {
			denySet[d] = true
		}
		for _, c := range p.DenyCategories {
			catSet[c] = true
		}
	}

	allowSet := make(map[string]bool)
	for _, a := range valid[0].Allow {
		allowSet[a] = true
	}
	for _, p := range valid[1:] {
		other := make(map[string]bool)
		for _, a := range p.Allow {
			other[a] = true
		}

		next := make(map[string]bool)
		for a := range allowSet {
			switch {
			case a == "*":
				// the wildcard narrows to the other list
				for b := range other {
					next[b] = true
				}
			case other[a] || other["*"]:
				next[a] = true
			}
		}
		allowSet = next
	}

	merged := &ToolPolicy{
		Allow:          sortedKeys(allowSet),
		Deny:           sortedKeys(denySet),
		DenyCategories: make([]ToolCategory, 0, len(catSet)),
	}
	for c := range catSet {
		merged.DenyCategories = append(merged.DenyCategories, c)
	}
	sort.Slice(merged.DenyCategories, func(i, j int) bool {
		return merged.DenyCategories[i] < merged.DenyCategories[j]
	})

	return merged
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
