package toolexecutor

import "strings"

// ToolCategory groups tools by the kind of side effect they have
type ToolCategory string

const (
	CategoryRead    ToolCategory = "read"
	CategoryWrite   ToolCategory = "write"
	CategoryShell   ToolCategory = "shell"
	CategoryWeb     ToolCategory = "web"
	CategoryAgent   ToolCategory = "agent" // hands work to another agent
	CategoryGeneral ToolCategory = "general"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategoryAgent,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// ParseCategories converts names to categories, skipping unknown ones
func ParseCategories(names []string) []ToolCategory {
	var out []ToolCategory
	for _, n := range names {
		if IsValidCategory(n) {
			out = append(out, ToolCategory(strings.ToLower(n)))
		}
	}
	return out
}

// FilterByCategory returns the definitions in any of the categories
func FilterByCategory(defs []ToolDefinition, categories ...ToolCategory) []ToolDefinition {
	set := make(map[ToolCategory]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}

	var out []ToolDefinition
	for _, d := range defs {
		if set[d.category()] {
			out = append(out, d)
		}
	}
	return out
}
