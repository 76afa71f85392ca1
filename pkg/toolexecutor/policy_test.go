package toolexecutor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	tests := []struct {
		name    string
		policy  *ToolPolicy
		tool    string
		allowed bool
	}{
		{"nil policy allows all", nil, "anything", true},
		{"explicit allow", &ToolPolicy{Allow: []string{"read_file"}}, "read_file", true},
		{"not listed", &ToolPolicy{Allow: []string{"read_file"}}, "write_file", false},
		{"wildcard", &ToolPolicy{Allow: []string{"*"}}, "write_file", true},
		{"deny overrides allow", &ToolPolicy{Allow: []string{"*"}, Deny: []string{"run_command"}}, "run_command", false},
		{"empty allow denies", &ToolPolicy{}, "read_file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.policy.IsToolAllowed(tt.tool))
		})
	}
}

func TestToolPolicy_Permits(t *testing.T) {
	policy := &ToolPolicy{Allow: []string{"*"}, DenyCategories: []ToolCategory{CategoryShell}}

	assert.False(t, policy.Permits(ToolDefinition{Name: "run_command", Category: CategoryShell}))
	assert.True(t, policy.Permits(ToolDefinition{Name: "read_file", Category: CategoryRead}))
	assert.True(t, policy.Permits(ToolDefinition{Name: "get_location"}))
}

func TestToolPolicy_Validate(t *testing.T) {
	assert.NoError(t, (*ToolPolicy)(nil).Validate())
	assert.Error(t, (&ToolPolicy{Deny: []string{"*"}}).Validate())
	assert.Error(t, (&ToolPolicy{DenyCategories: []ToolCategory{"nope"}}).Validate())
	assert.NoError(t, AllowOnly("a").Validate())
}

func TestMergePolicies(t *testing.T) {
	t.Run("should skip nil policies", func(t *testing.T) {
		assert.Nil(t, MergePolicies(nil, nil))
		p := AllowOnly("a")
		assert.Same(t, p, MergePolicies(nil, p))
	})

	t.Run("should intersect allow lists and union deny lists", func(t *testing.T) {
		merged := MergePolicies(
			&ToolPolicy{Allow: []string{"a", "b", "c"}, Deny: []string{"x"}},
			&ToolPolicy{Allow: []string{"b", "c", "d"}, Deny: []string{"y"}},
		)
		assert.Equal(t, []string{"b", "c"}, merged.Allow)
		assert.Equal(t, []string{"x", "y"}, merged.Deny)
	})

	t.Run("should narrow a wildcard to the other list", func(t *testing.T) {
		merged := MergePolicies(
			&ToolPolicy{Allow: []string{"*"}, Deny: []string{"run_command"}},
			AllowOnly("read_file", "run_command"),
		)
		assert.Equal(t, []string{"read_file", "run_command"}, merged.Allow)
		assert.False(t, merged.IsToolAllowed("run_command"))
		assert.True(t, merged.IsToolAllowed("read_file"))
	})
}

func TestCategories(t *testing.T) {
	assert.True(t, IsValidCategory("SHELL"))
	assert.False(t, IsValidCategory("magic"))
	assert.Equal(t, []ToolCategory{CategoryShell, CategoryWeb}, ParseCategories([]string{"shell", "magic", "Web"}))

	defs := []ToolDefinition{
		{Name: "a", Category: CategoryRead},
		{Name: "b", Category: CategoryShell},
		{Name: "c"},
	}
	filtered := FilterByCategory(defs, CategoryGeneral, CategoryShell)
	require.Len(t, filtered, 2)
	assert.Equal(t, "b", filtered[0].Name)
	assert.Equal(t, "c", filtered[1].Name)
}

func TestRegistry(t *testing.T) {
	te := newTestExecutor(Config{})
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "shell",
		Description: "Runs things",
		Category:    CategoryShell,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "ran", nil
		},
	}))

	r := NewRegistry(te, RegistryOptions{Agent: "jarvis", Policy: AllowOnly("echo")})

	assert.Equal(t, "jarvis", r.Agent())
	assert.Equal(t, "hi", r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}))
	assert.Equal(t, "tool not found: search", r.Execute(context.Background(), "search", nil))
	assert.Contains(t, r.Execute(context.Background(), "shell", nil), "not allowed")

	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)

	open := NewRegistry(te, RegistryOptions{Agent: "coder"})
	assert.Len(t, open.Definitions(), 2)
	assert.Equal(t, "ran", open.Execute(context.Background(), "shell", nil))
}
