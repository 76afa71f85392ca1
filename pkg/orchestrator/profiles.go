package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProfileRole tells whether an agent answers the user or works for the primary
type ProfileRole string

const (
	ProfileRolePrimary ProfileRole = "primary"
	ProfileRoleSub     ProfileRole = "sub"
)

// DefaultPrimaryPrompt is the system prompt of the jarvis agent
const DefaultPrimaryPrompt = "You are Jarvis, a helpful assistant. If you are ask to code or asked about code -> " +
	"use the 'call_coder' tool to call the expert coder model. " +
	"Always try to use the tools if they are relevant to the question."

// DefaultSubAgentPrompt is the system prompt of the coder agent
const DefaultSubAgentPrompt = "You are an expert software engineer. Solve the coding task you are given. " +
	"Use your tools to inspect and change files when needed, then answer with the result."

// AgentProfile describes one agent
type AgentProfile struct {
	Name         string      `json:"name" yaml:"name"`
	Role         ProfileRole `json:"role" yaml:"role"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	PromptFile   string      `json:"prompt_file,omitempty" yaml:"prompt_file,omitempty"`
	Tools        []string    `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Validate checks the profile
func (p AgentProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	switch p.Role {
	case ProfileRolePrimary, ProfileRoleSub:
	default:
		return fmt.Errorf("agent %s: invalid role %q (must be primary or sub)", p.Name, p.Role)
	}
	return nil
}

// profileFile is the on-disk layout
type profileFile struct {
	Agents []AgentProfile `json:"agents" yaml:"agents"`
}

// DefaultProfiles returns the built-in jarvis and coder profiles
func DefaultProfiles() []AgentProfile {
	return []AgentProfile{
		{
			Name:         "jarvis",
			Role:         ProfileRolePrimary,
			SystemPrompt: DefaultPrimaryPrompt,
			Tools:        []string{"get_Weather", "get_location", "add_numbers"},
		},
		{
			Name:         "coder",
			Role:         ProfileRoleSub,
			SystemPrompt: DefaultSubAgentPrompt,
			Tools:        []string{"read_file", "write_file", "list_files", "run_command", "web_search"},
		},
	}
}

// LoadProfiles reads agent profiles from a JSON or YAML file. Prompt files
// are resolved relative to the profile file.
func LoadProfiles(path string) ([]AgentProfile, error) {
	if path == "" {
		return nil, fmt.Errorf("profile file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var file profileFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON profiles: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML profiles: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile file format: %s (supported: .json, .yaml, .yml)", ext)
	}

	dir := filepath.Dir(path)
	for i := range file.Agents {
		p := &file.Agents[i]
		if p.PromptFile == "" || p.SystemPrompt != "" {
			continue
		}
		promptPath := p.PromptFile
		if !filepath.IsAbs(promptPath) {
			promptPath = filepath.Join(dir, promptPath)
		}
		prompt, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("agent %s: failed to read prompt file: %w", p.Name, err)
		}
		p.SystemPrompt = strings.TrimSpace(string(prompt))
	}

	if err := ValidateProfiles(file.Agents); err != nil {
		return nil, err
	}

	return file.Agents, nil
}

// ValidateProfiles validates each profile and rejects duplicate names
func ValidateProfiles(profiles []AgentProfile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("no agent profiles found")
	}

	seen := make(map[string]bool)
	for i, p := range profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("agent profile at index %d is invalid: %w", i, err)
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return fmt.Errorf("duplicate agent name: %s", p.Name)
		}
		seen[key] = true
	}

	return nil
}

// ProfileRegistry holds agent profiles by lower-cased name
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]AgentProfile
}

// NewProfileRegistry creates a registry seeded with profiles
func NewProfileRegistry(profiles ...AgentProfile) (*ProfileRegistry, error) {
	r := &ProfileRegistry{profiles: make(map[string]AgentProfile)}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a profile
func (r *ProfileRegistry) Register(p AgentProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[strings.ToLower(p.Name)] = p
	return nil
}

// Get returns the profile with name, case-insensitively
func (r *ProfileRegistry) Get(name string) (AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.ToLower(name)]
	return p, ok
}

// Names returns the registered names in sorted order
func (r *ProfileRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Primary returns the profile named name, which must have the primary role
func (r *ProfileRegistry) Primary(name string) (AgentProfile, error) {
	return r.withRole(name, ProfileRolePrimary)
}

// Sub returns the profile named name, which must have the sub role
func (r *ProfileRegistry) Sub(name string) (AgentProfile, error) {
	return r.withRole(name, ProfileRoleSub)
}

func (r *ProfileRegistry) withRole(name string, role ProfileRole) (AgentProfile, error) {
	p, ok := r.Get(name)
	if !ok {
		return AgentProfile{}, fmt.Errorf("agent profile not found: %s", name)
	}
	if p.Role != role {
		return AgentProfile{}, fmt.Errorf("agent %s has role %s, want %s", p.Name, p.Role, role)
	}
	return p, nil
}
