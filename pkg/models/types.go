// Package models keeps the per-agent model selection document (conf.json):
// which provider and model each agent runs on, and what it may switch to.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownModel    = errors.New("unknown model")
	ErrNoBackup        = errors.New("backup not found")
)

// Selection names one model on one provider
type Selection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// IsZero reports whether the selection is unset
func (s Selection) IsZero() bool {
	return s.Provider == "" && s.Model == ""
}

func (s Selection) String() string {
	return s.Provider + "/" + s.Model
}

// ProviderModels is the model list of one provider
type ProviderModels struct {
	Provider string
	Models   []string
}

// Catalog lists models by provider, keeping the order of the document
type Catalog []ProviderModels

// Providers returns the provider names in order
func (c Catalog) Providers() []string {
	out := make([]string, len(c))
	for i, p := range c {
		out[i] = p.Provider
	}
	return out
}

// Models returns the models of provider
func (c Catalog) Models(provider string) ([]string, bool) {
	for _, p := range c {
		if p.Provider == provider {
			return p.Models, true
		}
	}
	return nil, false
}

// Has reports whether provider offers model
func (c Catalog) Has(provider, model string) bool {
	models, ok := c.Models(provider)
	if !ok {
		return false
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// merge appends other into c, de-duplicating while keeping first-seen order
func (c Catalog) merge(other Catalog) Catalog {
	for _, p := range other {
		idx := -1
		for i := range c {
			if c[i].Provider == p.Provider {
				idx = i
				break
			}
		}
		if idx < 0 {
			c = append(c, ProviderModels{Provider: p.Provider})
			idx = len(c) - 1
		}
		for _, m := range p.Models {
			if !c.Has(p.Provider, m) {
				c[idx].Models = append(c[idx].Models, m)
			}
		}
	}
	return c
}

// UnmarshalJSON reads a provider → models object in document order
func (c *Catalog) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid available models JSON")
	}
	doc := gjson.ParseBytes(data)
	if doc.Type == gjson.Null {
		*c = nil
		return nil
	}
	if !doc.IsObject() {
		return fmt.Errorf("available models must be an object")
	}

	var out Catalog
	var err error
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			err = fmt.Errorf("models of provider %s must be a list", key.String())
			return false
		}
		entry := ProviderModels{Provider: key.String()}
		for _, m := range value.Array() {
			entry.Models = append(entry.Models, m.String())
		}
		out = append(out, entry)
		return true
	})
	if err != nil {
		return err
	}

	*c = out
	return nil
}

// MarshalJSON writes the catalog as an object in order
func (c Catalog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Provider)
		if err != nil {
			return nil, err
		}
		models := p.Models
		if models == nil {
			models = []string{}
		}
		value, err := json.Marshal(models)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AgentModels is the model configuration of one agent
type AgentModels struct {
	Default   Selection  `json:"default"`
	Active    *Selection `json:"active,omitempty"`
	Available Catalog    `json:"available"`
}

// Current returns the active selection, else the default
func (a *AgentModels) Current() Selection {
	if a.Active != nil && !a.Active.IsZero() {
		return *a.Active
	}
	return a.Default
}

// Document is the on-disk layout of conf.json
type Document struct {
	Agents map[string]*AgentModels `json:"agents"`
}

// Validate checks that every agent has a usable default
func (d *Document) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	for name, a := range d.Agents {
		if a == nil {
			return fmt.Errorf("agent %s has no configuration", name)
		}
		if a.Current().Provider == "" || a.Current().Model == "" {
			return fmt.Errorf("agent %s has no default model", name)
		}
	}
	return nil
}

func (d *Document) clone() *Document {
	out := &Document{Agents: make(map[string]*AgentModels, len(d.Agents))}
	for name, a := range d.Agents {
		cp := *a
		if a.Active != nil {
			active := *a.Active
			cp.Active = &active
		}
		cp.Available = make(Catalog, len(a.Available))
		for i, p := range a.Available {
			cp.Available[i] = ProviderModels{Provider: p.Provider, Models: append([]string(nil), p.Models...)}
		}
		out.Agents[name] = &cp
	}
	return out
}

// DefaultDocument is written when no conf.json exists yet
func DefaultDocument() *Document {
	return &Document{
		Agents: map[string]*AgentModels{
			"jarvis": {
				Default: Selection{Provider: "ollama", Model: "gpt-oss:20b"},
				Available: Catalog{
					{Provider: "ollama", Models: []string{"gpt-oss:20b", "llama3.1:8b", "qwen3:8b"}},
					{Provider: "gemini", Models: []string{"gemini-flash-latest", "gemini-2.5-pro"}},
					{Provider: "openai", Models: []string{"gpt-4o-mini", "gpt-4o"}},
					{Provider: "anthropic", Models: []string{"claude-sonnet-4-5", "claude-haiku-4-5"}},
				},
			},
			"coder": {
				Default: Selection{Provider: "ollama", Model: "qwen3-coder:30b"},
				Available: Catalog{
					{Provider: "ollama", Models: []string{"qwen3-coder:30b", "gpt-oss:20b"}},
					{Provider: "gemini", Models: []string{"gemini-flash-latest", "gemini-2.5-pro"}},
					{Provider: "anthropic", Models: []string{"claude-sonnet-4-5"}},
				},
			},
		},
	}
}
