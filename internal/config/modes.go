package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Mode is a selectable chat mode: which upstream model answers, whether the
// executor searches the web first, and what it costs.
type Mode struct {
	ID              string `yaml:"id" toml:"id" json:"id"`
	Name            string `yaml:"name" toml:"name" json:"name"`
	Model           string `yaml:"model" toml:"model" json:"model"`
	WebSearch       bool   `yaml:"web_search" toml:"web_search" json:"webSearch"`
	AuthRequired    bool   `yaml:"auth_required" toml:"auth_required" json:"authRequired"`
	CreditCost      int    `yaml:"credit_cost" toml:"credit_cost" json:"creditCost"`
	ReasoningEffort string `yaml:"reasoning_effort,omitempty" toml:"reasoning_effort" json:"reasoningEffort,omitempty"`
	SystemPrompt    string `yaml:"system_prompt,omitempty" toml:"system_prompt" json:"-"`
}

type modesFile struct {
	Modes []Mode `yaml:"modes" toml:"modes"`
}

// Modes is an ordered, immutable mode catalog.
type Modes struct {
	list []Mode
	byID map[string]Mode
}

func DefaultModes(defaultModel string) Modes {
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = defaultDefaultModel
	}
	modes, _ := NewModes([]Mode{
		{ID: "chat", Name: "Chat", Model: defaultModel, CreditCost: 1},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Model: "openai/gpt-4o-mini", CreditCost: 1},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Model: "google/gemini-2.0-flash-001", CreditCost: 1},
		{ID: "claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Model: "anthropic/claude-3.5-sonnet", AuthRequired: true, CreditCost: 5},
		{ID: "pro", Name: "Pro Search", Model: "google/gemini-2.0-flash-001", WebSearch: true, AuthRequired: true, CreditCost: 5},
		{ID: "deep", Name: "Deep Research", Model: "openai/o3-mini", WebSearch: true, AuthRequired: true, CreditCost: 10, ReasoningEffort: "high"},
	})
	return modes
}

func NewModes(list []Mode) (Modes, error) {
	if len(list) == 0 {
		return Modes{}, errors.New("at least one mode is required")
	}

	out := Modes{list: make([]Mode, 0, len(list)), byID: make(map[string]Mode, len(list))}
	for i, mode := range list {
		mode.ID = strings.TrimSpace(mode.ID)
		mode.Model = strings.TrimSpace(mode.Model)
		if mode.ID == "" {
			return Modes{}, fmt.Errorf("mode %d: id is required", i)
		}
		if mode.Model == "" {
			return Modes{}, fmt.Errorf("mode %q: model is required", mode.ID)
		}
		if _, exists := out.byID[mode.ID]; exists {
			return Modes{}, fmt.Errorf("mode %q: duplicate id", mode.ID)
		}
		if mode.CreditCost < 0 {
			return Modes{}, fmt.Errorf("mode %q: credit_cost must be >= 0", mode.ID)
		}
		if strings.TrimSpace(mode.Name) == "" {
			mode.Name = mode.ID
		}
		out.list = append(out.list, mode)
		out.byID[mode.ID] = mode
	}
	return out, nil
}

// LoadModes reads the mode catalog from a YAML or, by .toml extension, a
// TOML file, falling back to the built-in catalog when path is empty.
func LoadModes(path, defaultModel string) (Modes, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultModes(defaultModel), nil
	}

	path = filepath.Clean(path)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var file modesFile
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Modes{}, fmt.Errorf("parse modes file %s: %w", path, err)
		}
		return NewModes(file.Modes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Modes{}, fmt.Errorf("read modes file: %w", err)
	}
	return ParseModes(data)
}

func ParseModes(data []byte) (Modes, error) {
	var file modesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Modes{}, fmt.Errorf("parse modes file: %w", err)
	}
	return NewModes(file.Modes)
}

func (m Modes) Lookup(id string) (Mode, bool) {
	mode, ok := m.byID[strings.TrimSpace(id)]
	return mode, ok
}

func (m Modes) List() []Mode {
	return append([]Mode(nil), m.list...)
}

func (m Modes) IDs() []string {
	ids := make([]string, 0, len(m.list))
	for _, mode := range m.list {
		ids = append(ids, mode.ID)
	}
	return ids
}
