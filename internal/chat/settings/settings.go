// Package settings loads the agent settings document that controls
// which tools are shown to clients and under what names.
package settings

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk agent settings format.
type Document struct {
	Tools struct {
		Hidden  []string          `yaml:"hidden"`
		Display map[string]string `yaml:"display"`
	} `yaml:"tools"`
	Model struct {
		Provider string `yaml:"provider"`
		Name     string `yaml:"name"`
	} `yaml:"model"`
}

// ToolFilter decides tool visibility and display names. Loaded once at
// startup; in-flight replies keep the filter they started with.
type ToolFilter struct {
	hidden map[string]struct{}
	rename map[string]string
}

// NewToolFilter builds a filter from explicit lists.
func NewToolFilter(hidden []string, rename map[string]string) *ToolFilter {
	f := &ToolFilter{
		hidden: make(map[string]struct{}, len(hidden)),
		rename: make(map[string]string, len(rename)),
	}
	for _, name := range hidden {
		f.hidden[name] = struct{}{}
	}
	for k, v := range rename {
		f.rename[k] = v
	}
	return f
}

// IsHidden reports whether the raw tool name must be withheld from
// clients.
func (f *ToolFilter) IsHidden(name string) bool {
	_, ok := f.hidden[name]
	return ok
}

// Display returns the user-facing name for a tool, falling back to the
// raw name when no rename is configured.
func (f *ToolFilter) Display(name string) string {
	if v, ok := f.rename[name]; ok {
		return v
	}
	return name
}

// Load reads and decodes a settings document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent settings: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse agent settings: %w", err)
	}
	return &doc, nil
}

// LoadToolFilter builds a filter from the settings document at path.
// A missing path yields an empty filter so the server can run without
// a settings file.
func LoadToolFilter(path string) (*ToolFilter, error) {
	if path == "" {
		return NewToolFilter(nil, nil), nil
	}
	doc, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewToolFilter(nil, nil), nil
		}
		return nil, err
	}
	return NewToolFilter(doc.Tools.Hidden, doc.Tools.Display), nil
}
