package command

import (
	"sort"
	"strings"
)

// Args is what a transform renders an executable from.
type Args struct {
	Input   string // file id placeholder
	Options Options
	Output  string // output base name without extension
}

// Out returns the output file name for the given extension.
func (a Args) Out(ext string) string {
	base := a.Output
	if base == "" {
		base = "output"
	}
	return base + "." + ext
}

// Option documents one --key=value option of a command.
type Option struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
}

// Definition is a named, parameterized command template.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Options     []Option               `json:"options"`
	Transform   func(args Args) string `json:"-"`
}

// Registry is a static set of command definitions keyed by name.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Name] = d
	}
	return r
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// render joins non-empty parts with single spaces.
func render(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func tier(quality, high, low, medium string) string {
	switch quality {
	case "high":
		return high
	case "low":
		return low
	}
	return medium
}
