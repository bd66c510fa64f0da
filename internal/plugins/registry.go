package plugins

import (
	"fmt"
	"sort"
	"strings"
)

// Constructor builds a plugin for an application version.
type Constructor func(version string) Plugin

// UnknownPluginError reports a plugin name with no registered descriptor.
type UnknownPluginError struct {
	Name  string
	Known []string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

type Registry struct {
	plugins map[string]Constructor
}

// NewRegistry returns a registry holding the built-in plugins.
func NewRegistry() *Registry {
	r := &Registry{plugins: map[string]Constructor{}}
	r.Register("Arnold", NewArnold)
	r.Register("Yeti", NewYeti)
	r.Register("MentalRay", NewMentalRay)
	return r
}

func (r *Registry) Register(name string, c Constructor) {
	r.plugins[name] = c
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Get(name, version string) (Plugin, error) {
	c, ok := r.plugins[name]
	if !ok {
		return nil, &UnknownPluginError{Name: name, Known: r.Names()}
	}
	return c(version), nil
}

// Resolve builds one plugin per requested name, in order. A repeated name is
// activated again, so its contributions are concatenated twice. Blank names are
// ignored. Nothing is returned if any name is unknown.
func (r *Registry) Resolve(names []string, version string) ([]Plugin, error) {
	var out []Plugin
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := r.Get(name, version)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
