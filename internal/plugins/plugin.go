// Package plugins describes the renderer extensions a task can activate and
// what each one contributes to the render environment.
package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/3cpo-dev/framefarm/internal/placeholder"
)

// Plugin is one active renderer extension. Templates are resolved by the
// environment composer with Values.PluginPath set to Path().
type Plugin interface {
	Name() string
	// Path is the plugin install directory relative to the executables root.
	Path() string
	// Command is appended to the renderer command line.
	Command() string
	// Env holds process environment variable templates.
	Env() map[string]string
	// RendererEnv holds variables written to the renderer's own env file.
	RendererEnv() map[string]string
	// PathEntries are appended to PATH.
	PathEntries() []string
	// WriteModule creates the plugin's module descriptor in dir if missing.
	WriteModule(dir string, v placeholder.Values) error
	// PreRender returns script lines run before the first frame renders.
	PreRender(v placeholder.Values) []string
}

// base supplies the no-op defaults shared by every plugin.
type base struct{}

func (base) Command() string { return "" }
func (base) Env() map[string]string { return nil }
func (base) RendererEnv() map[string]string { return nil }
func (base) PathEntries() []string { return nil }
func (base) WriteModule(dir string, v placeholder.Values) error { return nil }
func (base) PreRender(v placeholder.Values) []string { return nil }

// writeModuleFile writes a module descriptor once; an existing file is kept.
func writeModuleFile(path string, lines ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create module dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("create module file: %w", err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write module file: %w", err)
		}
	}
	return nil
}
