// Package settings decodes the per-task environment settings blob and the
// application settings file shipped next to the installed renderer.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfigName is the application settings file under the executables root.
const AppConfigName = "app.config"

// Environment is the per-task environment description submitted with a job.
// The blob is JSON in practice; YAML is accepted too since it is a superset.
type Environment struct {
	LicenseServer string            `yaml:"LicenseServer" json:"LicenseServer"`
	LicensePort   string            `yaml:"LicensePort" json:"LicensePort"`
	PathMaps      []string          `yaml:"PathMaps" json:"PathMaps"`
	Plugins       []string          `yaml:"Plugins" json:"Plugins"`
	EnvVariables  map[string]string `yaml:"EnvVariables" json:"EnvVariables"`
}

// HasLicenseServer reports whether a license server/port pair was supplied.
func (e Environment) HasLicenseServer() bool {
	return strings.TrimSpace(e.LicenseServer) != "" && strings.TrimSpace(e.LicensePort) != ""
}

// Application describes the installed renderer.
type Application struct {
	Version       string `yaml:"Version" json:"Version"`
	Application   string `yaml:"Application" json:"Application"`
	UserDirectory string `yaml:"UserDirectory" json:"UserDirectory"`
	Adlm          string `yaml:"Adlm" json:"Adlm"`
}

// ErrNoAppConfig is returned when the application settings file is absent.
var ErrNoAppConfig = errors.New("no config file found on the application image")

// ParseEnvironment decodes a serialized Environment.
func ParseEnvironment(blob string) (Environment, error) {
	var env Environment
	if strings.TrimSpace(blob) == "" {
		return env, errors.New("empty environment settings")
	}
	if err := decodeFolded([]byte(blob), &env, environmentFields); err != nil {
		return env, fmt.Errorf("error deserializing environment settings: %w", err)
	}
	return env, nil
}

var (
	environmentFields = []string{"LicenseServer", "LicensePort", "PathMaps", "Plugins", "EnvVariables"}
	applicationFields = []string{"Version", "Application", "UserDirectory", "Adlm"}
)

// decodeFolded decodes content into out after rewriting top-level keys that
// match one of fields case-insensitively to the field's canonical name.
func decodeFolded(content []byte, out any, fields []string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	if m := doc.Content[0]; m.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(m.Content); i += 2 {
			key := m.Content[i]
			for _, f := range fields {
				if strings.EqualFold(key.Value, f) {
					key.Value = f
					break
				}
			}
		}
	}
	return doc.Decode(out)
}

// LoadApplication reads the application settings file at path.
func LoadApplication(path string) (Application, error) {
	var app Application
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return app, ErrNoAppConfig
		}
		return app, fmt.Errorf("read application settings: %w", err)
	}
	if err := decodeFolded(content, &app, applicationFields); err != nil {
		return app, fmt.Errorf("error deserializing application settings: %w", err)
	}
	var missing []string
	if app.Application == "" {
		missing = append(missing, "Application")
	}
	if app.UserDirectory == "" {
		missing = append(missing, "UserDirectory")
	}
	if len(missing) > 0 {
		return app, fmt.Errorf("application settings missing %s", strings.Join(missing, ", "))
	}
	return app, nil
}
