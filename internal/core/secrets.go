package core

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Secret names read from secrets.env or the environment.
const (
	EnvAgentToken      = "FRAMEFARM_AGENT_TOKEN"
	EnvPublishPassword = "FRAMEFARM_PUBLISH_PASSWORD"
	EnvPublishKey      = "FRAMEFARM_PUBLISH_KEY"
)

// LoadSecretsEnv reads ConfigDir()/secrets.env (or path) and returns key/value
// pairs. Lines starting with # are ignored. Format: [export ]KEY=VALUE, with
// optional double quotes around the value. A missing file yields no secrets.
func LoadSecretsEnv(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "secrets.env")
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return map[string]string{}, err
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if k, v, ok := strings.Cut(line, "="); ok {
			out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return out, s.Err()
}
