// Package environment assembles the execution environment for one render task:
// process variables, the renderer's own env file, licensing and workspace
// support files, and the renderer command line.
package environment

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/framefarm/internal/placeholder"
	"github.com/3cpo-dev/framefarm/internal/plugins"
	"github.com/3cpo-dev/framefarm/internal/settings"
)

// Request carries everything that varies per task.
type Request struct {
	TaskID   string
	JobID    string
	Frame    int
	Engine   string
	JobFile  string
	Prefix   string
	App      settings.Application
	Settings settings.Environment
}

// Composer builds task environments under one executables root.
type Composer struct {
	ExecutablesRoot string
	LocalDir        string
	TempDir         string
	Registry        *plugins.Registry
	Environ         Environ
}

// Plan is the side-effect-free part of a composition: every template is
// resolved and every contribution merged, nothing is written.
type Plan struct {
	Values      placeholder.Values
	Plugins     []plugins.Plugin
	Env         map[string]string
	RendererEnv map[string]string
	PathEntries []string
	Overrides   map[string]string
	PathMaps    []string
	Command     string
	LogName     string
}

// Composed is the result of a successful composition.
type Composed struct {
	Executable string
	Command    string
	Args       []string
	// Applied holds the variables composition set, PATH included.
	Applied map[string]string
	Ambient Snapshot
	Plugins []string
	LogFile string
}

// Env returns the full environment for the renderer process.
func (c *Composed) Env() []string {
	merged := make(map[string]string, len(c.Ambient)+len(c.Applied))
	for k, v := range c.Ambient {
		merged[k] = v
	}
	for k, v := range c.Applied {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for _, k := range sortedKeys(merged) {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// SetupError is a permanent failure to prepare the environment.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("environment setup failed (%s): %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func setupErr(step string, err error) error {
	var se *SetupError
	if errors.As(err, &se) {
		return err
	}
	return &SetupError{Step: step, Err: err}
}

// Values resolves the named template parameters for a request.
func (c *Composer) Values(req Request) placeholder.Values {
	temp := c.TempDir
	if temp == "" {
		temp = os.TempDir()
	}
	v := placeholder.Values{
		InstallRoot:   placeholder.Slash(c.ExecutablesRoot),
		LocalDir:      placeholder.Slash(c.LocalDir),
		TempDir:       placeholder.Slash(temp),
		Application:   req.App.Application,
		UserDirectory: req.App.UserDirectory,
		Version:       req.App.Version,
		Adlm:          req.App.Adlm,
		Engine:        req.Engine,
		Prefix:        req.Prefix,
		JobFile:       req.JobFile,
		Frame:         req.Frame,
		TaskID:        req.TaskID,
		LicenseServer: req.Settings.LicenseServer,
		LicensePort:   req.Settings.LicensePort,
	}
	logID := req.TaskID
	if logID == "" {
		logID = strconv.Itoa(req.Frame)
	}
	v.LogName = logID + ".log"
	if req.Settings.HasLicenseServer() {
		v.License = path.Join(v.LocalDir, "LICPATH.LIC")
	} else {
		v.License = path.Join(v.InstallPath(), "bin", "LICPATH.LIC")
	}
	return v
}

// Plan resolves plugins and merges every contribution. An unknown plugin fails
// here, before anything touches the filesystem.
func (c *Composer) Plan(req Request) (*Plan, error) {
	reg := c.Registry
	if reg == nil {
		reg = plugins.NewRegistry()
	}
	active, err := reg.Resolve(req.Settings.Plugins, req.App.Version)
	if err != nil {
		return nil, err
	}

	v := c.Values(req)
	p := &Plan{
		Values:      v,
		Plugins:     active,
		Env:         map[string]string{},
		RendererEnv: map[string]string{},
		Overrides:   map[string]string{},
		LogName:     v.LogName,
	}
	for _, m := range req.Settings.PathMaps {
		if m = strings.TrimSpace(m); m != "" {
			p.PathMaps = append(p.PathMaps, m)
		}
	}
	mergeInto(p.Env, v.ExpandAll(baseEnv))
	mergeInto(p.RendererEnv, v.ExpandAll(baseRendererEnv))
	for _, e := range basePath {
		p.PathEntries = append(p.PathEntries, v.Expand(e))
	}

	command := commandTemplate
	for _, pl := range active {
		pv := v
		pv.PluginPath = pl.Path()
		mergeInto(p.Env, pv.ExpandAll(pl.Env()))
		mergeInto(p.RendererEnv, pv.ExpandAll(pl.RendererEnv()))
		for _, e := range pl.PathEntries() {
			p.PathEntries = append(p.PathEntries, pv.Expand(e))
		}
		command += pl.Command()
	}
	command += `"{jobfile}"`
	p.Command = v.Expand(command)

	for k, raw := range req.Settings.EnvVariables {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p.Overrides[k] = v.ExpandOverride(raw)
	}
	return p, nil
}

// mergeInto inserts new keys and concatenates onto existing ones.
func mergeInto(dst, src map[string]string) {
	for _, k := range sortedKeys(src) {
		key := strings.TrimSpace(k)
		dst[key] += src[k]
	}
}

// Compose plans the environment, writes the support files, and applies the
// variables through c.Environ. Re-running against the same directories leaves
// every existing file untouched and sets nothing new.
func (c *Composer) Compose(req Request) (*Composed, error) {
	p, err := c.Plan(req)
	if err != nil {
		return nil, err
	}
	v := p.Values
	logger := log.With().Str("task_id", req.TaskID).Str("job_id", req.JobID).Int("frame", req.Frame).Logger()

	if err := c.writeLicensing(p, req.Settings); err != nil {
		return nil, err
	}

	env := c.Environ
	if env == nil {
		env = ProcessEnviron{}
	}
	ambient := env.Snapshot()
	applied := map[string]string{}
	for _, k := range sortedKeys(p.Env) {
		if _, set := ambient.Lookup(k); set {
			logger.Debug().Str("var", k).Msg("variable already set, keeping existing value")
			continue
		}
		applied[k] = p.Env[k]
	}
	if len(p.PathEntries) > 0 {
		sep := string(os.PathListSeparator)
		extra := strings.Join(p.PathEntries, sep)
		existing, _ := ambient.Lookup("PATH")
		switch {
		case existing == "":
			applied["PATH"] = extra
		case !strings.HasSuffix(existing, extra):
			applied["PATH"] = existing + sep + extra
		}
	}
	for _, k := range sortedKeys(p.Overrides) {
		_, inAmbient := ambient.Lookup(k)
		_, inApplied := applied[k]
		if inAmbient || inApplied {
			logger.Debug().Str("var", k).Msg("override skipped, variable already set")
			continue
		}
		applied[k] = p.Overrides[k]
	}
	for _, k := range sortedKeys(applied) {
		if err := env.Setenv(k, applied[k]); err != nil {
			return nil, setupErr("apply environment", fmt.Errorf("set %s: %w", k, err))
		}
	}

	if err := c.writeWorkspace(p); err != nil {
		return nil, err
	}

	args, err := shellwords.Parse(p.Command)
	if err != nil {
		return nil, setupErr("command line", fmt.Errorf("tokenize command: %w", err))
	}

	names := make([]string, 0, len(p.Plugins))
	for _, pl := range p.Plugins {
		names = append(names, pl.Name())
	}
	logger.Info().Strs("plugins", names).Int("vars_applied", len(applied)).Msg("environment composed")

	return &Composed{
		Executable: c.executable(v),
		Command:    p.Command,
		Args:       args,
		Applied:    applied,
		Ambient:    ambient,
		Plugins:    names,
		LogFile:    filepath.Join(c.LocalDir, p.LogName),
	}, nil
}

func (c *Composer) executable(v placeholder.Values) string {
	name := "Render"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(c.ExecutablesRoot, v.Application, "bin", name)
}

func (c *Composer) writeLicensing(p *Plan, s settings.Environment) error {
	v := p.Values
	licEnv := filepath.Join(c.ExecutablesRoot, v.Application, "bin", "License.env")
	if err := writeOnce(licEnv, v.Expand(readTemplate("License.env"))); err != nil {
		return setupErr("license", err)
	}
	if s.HasLicenseServer() {
		pointer := filepath.Join(c.LocalDir, "LICPATH.LIC")
		if err := writeOnce(pointer, v.Expand(readTemplate("LICPATH.LIC"))); err != nil {
			return setupErr("license server", err)
		}
	}
	client := filepath.Join(c.ExecutablesRoot, "Adlm", "AdlmThinClientCustomEnv.xml")
	if err := writeOnce(client, v.Expand(readTemplate("AdlmThinClientCustomEnv.xml"))); err != nil {
		return setupErr("license client", err)
	}
	return nil
}

func (c *Composer) writeWorkspace(p *Plan) error {
	v := p.Values
	if err := writeOnce(filepath.Join(c.LocalDir, "workspace.mel"), readTemplate("workspace.mel")); err != nil {
		return setupErr("workspace", err)
	}
	userDir := filepath.Join(c.LocalDir, v.UserDirectory)
	scripts := filepath.Join(userDir, "scripts")
	modules := filepath.Join(userDir, "modules")
	for _, dir := range []string{scripts, modules} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return setupErr("workspace", fmt.Errorf("create %s: %w", dir, err))
		}
	}

	var pre []string
	for _, pl := range p.Plugins {
		pv := v
		pv.PluginPath = pl.Path()
		if err := pl.WriteModule(modules, pv); err != nil {
			return setupErr("plugin "+pl.Name(), err)
		}
		pre = append(pre, pl.PreRender(pv)...)
	}

	if err := writeOnce(filepath.Join(userDir, "Maya.env"), rendererEnvFile(v, p.RendererEnv)); err != nil {
		return setupErr("renderer env", err)
	}
	if err := writeOnce(filepath.Join(scripts, "renderPrep.mel"), preRenderScript(v.LocalDir, p.PathMaps, pre)); err != nil {
		return setupErr("pre-render script", err)
	}
	return nil
}

func rendererEnvFile(v placeholder.Values, vars map[string]string) string {
	var b strings.Builder
	b.WriteString(v.Expand(readTemplate("Maya.env")))
	for _, k := range sortedKeys(vars) {
		fmt.Fprintf(&b, "%s = %s\n", k, vars[k])
	}
	return b.String()
}

// preRenderScript builds the renderPrep procedure passed to -preRender.
func preRenderScript(localDir string, maps, lines []string) string {
	var b strings.Builder
	b.WriteString("global proc renderPrep()\n{\n")
	if len(maps) > 0 {
		local := placeholder.Slash(localDir)
		for _, m := range maps {
			fmt.Fprintf(&b, "dirmap -m \"%s\" \"%s\";\n", m, local)
		}
		b.WriteString("dirmap -en true;\n")
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
