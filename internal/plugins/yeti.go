package plugins

import (
	"path/filepath"

	"github.com/3cpo-dev/framefarm/internal/placeholder"
)

// Yeti is the Peregrine Labs fur and grooming extension. Its install path does
// not depend on the application version.
type Yeti struct {
	base
}

func NewYeti(string) Plugin { return &Yeti{} }

func (y *Yeti) Name() string { return "Yeti" }

func (y *Yeti) Path() string { return "PeregrineLabs/Yeti" }

func (y *Yeti) Env() map[string]string {
	return map[string]string{
		"YETI_HOME":                "{root}/{plugin}/bin{sep}",
		"YETI_INTERACTIVE_LICENSE": "0",
	}
}

func (y *Yeti) RendererEnv() map[string]string {
	return map[string]string{
		"MAYA_PLUG_IN_PATH":    "{root}/{plugin}/plug-ins{sep}",
		"MTOA_EXTENSIONS_PATH": "{root}/{plugin}/plug-ins{sep}",
		"MTOA_PROCEDURAL_PATH": "{root}/{plugin}/bin{sep}",
		"PYTHONPATH":           "{root}/{plugin}/scripts{sep}",
		"PEREGRINE_LOG_FILE":   "{local}/yeti_log.txt",
		"YETI_TMP":             "{temp}",
		"MAYA_SCRIPT_PATH":     "{root}/{plugin}/scripts{sep}",
	}
}

func (y *Yeti) PathEntries() []string {
	return []string{"{root}/{plugin}/bin"}
}

func (y *Yeti) WriteModule(dir string, v placeholder.Values) error {
	return writeModuleFile(filepath.Join(dir, "pgYetiMaya.mod"),
		v.Expand("+ pgYetiMaya any {root}/{plugin}"),
		"PATH +:= bin",
	)
}

// PreRender primes the groom cache so every frame reads from the local copy.
func (y *Yeti) PreRender(v placeholder.Values) []string {
	return []string{
		`if (!` + "`pluginInfo -q -loaded pgYetiMaya`" + `) loadPlugin pgYetiMaya;`,
		`pgYetiCommand -flushGeometryCache;`,
		v.Expand(`putenv "YETI_TMP" "{temp}";`),
	}
}
