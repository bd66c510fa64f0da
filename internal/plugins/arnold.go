package plugins

import (
	"path/filepath"

	"github.com/3cpo-dev/framefarm/internal/placeholder"
)

// Arnold is the MtoA renderer extension.
type Arnold struct {
	base
	path string
}

// NewArnold returns the Arnold plugin deployed for the given application version.
func NewArnold(version string) Plugin {
	return &Arnold{path: "solidangle/mtoadeploy/" + version}
}

func (a *Arnold) Name() string { return "Arnold" }

func (a *Arnold) Path() string { return a.path }

// Command skips texture processing against the working directory.
func (a *Arnold) Command() string { return `-ai:sptx "{local}" ` }

func (a *Arnold) RendererEnv() map[string]string {
	return map[string]string{
		"MAYA_PLUG_IN_PATH":         "{root}/{plugin}/plug-ins{sep}",
		"MAYA_RENDER_DESC_PATH":     "{root}/{plugin}{sep}",
		"MTOA_EXTENSIONS_PATH":      "{root}/{plugin}/extensions{sep}",
		"MTOA_PROCEDURAL_PATH":      "{root}/{plugin}/procedurals{sep}",
		"PYTHONPATH":                "{root}/{plugin}/scripts{sep}",
		"ARNOLD_PLUGIN_PATH":        "{root}/{plugin}/shaders{sep}{root}/{plugin}/procedurals{sep}",
		"MTOA_PATH":                 "{root}/{plugin}/{sep}",
		"MAYA_SCRIPT_PATH":          "{root}/{plugin}/scripts{sep}",
		"MAYA_PLUGIN_RESOURCE_PATH": "{root}/{plugin}/resources{sep}",
		"MAYA_PRESET_PATH":          "{root}/{plugin}/presets{sep}",
		"MTOA_LOG_PATH":             "{local}",
	}
}

func (a *Arnold) WriteModule(dir string, v placeholder.Values) error {
	return writeModuleFile(filepath.Join(dir, "mtoa.mod"),
		v.Expand("+ mtoa any {root}/{plugin}"),
		"PATH +:= bin",
	)
}

func (a *Arnold) PreRender(v placeholder.Values) []string {
	return []string{
		`if (!` + "`pluginInfo -q -loaded mtoa`" + `) loadPlugin mtoa;`,
		`setAttr "defaultArnoldRenderOptions.abortOnLicenseFail" 1;`,
	}
}
