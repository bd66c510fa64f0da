package environment

import "embed"

//go:embed templates/*
var templates embed.FS

func readTemplate(name string) string {
	b, err := templates.ReadFile("templates/" + name)
	if err != nil {
		panic("missing embedded template " + name)
	}
	return string(b)
}

// commandTemplate is the renderer invocation before plugin fragments and the
// quoted scene path are appended.
const commandTemplate = `-renderer {engine} -log "{log}" -proj "{local}" -preRender "renderPrep" -rd "{local}" -im "{prefix}" -s {frame} -e {frame} `

// baseEnv is set on the renderer process.
var baseEnv = map[string]string{
	"MAYA_APP_DIR": "{local}",
}

// basePath is appended to PATH ahead of plugin entries.
var basePath = []string{
	"{install}/bin",
	"{install}/plug-ins/substance/bin",
	"{install}/plug-ins/xgen/bin",
	"{install}/plug-ins/bifrost/bin",
}

// baseRendererEnv is written to Maya.env after the header. Plugins
// concatenate onto these keys.
var baseRendererEnv = map[string]string{
	"FBX_LOCATION":        "{install}/plug-ins/fbx/",
	"PYTHONHOME":          "{install}/Python",
	"XGEN_LOCATION":       "{install}/plug-ins/xgen/",
	"SUBSTANCES_LOCATION": "{install}/plug-ins/substance/substances",
	"BIFROST_LOCATION":    "{install}/plug-ins/bifrost/",
	"ILMDIR":              "{root}/Common Files/Autodesk Shared/Materials",

	"MAYA_PLUG_IN_PATH": "{install}/bin/plug-ins{sep}{install}/plug-ins/bifrost/plug-ins{sep}" +
		"{install}/plug-ins/fbx/plug-ins{sep}{install}/plug-ins/substance/plug-ins{sep}" +
		"{install}/plug-ins/xgen/plug-ins{sep}{local}{sep}",
	"PYTHONPATH": "{install}/plug-ins/bifrost/scripts/presets{sep}{install}/plug-ins/bifrost/scripts{sep}" +
		"{install}/plug-ins/fbx/scripts{sep}{install}/plug-ins/substance/scripts{sep}" +
		"{install}/plug-ins/xgen/scripts/cafm{sep}{install}/plug-ins/xgen/scripts/xgenm{sep}" +
		"{install}/plug-ins/xgen/scripts{sep}",
	"MAYA_SCRIPT_PATH": "{install}/scripts{sep}{install}/scripts/startup{sep}{install}/scripts/others{sep}" +
		"{install}/scripts/AETemplates{sep}{install}/scripts/unsupported{sep}{install}/scripts/paintEffects{sep}" +
		"{install}/scripts/fluidEffects{sep}{install}/scripts/hair{sep}{install}/scripts/cloth{sep}" +
		"{install}/scripts/live{sep}{install}/scripts/fur{sep}{install}/scripts/muscle{sep}" +
		"{install}/scripts/turtle{sep}{install}/scripts/FBX{sep}{install}/scripts/mayaHIK{sep}" +
		"{install}/plug-ins/bifrost/scripts/presets{sep}{install}/plug-ins/bifrost/scripts{sep}" +
		"{install}/plug-ins/fbx/scripts{sep}{user}/scripts{sep}",
	"MAYA_PLUGIN_RESOURCE_PATH": "{install}/plug-ins/bifrost/resources{sep}{install}/plug-ins/fbx/resources{sep}" +
		"{install}/plug-ins/substance/resources{sep}{install}/plug-ins/xgen/resources{sep}",
	"MAYA_PRESET_PATH": "{install}/plug-ins/bifrost/presets{sep}{install}/plug-ins/fbx/presets{sep}" +
		"{install}/plug-ins/substance/presets{sep}{install}/plug-ins/xgen/presets{sep}",
	"XBMLANGPATH": "{install}/plug-ins/bifrost/{sep}",
}
