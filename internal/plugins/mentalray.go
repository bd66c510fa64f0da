package plugins

// MentalRay is the mental ray for Maya extension.
type MentalRay struct {
	base
	path string
}

func NewMentalRay(version string) Plugin {
	return &MentalRay{path: "mentalrayForMaya" + version}
}

func (m *MentalRay) Name() string { return "MentalRay" }

func (m *MentalRay) Path() string { return m.path }

func (m *MentalRay) RendererEnv() map[string]string {
	return map[string]string{
		"MAYA_PLUG_IN_PATH":           "{root}/{plugin}/plug-ins{sep}",
		"MENTALRAY_LOCATION":          "{root}/{plugin}/{sep}",
		"MENTALRAY_BIN_LOCATION":      "{root}/{plugin}/bin{sep}",
		"PYTHONPATH":                  "{root}/{plugin}/scripts/AETemplates{sep}{root}/{plugin}/scripts/mentalray{sep}{root}/{plugin}/scripts/unsupported{sep}{root}/{plugin}/scripts{sep}",
		"MENTALRAY_SHADERS_LOCATION":  "{root}/{plugin}/shaders{sep}",
		"MAYA_RENDER_DESC_PATH":       "{root}/{plugin}/rendererDesc{sep}",
		"MENTAL_RAY_INCLUDE_LOCATION": "{root}/{plugin}/shaders/include{sep}",
		"MAYA_SCRIPT_PATH":            "{root}/{plugin}/scripts/AETemplates{sep}{root}/{plugin}/scripts/mentalray{sep}{root}/{plugin}/scripts/unsupported{sep}{root}/{plugin}/scripts{sep}",
		"IMF_PLUG_IN_PATH":            "{root}/{plugin}/bin/image{sep}",
		"MAYA_PLUGIN_RESOURCE_PATH":   "{root}/{plugin}/resources{sep}",
		"MAYA_PRESET_PATH":            "{root}/{plugin}/presets/attrPresets{sep}{root}/{plugin}/presets{sep}",
		"XBMLANGPATH":                 "{root}/{plugin}/icons{sep}",
	}
}

func (m *MentalRay) PathEntries() []string {
	return []string{"{root}/{plugin}/bin"}
}
