// Package placeholder resolves the named tokens used by every environment,
// command line and support-file template in framefarm.
package placeholder

import (
	"os"
	"path"
	"strconv"
	"strings"
)

// Values is the named parameter record every template is resolved against.
// Paths are stored with forward slashes; the renderer accepts them on every
// platform and the generated scripts stay byte-stable.
type Values struct {
	InstallRoot   string // executables root shared by the application and plugins
	LocalDir      string // task working directory
	TempDir       string
	Application   string // application directory name under InstallRoot
	UserDirectory string // user-data directory name under LocalDir
	Version       string
	PluginPath    string // install-relative path of the plugin being resolved

	Engine        string
	LogName       string
	Prefix        string
	JobFile       string
	Frame         int
	TaskID        string
	Adlm          string
	License       string // resolved license file path
	LicenseServer string
	LicensePort   string
}

// InstallPath is {InstallRoot}/{Application}.
func (v Values) InstallPath() string {
	return path.Join(v.InstallRoot, v.Application)
}

// UserPath is {LocalDir}/{UserDirectory}.
func (v Values) UserPath() string {
	return path.Join(v.LocalDir, v.UserDirectory)
}

// Expand substitutes every {token} in tmpl in a single pass. Substituted text
// is never expanded again.
func (v Values) Expand(tmpl string) string {
	return v.replacer().Replace(tmpl)
}

// ExpandAll resolves every value of a template map.
func (v Values) ExpandAll(tmpls map[string]string) map[string]string {
	r := v.replacer()
	out := make(map[string]string, len(tmpls))
	for k, t := range tmpls {
		out[k] = r.Replace(t)
	}
	return out
}

// ExpandOverride resolves the tokens allowed in user-supplied environment
// overrides.
func (v Values) ExpandOverride(value string) string {
	user := v.UserPath()
	return strings.NewReplacer(
		"<storage>", v.LocalDir,
		"<maya_root>", v.InstallPath(),
		"<user_scripts>", path.Join(user, "scripts"),
		"<user_modules>", path.Join(user, "modules"),
		"<temp_dir>", v.TempDir,
	).Replace(value)
}

func (v Values) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{root}", v.InstallRoot,
		"{install}", v.InstallPath(),
		"{local}", v.LocalDir,
		"{temp}", v.TempDir,
		"{app}", v.Application,
		"{userdir}", v.UserDirectory,
		"{user}", v.UserPath(),
		"{version}", v.Version,
		"{plugin}", v.PluginPath,
		"{sep}", string(os.PathListSeparator),
		"{engine}", v.Engine,
		"{log}", v.LogName,
		"{prefix}", v.Prefix,
		"{jobfile}", v.JobFile,
		"{frame}", strconv.Itoa(v.Frame),
		"{task}", v.TaskID,
		"{adlm}", v.Adlm,
		"{license}", v.License,
		"{license_server}", v.LicenseServer,
		"{license_port}", v.LicensePort,
	)
}

// Slash normalizes a filesystem path to forward slashes.
func Slash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
