package placeholder

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testValues() Values {
	return Values{
		InstallRoot:   "/opt/exe",
		LocalDir:      "/work/task1",
		TempDir:       "/tmp",
		Application:   "Maya2017",
		UserDirectory: "2017-x64",
		Version:       "2017",
		PluginPath:    "solidangle/mtoadeploy/2017",
		Engine:        "arnold",
		LogName:       "t1.log",
		Prefix:        "shot",
		Frame:         12,
	}
}

func TestExpand(t *testing.T) {
	v := testValues()
	got := v.Expand("-renderer {engine} -log \"{log}\" -rd \"{local}\" -im \"{prefix}\" -s {frame} -e {frame}")
	assert.Equal(t, `-renderer arnold -log "t1.log" -rd "/work/task1" -im "shot" -s 12 -e 12`, got)

	assert.Equal(t, "/opt/exe/Maya2017/bin", v.Expand("{install}/bin"))
	assert.Equal(t, "/work/task1/2017-x64/modules", v.Expand("{user}/modules"))
	assert.Equal(t, "/opt/exe/solidangle/mtoadeploy/2017/plug-ins"+string(os.PathListSeparator), v.Expand("{root}/{plugin}/plug-ins{sep}"))
}

func TestExpandIsSinglePass(t *testing.T) {
	v := testValues()
	v.Prefix = "{frame}"
	assert.Equal(t, "{frame}_12", v.Expand("{prefix}_{frame}"))
}

func TestExpandOverride(t *testing.T) {
	v := testValues()
	got := v.ExpandOverride("<storage>;<maya_root>;<user_scripts>;<user_modules>;<temp_dir>")
	assert.Equal(t, "/work/task1;/opt/exe/Maya2017;/work/task1/2017-x64/scripts;/work/task1/2017-x64/modules;/tmp", got)
}

func TestSlash(t *testing.T) {
	assert.Equal(t, "C:/work/task", Slash(`C:\work\task`))
}
