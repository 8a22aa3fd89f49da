package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup writes a config file rooted at a temp dir with one module per id.
func setup(t *testing.T, ids ...string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	for _, id := range ids {
		dir := filepath.Join(base, "PaddiSense", id)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "dashboards"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "dashboards", "views.yaml"), []byte("views: []\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), []byte("template: []\n"), 0644))
	}

	path := filepath.Join(base, "paddisense.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`paths:
  config_dir: `+base+`
logging:
  level: error
metrics:
  textfile: `+filepath.Join(base, "paddisense.prom")+`
`), 0644))
	return base, path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	allModules = false
	verbose = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestActivateThenVerify(t *testing.T) {
	base, config := setup(t, "rtr", "str")

	out, err := run(t, "--config", config, "activate", "rtr", "str")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok    rtr")
	assert.Contains(t, out, "rtr-dashboard")
	assert.Contains(t, out, "2/2 modules activated")

	target, err := os.Readlink(filepath.Join(base, "PaddiSense", "packages", "rtr.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "rtr", "package.yaml"), target)
	assert.FileExists(t, filepath.Join(base, "lovelace_dashboards.yaml"))
	assert.FileExists(t, filepath.Join(base, "paddisense.prom"))

	out, err = run(t, "--config", config, "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "8 checks, 0 failed, 0 warnings")
}

func TestVerify_HostIncludes(t *testing.T) {
	base, config := setup(t, "rtr")
	_, err := run(t, "--config", config, "activate", "rtr")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(base, "configuration.yaml"), []byte(`homeassistant:
  packages: !include_dir_named PaddiSense/packages
lovelace:
  mode: yaml
  dashboards: !include lovelace_dashboards.yaml
`), 0644))
	out, err := run(t, "--config", config, "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[pass] host/packages-include")
	assert.Contains(t, out, "[pass] host/dashboards-include")
	assert.Contains(t, out, "6 checks, 0 failed, 0 warnings")

	require.NoError(t, os.WriteFile(filepath.Join(base, "configuration.yaml"), []byte("homeassistant:\n  name: Farm\n"), 0644))
	out, err = run(t, "--config", config, "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[warn] host/packages-include")
	assert.Contains(t, out, "6 checks, 0 failed, 2 warnings")
}

func TestActivate_FailureExitsNonZero(t *testing.T) {
	base, config := setup(t, "rtr")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "PaddiSense", "wss"), 0755))

	out, err := run(t, "--config", config, "activate", "rtr", "wss")
	require.ErrorIs(t, err, errFailures)
	assert.Contains(t, out, "FAIL  wss")
	assert.Contains(t, out, "MissingManifest")
	assert.Contains(t, out, "1/2 modules activated")
}

func TestActivateAll(t *testing.T) {
	_, config := setup(t, "ipm", "rtr", "str")

	out, err := run(t, "--config", config, "activate", "--all")
	require.NoError(t, err, out)
	assert.Contains(t, out, "3/3 modules activated")

	out, err = run(t, "--config", config, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ipm")
	assert.Contains(t, out, "active")
	assert.NotContains(t, out, "inactive")
}

func TestValidate(t *testing.T) {
	base, config := setup(t, "rtr")
	require.NoError(t, os.WriteFile(filepath.Join(base, "PaddiSense", "rtr", "package.yaml"), []byte("template: []\ncustom_domain: []\n"), 0644))

	out, err := run(t, "--config", config, "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "UnknownKey")
	assert.Contains(t, out, "1/1 manifests valid")

	require.NoError(t, os.WriteFile(filepath.Join(base, "PaddiSense", "rtr", "package.yaml"), []byte("- a\n"), 0644))
	out, err = run(t, "--config", config, "validate", "rtr")
	require.ErrorIs(t, err, errFailures)
	assert.Contains(t, out, "WrongShape")
}

func TestDeactivate(t *testing.T) {
	base, config := setup(t, "rtr")
	_, err := run(t, "--config", config, "activate", "rtr")
	require.NoError(t, err)

	out, err := run(t, "--config", config, "deactivate", "rtr")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1/1 modules deactivated")

	_, err = os.Lstat(filepath.Join(base, "PaddiSense", "packages", "rtr.yaml"))
	assert.True(t, os.IsNotExist(err))

	out, err = run(t, "--config", config, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "inactive")
}

func TestInvalidConfig(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "paddisense.yaml")
	require.NoError(t, os.WriteFile(path, []byte("activation:\n  link_mode: hardlink\n"), 0644))

	_, err := run(t, "--config", path, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link_mode")
}
