package activation

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PKmac78/paddisense-hacs/internal/types"
)

// fixture lays out <root>/<id>/package.yaml and returns the module root and
// the activation dir <root>/packages.
func fixture(t *testing.T, ids ...string) (string, string) {
	t.Helper()
	root := t.TempDir()
	for _, id := range ids {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), []byte("template: []\n"), 0644))
	}
	return root, filepath.Join(root, "packages")
}

func tables(dir string) map[string]LinkTable {
	return map[string]LinkTable{
		"symlink": NewSymlinkTable(dir),
		"pointer": NewPointerTable(dir),
	}
}

func TestLinkName(t *testing.T) {
	assert.Equal(t, "rtr.yaml", LinkName("rtr"))

	id, ok := ModuleID("rtr.yaml")
	assert.True(t, ok)
	assert.Equal(t, "rtr", id)

	_, ok = ModuleID("README.md")
	assert.False(t, ok)
	_, ok = ModuleID(".yaml")
	assert.False(t, ok)
}

func TestActivate_CreatesRelativeLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root, actDir := fixture(t, "rtr")
	m := NewManager(NewSymlinkTable(actDir), nil)

	r := m.Activate("rtr", filepath.Join(root, "rtr", "package.yaml"))
	require.True(t, r.OK(), "findings: %v", r.Findings)
	assert.False(t, r.Replaced)

	target, err := os.Readlink(filepath.Join(actDir, "rtr.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "rtr", "package.yaml"), target)

	data, err := os.ReadFile(filepath.Join(actDir, "rtr.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "template: []\n", string(data))
}

func TestActivate_Idempotent(t *testing.T) {
	for mode := range tables("") {
		t.Run(mode, func(t *testing.T) {
			if mode == "symlink" && runtime.GOOS == "windows" {
				t.Skip("symlinks need privileges on windows")
			}
			root, actDir := fixture(t, "str")
			m := NewManager(tables(actDir)[mode], nil)
			manifest := filepath.Join(root, "str", "package.yaml")

			first := m.Activate("str", manifest)
			require.True(t, first.OK())
			before := snapshot(t, actDir)

			second := m.Activate("str", manifest)
			require.True(t, second.OK(), "second activation must not fail with already-exists")
			assert.True(t, second.Replaced)
			assert.Equal(t, first.Link.Target, second.Link.Target)
			assert.Equal(t, before, snapshot(t, actDir))
		})
	}
}

func TestActivate_ReplacesPlainFileAndStaleLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root, actDir := fixture(t, "wss")
	require.NoError(t, os.MkdirAll(actDir, 0755))
	m := NewManager(NewSymlinkTable(actDir), nil)
	manifest := filepath.Join(root, "wss", "package.yaml")

	require.NoError(t, os.WriteFile(filepath.Join(actDir, "wss.yaml"), []byte("stale copy"), 0644))
	r := m.Activate("wss", manifest)
	require.True(t, r.OK())
	assert.True(t, r.Replaced)
	assert.Equal(t, KindSymlink, r.Link.Kind)

	require.NoError(t, os.Remove(filepath.Join(actDir, "wss.yaml")))
	require.NoError(t, os.Symlink("../gone/package.yaml", filepath.Join(actDir, "wss.yaml")))
	r = m.Activate("wss", manifest)
	require.True(t, r.OK())
	assert.Equal(t, filepath.Join("..", "wss", "package.yaml"), r.Link.Target)
}

func TestActivate_DirectoryInTheWay(t *testing.T) {
	root, actDir := fixture(t, "ipm")
	require.NoError(t, os.MkdirAll(filepath.Join(actDir, "ipm.yaml"), 0755))
	m := NewManager(NewSymlinkTable(actDir), nil)

	r := m.Activate("ipm", filepath.Join(root, "ipm", "package.yaml"))
	require.False(t, r.OK())
	f, _ := r.Findings.Fatal()
	assert.Equal(t, types.CodeLinkCreationFailed, f.Code)
	assert.ErrorIs(t, f, ErrOccupiedByDir)

	fi, err := os.Stat(filepath.Join(actDir, "ipm.yaml"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir(), "directory must not be removed")
}

func TestActivate_MissingManifest(t *testing.T) {
	root, actDir := fixture(t)
	m := NewManager(NewSymlinkTable(actDir), nil)

	r := m.Activate("pwm", filepath.Join(root, "pwm", "package.yaml"))
	f, fatal := r.Findings.Fatal()
	require.True(t, fatal)
	assert.Equal(t, types.CodeMissingManifest, f.Code)

	_, err := os.Lstat(filepath.Join(actDir, "pwm.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestActivate_InvalidID(t *testing.T) {
	root, actDir := fixture(t, "rtr")
	m := NewManager(NewSymlinkTable(actDir), nil)

	r := m.Activate("../rtr", filepath.Join(root, "rtr", "package.yaml"))
	f, fatal := r.Findings.Fatal()
	require.True(t, fatal)
	assert.Equal(t, types.CodeLinkCreationFailed, f.Code)
}

func TestActivate_UnwritableDir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root, actDir := fixture(t, "rtr")
	require.NoError(t, os.MkdirAll(actDir, 0555))
	t.Cleanup(func() { _ = os.Chmod(actDir, 0755) })

	r := NewManager(NewSymlinkTable(actDir), nil).Activate("rtr", filepath.Join(root, "rtr", "package.yaml"))
	f, fatal := r.Findings.Fatal()
	require.True(t, fatal)
	assert.Equal(t, types.CodeLinkCreationFailed, f.Code)
}

func TestActivate_TouchesOnlyOwnEntry(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root, actDir := fixture(t, "a", "b")
	m := NewManager(NewSymlinkTable(actDir), nil)
	require.True(t, m.Activate("a", filepath.Join(root, "a", "package.yaml")).OK())
	before, err := os.Lstat(filepath.Join(actDir, "a.yaml"))
	require.NoError(t, err)

	require.True(t, m.Activate("b", filepath.Join(root, "b", "package.yaml")).OK())
	after, err := os.Lstat(filepath.Join(actDir, "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	ids, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDeactivate(t *testing.T) {
	for mode := range tables("") {
		t.Run(mode, func(t *testing.T) {
			if mode == "symlink" && runtime.GOOS == "windows" {
				t.Skip("symlinks need privileges on windows")
			}
			root, actDir := fixture(t, "rtr")
			m := NewManager(tables(actDir)[mode], nil)
			require.True(t, m.Activate("rtr", filepath.Join(root, "rtr", "package.yaml")).OK())

			r := m.Deactivate("rtr")
			require.True(t, r.OK())
			assert.True(t, r.Replaced)

			_, err := m.Lookup("rtr")
			assert.True(t, IsNotFound(err))

			again := m.Deactivate("rtr")
			assert.True(t, again.OK())
			assert.False(t, again.Replaced)
		})
	}
}

func TestPointerTable_ResolvesTarget(t *testing.T) {
	root, actDir := fixture(t, "rtr")
	m := NewManager(NewPointerTable(actDir), nil)

	r := m.Activate("rtr", filepath.Join(root, "rtr", "package.yaml"))
	require.True(t, r.OK())
	assert.Equal(t, KindPointer, r.Link.Kind)
	assert.Equal(t, filepath.Join(root, "rtr", "package.yaml"), r.Link.Resolved(actDir))

	data, err := os.ReadFile(filepath.Join(actDir, "rtr.yaml"+PointerSuffix))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "rtr", "package.yaml")+"\n", string(data))
}

func TestList_SkipsTempAndDirs(t *testing.T) {
	_, actDir := fixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(actDir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(actDir, ".rtr.yaml.tmp-1234"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(actDir, "manual.yaml"), []byte("a: 1"), 0644))

	links, err := NewSymlinkTable(actDir).List()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "manual.yaml", links[0].Name)
	assert.Equal(t, KindPlain, links[0].Kind)
}

func TestEnsureStateDir(t *testing.T) {
	stateRoot := filepath.Join(t.TempDir(), "local_data")

	dir, f := EnsureStateDir(stateRoot, "rtr")
	require.Nil(t, f)
	assert.DirExists(t, filepath.Join(dir, BackupsDir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, BackupsDir, "b1.json"), []byte("{}"), 0644))
	_, f = EnsureStateDir(stateRoot, "rtr")
	require.Nil(t, f)
	assert.FileExists(t, filepath.Join(dir, BackupsDir, "b1.json"))

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	_, f = EnsureStateDir(blocker, "rtr")
	require.NotNil(t, f)
	assert.Equal(t, types.CodeStateDirFailed, f.Code)
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	dirents, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, d := range dirents {
		p := filepath.Join(dir, d.Name())
		if target, err := os.Readlink(p); err == nil {
			out[d.Name()] = "-> " + target
			continue
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[d.Name()] = string(data)
	}
	return out
}
