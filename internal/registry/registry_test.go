package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/types"
)

func registryPath(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lovelace_dashboards.yaml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return path
}

func TestDeriveEntry_Defaults(t *testing.T) {
	slug, e := DeriveEntry(catalog.Entry{ID: "rtr"}, "")
	assert.Equal(t, "rtr-dashboard", slug)
	assert.Equal(t, Entry{
		Mode:          ModeYAML,
		Title:         "rtr",
		Icon:          catalog.DefaultIcon,
		ShowInSidebar: true,
		Filename:      "rtr/dashboards/views.yaml",
	}, e)
}

func TestDeriveEntry_Declared(t *testing.T) {
	slug, e := DeriveEntry(catalog.Entry{
		ID:            "ipm",
		Title:         "Inventory",
		Icon:          "mdi:warehouse",
		DashboardFile: "ipm/dashboards/inventory.yaml",
		Slug:          "inventory",
	}, "PaddiSense/")
	assert.Equal(t, "inventory", slug)
	assert.Equal(t, "Inventory", e.Title)
	assert.Equal(t, "mdi:warehouse", e.Icon)
	assert.Equal(t, "PaddiSense/ipm/dashboards/inventory.yaml", e.Filename)
}

func TestMerge_RoundTrip(t *testing.T) {
	path := registryPath(t, "")
	m := NewMerger(path, "PaddiSense/", nil)
	e := catalog.Entry{ID: "str", Title: "Stock Tracker", Icon: "mdi:barn"}

	r := m.MergeDashboardEntry("str", e)
	require.True(t, r.OK(), "findings: %v", r.Findings)
	assert.False(t, r.Replaced)

	got, ok, err := m.Lookup("str-dashboard")
	require.NoError(t, err)
	require.True(t, ok)
	_, want := DeriveEntry(e, "PaddiSense/")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_EmptyRegistryForms(t *testing.T) {
	for name, content := range map[string]string{
		"missing":      "",
		"blank":        "\n\n",
		"comment only": "# dashboards\n",
		"null":         "null\n",
		"tilde":        "~\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := registryPath(t, content)
			r := NewMerger(path, "", nil).MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
			require.True(t, r.OK(), "findings: %v", r.Findings)

			doc, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, []string{"rtr-dashboard"}, doc.Slugs())
		})
	}
}

func TestMerge_SlugUniqueness(t *testing.T) {
	path := registryPath(t, "")
	m := NewMerger(path, "", nil)

	first := m.MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
	require.True(t, first.OK())
	again := m.MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
	require.True(t, again.OK())
	assert.True(t, again.Replaced)
	assert.False(t, again.Findings.Has(types.CodeSlugCollision), "re-merging the same module is not a collision")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "rtr-dashboard:"))
}

func TestMerge_SlugCollisionLastWriteWins(t *testing.T) {
	path := registryPath(t, "")
	m := NewMerger(path, "", nil)

	require.True(t, m.MergeDashboardEntry("a", catalog.Entry{ID: "a", Slug: "shared"}).OK())
	r := m.MergeDashboardEntry("b", catalog.Entry{ID: "b", Slug: "shared"})
	require.True(t, r.OK(), "collision is advisory")
	assert.True(t, r.Replaced)
	assert.Equal(t, "a/dashboards/views.yaml", r.PreviousFilename)
	assert.True(t, r.Findings.Has(types.CodeSlugCollision))

	got, ok, err := m.Lookup("shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b/dashboards/views.yaml", got.Filename)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Len())
}

func TestMerge_WholeEntryOverwrite(t *testing.T) {
	path := registryPath(t, `rtr-dashboard:
  mode: yaml
  title: Old
  icon: mdi:old
  show_in_sidebar: false
  require_admin: true
  filename: rtr/dashboards/views.yaml
`)
	r := NewMerger(path, "", nil).MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
	require.True(t, r.OK())

	doc, err := Load(path)
	require.NoError(t, err)
	raw, ok := doc.entries["rtr-dashboard"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, raw, "require_admin")
	assert.Equal(t, "rtr", raw["title"])
	assert.Equal(t, true, raw["show_in_sidebar"])
}

func TestMerge_PreservesOtherEntries(t *testing.T) {
	path := registryPath(t, `# managed by hand
map-dashboard:
  mode: yaml
  title: Map
  filename: map.yaml
  require_admin: true
energy:
  mode: storage
`)
	r := NewMerger(path, "", nil).MergeDashboardEntry("wss", catalog.Entry{ID: "wss"})
	require.True(t, r.OK())

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"energy", "map-dashboard", "wss-dashboard"}, doc.Slugs())

	mapEntry := doc.entries["map-dashboard"].(map[string]any)
	assert.Equal(t, map[string]any{
		"mode":          "yaml",
		"title":         "Map",
		"filename":      "map.yaml",
		"require_admin": true,
	}, mapEntry)
	assert.Equal(t, map[string]any{"mode": "storage"}, doc.entries["energy"])
}

func TestMerge_CorruptRegistry(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":   "rtr-dashboard: [unclosed\n",
		"sequence": "- a\n- b\n",
		"scalar":   "just text\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := registryPath(t, content)
			r := NewMerger(path, "", nil).MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
			f, fatal := r.Findings.Fatal()
			require.True(t, fatal)
			assert.Equal(t, types.CodeRegistryCorrupt, f.Code)
			assert.Equal(t, types.SeverityBatch, f.Severity())
			assert.ErrorIs(t, f, ErrCorrupt)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(data), "corrupt registry must be left untouched")
		})
	}
}

func TestMerge_WriteFailure(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "lovelace_dashboards.yaml")
	require.NoError(t, os.Chmod(dir, 0555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0755) })

	r := NewMerger(path, "", nil).MergeDashboardEntry("rtr", catalog.Entry{ID: "rtr"})
	f, fatal := r.Findings.Fatal()
	require.True(t, fatal)
	assert.Equal(t, types.CodeRegistryWriteFailed, f.Code)
	assert.ErrorIs(t, f, ErrWrite)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	path := registryPath(t, "")
	m := NewMerger(path, "", nil)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, m.MergeDashboardEntry(id, catalog.Entry{ID: id}).OK())
	}

	dirents, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	assert.Equal(t, filepath.Base(path), dirents[0].Name())
}

func TestRemoveEntry(t *testing.T) {
	path := registryPath(t, "")
	m := NewMerger(path, "", nil)
	require.True(t, m.MergeDashboardEntry("a", catalog.Entry{ID: "a"}).OK())
	require.True(t, m.MergeDashboardEntry("b", catalog.Entry{ID: "b"}).OK())

	r := m.RemoveEntry("a", "a-dashboard")
	require.True(t, r.OK())
	assert.True(t, r.Replaced)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-dashboard"}, doc.Slugs())

	again := m.RemoveEntry("a", "a-dashboard")
	assert.True(t, again.OK())
	assert.False(t, again.Replaced)
}

func TestParse_DuplicateSlugLastWins(t *testing.T) {
	doc, err := Parse([]byte("x:\n  title: first\nx:\n  title: second\n"))
	require.NoError(t, err)
	e, ok, err := doc.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", e.Title)
}
