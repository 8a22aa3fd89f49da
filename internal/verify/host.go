package verify

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Host include check ids.
const (
	CheckPackagesInclude   = "host/packages-include"
	CheckDashboardsInclude = "host/dashboards-include"
)

const (
	tagIncludeDirNamed = "!include_dir_named"
	tagInclude         = "!include"
)

// checkHost asserts that the host configuration includes the activation
// directory as packages and the registry as lovelace dashboards. Both checks
// only warn.
func (v *Verifier) checkHost() []CheckResult {
	path := v.opts.HostConfig
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	// Parsed as a node tree: the include tags are not decodable values.
	var root yaml.Node
	if err == nil {
		err = yaml.Unmarshal(data, &root)
	}
	if err != nil {
		detail := fmt.Sprintf("cannot read %s: %v", path, err)
		return []CheckResult{
			{ID: CheckPackagesInclude, Status: StatusWarn, Detail: detail},
			{ID: CheckDashboardsInclude, Status: StatusWarn, Detail: detail},
		}
	}

	var activationDir string
	if v.opts.Table != nil {
		activationDir = v.opts.Table.Dir()
	}
	base := filepath.Dir(path)
	return []CheckResult{
		includeCheck(CheckPackagesInclude, base, tagIncludeDirNamed, activationDir,
			lookup(&root, "homeassistant", "packages"), "homeassistant.packages"),
		includeCheck(CheckDashboardsInclude, base, tagInclude, v.opts.RegistryPath,
			lookup(&root, "lovelace", "dashboards"), "lovelace.dashboards"),
	}
}

func includeCheck(id, base, tag, want string, n *yaml.Node, key string) CheckResult {
	r := CheckResult{ID: id}
	hint := fmt.Sprintf("%s: %s %s", key, tag, relTo(base, want))
	switch {
	case n == nil:
		r.Status, r.Detail = StatusWarn, fmt.Sprintf("%s not set, add %s", key, hint)
	case n.Kind != yaml.ScalarNode || n.Tag != tag:
		r.Status, r.Detail = StatusWarn, fmt.Sprintf("%s is not a %s include, want %s", key, tag, hint)
	default:
		got := filepath.FromSlash(n.Value)
		if !filepath.IsAbs(got) {
			got = filepath.Join(base, got)
		}
		if samePath(got, want) {
			r.Status, r.Detail = StatusPass, fmt.Sprintf("%s %s", tag, n.Value)
		} else {
			r.Status, r.Detail = StatusWarn, fmt.Sprintf("%s includes %s, want %s", key, n.Value, hint)
		}
	}
	return r
}

// lookup follows a path of mapping keys. Duplicate keys resolve to the
// last occurrence.
func lookup(n *yaml.Node, keys ...string) *yaml.Node {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	for _, key := range keys {
		for n.Kind == yaml.AliasNode && n.Alias != nil {
			n = n.Alias
		}
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func relTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
