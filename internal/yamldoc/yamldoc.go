// Package yamldoc parses YAML documents into plain Go values with the same
// duplicate-key behavior as the host configuration loader: the last
// occurrence of a key in a mapping wins. gopkg.in/yaml.v3 rejects duplicate
// keys when decoding into Go values, so documents are parsed into a node tree
// first and converted here.
package yamldoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

const maxDepth = 10000

// ErrComplexKey is returned for mapping keys that are not scalars.
var ErrComplexKey = errors.New("unsupported non-scalar mapping key")

// ErrTooDeep is returned when alias expansion exceeds maxDepth.
var ErrTooDeep = errors.New("document nesting too deep")

// ErrMultipleDocuments is returned for streams with more than one document.
var ErrMultipleDocuments = errors.New("expected a single document in the stream")

// Document is a parsed YAML document.
type Document struct {
	// Value is nil for an empty, comment-only or explicit null document.
	// Mappings are map[string]any and sequences are []any.
	Value any
	// Keys lists the top-level mapping keys in first-appearance order.
	Keys []string
}

// IsMapping reports whether the document root is a mapping.
func (d Document) IsMapping() bool {
	_, ok := d.Value.(map[string]any)
	return ok
}

// Mapping returns the document root as a mapping, or nil.
func (d Document) Mapping() map[string]any {
	m, _ := d.Value.(map[string]any)
	return m
}

// Parse parses data as a single YAML document.
func Parse(data []byte) (Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, err
	}
	var next yaml.Node
	switch err := dec.Decode(&next); {
	case err == nil:
		return Document{}, fmt.Errorf("line %d: %w", next.Line, ErrMultipleDocuments)
	case !errors.Is(err, io.EOF):
		return Document{}, err
	}
	if root.Kind == 0 {
		return Document{}, nil
	}

	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return Document{}, nil
		}
		node = node.Content[0]
	}
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}

	v, err := convert(node, 0)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Value: v}
	if node.Kind == yaml.MappingNode {
		doc.Keys, err = orderedKeys(node)
		if err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// TypeName describes the shape of a parsed value for diagnostics.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "mapping"
	case []any:
		return "sequence"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, uint64:
		return "int"
	case float64:
		return "float"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func convert(n *yaml.Node, depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return convert(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: unresolved alias %q", n.Line, n.Value)
		}
		return convert(n.Alias, depth+1)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := convert(c, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return convertMapping(n, depth)
	default:
		return nil, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
	}
}

// convertMapping applies last-wins to duplicate keys. Keys merged in with
// "<<" are defaults: explicit keys override them regardless of position, and
// earlier merge sources take precedence over later ones.
func convertMapping(n *yaml.Node, depth int) (map[string]any, error) {
	explicit := make(map[string]any, len(n.Content)/2)
	var merged []map[string]any

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if isMergeKey(k) {
			srcs, err := mergeSources(v, depth)
			if err != nil {
				return nil, err
			}
			merged = append(merged, srcs...)
			continue
		}
		key, err := keyString(k)
		if err != nil {
			return nil, err
		}
		val, err := convert(v, depth+1)
		if err != nil {
			return nil, err
		}
		explicit[key] = val
	}

	if len(merged) == 0 {
		return explicit, nil
	}
	out := make(map[string]any)
	for i := len(merged) - 1; i >= 0; i-- {
		for k, v := range merged[i] {
			out[k] = v
		}
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out, nil
}

func mergeSources(v *yaml.Node, depth int) ([]map[string]any, error) {
	resolve := func(n *yaml.Node) (map[string]any, error) {
		val, err := convert(n, depth+1)
		if err != nil {
			return nil, err
		}
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("line %d: merge value must be a mapping, got %s", n.Line, TypeName(val))
		}
		return m, nil
	}

	target := v
	for target.Kind == yaml.AliasNode && target.Alias != nil {
		target = target.Alias
	}
	if target.Kind != yaml.SequenceNode {
		m, err := resolve(v)
		if err != nil {
			return nil, err
		}
		return []map[string]any{m}, nil
	}

	out := make([]map[string]any, 0, len(target.Content))
	for _, c := range target.Content {
		m, err := resolve(c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func isMergeKey(k *yaml.Node) bool {
	return k.Kind == yaml.ScalarNode && k.Value == "<<" && (k.Tag == "" || k.Tag == "!!merge" || k.Tag == "tag:yaml.org,2002:merge")
}

func keyString(k *yaml.Node) (string, error) {
	for k.Kind == yaml.AliasNode && k.Alias != nil {
		k = k.Alias
	}
	if k.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: %w", k.Line, ErrComplexKey)
	}
	return k.Value, nil
}

func orderedKeys(n *yaml.Node) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if isMergeKey(k) {
			srcs, err := mergeSources(n.Content[i+1], 0)
			if err != nil {
				return nil, err
			}
			for _, m := range srcs {
				for _, mk := range sortedKeys(m) {
					add(mk)
				}
			}
			continue
		}
		key, err := keyString(k)
		if err != nil {
			return nil, err
		}
		add(key)
	}
	return keys, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
