package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// includePrefix marks a string value as an include directive. The directive
// grammar is:
//
//	@include:relative/path.yaml
//	@include:relative/path.yaml + [item, other item]
//
// The referenced file must contain a YAML sequence or mapping, which replaces
// the string value in place. The optional "+ [ ... ]" suffix appends literal
// items to an included sequence. Nested lists and brackets inside literal
// items are rejected. Includes may reference further includes up to a fixed
// depth, which also breaks reference cycles.
const includePrefix = "@include:"

// maxIncludeDepth bounds include nesting (and cuts include cycles short).
const maxIncludeDepth = 10

// decodePreprocessed resolves all include directives in raw and decodes the
// result into a Config with strict field checking.
func decodePreprocessed(raw []byte, baseDir string) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := resolveIncludes(&root, baseDir, 0); err != nil {
		return nil, err
	}

	// Round-trip through bytes so the strict decoder sees the resolved tree.
	resolved, err := yaml.Marshal(&root)
	if err != nil {
		return nil, fmt.Errorf("re-encode resolved config: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(string(resolved)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// resolveIncludes walks the node tree and replaces include-directive scalars
// with the content of the referenced files.
func resolveIncludes(n *yaml.Node, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("include depth exceeds %d (include cycle?)", maxIncludeDepth)
	}

	if n.Kind == yaml.ScalarNode && strings.HasPrefix(n.Value, includePrefix) {
		resolved, err := expandDirective(n.Value, baseDir, depth)
		if err != nil {
			return err
		}
		*n = *resolved
		return nil
	}

	for _, child := range n.Content {
		if err := resolveIncludes(child, baseDir, depth); err != nil {
			return err
		}
	}
	return nil
}

// expandDirective parses and evaluates a single include directive value.
func expandDirective(directive, baseDir string, depth int) (*yaml.Node, error) {
	rest := strings.TrimPrefix(directive, includePrefix)

	path := rest
	var literal string
	if i := strings.Index(rest, "+"); i >= 0 {
		path = strings.TrimSpace(rest[:i])
		literal = strings.TrimSpace(rest[i+1:])
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("include directive %q has an empty path", directive)
	}

	raw, err := os.ReadFile(filepath.Join(baseDir, path))
	if err != nil {
		return nil, fmt.Errorf("include %q: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("include %q: decode: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("include %q: expected a single YAML document", path)
	}
	body := doc.Content[0]
	if body.Kind != yaml.SequenceNode && body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("include %q: content must be a list or a map", path)
	}

	// Included files may themselves contain directives.
	if err := resolveIncludes(body, baseDir, depth+1); err != nil {
		return nil, err
	}

	if literal == "" {
		return body, nil
	}
	if body.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("include %q: list-literal concatenation requires the included content to be a list", path)
	}
	items, err := parseListLiteral(literal)
	if err != nil {
		return nil, fmt.Errorf("include %q: %w", path, err)
	}
	body.Content = append(body.Content, items...)
	return body, nil
}

// parseListLiteral parses a bracketed literal like "[a, b c, d]" into scalar
// nodes. Nested brackets are forbidden: items must be plain strings.
func parseListLiteral(s string) ([]*yaml.Node, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed list literal %q (must be bracketed)", s)
	}
	inner := s[1 : len(s)-1]
	if strings.ContainsAny(inner, "[]") {
		return nil, fmt.Errorf("nested lists are not allowed in list literal %q", s)
	}

	var items []*yaml.Node
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		items = append(items, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: part,
		})
	}
	return items, nil
}
