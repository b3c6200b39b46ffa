// Package cfnyaml decodes YAML documents that may use CloudFormation short-form
// intrinsic function tags (!Ref, !GetAtt, !Sub, ...).
//
// Tagged nodes are rewritten into their long form, so
//
//	bucket: !Ref DataBucket
//	arn: !GetAtt DataBucket.Arn
//
// decodes to
//
//	{"bucket": {"Ref": "DataBucket"}, "arn": {"Fn::GetAtt": ["DataBucket", "Arn"]}}
package cfnyaml

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// intrinsics maps short-form tags to their long-form key.
var intrinsics = map[string]string{
	"!Ref":         "Ref",
	"!Condition":   "Condition",
	"!Base64":      "Fn::Base64",
	"!Cidr":        "Fn::Cidr",
	"!FindInMap":   "Fn::FindInMap",
	"!GetAtt":      "Fn::GetAtt",
	"!GetAZs":      "Fn::GetAZs",
	"!ImportValue": "Fn::ImportValue",
	"!Join":        "Fn::Join",
	"!Select":      "Fn::Select",
	"!Split":       "Fn::Split",
	"!Sub":         "Fn::Sub",
	"!Transform":   "Fn::Transform",
	"!And":         "Fn::And",
	"!Equals":      "Fn::Equals",
	"!If":          "Fn::If",
	"!Not":         "Fn::Not",
	"!Or":          "Fn::Or",
}

// Unmarshal decodes the first YAML document in data into plain Go values:
// map[string]any, []any, string, int, float64, bool, time.Time or nil.
// An empty document decodes to nil.
func Unmarshal(data []byte) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	c := converter{expanding: make(map[*yaml.Node]bool)}
	return c.convert(&doc)
}

// maxAliasExpansion caps the nodes converted on behalf of aliases, so that
// nested aliases cannot expand a small document exponentially.
const maxAliasExpansion = 100_000

// ErrExcessiveAliasing is returned for documents whose aliases expand past
// maxAliasExpansion nodes.
var ErrExcessiveAliasing = errors.New("document contains excessive aliasing")

type converter struct {
	// expanding holds alias targets currently being converted.
	expanding map[*yaml.Node]bool

	// aliasDepth is the number of aliases being expanded around the current
	// node; expanded counts nodes converted while it was non-zero.
	aliasDepth int
	expanded   int
}

func (c *converter) convert(n *yaml.Node) (any, error) {
	if c.aliasDepth > 0 {
		c.expanded++
		if c.expanded > maxAliasExpansion {
			return nil, fmt.Errorf("line %d: %w", n.Line, ErrExcessiveAliasing)
		}
	}
	if long, ok := intrinsics[n.Tag]; ok {
		return c.intrinsic(long, n)
	}
	if isLocalTag(n.Tag) {
		return nil, fmt.Errorf("line %d: unknown tag %s", n.Line, n.Tag)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return c.convert(n.Content[0])
	case yaml.AliasNode:
		if c.expanding[n.Alias] {
			return nil, fmt.Errorf("line %d: alias *%s refers to itself", n.Line, n.Value)
		}
		c.expanding[n.Alias] = true
		c.aliasDepth++
		defer func() {
			delete(c.expanding, n.Alias)
			c.aliasDepth--
		}()
		return c.convert(n.Alias)
	case yaml.SequenceNode:
		return c.sequence(n)
	case yaml.MappingNode:
		return c.mapping(n)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unexpected node kind %v", n.Line, n.Kind)
	}
}

func (c *converter) intrinsic(long string, n *yaml.Node) (any, error) {
	plain := *n
	plain.Tag = ""

	v, err := c.convert(&plain)
	if err != nil {
		return nil, err
	}

	// !GetAtt Resource.Attribute is shorthand for [Resource, Attribute].
	// Attribute names may themselves contain dots (Endpoint.Address).
	if long == "Fn::GetAtt" {
		if s, ok := v.(string); ok {
			if resource, attr, found := strings.Cut(s, "."); found {
				v = []any{resource, attr}
			}
		}
	}
	return map[string]any{long: v}, nil
}

func (c *converter) sequence(n *yaml.Node) ([]any, error) {
	out := make([]any, 0, len(n.Content))
	for _, item := range n.Content {
		v, err := c.convert(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *converter) mapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)

	// Merged keys first, so explicit keys win regardless of position.
	for i := 0; i+1 < len(n.Content); i += 2 {
		if isMerge(n.Content[i]) {
			if err := c.merge(out, n.Content[i+1]); err != nil {
				return nil, err
			}
		}
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if isMerge(k) {
			continue
		}
		key, err := c.key(k)
		if err != nil {
			return nil, err
		}
		val, err := c.convert(v)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

// merge applies a "<<" value: a mapping, or a sequence of mappings where
// earlier entries take precedence.
func (c *converter) merge(dst map[string]any, n *yaml.Node) error {
	v, err := c.convert(n)
	if err != nil {
		return err
	}

	var sources []any
	switch x := v.(type) {
	case map[string]any:
		sources = []any{x}
	case []any:
		sources = x
	default:
		return fmt.Errorf("line %d: map merge requires a mapping or a sequence of mappings", n.Line)
	}

	for _, src := range sources {
		m, ok := src.(map[string]any)
		if !ok {
			return fmt.Errorf("line %d: map merge requires a mapping or a sequence of mappings", n.Line)
		}
		for k, val := range m {
			if _, exists := dst[k]; !exists {
				dst[k] = val
			}
		}
	}
	return nil
}

func (c *converter) key(n *yaml.Node) (string, error) {
	v, err := c.convert(n)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func isMerge(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Value == "<<" && n.ShortTag() == "!!merge"
}

// isLocalTag reports whether tag is an application tag such as !Foo,
// as opposed to a core schema tag such as !!str.
func isLocalTag(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!") && tag != "!"
}
