package hostconfig

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"

	"github.com/albertocavalcante/skyvars/internal/cfnyaml"
)

// YAML is a koanf.Parser for service configuration documents. Unlike a plain
// YAML parser it accepts CloudFormation short-form tags such as !Ref, which
// serverless-style configuration commonly contains.
type YAML struct {
	out *yaml.YAML
}

// Parser returns the host configuration parser.
func Parser() *YAML {
	return &YAML{out: yaml.Parser()}
}

// Unmarshal parses a YAML document whose root must be a mapping.
func (p *YAML) Unmarshal(b []byte) (map[string]any, error) {
	v, err := cfnyaml.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return x, nil
	default:
		return nil, fmt.Errorf("configuration document must be a mapping, got %T", v)
	}
}

// Marshal renders a config map as YAML.
func (p *YAML) Marshal(m map[string]any) ([]byte, error) {
	return p.out.Marshal(m)
}
