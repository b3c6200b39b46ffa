// Package filekind classifies the files a file variable can point at.
package filekind

import "path/filepath"

// Kind is the format a file is decoded with.
type Kind string

const (
	// KindYAML is a YAML document; CloudFormation tags are accepted.
	KindYAML Kind = "yaml"
	// KindJSON is a JSON document, Terraform state included.
	KindJSON Kind = "json"
	// KindTOML is a TOML document.
	KindTOML Kind = "toml"
	// KindHCL is an attribute-only HCL document (.hcl, .tfvars).
	KindHCL Kind = "hcl"
	// KindModule is a Starlark module that may export functions.
	KindModule Kind = "module"
	// KindText is anything else, returned verbatim.
	KindText Kind = "text"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// IsModule reports whether files of this kind are executed rather than parsed.
func (k Kind) IsModule() bool {
	return k == KindModule
}

// AllKinds returns all defined file kinds.
func AllKinds() []Kind {
	return []Kind{KindYAML, KindJSON, KindTOML, KindHCL, KindModule, KindText}
}

// FromPath classifies name by its extension. Extensions are case-sensitive.
func FromPath(name string) Kind {
	switch filepath.Ext(name) {
	case ".yml", ".yaml":
		return KindYAML
	case ".json", ".tfstate":
		return KindJSON
	case ".toml":
		return KindTOML
	case ".hcl", ".tfvars":
		return KindHCL
	case ".star", ".sky":
		return KindModule
	}
	return KindText
}

// IsModule reports whether name is a Starlark module.
func IsModule(name string) bool {
	return FromPath(name).IsModule()
}
