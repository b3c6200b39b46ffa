// Package hclvars decodes attribute-only HCL documents such as Terraform
// .tfvars files into plain Go values.
package hclvars

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Unmarshal parses src as HCL native syntax and evaluates every top-level
// attribute without variables or functions. Blocks are rejected.
//
// Values come back the way encoding/json produces them: map[string]any,
// []any, string, float64, bool or nil.
func Unmarshal(src []byte, filename string) (map[string]any, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	out := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		goVal, err := toGo(val)
		if err != nil {
			return nil, fmt.Errorf("%s: attribute %q: %w", attr.Range.String(), name, err)
		}
		out[name] = goVal
	}
	return out, nil
}

// toGo converts a cty value through its JSON encoding.
func toGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
