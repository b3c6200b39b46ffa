package starmodule

import (
	"math/big"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/albertocavalcante/skyvars/internal/varsource"
)

func TestToGo(t *testing.T) {
	dict := starlark.NewDict(2)
	_ = dict.SetKey(starlark.String("host"), starlark.String("db.local"))
	_ = dict.SetKey(starlark.String("ports"), starlark.NewList([]starlark.Value{starlark.MakeInt(5432), starlark.MakeInt(5433)}))

	tests := []struct {
		name string
		in   starlark.Value
		want any
	}{
		{"none", starlark.None, nil},
		{"bool", starlark.True, true},
		{"int", starlark.MakeInt(42), 42},
		{"float", starlark.Float(1.5), 1.5},
		{"string", starlark.String("x"), "x"},
		{"bytes", starlark.Bytes("raw"), "raw"},
		{"tuple", starlark.Tuple{starlark.String("a"), starlark.None}, []any{"a", nil}},
		{"dict", dict, map[string]any{"host": "db.local", "ports": []any{5432, 5433}}},
		{
			"struct",
			starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"name": starlark.String("orders")}),
			map[string]any{"name": "orders"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.in)
			if err != nil {
				t.Fatalf("ToGo() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ToGo() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToGo_Errors(t *testing.T) {
	intKeys := starlark.NewDict(1)
	_ = intKeys.SetKey(starlark.MakeInt(1), starlark.String("one"))

	nested := starlark.NewDict(1)
	_ = nested.SetKey(starlark.String("set"), starlark.NewSet(0))

	tests := []struct {
		name    string
		in      starlark.Value
		wantErr string
	}{
		{"int key", intKeys, "only string keys are supported"},
		{"huge int", starlark.MakeBigInt(new(big.Int).Lsh(big.NewInt(1), 80)), "out of range"},
		{"builtin", starlark.NewBuiltin("getenv", builtinGetenv), "builtin_function_or_method"},
		{"nested set", nested, "set: unsupported value of type set"},
		{"list element", starlark.NewList([]starlark.Value{starlark.None, starlark.NewSet(0)}), "[1]: unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToGo(tt.in)
			if err == nil {
				t.Fatal("ToGo() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ToGo() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestToGo_FunctionIsDeferred(t *testing.T) {
	globals, err := starlark.ExecFile(&starlark.Thread{}, "f.star", "def table(ctx):\n    return 1\n", nil)
	if err != nil {
		t.Fatalf("ExecFile() error = %v", err)
	}

	got, err := ToGo(globals["table"])
	if err != nil {
		t.Fatalf("ToGo() error = %v", err)
	}
	d, ok := got.(*varsource.Deferred)
	if !ok {
		t.Fatalf("ToGo() = %T, want *varsource.Deferred", got)
	}
	if d.Name != "table" {
		t.Errorf("Name = %q, want %q", d.Name, "table")
	}
}

func TestToStarlark(t *testing.T) {
	in := map[string]any{
		"b":      true,
		"n":      int64(7),
		"u":      uint64(8),
		"f":      2.5,
		"s":      "str",
		"tables": []map[string]any{{"name": "a"}, {"name": "b"}},
		"tags":   []string{"x", "y"},
		"list":   []any{1, nil},
	}

	v, err := ToStarlark(in)
	if err != nil {
		t.Fatalf("ToStarlark() error = %v", err)
	}

	// Lists of tables and strings come back as plain lists.
	back, err := ToGo(v)
	if err != nil {
		t.Fatalf("ToGo() error = %v", err)
	}
	want := map[string]any{
		"b":      true,
		"n":      7,
		"u":      8,
		"f":      2.5,
		"s":      "str",
		"tables": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
		"tags":   []any{"x", "y"},
		"list":   []any{1, nil},
	}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestToStarlark_Unsupported(t *testing.T) {
	_, err := ToStarlark(map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("ToStarlark() expected error")
	}
	if !strings.Contains(err.Error(), "ch: cannot convert chan int") {
		t.Errorf("error = %q", err)
	}
}

func TestPredeclared_Getenv(t *testing.T) {
	t.Setenv("SKYVARS_TEST_REGION", "eu-west-1")

	src := `
region = getenv("SKYVARS_TEST_REGION")
fallback = getenv("SKYVARS_TEST_UNSET_VALUE", "none")
empty = getenv("SKYVARS_TEST_UNSET_VALUE")
decoded = json.decode('{"a": 1}')["a"]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "env.star", src, Predeclared())
	if err != nil {
		t.Fatalf("ExecFile() error = %v", err)
	}

	got := map[string]string{}
	for _, name := range []string{"region", "fallback", "empty", "decoded"} {
		got[name] = globals[name].String()
	}
	want := map[string]string{
		"region":   `"eu-west-1"`,
		"fallback": `"none"`,
		"empty":    `""`,
		"decoded":  "1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
