package hostconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/albertocavalcante/skyvars/internal/varsource"
)

const serviceYAML = `
service: orders
provider:
  name: aws
  region: us-east-1
  stage: ${opt:stage, 'dev'}
  memorySize: 512
custom:
  table: !Ref OrdersTable
  plain:
    - a
    - b
`

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "serverless.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write host config: %v", err)
	}
	return path
}

func TestResolveConfigurationProperty(t *testing.T) {
	c := New(WithFile(writeYAML(t, serviceYAML)), WithEnvPrefix(""))
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		path []string
		want any
	}{
		{name: "top level", path: []string{"service"}, want: "orders"},
		{name: "nested", path: []string{"provider", "region"}, want: "us-east-1"},
		{name: "number", path: []string{"provider", "memorySize"}, want: 512},
		{name: "intrinsic", path: []string{"custom", "table"}, want: map[string]any{"Ref": "OrdersTable"}},
		{name: "list", path: []string{"custom", "plain"}, want: []any{"a", "b"}},
		{name: "missing", path: []string{"provider", "runtime"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveConfigurationProperty(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("ResolveConfigurationProperty(%v) error = %v", tt.path, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveConfigurationProperty(%v) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestResolveConfigurationProperty_Pending(t *testing.T) {
	c := New(WithFile(writeYAML(t, serviceYAML)), WithEnvPrefix(""))
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, path := range [][]string{{"provider", "stage"}, {"provider"}} {
		_, err := c.ResolveConfigurationProperty(context.Background(), path)
		var pending *varsource.MissingDependencyError
		if !errors.As(err, &pending) {
			t.Fatalf("ResolveConfigurationProperty(%v) error = %v, want MissingDependencyError", path, err)
		}
		if diff := cmp.Diff(path, pending.Path); diff != "" {
			t.Errorf("MissingDependencyError.Path mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLayers(t *testing.T) {
	t.Setenv("SKYVARS_TEST_HOST_provider__region", "eu-west-1")
	t.Setenv("SKYVARS_TEST_HOST_variablesResolutionMode", "20210326")

	c := New(WithFile(writeYAML(t, serviceYAML)), WithEnvPrefix("SKYVARS_TEST_HOST_"))
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := c.Get("provider.region"); got != "eu-west-1" {
		t.Errorf("env layer: provider.region = %v, want eu-west-1", got)
	}
	if got := c.Get("provider.name"); got != "aws" {
		t.Errorf("file layer lost: provider.name = %v, want aws", got)
	}
	if got := c.Get("variablesResolutionMode"); got != "20210326" {
		t.Errorf("variablesResolutionMode = %v, want 20210326", got)
	}

	if err := c.Set("provider.region", "ap-south-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.LoadMap(map[string]any{"custom": map[string]any{"extra": true}}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}
	if got := c.Get("provider.region"); got != "ap-south-1" {
		t.Errorf("set layer: provider.region = %v, want ap-south-1", got)
	}
	if got := c.Get("custom.extra"); got != true {
		t.Errorf("map layer: custom.extra = %v, want true", got)
	}
	if got := c.Get("custom.table"); got == nil {
		t.Error("map layer replaced sibling custom.table")
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := map[string]string{
		"not a mapping": "- a\n- b\n",
		"syntax":        "provider: [\n",
		"unknown tag":   "x: !Bogus y\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeYAML(t, content)
			err := New(WithEnvPrefix("")).LoadFile(path)
			if err == nil {
				t.Fatal("LoadFile() error = nil, want error")
			}
			if !strings.Contains(err.Error(), path) {
				t.Errorf("error = %q, want it to name the file", err)
			}
		})
	}

	if err := New(WithFile(filepath.Join(t.TempDir(), "absent.yml"))).Load(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() of a missing file error = %v, want ErrNotExist", err)
	}
}

func TestEmptyDocument(t *testing.T) {
	c := New(WithEnvPrefix(""))
	if err := c.LoadFile(writeYAML(t, "")); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	v, err := c.ResolveConfigurationProperty(context.Background(), []string{"variablesResolutionMode"})
	if err != nil || v != nil {
		t.Errorf("ResolveConfigurationProperty() = %v, %v; want nil, nil", v, err)
	}
}

func TestMarshal(t *testing.T) {
	c := New(WithEnvPrefix(""))
	if err := c.LoadMap(map[string]any{"provider": map[string]any{"region": "eu-west-1"}}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}
	out, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := "provider:\n    region: eu-west-1\n"; string(out) != want {
		t.Errorf("Marshal() = %q, want %q", out, want)
	}
}

func TestMapProviderReadBytes(t *testing.T) {
	if _, err := mapProvider(nil).ReadBytes(); !errors.Is(err, ErrReadBytesNotSupported) {
		t.Errorf("ReadBytes() error = %v, want ErrReadBytesNotSupported", err)
	}
}
