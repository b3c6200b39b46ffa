package cfnyaml

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want any
	}{
		{
			name: "plain mapping",
			src:  "a:\n  b: 2\n  c: [x, y]\n",
			want: map[string]any{"a": map[string]any{"b": 2, "c": []any{"x", "y"}}},
		},
		{
			name: "empty document",
			src:  "",
			want: nil,
		},
		{
			name: "ref",
			src:  "bucket: !Ref DataBucket\n",
			want: map[string]any{"bucket": map[string]any{"Ref": "DataBucket"}},
		},
		{
			name: "getatt scalar splits on first dot",
			src:  "addr: !GetAtt Database.Endpoint.Address\n",
			want: map[string]any{"addr": map[string]any{"Fn::GetAtt": []any{"Database", "Endpoint.Address"}}},
		},
		{
			name: "getatt sequence",
			src:  "arn: !GetAtt [Queue, Arn]\n",
			want: map[string]any{"arn": map[string]any{"Fn::GetAtt": []any{"Queue", "Arn"}}},
		},
		{
			name: "nested intrinsics",
			src:  "name: !Join ['-', [!Ref Stage, api]]\n",
			want: map[string]any{"name": map[string]any{
				"Fn::Join": []any{"-", []any{map[string]any{"Ref": "Stage"}, "api"}},
			}},
		},
		{
			name: "sub with mapping",
			src:  "url: !Sub\n  - 'https://${Host}'\n  - Host: example.com\n",
			want: map[string]any{"url": map[string]any{
				"Fn::Sub": []any{"https://${Host}", map[string]any{"Host": "example.com"}},
			}},
		},
		{
			name: "anchors and merge keys",
			src: `base: &base
  region: eu-west-1
  memory: 128
prod:
  <<: *base
  memory: 1024
`,
			want: map[string]any{
				"base": map[string]any{"region": "eu-west-1", "memory": 128},
				"prod": map[string]any{"region": "eu-west-1", "memory": 1024},
			},
		},
		{
			name: "non-string keys are stringified",
			src:  "1: one\ntrue: yes\n",
			want: map[string]any{"1": "one", "true": "yes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unmarshal([]byte(tt.src))
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Unmarshal() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "syntax", src: "a: [1, 2\n", wantMsg: "yaml"},
		{name: "unknown tag", src: "a: !Bogus x\n", wantMsg: "unknown tag !Bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.src))
			if err == nil {
				t.Fatal("Unmarshal() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

// aliasFanout builds a document where each level lists the previous one ten
// times, so fully expanding the last level yields 10^levels leaves.
func aliasFanout(levels int) string {
	var b strings.Builder
	b.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= levels; i++ {
		ref := fmt.Sprintf("*l%d", i-1)
		fmt.Fprintf(&b, "l%d: &l%d [%s]\n", i, i, strings.TrimSuffix(strings.Repeat(ref+", ", 10), ", "))
	}
	return b.String()
}

func TestUnmarshal_ExcessiveAliasing(t *testing.T) {
	_, err := Unmarshal([]byte(aliasFanout(8)))
	if !errors.Is(err, ErrExcessiveAliasing) {
		t.Fatalf("Unmarshal() error = %v, want %v", err, ErrExcessiveAliasing)
	}
}

func TestUnmarshal_ModerateAliasing(t *testing.T) {
	v, err := Unmarshal([]byte(aliasFanout(3)))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	l3 := v.(map[string]any)["l3"].([]any)
	l2 := l3[9].([]any)
	if len(l3) != 10 || len(l2) != 10 || len(l2[0].([]any)) != 10 {
		t.Errorf("unexpected expansion: %v", l3)
	}
}
