package graph

import (
	"strings"
	"testing"
)

func TestLoadEmbedded(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Root() != "plan" {
		t.Fatalf("Root: got %s", r.Root())
	}
	kids := r.ChildrenOf("topic")
	want := []string{"content_unit", "virtual_topic", "generation_task"}
	if len(kids) != len(want) {
		t.Fatalf("ChildrenOf(topic): got %v", kids)
	}
	for i, e := range kids {
		if e.Child != want[i] || e.Parent != "topic" || e.Field != "topic_id" {
			t.Fatalf("ChildrenOf(topic)[%d]: got %+v", i, e)
		}
	}
	if r.Strategy("topic") != StrategySoft || r.Strategy("virtual_topic") != StrategyHard {
		t.Fatalf("Strategy: unexpected strategies")
	}
	if got := r.ParentsOf("virtual_content_unit"); len(got) != 2 {
		t.Fatalf("ParentsOf(virtual_content_unit): got %v", got)
	}
	if len(r.ChildrenOf("nope")) != 0 {
		t.Fatalf("ChildrenOf(unknown): expected empty")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "cycle",
			yaml: `
root: a
collections:
  - name: a
    children: [{collection: b, field: a_id}]
  - name: b
    children: [{collection: c, field: b_id}]
  - name: c
    children: [{collection: b, field: c_id}]
`,
			want: "cycle",
		},
		{
			name: "unknown child",
			yaml: `
root: a
collections:
  - name: a
    children: [{collection: z, field: a_id}]
`,
			want: "unknown child",
		},
		{
			name: "duplicate name",
			yaml: `
root: a
collections:
  - name: a
  - name: a
`,
			want: "duplicate collection",
		},
		{
			name: "unreachable",
			yaml: `
root: a
collections:
  - name: a
  - name: b
`,
			want: "not reachable",
		},
		{
			name: "bad field",
			yaml: `
root: a
collections:
  - name: a
    children: [{collection: b, field: "a id; drop"}]
  - name: b
`,
			want: "invalid reference field",
		},
		{
			name: "root with parent",
			yaml: `
root: b
collections:
  - name: a
    children: [{collection: b, field: a_id}]
  - name: b
`,
			want: "must not have parents",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadOverride(t *testing.T) {
	t.Setenv(registryEnv, "/nonexistent/registry.yaml")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing override file")
	}
}
