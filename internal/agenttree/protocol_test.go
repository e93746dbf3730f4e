package agenttree

import (
	"encoding/json"
	"testing"
)

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"Researcher":      "researcher",
		"  web search  ":  "web_search",
		"":                "child",
		"root":            "child",
		"a-b":             "a_b",
		"!!!":             "child",
	}
	for in, want := range cases {
		if got := SanitizeLabel(in); got != want {
			t.Fatalf("SanitizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSelector(t *testing.T) {
	cases := []struct {
		raw  string
		want Selector
	}{
		{`"all"`, Selector{Mode: WaitAll}},
		{`"ANY"`, Selector{Mode: WaitAny}},
		{``, Selector{Mode: WaitAll}},
		{`"w-001"`, Selector{Mode: WaitIDs, IDs: []string{"w-001"}}},
		{`"w-001, w-002"`, Selector{Mode: WaitIDs, IDs: []string{"w-001", "w-002"}}},
		{`["w-002","w-002","w-003"]`, Selector{Mode: WaitIDs, IDs: []string{"w-002", "w-003"}}},
	}
	for _, tc := range cases {
		got, err := ParseSelector(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("ParseSelector(%s) failed: %v", tc.raw, err)
		}
		if got.Mode != tc.want.Mode || len(got.IDs) != len(tc.want.IDs) {
			t.Fatalf("ParseSelector(%s) = %+v, want %+v", tc.raw, got, tc.want)
		}
		for i := range got.IDs {
			if got.IDs[i] != tc.want.IDs[i] {
				t.Fatalf("ParseSelector(%s) = %+v, want %+v", tc.raw, got, tc.want)
			}
		}
	}
	for _, bad := range []string{`42`, `[]`, `{"a":1}`} {
		if _, err := ParseSelector(json.RawMessage(bad)); err == nil {
			t.Fatalf("ParseSelector(%s) should fail", bad)
		}
	}
}

func TestSelfFromEnv(t *testing.T) {
	env := map[string]string{
		EnvTreeID:      "1700000000",
		EnvAgentID:     "w-001",
		EnvParentID:    "root",
		EnvAgentDir:    "/tmp/x",
		EnvAutoApprove: "1",
		EnvModel:       "sonnet",
	}
	self, ok := SelfFromEnv(func(k string) string { return env[k] })
	if !ok || !self.IsChild() || !self.AutoApprove || self.Model != "sonnet" || self.Dir != "/tmp/x" {
		t.Fatalf("unexpected self %+v", self)
	}
	if _, ok := SelfFromEnv(func(string) string { return "" }); ok {
		t.Fatalf("missing agent id means root")
	}

	back := childEnv("/state", NodeState{TreeID: "1", AgentID: "w-001", ParentID: "root", Dir: "/d", AutoApprove: true, Model: "m"})
	if back[EnvAutoApprove] != "1" || back[EnvRoot] != "/state" || back[EnvModel] != "m" {
		t.Fatalf("unexpected child env %v", back)
	}
}
