package pane

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestPlan(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Placement
		want Instruction
	}{
		{"first child", Placement{ParentPane: "%1", Depth: 1}, Instruction{Direction: Vertical, Target: "%1", Depth: 1}},
		{"second child", Placement{ParentPane: "%1", Depth: 1, Ordinal: 1, AnchorPane: "%2"}, Instruction{Direction: Horizontal, Target: "%2", Depth: 1}},
		{"ordinal without anchor", Placement{ParentPane: "%1", Depth: 2, Ordinal: 3}, Instruction{Direction: Vertical, Target: "%1", Depth: 2}},
	}
	for _, tc := range cases {
		if got := Plan(tc.in); got != tc.want {
			t.Fatalf("%s: Plan = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

// family mimics how a parent tracks its open children.
type family struct {
	pane     string
	children []string
}

func (f *family) spawn(t *testing.T, mux Multiplexer, depth int) *family {
	t.Helper()
	placement := Placement{ParentPane: f.pane, Depth: depth, Ordinal: len(f.children)}
	if n := len(f.children); n > 0 {
		placement.AnchorPane = f.children[n-1]
	}
	p, err := Open(context.Background(), mux, Plan(placement), Command{Argv: []string{"egg"}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.children = append(f.children, p.ID)
	return &family{pane: p.ID}
}

func TestLayoutRecursion(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rootPane, err := rec.EnsureSession(context.Background(), SessionName("1700000000"), "")
	if err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	root := &family{pane: rootPane}
	c1 := root.spawn(t, rec, 1)
	c2 := root.spawn(t, rec, 1)
	c3 := root.spawn(t, rec, 1)
	g1 := c1.spawn(t, rec, 2)

	want := []Op{
		{Kind: "session", Target: "egg-tree-1700000000", Pane: rootPane},
		{Kind: "vertical", Target: rootPane, Pane: c1.pane},
		{Kind: "horizontal", Target: c1.pane, Pane: c2.pane},
		{Kind: "horizontal", Target: c2.pane, Pane: c3.pane},
		{Kind: "vertical", Target: c1.pane, Pane: g1.pane},
	}
	ops := rec.Ops()
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d: %+v", len(want), len(ops), ops)
	}
	for i := range want {
		if ops[i].Kind != want[i].Kind || ops[i].Target != want[i].Target || ops[i].Pane != want[i].Pane {
			t.Fatalf("op %d = %+v, want %+v", i, ops[i], want[i])
		}
	}
}

func TestOpenRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), NewRecorder(), Instruction{Direction: Vertical, Target: "%1"}, Command{})
	if err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestRecorderFailSplit(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	boom := errors.New("no space for new pane")
	rec.FailSplit = boom
	if _, err := rec.SplitVertical(context.Background(), "%1", Command{Argv: []string{"x"}}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := rec.SplitVertical(context.Background(), "%1", Command{Argv: []string{"x"}}); err != nil {
		t.Fatalf("second split should succeed: %v", err)
	}
}

func TestShellLine(t *testing.T) {
	t.Parallel()

	cmd := Command{Argv: []string{"/usr/bin/egg", "chat", "--ui", "plain", "it's"}}
	got := cmd.shellLine()
	want := `exec /usr/bin/egg chat --ui plain 'it'\''s'`
	if got != want {
		t.Fatalf("shellLine = %q, want %q", got, want)
	}
	if shellQuote("") != "''" || shellQuote("a b") != "'a b'" {
		t.Fatalf("unexpected quoting")
	}
}

func TestSortedEnv(t *testing.T) {
	t.Parallel()

	env := Command{Env: map[string]string{"EGG_TREE_ID": "1", "EGG_AGENT_ID": "worker-001"}}.sortedEnv()
	if len(env) != 2 || env[0] != "EGG_AGENT_ID=worker-001" || env[1] != "EGG_TREE_ID=1" {
		t.Fatalf("unexpected env %v", env)
	}
}

func TestParsePaneLine(t *testing.T) {
	t.Parallel()

	p, err := parsePaneLine("%12 4242\n")
	if err != nil || p.ID != "%12" || p.PID != 4242 {
		t.Fatalf("unexpected pane %+v, %v", p, err)
	}
	if _, err := parsePaneLine("no server running"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestHeadlessWritesLogs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	t.Parallel()

	dir := t.TempDir()
	h := NewHeadless()
	p, err := h.SplitVertical(context.Background(), "", Command{
		Argv:   []string{"/bin/sh", "-c", `echo "$GREETING"`},
		Dir:    dir,
		Env:    map[string]string{"GREETING": "hello from child"},
		LogDir: dir,
	})
	if err != nil {
		t.Fatalf("SplitVertical failed: %v", err)
	}
	if !strings.HasPrefix(p.ID, "proc:") || p.PID <= 0 {
		t.Fatalf("unexpected pane %+v", p)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(filepath.Join(dir, "stdout.log"))
		if strings.Contains(string(data), "hello from child") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stdout.log never received output, got %q", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := h.FocusPane(context.Background(), p.ID); !errors.Is(err, ErrNoPane) {
		t.Fatalf("expected ErrNoPane, got %v", err)
	}
}
