package agenttree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store is the file-backed registry of agent trees:
//
//	<root>/agents/.current_tree
//	<root>/agents/<tree>/ids/<agent_id>            id reservation, holds the lineage dir
//	<root>/agents/<tree>/root/state.json
//	<root>/agents/<tree>/root/children/<agent_id>/{state.json,result.json,init_context.txt}
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	r := strings.TrimSpace(root)
	if r == "" {
		r = ".egg"
	}
	if abs, err := filepath.Abs(r); err == nil {
		r = abs
	}
	return &Store{Root: filepath.Clean(r)}
}

func (s *Store) AgentsDir() string { return filepath.Join(s.Root, "agents") }

func (s *Store) TreeDir(tree string) string { return filepath.Join(s.AgentsDir(), tree) }

func (s *Store) RootDir(tree string) string { return filepath.Join(s.TreeDir(tree), RootID) }

func (s *Store) idsDir(tree string) string { return filepath.Join(s.TreeDir(tree), "ids") }

func (s *Store) currentPath() string { return filepath.Join(s.AgentsDir(), ".current_tree") }

func ChildrenDir(dir string) string { return filepath.Join(dir, "children") }

func StatePath(dir string) string { return filepath.Join(dir, "state.json") }

func ResultPath(dir string) string { return filepath.Join(dir, "result.json") }

func InitContextPath(dir string) string { return filepath.Join(dir, "init_context.txt") }

// NewTree creates a tree named after the unix time, bumping the id while it is taken.
func (s *Store) NewTree(now time.Time) (string, error) {
	if err := os.MkdirAll(s.AgentsDir(), 0o755); err != nil {
		return "", err
	}
	id := now.Unix()
	for i := 0; i < 1000; i++ {
		tree := strconv.FormatInt(id+int64(i), 10)
		err := os.Mkdir(s.TreeDir(tree), 0o755)
		if err == nil {
			if err := os.MkdirAll(s.idsDir(tree), 0o755); err != nil {
				return "", err
			}
			return tree, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("could not allocate a tree id near %d", id)
}

func (s *Store) TreeExists(tree string) bool {
	if strings.TrimSpace(tree) == "" || strings.ContainsAny(tree, `/\`) {
		return false
	}
	info, err := os.Stat(s.TreeDir(tree))
	return err == nil && info.IsDir()
}

// Current returns the persisted current tree pointer.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoTree
		}
		return "", err
	}
	tree := strings.TrimSpace(string(data))
	if tree == "" {
		return "", ErrNoTree
	}
	return tree, nil
}

// SetCurrent moves the current tree pointer. Last writer wins.
func (s *Store) SetCurrent(tree string) error {
	return writeFileAtomic(s.currentPath(), []byte(tree+"\n"))
}

// Use switches the current pointer to an existing tree.
func (s *Store) Use(tree string) error {
	if !s.TreeExists(tree) {
		return fmt.Errorf("%w: %s", ErrUnknownTree, tree)
	}
	return s.SetCurrent(tree)
}

type TreeInfo struct {
	ID      string
	Current bool
	Agents  int
	Root    NodeState
}

func (s *Store) ListTrees() ([]TreeInfo, error) {
	entries, err := os.ReadDir(s.AgentsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	current, _ := s.Current()
	out := make([]TreeInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info := TreeInfo{ID: entry.Name(), Current: entry.Name() == current}
		if ids, err := os.ReadDir(s.idsDir(info.ID)); err == nil {
			info.Agents = len(ids)
		}
		_ = readJSONFile(StatePath(s.RootDir(info.ID)), &info.Root)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reserve claims a tree-unique id of the form label-NNN, one above the highest
// number already used for the label.
func (s *Store) Reserve(tree string, label string, dir func(id string) string) (string, error) {
	idsDir := s.idsDir(tree)
	if err := os.MkdirAll(idsDir, 0o755); err != nil {
		return "", err
	}
	for attempt := 0; attempt < 100; attempt++ {
		n, err := nextOrdinal(idsDir, label)
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%03d", label, n)
		f, err := os.OpenFile(filepath.Join(idsDir, id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, werr := f.WriteString(dir(id) + "\n")
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(f.Name())
			return "", errors.Join(werr, cerr)
		}
		return id, nil
	}
	return "", fmt.Errorf("could not reserve an id for label %q", label)
}

// Release drops an id reservation, used when a spawn is rolled back.
func (s *Store) Release(tree string, id string) error {
	err := os.Remove(filepath.Join(s.idsDir(tree), id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func nextOrdinal(idsDir string, label string) (int, error) {
	entries, err := os.ReadDir(idsDir)
	if err != nil {
		return 0, err
	}
	maxN := 0
	prefix := label + "-"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		if n > maxN {
			maxN = n
		}
	}
	return maxN + 1, nil
}

// Locate returns the lineage dir of an agent in a tree.
func (s *Store) Locate(tree string, agentID string) (string, error) {
	if agentID == "" || agentID == RootID {
		return s.RootDir(tree), nil
	}
	if strings.ContainsAny(agentID, `/\`) {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	data, err := os.ReadFile(filepath.Join(s.idsDir(tree), agentID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func ReadState(dir string) (NodeState, error) {
	var st NodeState
	if err := readJSONFile(StatePath(dir), &st); err != nil {
		return NodeState{}, err
	}
	return st, nil
}

func WriteState(dir string, st NodeState) error {
	st.UpdatedAt = time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	if st.State == StateCompleted && st.FinishedAt.IsZero() {
		st.FinishedAt = st.UpdatedAt
	}
	return writeJSONAtomic(StatePath(dir), st)
}

// ReadResult returns the result record and whether it exists. A record that is
// missing or unreadable counts as not completed.
func ReadResult(dir string) (Result, bool) {
	var res Result
	if err := readJSONFile(ResultPath(dir), &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func WriteResult(dir string, res Result) error {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now().UTC()
	}
	return writeJSONAtomic(ResultPath(dir), res)
}

// Children lists the recorded children of the agent at dir in spawn order.
func Children(dir string) ([]NodeState, error) {
	entries, err := os.ReadDir(ChildrenDir(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]NodeState, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st, err := ReadState(filepath.Join(ChildrenDir(dir), entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}
