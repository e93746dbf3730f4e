package agenttree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"egg/internal/agentlog"
	"egg/internal/pane"
)

const deadAgentError = "agent process exited without a result"

type Options struct {
	Store *Store
	Mux   pane.Multiplexer
	// Exec is the argv prefix that starts a child agent.
	Exec    []string
	WorkDir string
	// Poll is the interval between result checks while waiting.
	Poll time.Duration
	// Liveness lets waits complete children whose process died without a result.
	Liveness bool
	Log      *agentlog.Logger
}

// Manager spawns, waits on and reaps the children of the agent in this process.
type Manager struct {
	store    *Store
	mux      pane.Multiplexer
	exec     []string
	workDir  string
	poll     time.Duration
	liveness bool
	log      *agentlog.Logger

	alive func(pid int) bool
	now   func() time.Time
}

func NewManager(opts Options) *Manager {
	poll := opts.Poll
	if poll <= 0 {
		poll = time.Second
	}
	store := opts.Store
	if store == nil {
		store = NewStore("")
	}
	return &Manager{
		store:    store,
		mux:      opts.Mux,
		exec:     append([]string(nil), opts.Exec...),
		workDir:  opts.WorkDir,
		poll:     poll,
		liveness: opts.Liveness,
		log:      opts.Log,
		alive:    processAlive,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Store() *Store { return m.store }

type RootOptions struct {
	// Resume reuses the current tree instead of starting a new one.
	Resume bool
	// Pane is the pane this process already runs in, such as $TMUX_PANE.
	Pane        string
	Model       string
	AutoApprove bool
}

// StartRoot makes this process the root agent of a new or resumed tree and
// moves the current tree pointer to it.
func (m *Manager) StartRoot(ctx context.Context, opts RootOptions) (Self, error) {
	tree := ""
	if opts.Resume {
		cur, err := m.store.Current()
		if err != nil && !errors.Is(err, ErrNoTree) {
			return Self{}, err
		}
		if m.store.TreeExists(cur) {
			tree = cur
		}
	}
	if tree == "" {
		created, err := m.store.NewTree(m.now())
		if err != nil {
			return Self{}, err
		}
		tree = created
	}
	if err := m.store.SetCurrent(tree); err != nil {
		return Self{}, err
	}

	dir := m.store.RootDir(tree)
	paneID := strings.TrimSpace(opts.Pane)
	session := ""
	if paneID == "" && m.mux != nil {
		session = pane.SessionName(tree)
		first, err := m.mux.EnsureSession(ctx, session, m.workDir)
		if err != nil {
			m.log.Logf(agentlog.KindWarn, "multiplexer session %s: %v", session, err)
			session = ""
		} else {
			paneID = first
		}
	}

	st, err := ReadState(dir)
	if err != nil {
		st = NodeState{TreeID: tree, AgentID: RootID, Dir: dir, CreatedAt: m.now()}
	}
	st.State = StateRunning
	st.PaneRef = paneID
	st.Session = session
	st.PID = os.Getpid()
	st.Model = opts.Model
	st.AutoApprove = opts.AutoApprove
	st.StartedAt = m.now()
	if err := WriteState(dir, st); err != nil {
		return Self{}, err
	}
	m.log.Logf(agentlog.KindAgent, "root of tree %s started (pane=%s)", tree, paneID)
	return Self{
		TreeID:      tree,
		AgentID:     RootID,
		Dir:         dir,
		Pane:        paneID,
		Session:     session,
		Model:       opts.Model,
		AutoApprove: opts.AutoApprove,
	}, nil
}

// LoadChild completes a child's Self from its state record. A pane already set
// on self, such as $TMUX_PANE, is kept.
func (m *Manager) LoadChild(self Self) (Self, error) {
	if strings.TrimSpace(self.TreeID) == "" {
		return Self{}, ErrNoTree
	}
	if self.Dir == "" {
		dir, err := m.store.Locate(self.TreeID, self.AgentID)
		if err != nil {
			return Self{}, err
		}
		self.Dir = dir
	}
	st, err := ReadState(self.Dir)
	if err != nil {
		return Self{}, fmt.Errorf("read state of %s: %w", self.AgentID, err)
	}
	if strings.TrimSpace(self.Pane) == "" {
		self.Pane = st.PaneRef
	}
	self.Depth = st.Depth
	if self.ParentID == "" {
		self.ParentID = st.ParentID
	}
	if self.Model == "" {
		self.Model = st.Model
	}
	return self, nil
}

// InitContext returns the text a child was spawned with.
func InitContext(dir string) (string, error) {
	data, err := os.ReadFile(InitContextPath(dir))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type SpawnRequest struct {
	Initiator string
	Label     string
	// Model overrides the spawning agent's model when set.
	Model string
	// AutoApprove overrides the inherited flag when set.
	AutoApprove *bool
}

type Spawned struct {
	TreeID   string `json:"tree_id"`
	ParentID string `json:"parent_id"`
	AgentID  string `json:"agent_id"`
	Dir      string `json:"dir"`
	Pane     string `json:"pane"`
	Session  string `json:"session,omitempty"`
}

// Spawn registers a child of self, opens its pane and starts its process. On
// failure nothing of the child is left behind.
func (m *Manager) Spawn(ctx context.Context, self Self, req SpawnRequest) (Spawned, error) {
	if m.mux == nil {
		return Spawned{}, fmt.Errorf("%w: no multiplexer", ErrSpawnFailed)
	}
	if len(m.exec) == 0 {
		return Spawned{}, fmt.Errorf("%w: no agent command configured", ErrSpawnFailed)
	}
	if strings.TrimSpace(req.Initiator) == "" {
		return Spawned{}, fmt.Errorf("%w: initial context is empty", ErrSpawnFailed)
	}
	siblings, err := Children(self.Dir)
	if err != nil {
		return Spawned{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	label := SanitizeLabel(req.Label)
	childrenDir := ChildrenDir(self.Dir)
	id, err := m.store.Reserve(self.TreeID, label, func(id string) string { return filepath.Join(childrenDir, id) })
	if err != nil {
		return Spawned{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	dir := filepath.Join(childrenDir, id)
	rollback := func(cause error) (Spawned, error) {
		_ = os.RemoveAll(dir)
		_ = m.store.Release(self.TreeID, id)
		m.log.Logf(agentlog.KindError, "spawn %s rolled back: %v", id, cause)
		return Spawned{}, fmt.Errorf("%w: %v", ErrSpawnFailed, cause)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = self.Model
	}
	auto := self.AutoApprove
	if req.AutoApprove != nil {
		auto = *req.AutoApprove
	}
	st := NodeState{
		TreeID:      self.TreeID,
		AgentID:     id,
		ParentID:    self.AgentID,
		State:       StatePending,
		Label:       label,
		Seq:         len(siblings) + 1,
		Depth:       self.Depth + 1,
		AutoApprove: auto,
		Model:       model,
		Dir:         dir,
		CreatedAt:   m.now(),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rollback(err)
	}
	if err := writeFileAtomic(InitContextPath(dir), []byte(req.Initiator)); err != nil {
		return rollback(err)
	}
	if err := WriteState(dir, st); err != nil {
		return rollback(err)
	}

	placement := pane.Placement{ParentPane: m.ownPane(self), Depth: st.Depth}
	for _, sib := range siblings {
		if sib.Reaped || sib.PaneRef == "" {
			continue
		}
		placement.Ordinal++
		placement.AnchorPane = sib.PaneRef
	}
	instr := pane.Plan(placement)
	opened, err := pane.Open(ctx, m.mux, instr, pane.Command{
		Argv:   m.exec,
		Dir:    m.workDir,
		Env:    childEnv(m.store.Root, st),
		LogDir: dir,
	})
	if err != nil {
		if opened.ID != "" {
			_ = m.mux.ClosePane(ctx, opened.ID)
		}
		return rollback(err)
	}

	st.State = StateRunning
	st.PaneRef = opened.ID
	st.PID = opened.PID
	st.Session = self.Session
	st.StartedAt = m.now()
	if err := WriteState(dir, st); err != nil {
		_ = m.mux.ClosePane(ctx, opened.ID)
		return rollback(err)
	}
	m.log.Logf(agentlog.KindAgent, "spawned %s (%s split of %s, pane=%s pid=%d)", id, instr.Direction, instr.Target, opened.ID, opened.PID)
	return Spawned{
		TreeID:   self.TreeID,
		ParentID: self.AgentID,
		AgentID:  id,
		Dir:      dir,
		Pane:     opened.ID,
		Session:  self.Session,
	}, nil
}

// ownPane is the pane self runs in. A child started under tmux can read its
// state record before the parent has stored the pane id, so the record is
// consulted again here.
func (m *Manager) ownPane(self Self) string {
	if strings.TrimSpace(self.Pane) != "" {
		return self.Pane
	}
	st, err := ReadState(self.Dir)
	if err != nil {
		return ""
	}
	return st.PaneRef
}

// Complete records this child agent's result. The state is written before the
// result so that a parent that sees the result never races a later state write.
func (m *Manager) Complete(self Self, res Result) error {
	if _, done := ReadResult(self.Dir); done {
		return fmt.Errorf("agent %s already completed", self.AgentID)
	}
	st, err := ReadState(self.Dir)
	if err != nil {
		return err
	}
	st.State = StateCompleted
	st.FinishedAt = m.now()
	st.Error = res.Error
	if err := WriteState(self.Dir, st); err != nil {
		return err
	}
	res.AgentID = self.AgentID
	if res.FinishedAt.IsZero() {
		res.FinishedAt = st.FinishedAt
	}
	if err := WriteResult(self.Dir, res); err != nil {
		return err
	}
	m.log.Logf(agentlog.KindAgent, "completed: %s", agentlog.Preview(res.ReturnValue, 120))
	return nil
}

// Attach focuses an agent's pane, or the tree's session when no agent is named.
func (m *Manager) Attach(ctx context.Context, tree string, agentID string) error {
	if m.mux == nil {
		return pane.ErrNoPane
	}
	if strings.TrimSpace(tree) == "" {
		cur, err := m.store.Current()
		if err != nil {
			return err
		}
		tree = cur
	}
	if !m.store.TreeExists(tree) {
		return fmt.Errorf("%w: %s", ErrUnknownTree, tree)
	}
	dir, err := m.store.Locate(tree, agentID)
	if err != nil {
		return err
	}
	st, err := ReadState(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if (agentID == "" || agentID == RootID) && st.Session != "" {
		return m.mux.Attach(ctx, st.Session)
	}
	if st.PaneRef == "" || st.Reaped {
		return fmt.Errorf("%w: %s", pane.ErrNoPane, st.AgentID)
	}
	return m.mux.FocusPane(ctx, st.PaneRef)
}

// Walk returns every agent of a tree depth-first in spawn order.
func (m *Manager) Walk(tree string) ([]NodeState, error) {
	root := m.store.RootDir(tree)
	st, err := ReadState(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTree, tree)
	}
	out := []NodeState{st}
	var walk func(dir string) error
	walk = func(dir string) error {
		kids, err := Children(dir)
		if err != nil {
			return err
		}
		for _, kid := range kids {
			if _, done := ReadResult(kid.Dir); done {
				kid.State = StateCompleted
			}
			out = append(out, kid)
			if err := walk(kid.Dir); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}
