package raft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingApplier keeps every applied entry.
type recordingApplier struct {
	entries []Entry
	indexes []uint64
	mu      sync.Mutex
}

func (a *recordingApplier) Apply(index uint64, e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indexes = append(a.indexes, index)
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingApplier) Applied() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}

func testConfig(id uint64, size int) *NodeConfig {
	cfg := DefaultNodeConfig()
	cfg.ID = id
	for i := 1; i <= size; i++ {
		cfg.Peers = append(cfg.Peers, &Peer{ID: uint64(i), Addr: fmt.Sprintf("node%d", i)})
	}
	return cfg
}

// TestCluster is a set of nodes on one InMemoryNetwork. Nodes built with
// manual schedulers only act when a test fires their timers.
type TestCluster struct {
	t        *testing.T
	network  *InMemoryNetwork
	nodes    []*Node
	scheds   []*manualScheduler
	stores   []*MemoryStorage
	appliers []*recordingApplier
}

// newManualCluster builds size nodes driven by manual schedulers. Each
// store in preload, when given, seeds the matching node.
func newManualCluster(t *testing.T, size int, preload ...*MemoryStorage) *TestCluster {
	t.Helper()
	c := &TestCluster{t: t, network: NewInMemoryNetwork()}

	for i := 0; i < size; i++ {
		id := uint64(i + 1)
		store := NewMemoryStorage()
		if i < len(preload) && preload[i] != nil {
			store = preload[i]
		}
		sched := newManualScheduler()
		applier := &recordingApplier{}

		node, err := NewNode(testConfig(id, size), Deps{
			Transport: c.network.NewTransport(id, fmt.Sprintf("node%d", id)),
			Persister: store,
			Scheduler: sched,
			Applier:   applier,
		})
		if err != nil {
			t.Fatalf("NewNode(%d) failed: %v", id, err)
		}

		c.nodes = append(c.nodes, node)
		c.scheds = append(c.scheds, sched)
		c.stores = append(c.stores, store)
		c.appliers = append(c.appliers, applier)
	}
	return c
}

// NewTestCluster builds size nodes on runtime timers with short timeouts.
func NewTestCluster(t *testing.T, size int) *TestCluster {
	t.Helper()
	c := &TestCluster{t: t, network: NewInMemoryNetwork()}

	for i := 0; i < size; i++ {
		id := uint64(i + 1)
		cfg := testConfig(id, size)
		cfg.ElectionTimeoutMin = 50 * time.Millisecond
		cfg.ElectionTimeoutMax = 100 * time.Millisecond
		cfg.HeartbeatInterval = 10 * time.Millisecond
		cfg.RPCTimeout = 50 * time.Millisecond

		applier := &recordingApplier{}
		store := NewMemoryStorage()
		node, err := NewNode(cfg, Deps{
			Transport: c.network.NewTransport(id, fmt.Sprintf("node%d", id)),
			Persister: store,
			Applier:   applier,
		})
		if err != nil {
			t.Fatalf("NewNode(%d) failed: %v", id, err)
		}
		c.nodes = append(c.nodes, node)
		c.stores = append(c.stores, store)
		c.appliers = append(c.appliers, applier)
	}
	return c
}

func (c *TestCluster) Start() {
	for _, node := range c.nodes {
		if err := node.Start(); err != nil {
			c.t.Fatalf("Start(%d) failed: %v", node.ID(), err)
		}
	}
}

func (c *TestCluster) Stop() {
	for _, node := range c.nodes {
		node.Stop()
	}
}

func (c *TestCluster) node(id uint64) *Node {
	return c.nodes[id-1]
}

// Leaders returns every node that currently believes it is leader.
func (c *TestCluster) Leaders() []*Node {
	var out []*Node
	for _, node := range c.nodes {
		if node.IsLeader() {
			out = append(out, node)
		}
	}
	return out
}

func (c *TestCluster) WaitForLeader(timeout time.Duration) *Node {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leaders := c.Leaders(); len(leaders) == 1 {
			return leaders[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// settle waits until every queued RPC has completed and been recorded.
func (c *TestCluster) settle() {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		idle := true
		for _, node := range c.nodes {
			if node.client.inflight() != 0 {
				idle = false
				break
			}
		}
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	c.t.Fatal("RPCs did not settle")
}

// fire fires node id's live timer and waits for the RPCs it sent.
func (c *TestCluster) fire(id uint64) {
	c.t.Helper()
	if !c.scheds[id-1].fire() {
		c.t.Fatalf("node %d has no live timer", id)
	}
	c.settle()
}

// elect makes id leader of the next term with two timer firings.
func (c *TestCluster) elect(id uint64) {
	c.t.Helper()
	c.fire(id)
	c.fire(id)
	if !c.node(id).IsLeader() {
		c.t.Fatalf("node %d should be leader, mode %s", id, c.node(id).Mode())
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewNode(t *testing.T) {
	network := NewInMemoryNetwork()
	node, err := NewNode(testConfig(1, 3), Deps{Transport: network.NewTransport(1, "node1")})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	if node.ID() != 1 {
		t.Errorf("ID mismatch: got %d, want 1", node.ID())
	}
	if node.Mode() != ModeFollower {
		t.Errorf("initial mode should be follower, got %s", node.Mode())
	}
	if node.Term() != 0 {
		t.Errorf("initial term should be 0, got %d", node.Term())
	}
	if node.IsLeader() {
		t.Error("should not be leader initially")
	}
}

func TestNewNodeInvalidConfig(t *testing.T) {
	network := NewInMemoryNetwork()

	_, err := NewNode(&NodeConfig{ID: 0}, Deps{Transport: network.NewTransport(1, "")})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	_, err = NewNode(testConfig(1, 3), Deps{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing transport: expected ErrInvalidConfig, got %v", err)
	}
}

func TestNodeRestoresPersistedState(t *testing.T) {
	store := NewMemoryStorage()
	store.SaveState(7, 3)
	store.SaveLog(1, []Entry{{Term: 5}, {Term: 7, Command: []byte("x")}})
	store.SaveApplied(1)

	network := NewInMemoryNetwork()
	node, err := NewNode(testConfig(1, 3), Deps{
		Transport: network.NewTransport(1, "node1"),
		Persister: store,
		Scheduler: newManualScheduler(),
	})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	st := node.Status()
	if st.Term != 7 || st.VotedFor != 3 {
		t.Errorf("term/vote mismatch: got %d/%d, want 7/3", st.Term, st.VotedFor)
	}
	if st.LastIndex != 2 {
		t.Errorf("LastIndex mismatch: got %d, want 2", st.LastIndex)
	}
	if st.CommitIndex != 1 || st.LastApplied != 1 {
		t.Errorf("commit/applied mismatch: got %d/%d, want 1/1", st.CommitIndex, st.LastApplied)
	}
}

func TestRequestVote(t *testing.T) {
	t.Run("StaleTerm", func(t *testing.T) {
		c := newManualCluster(t, 3, seededStore(5, 0))
		c.Start()
		defer c.Stop()

		n := c.node(1)
		if got := n.RequestVote(4, 2, 0, 0); got != 5 {
			t.Errorf("RequestVote mismatch: got %d, want 5", got)
		}
		if n.Status().VotedFor != 0 {
			t.Error("stale request must not change the vote")
		}
	})

	t.Run("GrantThenDenyOther", func(t *testing.T) {
		c := newManualCluster(t, 3)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		if got := n.RequestVote(1, 2, 0, 0); got != 0 {
			t.Fatalf("first vote should be granted, got %d", got)
		}
		if got := n.RequestVote(1, 2, 0, 0); got != 0 {
			t.Errorf("repeat request from same candidate should be granted, got %d", got)
		}
		if got := n.RequestVote(1, 3, 0, 0); got != 1 {
			t.Errorf("second candidate should be denied with term 1, got %d", got)
		}

		state, _ := c.stores[0].Load()
		if state.CurrentTerm != 1 || state.VotedFor != 2 {
			t.Errorf("persisted mismatch: got %d/%d, want 1/2", state.CurrentTerm, state.VotedFor)
		}
	})

	t.Run("HigherTermClearsVote", func(t *testing.T) {
		c := newManualCluster(t, 3)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		n.RequestVote(1, 2, 0, 0)
		if got := n.RequestVote(2, 3, 0, 0); got != 0 {
			t.Errorf("vote in new term should be granted, got %d", got)
		}
		st := n.Status()
		if st.Term != 2 || st.VotedFor != 3 {
			t.Errorf("term/vote mismatch: got %d/%d, want 2/3", st.Term, st.VotedFor)
		}
	})

	t.Run("LogNotUpToDate", func(t *testing.T) {
		store := seededStore(3, 0, Entry{Term: 1}, Entry{Term: 3})
		c := newManualCluster(t, 3, store)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		// Older last term.
		if got := n.RequestVote(4, 2, 5, 2); got != 4 {
			t.Errorf("older last term: got %d, want 4", got)
		}
		// Same last term, shorter log.
		if got := n.RequestVote(4, 2, 1, 3); got != 4 {
			t.Errorf("shorter log: got %d, want 4", got)
		}
		if n.Status().VotedFor != 0 {
			t.Error("denied votes must leave votedFor unset")
		}
		// Same last term, same length.
		if got := n.RequestVote(4, 2, 2, 3); got != 0 {
			t.Errorf("equal log: got %d, want 0", got)
		}
	})

	t.Run("GrantResetsElectionTimer", func(t *testing.T) {
		c := newManualCluster(t, 3)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		before := n.ActiveTimer()
		n.RequestVote(1, 2, 0, 0)
		after := n.ActiveTimer()
		if after == before || after == 0 {
			t.Errorf("election timer should be rescheduled: before %d, after %d", before, after)
		}
	})
}

func seededStore(term, votedFor uint64, entries ...Entry) *MemoryStorage {
	store := NewMemoryStorage()
	store.SaveState(term, votedFor)
	if len(entries) > 0 {
		store.SaveLog(1, entries)
	}
	return store
}

func TestAppendEntries(t *testing.T) {
	t.Run("StaleTerm", func(t *testing.T) {
		c := newManualCluster(t, 3, seededStore(5, 0))
		c.Start()
		defer c.Stop()

		res := c.node(1).AppendEntries(4, 2, 0, 0, []Entry{{Term: 4}}, 0)
		if res.Status != AppendStaleTerm || res.Term != 5 {
			t.Errorf("result mismatch: got %s/%d, want stale-term/5", res.Status, res.Term)
		}
		if len(c.node(1).Entries()) != 0 {
			t.Error("stale request must not touch the log")
		}
	})

	t.Run("Mismatch", func(t *testing.T) {
		c := newManualCluster(t, 3, seededStore(1, 0, Entry{Term: 1}))
		c.Start()
		defer c.Stop()

		n := c.node(1)
		res := n.AppendEntries(2, 2, 1, 2, []Entry{{Term: 2}}, 0)
		if res.Status != AppendLogMismatch {
			t.Errorf("status mismatch: got %s, want log-mismatch", res.Status)
		}
		res = n.AppendEntries(2, 2, 5, 1, nil, 0)
		if res.Status != AppendLogMismatch {
			t.Errorf("missing prev: got %s, want log-mismatch", res.Status)
		}
		if n.LeaderID() != 2 || n.Term() != 2 {
			t.Errorf("leader/term mismatch: got %d/%d, want 2/2", n.LeaderID(), n.Term())
		}
		if len(n.Entries()) != 1 {
			t.Errorf("log should be untouched, got %d entries", len(n.Entries()))
		}
	})

	t.Run("CommitIndexBoundedByNewEntries", func(t *testing.T) {
		c := newManualCluster(t, 3)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		res := n.AppendEntries(1, 2, 0, 0, []Entry{{Term: 1}, {Term: 1}}, 10)
		if res.Status != AppendSuccess {
			t.Fatalf("status mismatch: got %s, want success", res.Status)
		}
		if n.CommitIndex() != 2 {
			t.Errorf("CommitIndex mismatch: got %d, want 2", n.CommitIndex())
		}

		// A heartbeat covering only index 1 must not lower the commit index.
		n.AppendEntries(1, 2, 1, 1, nil, 1)
		if n.CommitIndex() != 2 {
			t.Errorf("CommitIndex went backwards: got %d", n.CommitIndex())
		}

		waitFor(t, time.Second, func() bool { return n.LastApplied() == 2 })
		if got := len(c.appliers[0].Applied()); got != 2 {
			t.Errorf("applied mismatch: got %d, want 2", got)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		c := newManualCluster(t, 3)
		c.Start()
		defer c.Stop()

		n := c.node(1)
		entries := []Entry{{Term: 1, Command: []byte("a")}, {Term: 1, Command: []byte("b")}}
		n.AppendEntries(1, 2, 0, 0, entries, 0)
		n.AppendEntries(1, 2, 0, 0, entries[:1], 0)

		if got := len(n.Entries()); got != 2 {
			t.Errorf("duplicate delivery must not truncate: got %d entries", got)
		}
	})
}

// A conflicting suffix is replaced and only the changed suffix
// is persisted.
func TestAppendEntriesRepairsConflict(t *testing.T) {
	store := seededStore(2, 0, Entry{Term: 1}, Entry{Term: 1}, Entry{Term: 2})
	c := newManualCluster(t, 3, store)
	c.Start()
	defer c.Stop()

	n := c.node(1)
	res := n.AppendEntries(3, 2, 2, 1, []Entry{{Term: 3}}, 0)
	if res.Status != AppendSuccess {
		t.Fatalf("status mismatch: got %s, want success", res.Status)
	}

	want := []uint64{1, 1, 3}
	got := n.Entries()
	if len(got) != len(want) {
		t.Fatalf("log length mismatch: got %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Term != want[i] {
			t.Errorf("entry %d term mismatch: got %d, want %d", i+1, e.Term, want[i])
		}
	}

	state, _ := store.Load()
	if len(state.Entries) != 3 || state.Entries[2].Term != 3 {
		t.Errorf("persisted log mismatch: %+v", state.Entries)
	}
}

// A candidate steps down on AppendEntries from a higher term.
func TestCandidateStepsDownOnAppendEntries(t *testing.T) {
	c := newManualCluster(t, 3, seededStore(4, 0))
	c.Start()
	defer c.Stop()

	n := c.node(1)
	c.fire(1)
	if n.Mode() != ModeCandidate || n.Term() != 5 {
		t.Fatalf("expected candidate at term 5, got %s at %d", n.Mode(), n.Term())
	}
	before := n.ActiveTimer()

	res := n.AppendEntries(6, 2, 0, 0, nil, 0)
	if res.Status != AppendSuccess {
		t.Errorf("status mismatch: got %s, want success", res.Status)
	}
	if n.Mode() != ModeFollower {
		t.Errorf("mode mismatch: got %s, want follower", n.Mode())
	}
	if n.Term() != 6 {
		t.Errorf("term mismatch: got %d, want 6", n.Term())
	}
	after := n.ActiveTimer()
	if after == 0 || after == before {
		t.Errorf("election timer should be reset: before %d, after %d", before, after)
	}
	n.mu.Lock()
	kind, _ := n.timers.active(after)
	n.mu.Unlock()
	if kind != TimerElection {
		t.Errorf("timer kind mismatch: got %s, want election", kind)
	}
}

func TestCandidateStepsDownOnSameTermLeader(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	c.network.Disconnect(1)
	c.fire(1)
	n := c.node(1)
	if n.Mode() != ModeCandidate {
		t.Fatalf("expected candidate, got %s", n.Mode())
	}

	n.AppendEntries(n.Term(), 2, 0, 0, nil, 0)
	if n.Mode() != ModeFollower || n.LeaderID() != 2 {
		t.Errorf("expected follower of 2, got %s of %d", n.Mode(), n.LeaderID())
	}
}

// One election timeout in a healthy 5-node cluster yields a
// single leader at term 1.
func TestFiveNodeElection(t *testing.T) {
	c := newManualCluster(t, 5)
	c.Start()
	defer c.Stop()

	c.fire(1)
	candidate := c.node(1)
	if candidate.Mode() != ModeCandidate || candidate.Term() != 1 {
		t.Fatalf("expected candidate at term 1, got %s at %d", candidate.Mode(), candidate.Term())
	}

	candidate.mu.Lock()
	votes := candidate.responses.Votes(1)
	candidate.mu.Unlock()
	for id := 1; id <= 5; id++ {
		if votes[id].Kind != ResponseVoteGranted {
			t.Errorf("vote from %d: got %s, want granted", id, votes[id].Kind)
		}
	}

	c.fire(1)
	leaders := c.Leaders()
	if len(leaders) != 1 || leaders[0].ID() != 1 {
		t.Fatalf("expected node 1 as sole leader, got %d leaders", len(leaders))
	}
	if candidate.Term() != 1 {
		t.Errorf("leader term mismatch: got %d, want 1", candidate.Term())
	}

	for id := uint64(2); id <= 5; id++ {
		st := c.node(id).Status()
		if st.Mode != ModeFollower || st.Term != 1 || st.VotedFor != 1 || st.LeaderID != 1 {
			t.Errorf("node %d: got %+v", id, st)
		}
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	n := c.node(1)
	old := n.ActiveTimer()
	n.RequestVote(1, 2, 0, 0) // reschedules the election timer

	n.HandleTimeout(old)
	if n.Mode() != ModeFollower {
		t.Errorf("stale timer changed mode to %s", n.Mode())
	}
	n.HandleTimeout(TimerID(999))
	if n.Mode() != ModeFollower {
		t.Errorf("unknown timer changed mode to %s", n.Mode())
	}
}

func TestElectionLostToHigherTerm(t *testing.T) {
	c := newManualCluster(t, 3, nil, seededStore(9, 0))
	c.Start()
	defer c.Stop()

	c.fire(1)
	c.fire(1)

	n := c.node(1)
	if n.Mode() != ModeFollower || n.Term() != 9 {
		t.Errorf("expected follower at term 9, got %s at %d", n.Mode(), n.Term())
	}
}

func TestElectionWithoutMajorityRetries(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	c.network.Disconnect(1)
	c.fire(1)
	c.fire(1)

	n := c.node(1)
	if n.Mode() != ModeCandidate || n.Term() != 2 {
		t.Errorf("expected candidate at term 2, got %s at %d", n.Mode(), n.Term())
	}
	if n.Status().VotedFor != 1 {
		t.Errorf("candidate should vote for itself")
	}
}

func TestSingleNodeCluster(t *testing.T) {
	c := newManualCluster(t, 1)
	c.Start()
	defer c.Stop()

	c.elect(1)
	n := c.node(1)

	index, term, err := n.Submit([]byte("solo"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if index != 1 || term != 1 {
		t.Errorf("Submit mismatch: got %d/%d, want 1/1", index, term)
	}

	c.fire(1)
	if n.CommitIndex() != 1 {
		t.Errorf("CommitIndex mismatch: got %d, want 1", n.CommitIndex())
	}
	waitFor(t, time.Second, func() bool { return n.LastApplied() == 1 })
}

func TestSubmitNotLeader(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	if _, _, err := c.node(1).Submit([]byte("x")); !errors.Is(err, ErrNotLeader) {
		t.Errorf("expected ErrNotLeader, got %v", err)
	}
}

func TestSubmitStopped(t *testing.T) {
	network := NewInMemoryNetwork()
	n, err := NewNode(testConfig(1, 1), Deps{Transport: network.NewTransport(1, "node1")})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if _, _, err := n.Submit([]byte("x")); !errors.Is(err, ErrNodeStopped) {
		t.Errorf("expected ErrNodeStopped, got %v", err)
	}
}

func TestStartAfterStop(t *testing.T) {
	network := NewInMemoryNetwork()
	n, err := NewNode(testConfig(1, 1), Deps{Transport: network.NewTransport(1, "node1")})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Errorf("second Start on a running node should be a no-op, got %v", err)
	}
	n.Stop()

	if err := n.Start(); !errors.Is(err, ErrNodeStopped) {
		t.Errorf("Start after Stop: expected ErrNodeStopped, got %v", err)
	}
	if _, _, err := n.Submit([]byte("x")); !errors.Is(err, ErrNodeStopped) {
		t.Errorf("Submit after Stop: expected ErrNodeStopped, got %v", err)
	}
}

func TestReplicationAndCommit(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	c.elect(1)
	leader := c.node(1)

	for _, cmd := range []string{"a", "b"} {
		if _, _, err := leader.Submit([]byte(cmd)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	c.fire(1) // sends the entries
	if leader.CommitIndex() != 0 {
		t.Errorf("nothing is committed before replies are folded")
	}
	c.fire(1) // folds replies, commits, sends leaderCommit
	if leader.CommitIndex() != 2 {
		t.Fatalf("leader CommitIndex mismatch: got %d, want 2", leader.CommitIndex())
	}

	for id := uint64(2); id <= 3; id++ {
		if got := c.node(id).CommitIndex(); got != 2 {
			t.Errorf("node %d CommitIndex mismatch: got %d, want 2", id, got)
		}
	}

	for i, a := range c.appliers {
		a := a
		waitFor(t, time.Second, func() bool { return len(a.Applied()) == 2 })
		applied := a.Applied()
		if !bytes.Equal(applied[0].Command, []byte("a")) || !bytes.Equal(applied[1].Command, []byte("b")) {
			t.Errorf("node %d applied mismatch: %+v", i+1, applied)
		}
	}
}

func TestCommitNeedsMajority(t *testing.T) {
	c := newManualCluster(t, 5)
	c.Start()
	defer c.Stop()

	c.elect(1)
	leader := c.node(1)
	c.network.Disconnect(4)
	c.network.Disconnect(5)
	c.network.Block(1, 3)

	leader.Submit([]byte("x"))
	c.fire(1)
	c.fire(1)
	if leader.CommitIndex() != 0 {
		t.Errorf("two of five must not commit, got %d", leader.CommitIndex())
	}

	c.network.Unblock(1, 3)
	c.fire(1)
	c.fire(1)
	if leader.CommitIndex() != 1 {
		t.Errorf("three of five should commit, got %d", leader.CommitIndex())
	}
}

// An entry from an earlier term is only committed by committing one from
// the current term.
func TestLeaderDoesNotCommitPriorTermByCount(t *testing.T) {
	stores := []*MemoryStorage{
		seededStore(1, 0, Entry{Term: 1}),
		seededStore(1, 0, Entry{Term: 1}),
		seededStore(1, 0),
	}
	c := newManualCluster(t, 3, stores...)
	c.Start()
	defer c.Stop()

	c.elect(1)
	leader := c.node(1)
	c.fire(1)
	c.fire(1)
	if leader.CommitIndex() != 0 {
		t.Errorf("term 1 entry committed by count alone: commit %d", leader.CommitIndex())
	}

	leader.Submit([]byte("now"))
	c.fire(1)
	c.fire(1)
	if leader.CommitIndex() != 2 {
		t.Errorf("CommitIndex mismatch: got %d, want 2", leader.CommitIndex())
	}
}

func TestLeaderRepairsFollowerLog(t *testing.T) {
	stores := []*MemoryStorage{
		seededStore(3, 0, Entry{Term: 1}, Entry{Term: 1}, Entry{Term: 3}),
		seededStore(3, 0, Entry{Term: 1}, Entry{Term: 1}, Entry{Term: 3}),
		seededStore(3, 0, Entry{Term: 1}, Entry{Term: 1}, Entry{Term: 2}, Entry{Term: 2}),
	}
	c := newManualCluster(t, 3, stores...)
	c.Start()
	defer c.Stop()

	c.elect(1)
	leader := c.node(1)
	leader.Submit([]byte("fresh"))

	for i := 0; i < 5; i++ {
		c.fire(1)
	}

	want := leader.Entries()
	got := c.node(3).Entries()
	if len(got) != len(want) {
		t.Fatalf("log length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Term != want[i].Term || !bytes.Equal(got[i].Command, want[i].Command) {
			t.Errorf("entry %d mismatch: got %+v, want %+v", i+1, got[i], want[i])
		}
	}
	if leader.CommitIndex() != 4 {
		t.Errorf("CommitIndex mismatch: got %d, want 4", leader.CommitIndex())
	}

	persisted, _ := c.stores[2].Load()
	if len(persisted.Entries) != 4 || persisted.Entries[2].Term != 3 {
		t.Errorf("repaired log not persisted: %+v", persisted.Entries)
	}
}

func TestLeaderStepsDownOnHigherTerm(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	c.elect(1)
	old := c.node(1)

	c.network.Disconnect(1)
	c.elect(2)
	if c.node(2).Term() != 2 {
		t.Fatalf("new leader term mismatch: got %d, want 2", c.node(2).Term())
	}

	c.network.Reconnect(1)
	c.fire(1) // old leader's round is answered with stale-term
	c.fire(1) // folded: step down
	if old.Mode() != ModeFollower || old.Term() != 2 {
		t.Errorf("old leader: got %s at %d, want follower at 2", old.Mode(), old.Term())
	}
	if len(c.Leaders()) != 1 {
		t.Errorf("expected one leader, got %d", len(c.Leaders()))
	}
}

// Two candidates split a 4-node cluster 2-2; after the split
// they retry and converge on one leader.
func TestSplitVoteConverges(t *testing.T) {
	c := newManualCluster(t, 4)
	c.Start()
	defer c.Stop()

	c.network.Block(1, 2)
	c.network.Block(2, 1)
	c.network.Block(1, 4)
	c.network.Block(2, 3)

	c.fire(1)
	c.fire(2)

	for _, id := range []uint64{1, 2} {
		n := c.node(id)
		n.mu.Lock()
		granted := countKind(n.responses.Votes(1), ResponseVoteGranted)
		n.mu.Unlock()
		if granted != 2 {
			t.Errorf("candidate %d: got %d votes, want 2", id, granted)
		}
	}

	c.network.Heal()

	leadersByTerm := make(map[uint64]uint64)
	for retry := 0; retry < 10; retry++ {
		for _, n := range c.nodes {
			if n.Mode() == ModeCandidate {
				c.fire(n.ID())
			}
		}
		for _, l := range c.Leaders() {
			if prev, ok := leadersByTerm[l.Term()]; ok && prev != l.ID() {
				t.Fatalf("two leaders in term %d: %d and %d", l.Term(), prev, l.ID())
			}
			leadersByTerm[l.Term()] = l.ID()
		}
		if len(c.Leaders()) == 1 {
			break
		}
	}

	leaders := c.Leaders()
	if len(leaders) != 1 {
		t.Fatalf("expected one leader, got %d", len(leaders))
	}
	if leaders[0].Term() < 2 {
		t.Errorf("leader should be elected after a retry, term %d", leaders[0].Term())
	}
}

func TestStatusRPC(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()
	c.elect(1)

	probe := c.network.NewTransport(99, "probe")
	data, err := probe.Send(context.Background(), 1, RPCStatus, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	st, err := DeserializeStatus(data)
	if err != nil {
		t.Fatalf("DeserializeStatus failed: %v", err)
	}
	if st.ID != 1 || st.Mode != ModeLeader || st.Term != 1 || st.LeaderID != 1 {
		t.Errorf("status mismatch: %+v", st)
	}
}

func TestHandleRPCUnknownMessage(t *testing.T) {
	c := newManualCluster(t, 1)
	if resp := c.node(1).handleRPC(200, nil); resp != nil {
		t.Errorf("unknown message should yield nil, got %v", resp)
	}
	if resp := c.node(1).handleRPC(RPCAppendEntries, []byte{1, 2}); resp != nil {
		t.Errorf("malformed message should yield nil, got %v", resp)
	}
}

func TestThreeNodeLeaderElection(t *testing.T) {
	cluster := NewTestCluster(t, 3)
	cluster.Start()
	defer cluster.Stop()

	leader := cluster.WaitForLeader(2 * time.Second)
	if leader == nil {
		t.Fatal("No leader elected")
	}

	index, _, err := leader.Submit([]byte("replicated"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	for _, a := range cluster.appliers {
		a := a
		waitFor(t, 2*time.Second, func() bool { return len(a.Applied()) >= int(index) })
	}
}

func TestFourNodeElectionRealTimers(t *testing.T) {
	cluster := NewTestCluster(t, 4)
	cluster.Start()
	defer cluster.Stop()

	if cluster.WaitForLeader(3*time.Second) == nil {
		t.Fatal("No leader elected")
	}
}

func TestNodeRestartWithFileStorage(t *testing.T) {
	dir := t.TempDir()
	network := NewInMemoryNetwork()

	store, err := OpenFileStorage(dir)
	if err != nil {
		t.Fatalf("OpenFileStorage failed: %v", err)
	}
	sched := newManualScheduler()
	node, err := NewNode(testConfig(1, 1), Deps{
		Transport: network.NewTransport(1, "node1"),
		Persister: store,
		Scheduler: sched,
	})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	node.Start()
	sched.fire()
	sched.fire()
	if !node.IsLeader() {
		t.Fatalf("single node should lead, got %s", node.Mode())
	}
	node.Submit([]byte("durable"))
	node.Stop()
	store.Close()

	store, err = OpenFileStorage(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
	restarted, err := NewNode(testConfig(1, 1), Deps{
		Transport: NewInMemoryNetwork().NewTransport(1, "node1"),
		Persister: store,
		Scheduler: newManualScheduler(),
	})
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	st := restarted.Status()
	if st.Term != 1 || st.VotedFor != 1 {
		t.Errorf("term/vote mismatch: got %d/%d, want 1/1", st.Term, st.VotedFor)
	}
	entries := restarted.Entries()
	if len(entries) != 1 || string(entries[0].Command) != "durable" {
		t.Errorf("log mismatch: %+v", entries)
	}
}

func TestTermNeverDecreases(t *testing.T) {
	c := newManualCluster(t, 3)
	c.Start()
	defer c.Stop()

	n := c.node(1)
	steps := []struct {
		name string
		run  func()
	}{
		{"vote request at term 3", func() { n.RequestVote(3, 2, 0, 0) }},
		{"stale append at term 1", func() { n.AppendEntries(1, 3, 0, 0, nil, 0) }},
		{"election timeout", func() { c.fire(1) }},
		{"stale vote request at term 2", func() { n.RequestVote(2, 3, 0, 0) }},
		{"same-term append", func() { n.AppendEntries(4, 2, 0, 0, nil, 0) }},
		{"election timeout", func() { c.fire(1) }},
		{"append at term 9", func() { n.AppendEntries(9, 3, 0, 0, nil, 0) }},
		{"stale vote request at term 7", func() { n.RequestVote(7, 2, 0, 0) }},
		{"election timeout", func() { c.fire(1) }},
		{"stale append at term 8", func() { n.AppendEntries(8, 2, 0, 0, nil, 0) }},
	}

	var last, lastStored uint64
	for _, step := range steps {
		step.run()

		term := n.Term()
		if term < last {
			t.Fatalf("%s: term went back from %d to %d", step.name, last, term)
		}
		last = term

		st, err := c.stores[0].Load()
		if err != nil {
			t.Fatalf("%s: Load failed: %v", step.name, err)
		}
		if st.CurrentTerm < lastStored {
			t.Fatalf("%s: stored term went back from %d to %d", step.name, lastStored, st.CurrentTerm)
		}
		lastStored = st.CurrentTerm
	}

	if last != 10 {
		t.Errorf("final term mismatch: got %d, want 10", last)
	}
}

func TestLeaderNeverRewritesItsLog(t *testing.T) {
	c := newManualCluster(t, 3, seededStore(3, 0))
	c.Start()
	defer c.Stop()

	c.elect(1)
	leader := c.node(1)
	if leader.Term() != 4 {
		t.Fatalf("leader term mismatch: got %d, want 4", leader.Term())
	}
	leader.Submit([]byte("a"))
	leader.Submit([]byte("b"))
	c.fire(1)
	c.fire(1)

	held := leader.Entries()
	if len(held) != 2 {
		t.Fatalf("leader log length mismatch: got %d, want 2", len(held))
	}

	// An old leader replays a conflicting suffix over index 1.
	res := leader.AppendEntries(2, 2, 0, 0, []Entry{{Term: 2, Command: []byte("x")}, {Term: 2, Command: []byte("y")}, {Term: 2, Command: []byte("z")}}, 3)
	if res.Status != AppendStaleTerm || res.Term != 4 {
		t.Errorf("stale append: got %s at %d, want stale-term at 4", res.Status, res.Term)
	}
	if !leader.IsLeader() {
		t.Fatal("stale append must not depose the leader")
	}

	leader.Submit([]byte("c"))
	c.fire(1)
	c.fire(1)

	after := leader.Entries()
	if len(after) != 3 {
		t.Fatalf("leader log length mismatch: got %d, want 3", len(after))
	}
	for i := range held {
		if after[i].Term != held[i].Term || !bytes.Equal(after[i].Command, held[i].Command) {
			t.Errorf("entry %d changed: got %+v, was %+v", i+1, after[i], held[i])
		}
	}
	if string(after[2].Command) != "c" || after[2].Term != 4 {
		t.Errorf("new entry mismatch: got %+v", after[2])
	}
}
