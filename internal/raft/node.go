package raft

import (
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
)

// Applier receives committed entries in log order.
type Applier interface {
	Apply(index uint64, entry Entry) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(index uint64, entry Entry) error

// Apply calls f(index, entry).
func (f ApplierFunc) Apply(index uint64, entry Entry) error {
	return f(index, entry)
}

// Deps are the collaborators a Node talks to. Transport is required; the
// others fall back to in-memory storage, runtime timers, a no-op logger and
// a no-op applier.
type Deps struct {
	Transport Transport
	Persister Persister
	Scheduler Scheduler
	Logger    logging.Logger
	Applier   Applier
}

// Node represents a Raft node in the cluster.
type Node struct {
	// Configuration
	id      uint64
	config  *NodeConfig
	peers   []uint64 // Every other server id
	servers int

	// State
	mode      Mode
	state     ServerState
	log       *Log
	responses *Responses
	timers    *timerService
	progress  *leaderProgress // Non-nil only while Leader

	// Components
	transport Transport
	persister Persister
	applier   Applier
	logger    logging.Logger
	client    *rpcClient

	// Channels
	applyCh chan struct{}
	stopCh  chan struct{}

	running int32 // nodeIdle, nodeRunning or nodeStopped
	wg      sync.WaitGroup

	// mu guards all consensus state. deadlock.Mutex reports lock-order
	// cycles and long waits in place of a silent hang.
	mu deadlock.Mutex
}

// Lifecycle values of Node.running. A stopped node cannot be restarted.
const (
	nodeIdle int32 = iota
	nodeRunning
	nodeStopped
)

// NewNode creates a node and restores its term, vote and log from
// deps.Persister.
func NewNode(cfg *NodeConfig, deps Deps) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, ErrInvalidConfig
	}
	if deps.Persister == nil {
		deps.Persister = NewMemoryStorage()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Applier == nil {
		deps.Applier = ApplierFunc(func(uint64, Entry) error { return nil })
	}

	persisted, err := deps.Persister.Load()
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:        cfg.ID,
		config:    cfg,
		servers:   len(cfg.Peers),
		mode:      ModeFollower,
		log:       NewLogFrom(persisted.Entries),
		responses: NewResponses(len(cfg.Peers)),
		transport: deps.Transport,
		persister: deps.Persister,
		applier:   deps.Applier,
		logger:    deps.Logger.WithFields("node", cfg.ID),
		applyCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	for _, p := range cfg.Peers {
		if p.ID != cfg.ID {
			n.peers = append(n.peers, p.ID)
		}
	}

	n.state.currentTerm = persisted.CurrentTerm
	n.state.votedFor = persisted.VotedFor
	// Applied entries were committed; anything past them is re-learned
	// from the leader.
	n.state.lastApplied = persisted.LastApplied
	n.state.commitIndex = persisted.LastApplied

	n.timers = newTimerService(cfg, deps.Scheduler, n.HandleTimeout)
	n.client = newRPCClient(deps.Transport, cfg, n.logger, n.handleReply)

	return n, nil
}

// ID returns the node's ID.
func (n *Node) ID() uint64 {
	return n.id
}

// Mode returns the current mode.
func (n *Node) Mode() Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// IsLeader returns true if this node is the leader.
func (n *Node) IsLeader() bool {
	return n.Mode() == ModeLeader
}

// Term returns the current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.currentTerm
}

// LeaderID returns the current leader's ID (0 if unknown).
func (n *Node) LeaderID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.leaderID
}

// CommitIndex returns the commit index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.commitIndex
}

// LastApplied returns the last applied index.
func (n *Node) LastApplied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.lastApplied
}

// Entries returns a copy of the log, index 1 first.
func (n *Node) Entries() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log.EntriesFrom(1)
}

// ActiveTimer returns the id of the live timer, 0 if none.
func (n *Node) ActiveTimer() TimerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timers.current()
}

// Status returns a snapshot of the node.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusLocked()
}

func (n *Node) statusLocked() Status {
	return Status{
		ID:          n.id,
		Mode:        n.mode,
		Term:        n.state.currentTerm,
		VotedFor:    n.state.votedFor,
		LeaderID:    n.state.leaderID,
		CommitIndex: n.state.commitIndex,
		LastApplied: n.state.lastApplied,
		LastIndex:   n.log.LastIndex(),
	}
}

// Start starts the Raft node as a Follower. It returns ErrNodeStopped once
// the node has been stopped.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.running, nodeIdle, nodeRunning) {
		if atomic.LoadInt32(&n.running) == nodeStopped {
			return ErrNodeStopped
		}
		return nil // Already running
	}

	if err := n.transport.Listen(n.handleRPC); err != nil {
		atomic.StoreInt32(&n.running, nodeIdle)
		return err
	}

	n.client.start()

	n.wg.Add(1)
	go n.applyLoop()

	n.mu.Lock()
	n.logger.Info("raft node started",
		"term", n.state.currentTerm,
		"lastIndex", n.log.LastIndex(),
		"servers", n.servers,
	)
	n.enterFollower()
	if n.state.commitIndex > n.state.lastApplied {
		n.signalApply()
	}
	n.mu.Unlock()

	return nil
}

// Stop stops the Raft node.
func (n *Node) Stop() {
	if !atomic.CompareAndSwapInt32(&n.running, nodeRunning, nodeStopped) {
		return // Not running
	}

	n.mu.Lock()
	n.timers.cancel()
	n.progress = nil
	n.mu.Unlock()

	close(n.stopCh)
	n.transport.Close()
	n.client.stop()
	n.wg.Wait()

	n.logger.Info("raft node stopped")
}

func (n *Node) isRunning() bool {
	return atomic.LoadInt32(&n.running) == nodeRunning
}

// Submit appends cmd to the leader's log. The entry is replicated on the
// next heartbeat and applied once committed.
func (n *Node) Submit(cmd []byte) (index, term uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isRunning() {
		return 0, 0, ErrNodeStopped
	}
	if n.mode != ModeLeader {
		return 0, 0, ErrNotLeader
	}

	term = n.state.currentTerm
	index = n.log.Append(Entry{Term: term, Command: cmd})
	n.persistLog(index)
	return index, term, nil
}

// RequestVote handles a vote request. It returns 0 when the vote is
// granted and the receiver's current term otherwise. Candidate terms start
// at 1, so a rejection is never 0.
func (n *Node) RequestVote(candidateTerm, candidateID, lastLogIndex, lastLogTerm uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requestVoteLocked(candidateTerm, candidateID, lastLogIndex, lastLogTerm)
}

func (n *Node) requestVoteLocked(candidateTerm, candidateID, lastLogIndex, lastLogTerm uint64) uint64 {
	if candidateTerm < n.state.currentTerm {
		return n.state.currentTerm
	}
	n.observeTerm(candidateTerm)

	myLastTerm := n.log.LastTerm()
	upToDate := lastLogTerm > myLastTerm ||
		(lastLogTerm == myLastTerm && lastLogIndex >= n.log.LastIndex())

	if !n.state.canVoteFor(candidateID) || !upToDate {
		n.logger.Debug("vote denied",
			"candidate", candidateID,
			"term", n.state.currentTerm,
			"votedFor", n.state.votedFor,
			"upToDate", upToDate,
		)
		return n.state.currentTerm
	}

	n.state.vote(candidateID)
	n.persistState()
	if n.mode == ModeFollower {
		n.timers.schedule(TimerElection)
	}
	n.logger.Debug("vote granted", "candidate", candidateID, "term", n.state.currentTerm)
	return 0
}

// AppendEntries handles a replication or heartbeat request from a leader.
func (n *Node) AppendEntries(leaderTerm, leaderID, prevLogIndex, prevLogTerm uint64, entries []Entry, leaderCommit uint64) AppendResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	if leaderTerm < n.state.currentTerm {
		return AppendResult{Status: AppendStaleTerm, Term: n.state.currentTerm}
	}
	n.observeTerm(leaderTerm)
	if n.mode != ModeFollower {
		n.transition(EventLeaderDiscovered)
	}

	if n.state.leaderID != leaderID {
		n.logger.Debug("leader discovered", "leader", leaderID, "term", leaderTerm)
	}
	n.state.leaderID = leaderID
	n.timers.schedule(TimerElection)

	changedFrom, ok := n.log.Insert(entries, prevLogIndex, prevLogTerm)
	if !ok {
		return AppendResult{Status: AppendLogMismatch, Term: n.state.currentTerm}
	}
	if changedFrom > 0 {
		n.persistLog(changedFrom)
	}

	if n.state.setCommitIndex(min(leaderCommit, prevLogIndex+uint64(len(entries)))) {
		n.signalApply()
	}
	return AppendResult{Status: AppendSuccess, Term: n.state.currentTerm}
}

// HandleTimeout runs the active mode's timeout handler. It is a no-op
// unless id is the live timer.
func (n *Node) HandleTimeout(id TimerID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isRunning() {
		return
	}
	kind, ok := n.timers.active(id)
	if !ok {
		return
	}

	switch n.mode {
	case ModeFollower:
		if kind == TimerElection {
			n.transition(EventElectionTimeout)
		}
	case ModeCandidate:
		if kind == TimerElection {
			n.evaluateElection()
		}
	case ModeLeader:
		if kind == TimerHeartbeat {
			n.transition(EventHeartbeatTimeout)
		}
	}
}

// transition applies event e to the current mode and runs the entry
// action of the resulting mode. The lock must be held.
func (n *Node) transition(e Event) bool {
	from := n.mode
	next, ok := Transition(from, e)
	if !ok {
		return false
	}

	n.mode = next
	if next != from {
		n.logger.Info("mode transition",
			"term", n.state.currentTerm,
			"from", from.String(),
			"to", next.String(),
			"event", e.String(),
		)
	}

	switch next {
	case ModeFollower:
		n.enterFollower()
	case ModeCandidate:
		n.enterCandidate()
	case ModeLeader:
		if from == ModeLeader {
			n.heartbeat()
		} else {
			n.enterLeader()
		}
	}
	return true
}

func (n *Node) enterFollower() {
	n.progress = nil
	n.timers.schedule(TimerElection)
}

// observeTerm adopts term when it is newer than ours. Candidates and
// leaders step down; a follower keeps its timer.
func (n *Node) observeTerm(term uint64) bool {
	if !n.state.advanceTerm(term) {
		return false
	}
	n.persistState()
	if n.mode != ModeFollower {
		n.transition(EventHigherTerm)
	}
	return true
}

// handleReply records a completed RPC. It runs on the client's completion
// goroutine.
func (n *Node) handleReply(r rpcReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ok bool
	switch r.call.kind {
	case callVote:
		ok = n.responses.RecordVote(r.call.peer, r.resp, r.call.round)
	case callAppend:
		ok = n.responses.RecordAppend(r.call.peer, r.resp, r.call.round)
	}
	if !ok {
		n.logger.Debug("discarding stale reply",
			"peer", r.call.peer,
			"term", r.call.round.Term,
			"kind", r.resp.Kind.String(),
		)
	}
}

func (n *Node) persistState() {
	if err := n.persister.SaveState(n.state.currentTerm, n.state.votedFor); err != nil {
		n.logger.Error("failed to persist state", "term", n.state.currentTerm, "error", err.Error())
	}
}

func (n *Node) persistLog(from uint64) {
	if err := n.persister.SaveLog(from, n.log.EntriesFrom(from)); err != nil {
		n.logger.Error("failed to persist log", "from", from, "error", err.Error())
	}
}

func (n *Node) signalApply() {
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

// applyLoop hands committed entries to the applier in order. Only this
// goroutine advances lastApplied.
func (n *Node) applyLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applyCh:
			n.applyCommitted()
		}
	}
}

func (n *Node) applyCommitted() {
	n.mu.Lock()
	from := n.state.lastApplied + 1
	to := n.state.commitIndex
	var batch []Entry
	if to >= from {
		batch = make([]Entry, 0, to-from+1)
		for i := from; i <= to; i++ {
			e, _ := n.log.GetEntry(i)
			batch = append(batch, e)
		}
	}
	n.mu.Unlock()

	for i, e := range batch {
		index := from + uint64(i)
		if err := n.applier.Apply(index, e); err != nil {
			n.logger.Error("failed to apply entry", "index", index, "error", err.Error())
		}

		n.mu.Lock()
		n.state.lastApplied = index
		if err := n.persister.SaveApplied(index); err != nil {
			n.logger.Error("failed to persist last applied", "index", index, "error", err.Error())
		}
		n.mu.Unlock()
	}
}

// handleRPC dispatches an inbound RPC to the matching handler.
func (n *Node) handleRPC(msgType uint8, data []byte) []byte {
	switch msgType {
	case RPCRequestVote:
		args, err := DeserializeRequestVoteArgs(data)
		if err != nil {
			n.logger.Warn("malformed RequestVote", "error", err.Error())
			return nil
		}
		n.mu.Lock()
		code := n.requestVoteLocked(args.Term, args.CandidateID, args.LastLogIndex, args.LastLogTerm)
		res := voteResultFromCode(code, n.state.currentTerm)
		n.mu.Unlock()
		return res.Serialize()

	case RPCAppendEntries:
		args, err := DeserializeAppendEntriesArgs(data)
		if err != nil {
			n.logger.Warn("malformed AppendEntries", "error", err.Error())
			return nil
		}
		res := n.AppendEntries(args.Term, args.LeaderID, args.PrevLogIndex, args.PrevLogTerm, args.Entries, args.LeaderCommit)
		return res.Serialize()

	case RPCStatus:
		st := n.Status()
		return st.Serialize()

	default:
		n.logger.Warn("unknown rpc message", "type", msgType)
		return nil
	}
}
