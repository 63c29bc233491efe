package raft

import (
	"sort"
	"time"
)

// Peer represents a server in the cluster, including the local one.
type Peer struct {
	ID   uint64
	Addr string
}

// NodeConfig holds configuration for a Raft node.
type NodeConfig struct {
	ID                 uint64        // Unique node ID in 1..len(Peers)
	Addr               string        // Raft RPC listen address
	Peers              []*Peer       // Every server in the cluster, self included
	ElectionTimeoutMin time.Duration // Lower bound of the randomized election timeout
	ElectionTimeoutMax time.Duration // Upper bound (exclusive) of the election timeout
	HeartbeatInterval  time.Duration // Leader heartbeat period
	TimeoutOverride    time.Duration // Fixed election timeout when > 0
	RPCTimeout         time.Duration // Deadline for a single outbound RPC
	Workers            int           // Outbound RPC worker goroutines
	QueueSize          int           // Pending outbound RPC capacity
}

// DefaultNodeConfig returns default configuration.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
		Workers:            8,
		QueueSize:          256,
	}
}

// Validate checks if the configuration is valid.
func (c *NodeConfig) Validate() error {
	if c.ID == 0 || len(c.Peers) == 0 {
		return ErrInvalidConfig
	}
	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return ErrInvalidConfig
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return ErrInvalidConfig
	}
	if c.TimeoutOverride < 0 || c.RPCTimeout < 0 {
		return ErrInvalidConfig
	}

	// Server ids must be exactly 1..N so response tables can be indexed by id.
	ids := make([]uint64, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p == nil {
			return ErrInvalidConfig
		}
		ids = append(ids, p.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i+1) {
			return ErrInvalidConfig
		}
	}
	if c.ID > uint64(len(c.Peers)) {
		return ErrInvalidConfig
	}
	return nil
}

// ServerState holds the fields shared by every mode. The owning Node's
// lock guards it.
type ServerState struct {
	currentTerm uint64
	votedFor    uint64 // 0 means not voted
	commitIndex uint64
	lastApplied uint64
	leaderID    uint64 // 0 when unknown
}

// CurrentTerm returns the latest term the server has seen.
func (s *ServerState) CurrentTerm() uint64 { return s.currentTerm }

// VotedFor returns the candidate voted for in the current term, 0 if none.
func (s *ServerState) VotedFor() uint64 { return s.votedFor }

// CommitIndex returns the highest index known to be committed.
func (s *ServerState) CommitIndex() uint64 { return s.commitIndex }

// LastApplied returns the highest index handed to the applier.
func (s *ServerState) LastApplied() uint64 { return s.lastApplied }

// LeaderID returns the leader of the current term, 0 if unknown.
func (s *ServerState) LeaderID() uint64 { return s.leaderID }

// advanceTerm moves to a strictly greater term and clears the vote.
// It reports false, leaving state untouched, for any term not greater
// than the current one.
func (s *ServerState) advanceTerm(term uint64) bool {
	if term <= s.currentTerm {
		return false
	}
	s.currentTerm = term
	s.votedFor = 0
	s.leaderID = 0
	return true
}

// vote records a vote in the current term.
func (s *ServerState) vote(candidateID uint64) {
	s.votedFor = candidateID
}

// canVoteFor reports whether the vote for this term is still free or
// already belongs to candidateID.
func (s *ServerState) canVoteFor(candidateID uint64) bool {
	return s.votedFor == 0 || s.votedFor == candidateID
}

// setCommitIndex raises commitIndex; it never moves backwards.
func (s *ServerState) setCommitIndex(index uint64) bool {
	if index <= s.commitIndex {
		return false
	}
	s.commitIndex = index
	return true
}
