package raft

// Mode is the role a node plays at one instant.
type Mode uint8

// Node modes.
const (
	ModeFollower Mode = iota
	ModeCandidate
	ModeLeader
)

// String returns the string representation of a mode.
func (m Mode) String() string {
	switch m {
	case ModeFollower:
		return "follower"
	case ModeCandidate:
		return "candidate"
	case ModeLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Event is something that may move a node to another mode.
type Event uint8

// Mode events.
const (
	// EventElectionTimeout: the election timer fired without a decision.
	EventElectionTimeout Event = iota
	// EventElectionWon: a candidate counted a majority of votes.
	EventElectionWon
	// EventHigherTerm: an RPC or reply carried a term above ours.
	EventHigherTerm
	// EventLeaderDiscovered: a valid AppendEntries arrived for our term.
	EventLeaderDiscovered
	// EventHeartbeatTimeout: the leader's heartbeat timer fired.
	EventHeartbeatTimeout
)

// String returns the name of the event.
func (e Event) String() string {
	switch e {
	case EventElectionTimeout:
		return "election-timeout"
	case EventElectionWon:
		return "election-won"
	case EventHigherTerm:
		return "higher-term"
	case EventLeaderDiscovered:
		return "leader-discovered"
	case EventHeartbeatTimeout:
		return "heartbeat-timeout"
	default:
		return "unknown"
	}
}

// Transition returns the mode that follows m on event e. ok is false for
// pairs that do not change the mode, such as a follower winning an
// election or a follower seeing a higher term, and the returned mode is
// then m itself.
//
// A true ok with next == m keeps the mode and starts its next round: a
// candidate opens a new election, a leader sends a new heartbeat round.
func Transition(m Mode, e Event) (next Mode, ok bool) {
	switch m {
	case ModeFollower:
		switch e {
		case EventElectionTimeout:
			return ModeCandidate, true
		}
	case ModeCandidate:
		switch e {
		case EventElectionTimeout:
			return ModeCandidate, true
		case EventElectionWon:
			return ModeLeader, true
		case EventHigherTerm, EventLeaderDiscovered:
			return ModeFollower, true
		}
	case ModeLeader:
		switch e {
		case EventHigherTerm, EventLeaderDiscovered:
			return ModeFollower, true
		case EventHeartbeatTimeout:
			return ModeLeader, true
		}
	}
	return m, false
}

// leaderProgress is the replication bookkeeping owned by a Leader. It is
// discarded whenever the node leaves Leader.
type leaderProgress struct {
	nextIndex  map[uint64]uint64
	matchIndex map[uint64]uint64
	// inflight records, per peer, what the current round sent so a Success
	// reply can be turned into a match index.
	inflight map[uint64]sentAppend
}

type sentAppend struct {
	prevLogIndex uint64
	count        uint64
}

func newLeaderProgress(peers []uint64, lastIndex uint64) *leaderProgress {
	p := &leaderProgress{
		nextIndex:  make(map[uint64]uint64, len(peers)),
		matchIndex: make(map[uint64]uint64, len(peers)),
		inflight:   make(map[uint64]sentAppend, len(peers)),
	}
	for _, id := range peers {
		p.nextIndex[id] = lastIndex + 1
		p.matchIndex[id] = 0
	}
	return p
}
