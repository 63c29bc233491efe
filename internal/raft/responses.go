package raft

// ResponseKind classifies the outcome stored in a response slot.
type ResponseKind uint8

// Response kinds. ResponseNone is the zero value so fresh slots read as
// "no response yet", which is distinct from an explicit rejection.
const (
	ResponseNone ResponseKind = iota
	ResponseVoteGranted
	ResponseVoteDenied
	ResponseAppendSuccess
	ResponseAppendStale
	ResponseAppendMismatch
)

// String returns a short name for the kind.
func (k ResponseKind) String() string {
	switch k {
	case ResponseNone:
		return "none"
	case ResponseVoteGranted:
		return "granted"
	case ResponseVoteDenied:
		return "denied"
	case ResponseAppendSuccess:
		return "success"
	case ResponseAppendStale:
		return "stale"
	case ResponseAppendMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Response is one slot of the response table.
type Response struct {
	Kind ResponseKind
	Term uint64 // Responder's term as reported in the reply
}

// voteResponse converts a RequestVote reply into a slot value.
func voteResponse(r VoteResult) Response {
	if r.Granted {
		return Response{Kind: ResponseVoteGranted, Term: r.Term}
	}
	return Response{Kind: ResponseVoteDenied, Term: r.Term}
}

// appendResponse converts an AppendEntries reply into a slot value.
func appendResponse(r AppendResult) Response {
	switch r.Status {
	case AppendSuccess:
		return Response{Kind: ResponseAppendSuccess, Term: r.Term}
	case AppendStaleTerm:
		return Response{Kind: ResponseAppendStale, Term: r.Term}
	default:
		return Response{Kind: ResponseAppendMismatch, Term: r.Term}
	}
}

// Round identifies one election or heartbeat round. Several heartbeat
// rounds share a term, so the sequence number keeps a late reply from an
// earlier round out of the current one.
type Round struct {
	Term uint64
	Seq  uint64
}

// Responses is the per-node mailbox of asynchronous RPC outcomes. It tracks
// exactly one round at a time; writes tagged with any other round are
// discarded. The owning Node's lock guards it.
type Responses struct {
	servers int
	round   Round
	seq     uint64
	votes   []Response
	appends []Response
}

// NewResponses creates a table for servers with ids 1..servers.
func NewResponses(servers int) *Responses {
	return &Responses{
		servers: servers,
		votes:   make([]Response, servers+1),
		appends: make([]Response, servers+1),
	}
}

// SetTerm begins tracking a new round for term and clears every slot.
func (r *Responses) SetTerm(term uint64) Round {
	r.seq++
	r.round = Round{Term: term, Seq: r.seq}
	r.reset()
	return r.round
}

// Current returns the round being tracked.
func (r *Responses) Current() Round {
	return r.round
}

// Clear resets all slots to ResponseNone when term is the tracked term.
func (r *Responses) Clear(term uint64) {
	if term != r.round.Term {
		return
	}
	r.reset()
}

func (r *Responses) reset() {
	for i := range r.votes {
		r.votes[i] = Response{}
		r.appends[i] = Response{}
	}
}

// RecordVote stores a RequestVote outcome. It reports false when the
// outcome belongs to a round that is no longer tracked.
func (r *Responses) RecordVote(serverID uint64, res Response, round Round) bool {
	if !r.accepts(serverID, round) {
		return false
	}
	r.votes[serverID] = res
	return true
}

// RecordAppend stores an AppendEntries outcome. It reports false when the
// outcome belongs to a round that is no longer tracked.
func (r *Responses) RecordAppend(serverID uint64, res Response, round Round) bool {
	if !r.accepts(serverID, round) {
		return false
	}
	r.appends[serverID] = res
	return true
}

func (r *Responses) accepts(serverID uint64, round Round) bool {
	if serverID == 0 || serverID > uint64(r.servers) {
		return false
	}
	return round == r.round
}

// Votes returns a copy of the vote slots for term, indexed by server id.
// A term that is not tracked yields all ResponseNone.
func (r *Responses) Votes(term uint64) []Response {
	return r.snapshot(r.votes, term)
}

// Appends returns a copy of the append slots for term, indexed by server id.
func (r *Responses) Appends(term uint64) []Response {
	return r.snapshot(r.appends, term)
}

func (r *Responses) snapshot(slots []Response, term uint64) []Response {
	out := make([]Response, len(slots))
	if term == r.round.Term {
		copy(out, slots)
	}
	return out
}
