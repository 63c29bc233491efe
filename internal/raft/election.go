package raft

import "github.com/KilimcininKorOglu/raftd/internal/logging"

// enterCandidate starts a new election: next term, vote for self, a fresh
// response round and a RequestVote to every peer. Votes are counted when
// the election timer fires.
func (n *Node) enterCandidate() {
	n.progress = nil
	n.state.advanceTerm(n.state.currentTerm + 1)
	n.state.vote(n.id)
	n.persistState()

	term := n.state.currentTerm
	round := n.responses.SetTerm(term)
	n.responses.RecordVote(n.id, Response{Kind: ResponseVoteGranted, Term: term}, round)

	n.timers.schedule(TimerElection)

	args := RequestVoteArgs{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}
	data := args.Serialize()

	n.logger.WithRequestID(logging.GenerateRequestID()).Debug("starting election",
		"term", term,
		"lastLogIndex", args.LastLogIndex,
		"lastLogTerm", args.LastLogTerm,
	)

	for _, peer := range n.peers {
		n.client.enqueue(rpcCall{peer: peer, kind: callVote, round: round, data: data})
	}
}

// evaluateElection runs when a candidate's election timer fires.
func (n *Node) evaluateElection() {
	term := n.state.currentTerm
	votes := n.responses.Votes(term)

	if highest := maxTerm(votes); highest > term {
		n.logger.Debug("election lost to higher term", "term", term, "seen", highest)
		n.observeTerm(highest)
		return
	}

	granted := countKind(votes, ResponseVoteGranted)
	if granted >= majority(n.servers) {
		n.logger.Debug("election won", "term", term, "votes", granted)
		n.transition(EventElectionWon)
		return
	}

	n.logger.Debug("election timed out", "term", term, "votes", granted)
	n.transition(EventElectionTimeout)
}
