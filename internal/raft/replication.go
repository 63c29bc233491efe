package raft

import "github.com/KilimcininKorOglu/raftd/internal/logging"

// enterLeader resets replication progress and sends the first round at
// once.
func (n *Node) enterLeader() {
	n.progress = newLeaderProgress(n.peers, n.log.LastIndex())
	n.state.leaderID = n.id
	n.replicate()
}

// heartbeat is one leader tick: fold the last round's replies, advance the
// commit index, then open the next round.
func (n *Node) heartbeat() {
	if !n.foldAppends() {
		return
	}
	n.advanceCommit()
	n.replicate()
}

// foldAppends applies the previous round's AppendEntries replies to the
// progress tables. It reports false when a reply carried a higher term
// and the node stepped down.
func (n *Node) foldAppends() bool {
	term := n.state.currentTerm
	appends := n.responses.Appends(term)

	var highest uint64
	for _, peer := range n.peers {
		r := appends[peer]
		switch r.Kind {
		case ResponseAppendSuccess:
			sent, ok := n.progress.inflight[peer]
			if !ok {
				continue
			}
			match := sent.prevLogIndex + sent.count
			if match > n.progress.matchIndex[peer] {
				n.progress.matchIndex[peer] = match
			}
			n.progress.nextIndex[peer] = n.progress.matchIndex[peer] + 1
		case ResponseAppendMismatch:
			if n.progress.nextIndex[peer] > 1 {
				n.progress.nextIndex[peer]--
			}
		case ResponseAppendStale:
			if r.Term > highest {
				highest = r.Term
			}
		}
	}

	if highest > term {
		n.logger.Debug("follower reported higher term", "term", term, "seen", highest)
		n.observeTerm(highest)
		return false
	}
	return true
}

// advanceCommit commits the highest index stored on a majority, provided
// it belongs to the current term. Terms never decrease along the log, so
// no lower index can qualify when the majority index does not.
func (n *Node) advanceCommit() {
	matches := make([]uint64, 0, n.servers)
	matches = append(matches, n.log.LastIndex())
	for _, peer := range n.peers {
		matches = append(matches, n.progress.matchIndex[peer])
	}

	index := majorityValue(matches)
	if index <= n.state.commitIndex || n.log.TermAt(index) != n.state.currentTerm {
		return
	}
	n.state.setCommitIndex(index)
	n.logger.Debug("commit index advanced", "term", n.state.currentTerm, "commitIndex", index)
	n.signalApply()
}

// replicate opens a new round, sends every peer the entries it is missing
// and reschedules the heartbeat.
func (n *Node) replicate() {
	term := n.state.currentTerm
	round := n.responses.SetTerm(term)
	clear(n.progress.inflight)

	lg := n.logger
	if len(n.peers) > 0 {
		lg = n.logger.WithRequestID(logging.GenerateRequestID())
	}

	for _, peer := range n.peers {
		next := n.progress.nextIndex[peer]
		prev := next - 1
		args := AppendEntriesArgs{
			Term:         term,
			LeaderID:     n.id,
			PrevLogIndex: prev,
			PrevLogTerm:  n.log.TermAt(prev),
			Entries:      n.log.EntriesFrom(next),
			LeaderCommit: n.state.commitIndex,
		}
		n.progress.inflight[peer] = sentAppend{prevLogIndex: prev, count: uint64(len(args.Entries))}
		if len(args.Entries) > 0 {
			lg.Debug("replicating entries", "peer", peer, "prevLogIndex", prev, "count", len(args.Entries))
		}
		n.client.enqueue(rpcCall{peer: peer, kind: callAppend, round: round, data: args.Serialize()})
	}

	n.timers.schedule(TimerHeartbeat)
}
