// Package raft implements the core of a Raft consensus node: leader
// election and log replication among a fixed set of servers.
//
// # Overview
//
// A Node is always in exactly one Mode:
//   - Follower waits for a leader and votes for candidates
//   - Candidate asks every server for a vote in a new term
//   - Leader replicates its log and advances the commit index
//
// Mode changes are driven by the Transition function; each change runs the
// entry action of the new mode, which schedules the mode's timer and may
// send RPCs.
//
// # Concurrency
//
// Every handler runs under one per-node mutex. Outbound RPCs are queued to
// a worker pool without blocking; replies are written into a Responses
// table keyed by round and only read when the active mode's timer fires.
// A candidate counts votes when its election timer expires, and a leader
// folds AppendEntries replies at each heartbeat.
//
// Timers carry a generation (TimerID). A callback whose generation has
// been superseded is ignored.
//
// # Usage
//
//	cfg := raft.DefaultNodeConfig()
//	cfg.ID = 1
//	cfg.Peers = []*raft.Peer{
//	    {ID: 1, Addr: "10.0.0.1:7001"},
//	    {ID: 2, Addr: "10.0.0.2:7001"},
//	    {ID: 3, Addr: "10.0.0.3:7001"},
//	}
//
//	storage, _ := raft.OpenFileStorage("/var/lib/raftd")
//	transport := raft.NewTCPTransport("10.0.0.1:7001", peerAddrs)
//
//	node, err := raft.NewNode(cfg, raft.Deps{
//	    Transport: transport,
//	    Persister: storage,
//	    Logger:    logger,
//	    Applier:   applier,
//	})
//	if err != nil {
//	    return err
//	}
//	node.Start()
//	defer node.Stop()
//
//	// Only the leader accepts commands.
//	index, term, err := node.Submit([]byte("set x 1"))
//
// # Persistence
//
// currentTerm, votedFor and the log are written through a Persister
// synchronously at every change, before the RPC that caused it is
// answered. FileStorage keeps them in a data directory.
//
// # Failure Handling
//
// The cluster can tolerate (N-1)/2 failures for N nodes:
//   - 3 nodes: tolerates 1 failure
//   - 5 nodes: tolerates 2 failures
//
// Transport failures are treated as a missing reply. A server that is
// behind is repaired by the leader walking nextIndex back until the logs
// match.
package raft
