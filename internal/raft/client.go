package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
)

type callKind uint8

const (
	callVote callKind = iota + 1
	callAppend
)

// rpcCall is one queued outbound RPC.
type rpcCall struct {
	peer  uint64
	kind  callKind
	round Round
	data  []byte
}

// rpcReply is what a worker hands to the completion goroutine.
type rpcReply struct {
	call rpcCall
	resp Response
	err  error
}

// rpcClient runs outbound RPCs on a fixed pool of workers. Enqueueing never
// blocks; a call that does not fit is dropped and its slot stays
// ResponseNone. Workers never touch node state: replies go through a
// channel to a single goroutine that runs complete.
type rpcClient struct {
	transport Transport
	timeout   time.Duration
	workers   int
	logger    logging.Logger
	complete  func(rpcReply)

	queue   chan rpcCall
	replies chan rpcReply
	stopCh  chan struct{}
	pending atomic.Int64
	wg      sync.WaitGroup
	done    sync.WaitGroup
	once    sync.Once
}

func newRPCClient(t Transport, cfg *NodeConfig, logger logging.Logger, complete func(rpcReply)) *rpcClient {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = workers
	}
	return &rpcClient{
		transport: t,
		timeout:   cfg.RPCTimeout,
		workers:   workers,
		logger:    logger,
		complete:  complete,
		queue:     make(chan rpcCall, size),
		replies:   make(chan rpcReply, size),
		stopCh:    make(chan struct{}),
	}
}

func (c *rpcClient) start() {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.work()
	}
	c.done.Add(1)
	go c.completions()
}

// stop waits for in-flight calls and discards whatever is still queued.
func (c *rpcClient) stop() {
	c.once.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		close(c.replies)
		c.done.Wait()
	})
}

// enqueue queues call without blocking and reports whether it was accepted.
func (c *rpcClient) enqueue(call rpcCall) bool {
	select {
	case <-c.stopCh:
		return false
	default:
	}

	c.pending.Add(1)
	select {
	case c.queue <- call:
		return true
	default:
		c.pending.Add(-1)
		c.logger.Debug("rpc queue full, dropping call", "peer", call.peer, "term", call.round.Term)
		return false
	}
}

// inflight returns the number of calls queued, running or awaiting
// completion.
func (c *rpcClient) inflight() int64 {
	return c.pending.Load()
}

func (c *rpcClient) work() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.drain()
			return
		case call := <-c.queue:
			reply := c.do(call)
			select {
			case c.replies <- reply:
			case <-c.stopCh:
				c.pending.Add(-1)
			}
		}
	}
}

// drain discards queued calls after stop.
func (c *rpcClient) drain() {
	for {
		select {
		case <-c.queue:
			c.pending.Add(-1)
		default:
			return
		}
	}
}

func (c *rpcClient) do(call rpcCall) rpcReply {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msgType := RPCRequestVote
	if call.kind == callAppend {
		msgType = RPCAppendEntries
	}

	data, err := c.transport.Send(ctx, call.peer, msgType, call.data)
	if err != nil {
		return rpcReply{call: call, err: err}
	}

	switch call.kind {
	case callVote:
		res, err := DeserializeVoteResult(data)
		if err != nil {
			return rpcReply{call: call, err: err}
		}
		return rpcReply{call: call, resp: voteResponse(*res)}
	default:
		res, err := DeserializeAppendResult(data)
		if err != nil {
			return rpcReply{call: call, err: err}
		}
		return rpcReply{call: call, resp: appendResponse(*res)}
	}
}

func (c *rpcClient) completions() {
	defer c.done.Done()

	for reply := range c.replies {
		if reply.err != nil {
			c.logger.Debug("rpc failed",
				"peer", reply.call.peer,
				"term", reply.call.round.Term,
				"error", reply.err.Error(),
			)
		} else {
			c.complete(reply)
		}
		c.pending.Add(-1)
	}
}
