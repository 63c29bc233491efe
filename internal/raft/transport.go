package raft

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// Transport defines the interface for Raft RPC communication. It resolves a
// server id to an endpoint and performs the call; failures come back as
// errors and never reach the mode logic.
type Transport interface {
	// Send sends an RPC to a peer and waits for response.
	Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error)

	// Listen starts listening for incoming RPCs.
	Listen(handler RPCHandler) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() string
}

// RPCHandler handles incoming RPC messages.
// Returns the response data to send back.
type RPCHandler func(msgType uint8, data []byte) []byte

// maxFrameSize bounds a single RPC payload.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes [type:1][length:4][data:N].
func writeFrame(w io.Writer, msgType uint8, data []byte) error {
	header := make([]byte, 5)
	header[0] = msgType
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads a frame written by writeFrame.
func readFrame(r io.Reader) (uint8, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(header[1:5])
	if n > maxFrameSize {
		return 0, nil, ErrLogCorrupted
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return 0, nil, err
		}
	}
	return header[0], data, nil
}

// peerConn serializes request/response exchanges on one connection.
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// TCPTransport implements Transport using TCP.
type TCPTransport struct {
	addr     string
	listener net.Listener
	peers    map[uint64]string // peerID -> address
	conns    map[uint64]*peerConn
	handler  RPCHandler
	timeout  time.Duration
	dial     func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, peers map[uint64]string) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		peers:   peers,
		conns:   make(map[uint64]*peerConn),
		timeout: 5 * time.Second,
		dial:    dialTCP,
	}
}

// SetTimeout sets the connection timeout used when ctx carries no deadline.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// LocalAddr returns the local address.
func (t *TCPTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// connFor returns the pooled connection to peerID, dialing one if needed.
// The dial runs without t.mu so a slow peer never delays sends to others.
func (t *TCPTransport) connFor(ctx context.Context, peerID uint64) (*peerConn, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	if pc, ok := t.conns[peerID]; ok {
		t.mu.RUnlock()
		return pc, nil
	}
	addr, exists := t.peers[peerID]
	timeout := t.timeout
	t.mu.RUnlock()

	if !exists {
		return nil, ErrUnknownPeer
	}

	conn, err := t.dial(ctx, addr, timeout)
	if err != nil {
		return nil, ErrConnectFailed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return nil, ErrTransportClosed
	}
	if pc, ok := t.conns[peerID]; ok {
		conn.Close()
		return pc, nil
	}
	pc := &peerConn{conn: conn}
	t.conns[peerID] = pc
	return pc, nil
}

// Send sends an RPC message to a peer and waits for response.
// Message format: [type:1][length:4][data:N]
func (t *TCPTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	pc, err := t.connFor(ctx, peerID)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.mu.RLock()
		deadline = time.Now().Add(t.timeout)
		t.mu.RUnlock()
	}
	pc.conn.SetDeadline(deadline)

	if err := writeFrame(pc.conn, msgType, data); err != nil {
		t.removeConn(peerID, pc)
		return nil, err
	}

	_, resp, err := readFrame(pc.conn)
	if err != nil {
		t.removeConn(peerID, pc)
		return nil, err
	}
	return resp, nil
}

// Listen starts accepting connections and handling RPCs.
func (t *TCPTransport) Listen(handler RPCHandler) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = ln
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	for {
		t.mu.RLock()
		closed := t.closed
		handler := t.handler
		timeout := t.timeout
		t.mu.RUnlock()
		if closed {
			return
		}

		conn.SetReadDeadline(time.Now().Add(timeout * 2))

		msgType, data, err := readFrame(conn)
		if err != nil {
			return
		}

		var resp []byte
		if handler != nil {
			resp = handler(msgType, data)
		}

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := writeFrame(conn, msgType, resp); err != nil {
			return
		}
	}
}

func (t *TCPTransport) removeConn(peerID uint64, pc *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.conns[peerID]; ok && cur == pc {
		cur.conn.Close()
		delete(t.conns, peerID)
	}
}

// Close shuts down the transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, pc := range t.conns {
		pc.conn.Close()
	}
	t.conns = make(map[uint64]*peerConn)
	ln := t.listener
	t.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	t.wg.Wait()

	return nil
}

// InMemoryTransport implements Transport for testing.
type InMemoryTransport struct {
	id      uint64
	addr    string
	network *InMemoryNetwork
	handler RPCHandler
	closed  bool
	mu      sync.RWMutex
}

// InMemoryNetwork simulates a network for testing. Links can be cut per
// node or per direction to model crashes and partitions.
type InMemoryNetwork struct {
	transports   map[uint64]*InMemoryTransport
	disconnected map[uint64]bool
	blocked      map[[2]uint64]bool // {from, to}
	mu           sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		transports:   make(map[uint64]*InMemoryTransport),
		disconnected: make(map[uint64]bool),
		blocked:      make(map[[2]uint64]bool),
	}
}

// NewTransport creates a new in-memory transport for a node.
func (n *InMemoryNetwork) NewTransport(nodeID uint64, addr string) *InMemoryTransport {
	t := &InMemoryTransport{
		id:      nodeID,
		addr:    addr,
		network: n,
	}

	n.mu.Lock()
	n.transports[nodeID] = t
	n.mu.Unlock()

	return t
}

// Disconnect drops every message to or from nodeID.
func (n *InMemoryNetwork) Disconnect(nodeID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected[nodeID] = true
}

// Reconnect undoes Disconnect.
func (n *InMemoryNetwork) Reconnect(nodeID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.disconnected, nodeID)
}

// Block drops every message travelling from one node to another. That
// covers requests from->to and also replies from->to, so a call made by to
// reaches from but its reply is lost.
func (n *InMemoryNetwork) Block(from, to uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[[2]uint64{from, to}] = true
}

// Unblock undoes Block.
func (n *InMemoryNetwork) Unblock(from, to uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blocked, [2]uint64{from, to})
}

// Heal removes every fault.
func (n *InMemoryNetwork) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = make(map[uint64]bool)
	n.blocked = make(map[[2]uint64]bool)
}

func (n *InMemoryNetwork) reachable(from, to uint64) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disconnected[from] || n.disconnected[to] {
		return false
	}
	return !n.blocked[[2]uint64{from, to}]
}

// Send sends an RPC to a peer.
func (t *InMemoryTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	t.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.network.mu.RLock()
	peer, ok := t.network.transports[peerID]
	t.network.mu.RUnlock()

	if !ok {
		return nil, ErrUnknownPeer
	}
	if !t.network.reachable(t.id, peerID) {
		return nil, ErrConnectFailed
	}

	peer.mu.RLock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.RUnlock()

	if closed || handler == nil {
		return nil, ErrConnectFailed
	}

	resp := handler(msgType, data)

	// The request was delivered; the reply can still be lost.
	if !t.network.reachable(peerID, t.id) {
		return nil, ErrConnectFailed
	}
	return resp, nil
}

// Listen starts listening for RPCs.
func (t *InMemoryTransport) Listen(handler RPCHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

// Close shuts down the transport.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handler = nil
	return nil
}

// LocalAddr returns the local address.
func (t *InMemoryTransport) LocalAddr() string {
	return t.addr
}
