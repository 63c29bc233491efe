package raft

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// frame is the single message type of the gRPC service. Data carries the
// same binary payloads the TCP transport frames.
type frame struct {
	Type uint8
	Data []byte
}

// frameCodec encodes a frame as [type:1][data:N].
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("raft: cannot encode %T", v)
	}
	out := make([]byte, 1+len(f.Data))
	out[0] = f.Type
	copy(out[1:], f.Data)
	return out, nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("raft: cannot decode into %T", v)
	}
	if len(data) < 1 {
		return ErrLogCorrupted
	}
	f.Type = data[0]
	f.Data = append([]byte(nil), data[1:]...)
	return nil
}

func (frameCodec) Name() string {
	return "raftframe"
}

const grpcCallMethod = "/raftd.Raft/Call"

// raftService is the handler type of the gRPC service description.
type raftService interface {
	Call(ctx context.Context, req *frame) (*frame, error)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftd.Raft",
	HandlerType: (*raftService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftd",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftService).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcCallMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftService).Call(ctx, req.(*frame))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcService adapts an RPCHandler to raftService.
type grpcService struct {
	handler RPCHandler
}

func (s *grpcService) Call(_ context.Context, req *frame) (*frame, error) {
	resp := s.handler(req.Type, req.Data)
	if resp == nil {
		return nil, status.Error(codes.InvalidArgument, ErrUnknownMessage.Error())
	}
	return &frame{Type: req.Type, Data: resp}, nil
}

// GRPCTransport implements Transport over gRPC, one unary method per call.
type GRPCTransport struct {
	addr     string
	peers    map[uint64]string
	conns    map[uint64]*grpc.ClientConn
	server   *grpc.Server
	listener net.Listener
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewGRPCTransport creates a gRPC transport listening on addr.
func NewGRPCTransport(addr string, peers map[uint64]string) *GRPCTransport {
	return &GRPCTransport{
		addr:  addr,
		peers: peers,
		conns: make(map[uint64]*grpc.ClientConn),
	}
}

// LocalAddr returns the local address.
func (t *GRPCTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Listen starts the gRPC server.
func (t *GRPCTransport) Listen(handler RPCHandler) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	srv.RegisterService(&raftServiceDesc, &grpcService{handler: handler})

	t.mu.Lock()
	t.listener = ln
	t.server = srv
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		srv.Serve(ln)
	}()
	return nil
}

func (t *GRPCTransport) connFor(peerID uint64) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if conn, ok := t.conns[peerID]; ok {
		return conn, nil
	}

	addr, ok := t.peers[peerID]
	if !ok {
		return nil, ErrUnknownPeer
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	t.conns[peerID] = conn
	return conn, nil
}

// Send performs one unary call to a peer.
func (t *GRPCTransport) Send(ctx context.Context, peerID uint64, msgType uint8, data []byte) ([]byte, error) {
	conn, err := t.connFor(peerID)
	if err != nil {
		return nil, err
	}

	resp := new(frame)
	if err := conn.Invoke(ctx, grpcCallMethod, &frame{Type: msgType, Data: data}, resp); err != nil {
		switch status.Code(err) {
		case codes.DeadlineExceeded:
			return nil, ErrTimeout
		case codes.InvalidArgument:
			return nil, ErrUnknownMessage
		default:
			return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
	}
	return resp.Data, nil
}

// Close stops the server and closes every client connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, conn := range t.conns {
		conn.Close()
	}
	t.conns = make(map[uint64]*grpc.ClientConn)
	srv := t.server
	t.mu.Unlock()

	if srv != nil {
		srv.Stop()
	}
	t.wg.Wait()
	return nil
}
