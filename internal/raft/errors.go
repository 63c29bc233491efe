package raft

import "errors"

// Raft errors.
var (
	// ErrNotLeader is returned when a command is submitted to a non-leader node.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrNodeStopped is returned when an operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrLogCorrupted is returned when log or RPC data cannot be decoded.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrLogIndexOutOfRange is returned when accessing an invalid log index.
	ErrLogIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrTransportClosed is returned when transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when connection to peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrUnknownPeer is returned when a server id has no known address.
	ErrUnknownPeer = errors.New("raft: unknown peer")

	// ErrUnknownMessage is returned when an RPC message type is not recognised.
	ErrUnknownMessage = errors.New("raft: unknown message type")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)
