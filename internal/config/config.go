// Package config provides configuration parsing and validation for raftd.
package config

import (
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Transport kinds.
const (
	TransportTCP  = "tcp"
	TransportGRPC = "grpc"
)

// Config holds the complete node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Timing    TimingConfig    `yaml:"timing"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LogConfig       `yaml:"logging"`
}

// NodeConfig identifies the local server.
type NodeConfig struct {
	ID uint64 `yaml:"id"`
	// Address is the RPC listen address. Empty means the address listed for
	// ID under cluster.peers.
	Address string `yaml:"address"`
	DataDir string `yaml:"dataDir"`
}

// ClusterConfig lists every server in the cluster, the local one included.
type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig is one cluster member.
type PeerConfig struct {
	ID   uint64 `yaml:"id"`
	Addr string `yaml:"addr"`
}

// TimingConfig holds the election and heartbeat timers.
type TimingConfig struct {
	ElectionTimeoutMin time.Duration `yaml:"electionTimeoutMin"`
	ElectionTimeoutMax time.Duration `yaml:"electionTimeoutMax"`
	HeartbeatInterval  time.Duration `yaml:"heartbeatInterval"`
	// TimeoutOverride pins the election timeout when non-zero.
	TimeoutOverride time.Duration `yaml:"timeoutOverride"`
	RPCTimeout      time.Duration `yaml:"rpcTimeout"`
}

// TransportConfig selects the RPC transport and sizes the outbound worker pool.
type TransportConfig struct {
	Kind      string `yaml:"kind"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queueSize"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ListenAddr returns the address the local node serves RPCs on.
func (c *Config) ListenAddr() string {
	if c.Node.Address != "" {
		return c.Node.Address
	}
	for _, p := range c.Cluster.Peers {
		if p.ID == c.Node.ID {
			return p.Addr
		}
	}
	return ""
}

// PeerAddrs maps every peer id to its address.
func (c *Config) PeerAddrs() map[uint64]string {
	addrs := make(map[uint64]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		addrs[p.ID] = p.Addr
	}
	return addrs
}

// RaftConfig converts c into the consensus core's node configuration.
func (c *Config) RaftConfig() *raft.NodeConfig {
	rc := raft.DefaultNodeConfig()
	rc.ID = c.Node.ID
	rc.Addr = c.ListenAddr()
	for _, p := range c.Cluster.Peers {
		rc.Peers = append(rc.Peers, &raft.Peer{ID: p.ID, Addr: p.Addr})
	}
	rc.ElectionTimeoutMin = c.Timing.ElectionTimeoutMin
	rc.ElectionTimeoutMax = c.Timing.ElectionTimeoutMax
	rc.HeartbeatInterval = c.Timing.HeartbeatInterval
	rc.TimeoutOverride = c.Timing.TimeoutOverride
	rc.RPCTimeout = c.Timing.RPCTimeout
	rc.Workers = c.Transport.Workers
	rc.QueueSize = c.Transport.QueueSize
	return rc
}
