package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultConfig returns a single-node configuration listening on
// 127.0.0.1:7001.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      1,
			DataDir: "/var/lib/raftd",
		},
		Cluster: ClusterConfig{
			Peers: []PeerConfig{{ID: 1, Addr: "127.0.0.1:7001"}},
		},
		Timing: TimingConfig{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
		},
		Transport: TransportConfig{
			Kind:      TransportTCP,
			Workers:   8,
			QueueSize: 256,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Environment variables consulted by ApplyEnv.
const (
	EnvNodeID      = "RAFTD_NODE_ID"
	EnvNodeAddress = "RAFTD_NODE_ADDRESS"
	EnvDataDir     = "RAFTD_DATA_DIR"
	EnvLogLevel    = "RAFTD_LOG_LEVEL"
)

// ApplyEnv overrides node identity, data directory and log level from the
// environment. Unset variables leave the config untouched.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvNodeID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return ValidationError{Field: EnvNodeID, Message: "must be a positive integer"}
		}
		cfg.Node.ID = id
	}
	if v := os.Getenv(EnvNodeAddress); v != "" {
		cfg.Node.Address = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
