package config

import (
	"fmt"
	"strings"
)

// FormatYAML renders cfg in the format ParseConfig reads, so the output of
// "raftd config init" round-trips.
func FormatYAML(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("node:\n")
	fmt.Fprintf(&sb, "  id: %d\n", cfg.Node.ID)
	if cfg.Node.Address != "" {
		fmt.Fprintf(&sb, "  address: %q\n", cfg.Node.Address)
	}
	fmt.Fprintf(&sb, "  dataDir: %q\n", cfg.Node.DataDir)

	sb.WriteString("\ncluster:\n")
	sb.WriteString("  peers:\n")
	for _, p := range cfg.Cluster.Peers {
		fmt.Fprintf(&sb, "    - id: %d\n", p.ID)
		fmt.Fprintf(&sb, "      addr: %q\n", p.Addr)
	}

	sb.WriteString("\ntiming:\n")
	fmt.Fprintf(&sb, "  electionTimeoutMin: %s\n", cfg.Timing.ElectionTimeoutMin)
	fmt.Fprintf(&sb, "  electionTimeoutMax: %s\n", cfg.Timing.ElectionTimeoutMax)
	fmt.Fprintf(&sb, "  heartbeatInterval: %s\n", cfg.Timing.HeartbeatInterval)
	if cfg.Timing.TimeoutOverride > 0 {
		fmt.Fprintf(&sb, "  timeoutOverride: %s\n", cfg.Timing.TimeoutOverride)
	}
	fmt.Fprintf(&sb, "  rpcTimeout: %s\n", cfg.Timing.RPCTimeout)

	sb.WriteString("\ntransport:\n")
	fmt.Fprintf(&sb, "  kind: %s\n", cfg.Transport.Kind)
	fmt.Fprintf(&sb, "  workers: %d\n", cfg.Transport.Workers)
	fmt.Fprintf(&sb, "  queueSize: %d\n", cfg.Transport.QueueSize)

	sb.WriteString("\nlogging:\n")
	fmt.Fprintf(&sb, "  level: %q\n", cfg.Logging.Level)
	fmt.Fprintf(&sb, "  format: %q\n", cfg.Logging.Format)
	fmt.Fprintf(&sb, "  output: %q\n", cfg.Logging.Output)

	return sb.String()
}
