package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `raftd - Raft consensus node

Usage:
  raftd <command> [options]

Commands:
  serve       Start a cluster member
  status      Query a running member
  config      Configuration management
  version     Show version information

Use "raftd <command> -h" for more information about a command.
`)
}

func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start a cluster member

Usage:
  raftd serve [options]

Options:
  -config string
        Path to configuration file
  -id uint
        Node id (overrides config)
  -address string
        RPC listen address (overrides config)
  -data-dir string
        Data directory path (overrides config)
  -transport string
        RPC transport: tcp, grpc (overrides config)
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message

Environment Variables:
  RAFTD_NODE_ID        Override node id
  RAFTD_NODE_ADDRESS   Override RPC listen address
  RAFTD_DATA_DIR       Override data directory path
  RAFTD_LOG_LEVEL      Override log level
`)
}

func printStatusUsage(w io.Writer) {
	fmt.Fprint(w, `Query a running member

Usage:
  raftd status [options]

Options:
  -addr string
        RPC address of the member (default "127.0.0.1:7001")
  -transport string
        RPC transport: tcp, grpc (default "tcp")
  -timeout duration
        Request timeout (default 2s)
  -json
        Print the status as JSON
  -h, -help
        Show this help message
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  raftd config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration

Use "raftd config <subcommand> -h" for more information.
`)
}

func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  raftd version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
