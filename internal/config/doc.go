// Package config provides configuration parsing and validation for raftd.
//
// Configuration is a small YAML subset read by an in-house parser: nested
// maps, "- key: value" list objects and ${VAR} / ${VAR:-default}
// substitution. Every field has a default, so a file only needs the
// settings that differ.
//
// # Example Configuration
//
//	node:
//	  id: ${RAFTD_ID:-1}
//	  dataDir: "/var/lib/raftd/node1"
//
//	cluster:
//	  peers:
//	    - id: 1
//	      addr: "10.0.0.1:7001"
//	    - id: 2
//	      addr: "10.0.0.2:7001"
//	    - id: 3
//	      addr: "10.0.0.3:7001"
//
//	timing:
//	  electionTimeoutMin: 150ms
//	  electionTimeoutMax: 300ms
//	  heartbeatInterval: 50ms
//	  rpcTimeout: 100ms
//
//	transport:
//	  kind: grpc
//	  workers: 8
//	  queueSize: 256
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stderr"
//
// Peer ids must be exactly 1..N. node.address defaults to the node's own
// entry under cluster.peers.
//
// # Environment Variables
//
// ApplyEnv overrides a loaded config from RAFTD_NODE_ID, RAFTD_NODE_ADDRESS,
// RAFTD_DATA_DIR and RAFTD_LOG_LEVEL, so one file can be shared by every
// member of a cluster.
package config
