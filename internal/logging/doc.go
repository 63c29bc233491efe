// Package logging provides structured logging for raftd.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/raftd/node1.log",
//	})
//
// Tests and embedded nodes that do not want output use logging.NewNop, and
// tests that inspect output use logging.NewWriter with a bytes.Buffer.
//
// # Fields
//
// Child loggers share their parent's output but carry extra fields:
//
//	nodeLog := logger.WithFields("node", 1)
//	nodeLog.Info("mode changed", "from", "candidate", "to", "leader", "term", 4)
//
// Text output sorts the fields by key:
//
//	2026-01-02T15:04:05Z [info] mode changed from=candidate node=1 term=4 to=leader
//
// # Request IDs
//
// Each election and replication round is tagged with an ID from
// GenerateRequestID so the local log lines of one round can be grepped out of a
// busy log:
//
//	lg := nodeLog.WithRequestID(logging.GenerateRequestID())
//	lg.Debug("starting election", "term", 5)
package logging
