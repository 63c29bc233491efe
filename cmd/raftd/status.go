package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// statusTarget is the peer id the status client maps the queried address to.
const statusTarget = 1

func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", "127.0.0.1:7001", "RPC address of the member")
	kind := fs.String("transport", "tcp", "RPC transport: tcp, grpc")
	timeout := fs.Duration("timeout", 2*time.Second, "Request timeout")
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatusUsage(os.Stdout)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := queryStatus(ctx, *kind, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		return 1
	}
	if err := printStatus(os.Stdout, st, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print status: %v\n", err)
		return 1
	}
	return 0
}

// queryStatus asks the member at addr for its status over the given transport.
func queryStatus(ctx context.Context, kind, addr string) (*raft.Status, error) {
	tr := newTransport(kind, "", map[uint64]string{statusTarget: addr})
	defer tr.Close()

	resp, err := tr.Send(ctx, statusTarget, raft.RPCStatus, nil)
	if err != nil {
		return nil, err
	}
	return raft.DeserializeStatus(resp)
}

type statusJSON struct {
	ID          uint64 `json:"id"`
	Mode        string `json:"mode"`
	Term        uint64 `json:"term"`
	VotedFor    uint64 `json:"votedFor"`
	LeaderID    uint64 `json:"leaderId"`
	CommitIndex uint64 `json:"commitIndex"`
	LastApplied uint64 `json:"lastApplied"`
	LastIndex   uint64 `json:"lastIndex"`
}

func printStatus(w io.Writer, st *raft.Status, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(statusJSON{
			ID:          st.ID,
			Mode:        st.Mode.String(),
			Term:        st.Term,
			VotedFor:    st.VotedFor,
			LeaderID:    st.LeaderID,
			CommitIndex: st.CommitIndex,
			LastApplied: st.LastApplied,
			LastIndex:   st.LastIndex,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	leader := "none"
	if st.LeaderID != 0 {
		leader = fmt.Sprintf("%d", st.LeaderID)
	}
	_, err := fmt.Fprintf(w, `Node:         %d
Mode:         %s
Term:         %d
Voted for:    %d
Leader:       %s
Commit index: %d
Last applied: %d
Last index:   %d
`, st.ID, st.Mode, st.Term, st.VotedFor, leader, st.CommitIndex, st.LastApplied, st.LastIndex)
	return err
}
