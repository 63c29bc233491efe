package raft

import (
	"bytes"
	"encoding/binary"
)

// RPC message types.
const (
	RPCRequestVote uint8 = iota
	RPCRequestVoteReply
	RPCAppendEntries
	RPCAppendEntriesReply
	RPCStatus
	RPCStatusReply
)

// RequestVoteArgs is sent by candidates to gather votes.
type RequestVoteArgs struct {
	Term         uint64 // Candidate's term
	CandidateID  uint64 // Candidate requesting vote
	LastLogIndex uint64 // Index of candidate's last log entry
	LastLogTerm  uint64 // Term of candidate's last log entry
}

// Serialize encodes RequestVoteArgs to bytes.
func (r *RequestVoteArgs) Serialize() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	binary.LittleEndian.PutUint64(buf[8:16], r.CandidateID)
	binary.LittleEndian.PutUint64(buf[16:24], r.LastLogIndex)
	binary.LittleEndian.PutUint64(buf[24:32], r.LastLogTerm)
	return buf
}

// DeserializeRequestVoteArgs decodes RequestVoteArgs from bytes.
func DeserializeRequestVoteArgs(data []byte) (*RequestVoteArgs, error) {
	if len(data) < 32 {
		return nil, ErrLogCorrupted
	}
	return &RequestVoteArgs{
		Term:         binary.LittleEndian.Uint64(data[0:8]),
		CandidateID:  binary.LittleEndian.Uint64(data[8:16]),
		LastLogIndex: binary.LittleEndian.Uint64(data[16:24]),
		LastLogTerm:  binary.LittleEndian.Uint64(data[24:32]),
	}, nil
}

// VoteResult is the reply to RequestVote.
type VoteResult struct {
	Granted bool   // True if the candidate received the vote
	Term    uint64 // Receiver's current term, for the candidate to update itself
}

// voteResultFromCode converts the numeric RequestVote contract (0 for a
// granted vote, the receiver's term otherwise) into a VoteResult.
func voteResultFromCode(code, term uint64) VoteResult {
	if code == 0 {
		return VoteResult{Granted: true, Term: term}
	}
	return VoteResult{Granted: false, Term: code}
}

// Serialize encodes VoteResult to bytes.
func (r *VoteResult) Serialize() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	if r.Granted {
		buf[8] = 1
	}
	return buf
}

// DeserializeVoteResult decodes VoteResult from bytes.
func DeserializeVoteResult(data []byte) (*VoteResult, error) {
	if len(data) < 9 {
		return nil, ErrLogCorrupted
	}
	return &VoteResult{
		Term:    binary.LittleEndian.Uint64(data[0:8]),
		Granted: data[8] == 1,
	}, nil
}

// AppendEntriesArgs is sent by leader to replicate log entries.
type AppendEntriesArgs struct {
	Term         uint64  // Leader's term
	LeaderID     uint64  // So follower can redirect clients
	PrevLogIndex uint64  // Index of log entry immediately preceding new ones
	PrevLogTerm  uint64  // Term of prevLogIndex entry
	Entries      []Entry // Log entries to store (empty for heartbeat)
	LeaderCommit uint64  // Leader's commitIndex
}

// Serialize encodes AppendEntriesArgs to bytes.
func (a *AppendEntriesArgs) Serialize() []byte {
	var buf bytes.Buffer

	header := make([]byte, 40)
	binary.LittleEndian.PutUint64(header[0:8], a.Term)
	binary.LittleEndian.PutUint64(header[8:16], a.LeaderID)
	binary.LittleEndian.PutUint64(header[16:24], a.PrevLogIndex)
	binary.LittleEndian.PutUint64(header[24:32], a.PrevLogTerm)
	binary.LittleEndian.PutUint64(header[32:40], a.LeaderCommit)
	buf.Write(header)

	// bytes.Buffer writes never fail
	_ = writeEntries(&buf, a.Entries)

	return buf.Bytes()
}

// DeserializeAppendEntriesArgs decodes AppendEntriesArgs from bytes.
func DeserializeAppendEntriesArgs(data []byte) (*AppendEntriesArgs, error) {
	if len(data) < 44 {
		return nil, ErrLogCorrupted
	}

	args := &AppendEntriesArgs{
		Term:         binary.LittleEndian.Uint64(data[0:8]),
		LeaderID:     binary.LittleEndian.Uint64(data[8:16]),
		PrevLogIndex: binary.LittleEndian.Uint64(data[16:24]),
		PrevLogTerm:  binary.LittleEndian.Uint64(data[24:32]),
		LeaderCommit: binary.LittleEndian.Uint64(data[32:40]),
	}

	entries, err := readEntries(data[40:])
	if err != nil {
		return nil, err
	}
	args.Entries = entries
	return args, nil
}

// AppendStatus is the three-valued outcome of AppendEntries.
type AppendStatus uint8

// AppendEntries outcomes.
const (
	AppendSuccess     AppendStatus = iota + 1 // Entries stored
	AppendStaleTerm                           // Leader's term is behind the receiver's
	AppendLogMismatch                         // No entry matching prevLogIndex/prevLogTerm
)

// String returns the name of the status.
func (s AppendStatus) String() string {
	switch s {
	case AppendSuccess:
		return "success"
	case AppendStaleTerm:
		return "stale-term"
	case AppendLogMismatch:
		return "log-mismatch"
	default:
		return "unknown"
	}
}

// AppendResult is the reply to AppendEntries.
type AppendResult struct {
	Status AppendStatus
	Term   uint64 // Receiver's current term
}

// Serialize encodes AppendResult to bytes.
func (r *AppendResult) Serialize() []byte {
	buf := make([]byte, 9)
	buf[0] = byte(r.Status)
	binary.LittleEndian.PutUint64(buf[1:9], r.Term)
	return buf
}

// DeserializeAppendResult decodes AppendResult from bytes.
func DeserializeAppendResult(data []byte) (*AppendResult, error) {
	if len(data) < 9 {
		return nil, ErrLogCorrupted
	}
	status := AppendStatus(data[0])
	if status < AppendSuccess || status > AppendLogMismatch {
		return nil, ErrLogCorrupted
	}
	return &AppendResult{
		Status: status,
		Term:   binary.LittleEndian.Uint64(data[1:9]),
	}, nil
}

// Status is a point-in-time view of a node, served to operators.
type Status struct {
	ID          uint64
	Mode        Mode
	Term        uint64
	VotedFor    uint64
	LeaderID    uint64
	CommitIndex uint64
	LastApplied uint64
	LastIndex   uint64
}

// Serialize encodes Status to bytes.
func (s *Status) Serialize() []byte {
	buf := make([]byte, 57)
	binary.LittleEndian.PutUint64(buf[0:8], s.ID)
	buf[8] = byte(s.Mode)
	binary.LittleEndian.PutUint64(buf[9:17], s.Term)
	binary.LittleEndian.PutUint64(buf[17:25], s.VotedFor)
	binary.LittleEndian.PutUint64(buf[25:33], s.LeaderID)
	binary.LittleEndian.PutUint64(buf[33:41], s.CommitIndex)
	binary.LittleEndian.PutUint64(buf[41:49], s.LastApplied)
	binary.LittleEndian.PutUint64(buf[49:57], s.LastIndex)
	return buf
}

// DeserializeStatus decodes Status from bytes.
func DeserializeStatus(data []byte) (*Status, error) {
	if len(data) < 57 {
		return nil, ErrLogCorrupted
	}
	return &Status{
		ID:          binary.LittleEndian.Uint64(data[0:8]),
		Mode:        Mode(data[8]),
		Term:        binary.LittleEndian.Uint64(data[9:17]),
		VotedFor:    binary.LittleEndian.Uint64(data[17:25]),
		LeaderID:    binary.LittleEndian.Uint64(data[25:33]),
		CommitIndex: binary.LittleEndian.Uint64(data[33:41]),
		LastApplied: binary.LittleEndian.Uint64(data[41:49]),
		LastIndex:   binary.LittleEndian.Uint64(data[49:57]),
	}, nil
}
