package raft

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Entry is a single command stored in the replicated log.
type Entry struct {
	Term    uint64 // Term when the entry was created by a leader
	Command []byte // Opaque client command
}

// entryHeaderSize is the fixed part of a serialized entry.
const entryHeaderSize = 8 + 4

// Serialize encodes the entry to bytes.
// Format: [Term:8][CommandLen:4][Command:N]
func (e Entry) Serialize() []byte {
	buf := make([]byte, entryHeaderSize+len(e.Command))
	binary.LittleEndian.PutUint64(buf[0:8], e.Term)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(e.Command)))
	copy(buf[12:], e.Command)
	return buf
}

// DeserializeEntry decodes an entry from bytes.
func DeserializeEntry(data []byte) (Entry, error) {
	if len(data) < entryHeaderSize {
		return Entry{}, ErrLogCorrupted
	}

	cmdLen := binary.LittleEndian.Uint32(data[8:12])
	if uint64(len(data)) < entryHeaderSize+uint64(cmdLen) {
		return Entry{}, ErrLogCorrupted
	}

	var cmd []byte
	if cmdLen > 0 {
		cmd = make([]byte, cmdLen)
		copy(cmd, data[12:12+cmdLen])
	}

	return Entry{
		Term:    binary.LittleEndian.Uint64(data[0:8]),
		Command: cmd,
	}, nil
}

// writeEntries writes a count-prefixed sequence of length-prefixed entries.
func writeEntries(w io.Writer, entries []Entry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeBytes(w, e.Serialize()); err != nil {
			return err
		}
	}
	return nil
}

// readEntries is the inverse of writeEntries. Counts and lengths are checked
// against the bytes left in data before anything is allocated.
func readEntries(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, ErrLogCorrupted
	}
	if uint64(n)*4 > uint64(r.Len()) {
		return nil, ErrLogCorrupted
	}

	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		rec, err := readBytes(r)
		if err != nil {
			return nil, ErrLogCorrupted
		}
		e, err := DeserializeEntry(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func writeBytes(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	if len(data) > 0 {
		_, err := w.Write(data)
		return err
	}
	return nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if int64(length) > int64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Log is the 1-indexed replicated log. Index 0 holds a sentinel entry with
// term 0 so that prevLogIndex 0 always matches.
//
// Log is not safe for concurrent use; the owning Node serializes access.
type Log struct {
	entries []Entry
}

// NewLog creates an empty log holding only the sentinel.
func NewLog() *Log {
	return &Log{entries: []Entry{{Term: 0}}}
}

// NewLogFrom creates a log holding the given entries at indices 1..len(entries).
func NewLogFrom(entries []Entry) *Log {
	l := NewLog()
	l.entries = append(l.entries, entries...)
	return l
}

// GetEntry returns the entry at index. The sentinel is returned for index 0.
func (l *Log) GetEntry(index uint64) (Entry, bool) {
	if index >= uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[index], true
}

// LastIndex returns the index of the last entry, 0 for an empty log.
func (l *Log) LastIndex() uint64 {
	return uint64(len(l.entries) - 1)
}

// LastTerm returns the term of the last entry, 0 for an empty log.
func (l *Log) LastTerm() uint64 {
	return l.entries[len(l.entries)-1].Term
}

// TermAt returns the term at index, or 0 if the index is beyond the log.
func (l *Log) TermAt(index uint64) uint64 {
	if index >= uint64(len(l.entries)) {
		return 0
	}
	return l.entries[index].Term
}

// EntriesFrom returns a copy of the entries from index through LastIndex.
func (l *Log) EntriesFrom(index uint64) []Entry {
	if index == 0 {
		index = 1
	}
	if index >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]Entry, len(l.entries)-int(index))
	copy(out, l.entries[index:])
	return out
}

// Append adds entries after the last index and returns the new last index.
func (l *Log) Append(entries ...Entry) uint64 {
	l.entries = append(l.entries, entries...)
	return l.LastIndex()
}

// Insert stores entries directly after prevIndex.
//
// It fails without mutation when the log has no entry at prevIndex or that
// entry's term differs from prevTerm. Otherwise existing entries that agree
// with the incoming ones are kept, the first conflicting entry and everything
// after it are removed, and the remaining incoming entries are appended.
// Entries past the end of the incoming batch that do not conflict are kept.
//
// changedFrom is the first index whose content changed, or 0 when the call
// was a no-op.
func (l *Log) Insert(entries []Entry, prevIndex, prevTerm uint64) (changedFrom uint64, ok bool) {
	prev, exists := l.GetEntry(prevIndex)
	if !exists || prev.Term != prevTerm {
		return 0, false
	}

	for i, e := range entries {
		idx := prevIndex + uint64(i) + 1
		if idx <= l.LastIndex() {
			if l.entries[idx].Term == e.Term {
				continue
			}
			l.entries = l.entries[:idx]
		}
		l.entries = append(l.entries, entries[i:]...)
		return idx, true
	}
	return 0, true
}

// Len returns the number of real entries, excluding the sentinel.
func (l *Log) Len() int {
	return len(l.entries) - 1
}
