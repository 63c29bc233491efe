package raft

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// PersistentState is what a node restores from stable storage at boot.
type PersistentState struct {
	CurrentTerm uint64
	VotedFor    uint64
	LastApplied uint64
	Entries     []Entry // Log entries at indices 1..len(Entries)
}

// Persister is the stable-storage collaborator. The node calls it
// synchronously, under its lock, at the point of every mutation, so the
// change is durable before the RPC that caused it is answered.
type Persister interface {
	// SaveState stores currentTerm and votedFor.
	SaveState(term, votedFor uint64) error

	// SaveLog replaces the log from index from onward with entries.
	SaveLog(from uint64, entries []Entry) error

	// SaveApplied stores the last applied index.
	SaveApplied(index uint64) error

	// Load returns the stored state, zero-valued when nothing was stored.
	Load() (*PersistentState, error)
}

// MemoryStorage implements Persister in memory, for tests and for nodes
// that accept losing state on restart.
type MemoryStorage struct {
	state PersistentState
	saves int
	mu    sync.Mutex
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// SaveState stores currentTerm and votedFor.
func (m *MemoryStorage) SaveState(term, votedFor uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentTerm = term
	m.state.VotedFor = votedFor
	m.saves++
	return nil
}

// SaveLog replaces the log suffix starting at from.
func (m *MemoryStorage) SaveLog(from uint64, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == 0 || from > uint64(len(m.state.Entries))+1 {
		return ErrLogIndexOutOfRange
	}
	m.state.Entries = append(m.state.Entries[:from-1], entries...)
	return nil
}

// SaveApplied stores the last applied index.
func (m *MemoryStorage) SaveApplied(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastApplied = index
	return nil
}

// Load returns a copy of the stored state.
func (m *MemoryStorage) Load() (*PersistentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	out.Entries = append([]Entry(nil), m.state.Entries...)
	return &out, nil
}

// StateSaves returns how many times SaveState was called.
func (m *MemoryStorage) StateSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// File names inside a FileStorage directory.
const (
	termFile    = "term.dat"
	appliedFile = "last_applied.dat"
	logFile     = "log.dat"
)

// FileStorage implements Persister on a directory:
//
//	term.dat          [currentTerm:8][votedFor:8], replaced atomically
//	last_applied.dat  [lastApplied:8], replaced atomically
//	log.dat           sequence of [length:4][entry] records
//
// A torn record at the tail of log.dat, left by a crash mid-write, is
// dropped on Open.
type FileStorage struct {
	dir     string
	log     logHandle
	offsets []int64 // offsets[i] is where the record for index i+1 starts
	end     int64
	mu      sync.Mutex
}

// logHandle is the subset of *os.File FileStorage writes the log through.
type logHandle interface {
	io.ReadSeeker
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Sync() error
}

// OpenFileStorage opens or creates a FileStorage in dir.
func OpenFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("raft: create data dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("raft: open log: %w", err)
	}

	s := &FileStorage{dir: dir, log: f}
	if _, err := s.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// scan reads every complete record, rebuilds the offset table and cuts a
// torn tail.
func (s *FileStorage) scan() ([]Entry, error) {
	if _, err := s.log.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	r := bufio.NewReader(s.log)
	var (
		entries []Entry
		offsets []int64
		pos     int64
	)
	for {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			break
		}
		if n > maxFrameSize {
			break
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			break
		}
		e, err := DeserializeEntry(data)
		if err != nil {
			break
		}
		offsets = append(offsets, pos)
		entries = append(entries, e)
		pos += 4 + int64(n)
	}

	if err := s.log.Truncate(pos); err != nil {
		return nil, err
	}
	s.offsets = offsets
	s.end = pos
	return entries, nil
}

// SaveState stores currentTerm and votedFor.
func (s *FileStorage) SaveState(term, votedFor uint64) error {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], term)
	binary.LittleEndian.PutUint64(data[8:16], votedFor)
	return writeFileAtomic(filepath.Join(s.dir, termFile), data)
}

// SaveApplied stores the last applied index.
func (s *FileStorage) SaveApplied(index uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, index)
	return writeFileAtomic(filepath.Join(s.dir, appliedFile), data)
}

// SaveLog replaces the log suffix starting at from and syncs the file.
func (s *FileStorage) SaveLog(from uint64, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from == 0 || from > uint64(len(s.offsets))+1 {
		return ErrLogIndexOutOfRange
	}

	cut := s.end
	if from <= uint64(len(s.offsets)) {
		cut = s.offsets[from-1]
		if err := s.log.Truncate(cut); err != nil {
			return err
		}
		s.offsets = s.offsets[:from-1]
		s.end = cut
	}

	buf := make([]byte, 0, 64*len(entries))
	pos := cut
	offsets := s.offsets
	for _, e := range entries {
		rec := e.Serialize()
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(rec)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, rec...)
		offsets = append(offsets, pos)
		pos += 4 + int64(len(rec))
	}

	if _, err := s.log.WriteAt(buf, cut); err != nil {
		s.discardFrom(cut)
		return err
	}
	if err := s.log.Sync(); err != nil {
		s.discardFrom(cut)
		return err
	}
	s.offsets = offsets
	s.end = pos
	return nil
}

// discardFrom drops a partially written suffix so the next SaveLog starts at
// a record boundary.
func (s *FileStorage) discardFrom(cut int64) {
	s.log.Truncate(cut)
	s.end = cut
}

// Load returns the stored state.
func (s *FileStorage) Load() (*PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &PersistentState{}

	data, err := os.ReadFile(filepath.Join(s.dir, termFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(data) >= 16 {
		st.CurrentTerm = binary.LittleEndian.Uint64(data[0:8])
		st.VotedFor = binary.LittleEndian.Uint64(data[8:16])
	}

	data, err = os.ReadFile(filepath.Join(s.dir, appliedFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(data) >= 8 {
		st.LastApplied = binary.LittleEndian.Uint64(data)
	}

	entries, err := s.scan()
	if err != nil {
		return nil, err
	}
	st.Entries = entries
	if st.LastApplied > uint64(len(entries)) {
		st.LastApplied = uint64(len(entries))
	}
	return st, nil
}

// Close closes the log file.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}

// writeFileAtomic writes data to a temp file, syncs it and renames it over
// path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
