package chain

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the append-only entry sequence and its durable representation.
// It is the sole writer: Append is serialized by a single mutex so two
// concurrent appends can never derive from the same tail and fork the chain.
//
// Readers (Verify, Query, ReadRange) operate on already-flushed entries and
// never block each other.
type Store struct {
	mu       sync.Mutex
	dir      string
	readonly bool
	manifest Manifest
	nextSeq  uint64       // Sequence the next append will receive.
	lastHash string       // Hash of the tail entry, or GenesisSentinel if empty.
	lastTS   string       // Timestamp of the tail entry, for anomaly warnings.
	index    *sqliteIndex // SQLite projection for fast queries.
	file     *os.File     // Currently open daily JSONL file.
	fileDate string       // Date of the currently open file (YYYY-MM-DD).
	lock     *os.File     // Cross-process writer lock (nil when readonly).
}

// Open opens or creates a chain store in the given directory and takes the
// exclusive writer lock, so at most one process can append at a time. On
// first use it writes the chain manifest; on reopen it recovers the tail
// (sequence and last hash) from the most recent JSONL file so the chain
// continues correctly across restarts.
func Open(dir string) (*Store, error) {
	return open(dir, false)
}

// OpenReadOnly opens the store without the writer lock, for verification
// and queries alongside a live writer process. Append is rejected.
func OpenReadOnly(dir string) (*Store, error) {
	return open(dir, true)
}

func open(dir string, readonly bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chain directory %s: %w", dir, err)
	}

	s := &Store{
		dir:      dir,
		readonly: readonly,
		lastHash: GenesisSentinel,
	}

	if !readonly {
		lock, err := acquireDirLock(dir)
		if err != nil {
			return nil, err
		}
		s.lock = lock
	}

	if err := s.loadManifest(); err != nil {
		s.releaseLock()
		return nil, err
	}

	idx, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("opening chain index: %w", err)
	}
	s.index = idx

	if err := s.recoverTail(); err != nil {
		idx.close()
		s.releaseLock()
		return nil, err
	}

	slog.Info("chain store opened", "dir", dir, "chain_id", s.manifest.ChainID, "entries", s.nextSeq)
	return s, nil
}

// Close flushes and closes the open JSONL file and the SQLite index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
		s.file = nil
	}
	if s.index != nil {
		if err := s.index.close(); err != nil {
			errs = append(errs, err)
		}
		s.index = nil
	}
	s.releaseLock()
	if len(errs) > 0 {
		return fmt.Errorf("closing chain store: %v", errs)
	}
	return nil
}

// Manifest returns the chain identity written at creation time.
func (s *Store) Manifest() Manifest {
	return s.manifest
}

// Dir returns the storage directory the store was opened on.
func (s *Store) Dir() string {
	return s.dir
}

// Append validates the input, links a new entry to the current tail, and
// persists it durably before returning. The returned entry is fully
// populated; on any error nothing was recorded and the tail is unchanged.
//
// The whole operation runs under the append mutex: this is the single
// mutual-exclusion point of the system.
func (s *Store) Append(ctx context.Context, eventType EventType, actor string, sensitivity Sensitivity, payload map[string]any) (Entry, error) {
	if s.readonly {
		return Entry{}, ErrReadOnly
	}
	if !ValidEventType(eventType) {
		return Entry{}, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", eventType)}
	}
	if strings.TrimSpace(actor) == "" {
		return Entry{}, &ValidationError{Field: "actor", Reason: "must not be empty"}
	}
	if !ValidSensitivity(sensitivity) {
		return Entry{}, &ValidationError{Field: "sensitivity", Reason: fmt.Sprintf("unknown level %q", sensitivity)}
	}
	// Normalize before taking the lock. The normalized payload is what gets
	// hashed and stored, so recomputing the digest from the decoded line
	// yields the same bytes. Unserializable payloads are rejected here.
	normalized, err := normalizePayload(payload)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancellation is honored up to the point the write begins. After that
	// the append runs to completion so the tail is never half-advanced.
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	now := time.Now().UTC().Format(TimestampFormat)
	if s.lastTS != "" && now < s.lastTS {
		// Clock went backwards. The entry is still appended — monotonicity
		// is an anomaly class, not an integrity invariant.
		slog.Warn("timestamp regression on append", "seq", s.nextSeq, "ts", now, "prev_ts", s.lastTS)
	}

	e := Entry{
		Sequence:    s.nextSeq,
		EntryID:     uuid.NewString(),
		Timestamp:   now,
		EventType:   eventType,
		Actor:       actor,
		Sensitivity: sensitivity,
		Payload:     normalized,
		PrevHash:    s.lastHash,
	}

	hash, err := computeHash(&e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	// Durable before the tail moves: if the write or fsync fails, the
	// observable chain still ends at the previous entry.
	if err := s.writeEntry(&e); err != nil {
		return Entry{}, &PersistenceError{Op: "append", Err: err}
	}

	// Index update is best-effort; the JSONL file is the source of truth
	// and the index is re-synced on the next open.
	if s.index != nil {
		s.index.insert(&e)
	}

	s.nextSeq = e.Sequence + 1
	s.lastHash = e.Hash
	s.lastTS = e.Timestamp

	return e, nil
}

// Read returns the entry with the given sequence number, or ErrNotFound.
func (s *Store) Read(seq uint64) (Entry, error) {
	if e, ok := s.index.bySequence(seq); ok {
		return e, nil
	}
	// Index miss — fall back to the JSONL source of truth.
	var found *Entry
	err := s.walk(func(e Entry) error {
		if e.Sequence == seq {
			found = &e
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if found == nil {
		return Entry{}, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	return *found, nil
}

// ReadRange returns entries with from <= sequence <= to in ascending
// sequence order. A fresh call re-reads from storage, so the range is
// restartable.
func (s *Store) ReadRange(from, to uint64) ([]Entry, error) {
	var out []Entry
	err := s.walk(func(e Entry) error {
		if e.Sequence > to {
			return errStopWalk
		}
		if e.Sequence >= from {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Tail returns the most recently appended entry, or ErrEmptyChain.
func (s *Store) Tail() (Entry, error) {
	s.mu.Lock()
	next := s.nextSeq
	s.mu.Unlock()

	if next == 0 {
		return Entry{}, ErrEmptyChain
	}
	return s.Read(next - 1)
}

// Len returns the number of durably appended entries.
func (s *Store) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// errStopWalk terminates a walk early without reporting an error.
var errStopWalk = fmt.Errorf("stop walk")

// walk streams all persisted entries in sequence order, calling fn for
// each. JSONL files sort lexically by date, and within a file entries are
// in append order, so the stream is the storage order. fn may return
// errStopWalk to end the stream early.
func (s *Store) walk(fn func(Entry) error) error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("listing chain files: %w", err)
	}

	for _, file := range files {
		if err := walkFile(file, fn); err != nil {
			if err == errStopWalk {
				return nil
			}
			return err
		}
	}
	return nil
}

// walkFile streams entries from a single JSONL file.
func walkFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening chain file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Payloads can be large; give the scanner room.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := decodeEntry(line)
		if err != nil {
			return fmt.Errorf("malformed entry in %s: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// decodeEntry parses one stored JSON line. UseNumber keeps payload numeric
// literals identical to what was hashed at append time.
func decodeEntry(line string) (Entry, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var e Entry
	if err := dec.Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// writeEntry appends the entry as one JSON line to today's file and syncs.
// Opens a new file when the UTC date changes.
func (s *Store) writeEntry(e *Entry) error {
	today := time.Now().UTC().Format("2006-01-02")

	if s.file == nil || s.fileDate != today {
		if s.file != nil {
			s.file.Close()
		}
		path := filepath.Join(s.dir, today+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening chain file %s: %w", path, err)
		}
		s.file = f
		s.fileDate = today
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}

	// Entries must survive a crash the moment Append returns.
	return s.file.Sync()
}

// loadManifest reads chain.json, creating it on first open. The manifest
// records the chain identity; entries themselves start with the first
// Append (sequence 0, prev_hash = GenesisSentinel).
func (s *Store) loadManifest() error {
	path := filepath.Join(s.dir, "chain.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.createManifest(path)
		}
		return fmt.Errorf("reading chain manifest: %w", err)
	}

	if err := json.Unmarshal(data, &s.manifest); err != nil {
		return fmt.Errorf("parsing chain manifest: %w", err)
	}
	return nil
}

func (s *Store) createManifest(path string) error {
	s.manifest = Manifest{
		ChainID:   uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(TimestampFormat),
		Algorithm: "SHA-256",
		Genesis:   GenesisSentinel,
	}

	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chain manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing chain manifest: %w", err)
	}

	slog.Info("chain created", "chain_id", s.manifest.ChainID)
	return nil
}

// recoverTail scans the most recent JSONL file for the last entry so the
// chain continues correctly after a restart, then re-indexes any entries
// the SQLite index is missing (e.g. after a crash between write and index).
func (s *Store) recoverTail() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("listing chain files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	var last *Entry
	err = walkFile(files[len(files)-1], func(e Entry) error {
		cp := e
		last = &cp
		return nil
	})
	if err != nil {
		return fmt.Errorf("recovering tail: %w", err)
	}
	if last == nil {
		return nil
	}

	s.nextSeq = last.Sequence + 1
	s.lastHash = last.Hash
	s.lastTS = last.Timestamp

	if s.index != nil {
		s.reindex(files)
	}
	return nil
}

// reindex inserts entries missing from the SQLite index.
func (s *Store) reindex(files []string) {
	indexLast, indexed := s.index.lastSequence()
	for _, file := range files {
		err := walkFile(file, func(e Entry) error {
			if !indexed || e.Sequence > indexLast {
				s.index.insert(&e)
			}
			return nil
		})
		if err != nil {
			slog.Error("reindex failed", "file", file, "error", err)
		}
	}
}

// Stats summarizes the chain for operators and the public façade.
type Stats struct {
	TotalEntries  uint64            `json:"total_entries"`
	PublicEntries uint64            `json:"public_entries"`
	EventCounts   map[EventType]int `json:"event_counts"`
	OldestEntry   string            `json:"oldest_entry,omitempty"`
	NewestEntry   string            `json:"newest_entry,omitempty"`
}

// Stats walks the chain and aggregates per-type counts, the public entry
// count, and the timestamp span.
func (s *Store) Stats() (Stats, error) {
	st := Stats{EventCounts: make(map[EventType]int)}
	err := s.walk(func(e Entry) error {
		st.TotalEntries++
		st.EventCounts[e.EventType]++
		if e.Sensitivity == SensitivityPublic {
			st.PublicEntries++
		}
		if st.OldestEntry == "" {
			st.OldestEntry = e.Timestamp
		}
		st.NewestEntry = e.Timestamp
		return nil
	})
	return st, err
}
