package chain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteIndex provides fast filtered queries over the chain using SQLite.
// The JSONL files remain the source of truth; the index is a projection
// that is rebuilt from them whenever it falls behind.
type sqliteIndex struct {
	db *sql.DB
}

// openIndex opens (or creates) the SQLite index database. WAL mode allows
// the CLI to query while a server process appends.
func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			seq         INTEGER PRIMARY KEY,
			entry_id    TEXT NOT NULL DEFAULT '',
			ts          TEXT NOT NULL,
			event_type  TEXT NOT NULL DEFAULT '',
			actor       TEXT NOT NULL DEFAULT '',
			sensitivity TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL DEFAULT '',
			prev_hash   TEXT NOT NULL DEFAULT '',
			hash        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_event_type ON entries(event_type);
		CREATE INDEX IF NOT EXISTS idx_actor ON entries(actor);
		CREATE INDEX IF NOT EXISTS idx_ts ON entries(ts);
		CREATE INDEX IF NOT EXISTS idx_sensitivity ON entries(sensitivity);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &sqliteIndex{db: db}, nil
}

// insert adds an entry to the index. Best-effort — errors are logged and
// never affect the primary JSONL chain.
func (idx *sqliteIndex) insert(e *Entry) {
	payloadJSON, _ := json.Marshal(e.Payload)

	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO entries (seq, entry_id, ts, event_type, actor, sensitivity, payload, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, e.EntryID, e.Timestamp, string(e.EventType), e.Actor,
		string(e.Sensitivity), string(payloadJSON), e.PrevHash, e.Hash,
	)
	if err != nil {
		slog.Error("sqlite index insert failed", "seq", e.Sequence, "error", err)
	}
}

// bySequence looks up a single entry in the index.
func (idx *sqliteIndex) bySequence(seq uint64) (Entry, bool) {
	row := idx.db.QueryRow(
		`SELECT seq, entry_id, ts, event_type, actor, sensitivity, payload, prev_hash, hash
		 FROM entries WHERE seq = ?`, seq)

	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// query retrieves entries matching the filter, in ascending sequence order.
// Glob-based actor matching is applied by the caller in Go; only exact
// predicates are pushed into SQL.
func (idx *sqliteIndex) query(f Filter) ([]Entry, error) {
	q := `SELECT seq, entry_id, ts, event_type, actor, sensitivity, payload, prev_hash, hash
	      FROM entries WHERE 1=1`
	var args []any

	if len(f.EventTypes) > 0 {
		q += " AND event_type IN (?" + repeatPlaceholder(len(f.EventTypes)-1) + ")"
		for _, t := range f.EventTypes {
			args = append(args, string(t))
		}
	}
	if f.Actor != "" {
		q += " AND actor = ?"
		args = append(args, f.Actor)
	}
	if f.Sensitivity != "" {
		q += " AND sensitivity = ?"
		args = append(args, string(f.Sensitivity))
	}
	if f.Since != "" {
		q += " AND ts >= ?"
		args = append(args, f.Since)
	}
	if f.Until != "" {
		q += " AND ts <= ?"
		args = append(args, f.Until)
	}

	q += " ORDER BY seq ASC"

	rows, err := idx.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// lastSequence returns the highest sequence number in the index, and
// whether the index holds any row at all.
func (idx *sqliteIndex) lastSequence() (uint64, bool) {
	var seq sql.NullInt64
	err := idx.db.QueryRow("SELECT MAX(seq) FROM entries").Scan(&seq)
	if err != nil || !seq.Valid {
		return 0, false
	}
	return uint64(seq.Int64), true
}

func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var eventType, sensitivity, payloadJSON string
	err := r.Scan(
		&e.Sequence, &e.EntryID, &e.Timestamp, &eventType, &e.Actor,
		&sensitivity, &payloadJSON, &e.PrevHash, &e.Hash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scanning sqlite row: %w", err)
	}
	e.EventType = EventType(eventType)
	e.Sensitivity = Sensitivity(sensitivity)
	if payloadJSON != "" && payloadJSON != "null" {
		// UseNumber matches the JSONL decode path, so an entry read
		// through the index hashes the same as one read from storage.
		dec := json.NewDecoder(strings.NewReader(payloadJSON))
		dec.UseNumber()
		var parsed map[string]any
		if jsonErr := dec.Decode(&parsed); jsonErr == nil {
			e.Payload = parsed
		}
	}
	return e, nil
}

// repeatPlaceholder returns n copies of ",?" for IN clauses.
func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ",?"
	}
	return s
}
