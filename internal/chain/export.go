package chain

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// Export writes all entries to w in the given format, in sequence order.
// Supported formats: "jsonl" (default), "json", "csv". CSV omits the
// payload; use json/jsonl when the full record is needed.
func (s *Store) Export(w io.Writer, format string) error {
	switch format {
	case "json":
		entries, err := s.ReadRange(0, ^uint64(0))
		if err != nil {
			return fmt.Errorf("reading entries for export: %w", err)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	case "csv":
		cw := csv.NewWriter(w)
		defer cw.Flush()
		if err := cw.Write([]string{"sequence", "entry_id", "timestamp", "event_type", "actor", "sensitivity", "prev_hash", "hash"}); err != nil {
			return err
		}
		return s.walk(func(e Entry) error {
			return cw.Write([]string{
				fmt.Sprintf("%d", e.Sequence),
				e.EntryID,
				e.Timestamp,
				string(e.EventType),
				e.Actor,
				string(e.Sensitivity),
				e.PrevHash,
				e.Hash,
			})
		})

	case "jsonl", "":
		enc := json.NewEncoder(w)
		return s.walk(func(e Entry) error {
			return enc.Encode(e)
		})

	default:
		return fmt.Errorf("unsupported export format: %s (use json, jsonl, or csv)", format)
	}
}
