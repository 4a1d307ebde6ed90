package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Filter selects entries for a query. Fields are combined with AND; an
// empty/zero field means "no filter". Since and Until accept either an
// RFC3339 timestamp or a Go duration string (e.g. "1h", "30m") which is
// resolved against the current time.
type Filter struct {
	EventTypes  []EventType // Entry's event_type must be in this set.
	Actor       string      // Exact actor match.
	ActorGlob   string      // Glob pattern over the actor (e.g. "kernel.*").
	Since       string      // Inclusive lower timestamp bound.
	Until       string      // Inclusive upper timestamp bound.
	Sensitivity Sensitivity // Exact sensitivity match.
	Limit       int         // Maximum entries to return (0 = unlimited).
}

// Query retrieves entries matching the filter in ascending sequence order,
// so repeated calls with a Since cursor paginate stably. An unmatched
// filter yields an empty result, not an error. Read-only.
func (s *Store) Query(f Filter) ([]Entry, error) {
	for _, t := range f.EventTypes {
		if !ValidEventType(t) {
			return nil, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown type %q", t)}
		}
	}
	if f.Sensitivity != "" && !ValidSensitivity(f.Sensitivity) {
		return nil, &ValidationError{Field: "sensitivity", Reason: fmt.Sprintf("unknown level %q", f.Sensitivity)}
	}

	var err error
	if f.Since, err = resolveTimeBound(f.Since); err != nil {
		return nil, &ValidationError{Field: "since", Reason: err.Error()}
	}
	if f.Until, err = resolveTimeBound(f.Until); err != nil {
		return nil, &ValidationError{Field: "until", Reason: err.Error()}
	}

	var actorGlob glob.Glob
	if f.ActorGlob != "" {
		g, err := glob.Compile(f.ActorGlob)
		if err != nil {
			return nil, &ValidationError{Field: "actor_glob", Reason: fmt.Sprintf("invalid pattern %q: %v", f.ActorGlob, err)}
		}
		actorGlob = g
	}

	entries, err := s.queryEntries(f)
	if err != nil {
		return nil, err
	}

	// Glob matching and the limit are applied in Go: the SQL layer only
	// handles exact predicates.
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if actorGlob != nil && !actorGlob.Match(e.Actor) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// queryEntries runs the exact-predicate part of the filter against the
// SQLite index, falling back to a JSONL walk if the index is unavailable.
func (s *Store) queryEntries(f Filter) ([]Entry, error) {
	if s.index != nil {
		return s.index.query(f)
	}

	var out []Entry
	err := s.walk(func(e Entry) error {
		if matchesExact(f, e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// matchesExact applies the filter's exact predicates to one entry.
func matchesExact(f Filter, e Entry) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Sensitivity != "" && e.Sensitivity != f.Sensitivity {
		return false
	}
	if f.Since != "" && e.Timestamp < f.Since {
		return false
	}
	if f.Until != "" && e.Timestamp > f.Until {
		return false
	}
	return true
}

// resolveTimeBound converts a duration string ("1h", "30m") into a
// timestamp relative to now. RFC3339 timestamps are re-rendered in the
// store's fixed-width format so string comparison against stored entries
// is chronological.
func resolveTimeBound(v string) (string, error) {
	if v == "" {
		return v, nil
	}
	if strings.Contains(v, "T") {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return "", fmt.Errorf("invalid RFC3339 timestamp %q: %v", v, err)
		}
		return ts.UTC().Format(TimestampFormat), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return "", fmt.Errorf("%q is neither an RFC3339 timestamp nor a duration", v)
	}
	return time.Now().UTC().Add(-d).Format(TimestampFormat), nil
}
