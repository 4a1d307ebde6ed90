// Package public is the only surface exposed to external audit consumers.
// It composes the verifier's chain status with the query layer's results
// into reports, and it never reveals entries marked sensitive: the chain
// underneath stays complete and hashable, the filtering happens here.
package public

import (
	"context"
	"sync"
	"time"

	"github.com/chainaudit/chainaudit/internal/chain"
)

// redactionMarker replaces the payload of a sensitive entry in the
// redacted export. Sequence, prev_hash, and hash are kept intact so an
// external party can still walk the linkage (the content digest itself
// cannot be recomputed from a redacted entry — that is the documented
// trade-off of publishing placeholders instead of hiding entries).
var redactionMarker = map[string]any{"redacted": true}

// Report aggregates everything an external consumer may see: the chain
// verification status, the public subset of entries, and per-type counts
// over that subset.
type Report struct {
	GeneratedAt    string                   `json:"generated_at"`
	ChainID        string                   `json:"chain_id"`
	ChainStatus    chain.VerificationResult `json:"chain_status"`
	VisibleEntries []chain.Entry            `json:"visible_entries"`
	EventCounts    map[chain.EventType]int  `json:"event_counts"`
}

// AccessRecord logs one access through the façade.
type AccessRecord struct {
	Timestamp   string `json:"timestamp"`
	AccessType  string `json:"access_type"`
	Description string `json:"description"`
}

// AccessStats summarizes façade usage.
type AccessStats struct {
	TotalAccesses int            `json:"total_accesses"`
	ByType        map[string]int `json:"access_by_type"`
}

// maxAccessLog caps the in-memory access log.
const maxAccessLog = 10000

// Facade aggregates verifier output and query results for external
// callers. Construct with New; all methods are safe for concurrent use.
type Facade struct {
	store    *chain.Store
	verifier *chain.Verifier

	accessMu  sync.Mutex
	accessLog []AccessRecord
}

// New creates a façade over the given store. The store is only read.
func New(store *chain.Store) *Facade {
	return &Facade{
		store:    store,
		verifier: chain.NewVerifier(store),
	}
}

// Report builds the full public report: verification status, the public
// entries, and event counts over them.
func (f *Facade) Report(ctx context.Context) (Report, error) {
	status, err := f.verifier.Verify(ctx)
	if err != nil {
		return Report{}, err
	}

	visible, err := f.VisibleEntries(ctx, chain.Filter{})
	if err != nil {
		return Report{}, err
	}

	counts := make(map[chain.EventType]int)
	for _, e := range visible {
		counts[e.EventType]++
	}

	f.logAccess("FULL_REPORT", "public audit report generated")
	return Report{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		ChainID:        f.store.Manifest().ChainID,
		ChainStatus:    status,
		VisibleEntries: visible,
		EventCounts:    counts,
	}, nil
}

// VisibleEntries queries the chain with the caller's filter forced to the
// public sensitivity. Whatever the filter says, a sensitive entry is never
// returned.
func (f *Facade) VisibleEntries(ctx context.Context, filter chain.Filter) ([]chain.Entry, error) {
	filter.Sensitivity = chain.SensitivityPublic
	entries, err := f.store.Query(filter)
	if err != nil {
		return nil, err
	}
	f.logAccess("PUBLIC_EVENTS", "public entries queried")
	return entries, nil
}

// Visible reports whether a single entry may pass through the façade.
// Used by the live feed before broadcasting.
func (f *Facade) Visible(e chain.Entry) bool {
	return e.Sensitivity == chain.SensitivityPublic
}

// VerifyChain runs a full verification on behalf of an external caller.
func (f *Facade) VerifyChain(ctx context.Context) (chain.VerificationResult, error) {
	result, err := f.verifier.Verify(ctx)
	if err != nil {
		return chain.VerificationResult{}, err
	}
	f.logAccess("INTEGRITY_CHECK", "chain verification performed")
	return result, nil
}

// RedactedExport returns every entry in sequence order with sensitive
// payloads replaced by the redaction marker. Linkage fields are untouched,
// so the exported sequence has no artificial gaps and prev_hash/hash
// continuity can be checked externally.
func (f *Facade) RedactedExport(ctx context.Context) ([]chain.Entry, error) {
	entries, err := f.store.ReadRange(0, ^uint64(0))
	if err != nil {
		return nil, err
	}

	out := make([]chain.Entry, len(entries))
	for i, e := range entries {
		if e.Sensitivity == chain.SensitivitySensitive {
			e.Payload = redactionMarker
			e.Actor = "[redacted]"
		}
		out[i] = e
	}

	f.logAccess("REDACTED_EXPORT", "redacted chain export generated")
	return out, nil
}

// Stats returns chain statistics for public consumption.
func (f *Facade) Stats() (chain.Stats, error) {
	st, err := f.store.Stats()
	if err != nil {
		return chain.Stats{}, err
	}
	f.logAccess("STATISTICS", "chain statistics requested")
	return st, nil
}

// AccessStats summarizes how the façade has been used since startup.
func (f *Facade) AccessStats() AccessStats {
	f.accessMu.Lock()
	defer f.accessMu.Unlock()

	stats := AccessStats{
		TotalAccesses: len(f.accessLog),
		ByType:        make(map[string]int),
	}
	for _, r := range f.accessLog {
		stats.ByType[r.AccessType]++
	}
	return stats
}

// logAccess records one façade access, dropping the oldest records once
// the cap is reached.
func (f *Facade) logAccess(accessType, description string) {
	f.accessMu.Lock()
	defer f.accessMu.Unlock()

	f.accessLog = append(f.accessLog, AccessRecord{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		AccessType:  accessType,
		Description: description,
	})
	if len(f.accessLog) > maxAccessLog {
		f.accessLog = f.accessLog[len(f.accessLog)-maxAccessLog:]
	}
}
