package chain

import (
	"context"
	"fmt"
)

// Failure names the first broken invariant found by a verification run.
// Sequence is the earliest entry at which the chain can no longer be
// trusted; Reason names the violated invariant in plain terms.
type Failure struct {
	Sequence uint64 `json:"sequence"`
	Reason   string `json:"reason"`
}

// TimestampAnomaly flags a non-monotonic timestamp. Clock skew can produce
// this without the chain being compromised, so it is reported alongside an
// otherwise-valid result rather than failing verification.
type TimestampAnomaly struct {
	Sequence      uint64 `json:"sequence"`
	Timestamp     string `json:"timestamp"`
	PrevTimestamp string `json:"prev_timestamp"`
}

// VerificationResult is the outcome of a full chain scan.
type VerificationResult struct {
	Valid        bool               `json:"valid"`
	Checked      int                `json:"entries_checked"`
	FirstFailure *Failure           `json:"first_failure,omitempty"`
	Anomalies    []TimestampAnomaly `json:"timestamp_anomalies,omitempty"`
}

// Verifier walks the chain store and recomputes every link. It holds no
// state between runs: each Verify call is an independent full linear scan,
// so running it twice on an unmodified chain yields identical results.
//
// Verification is read-only and safe to run concurrently with appends: the
// scan covers the entries durable at its start, and a concurrent append is
// either wholly included or wholly excluded, never half-seen.
type Verifier struct {
	store *Store
}

// NewVerifier creates a Verifier over the given store. The store is only
// ever read.
func NewVerifier(store *Store) *Verifier {
	return &Verifier{store: store}
}

// Verify checks the chain from genesis to the tail observed at scan start.
// For each entry it confirms, in order:
//
//  1. sequence equals the running counter (catches gaps, deletions, reorders)
//  2. prev_hash equals the previous entry's hash (catches splicing/insertion)
//  3. the recomputed digest equals the stored hash (catches field mutation)
//
// On the first violation it stops and reports the failing sequence and the
// violated invariant — no repair is attempted. Timestamp monotonicity
// violations are collected separately and never fail the chain.
func (v *Verifier) Verify(ctx context.Context) (VerificationResult, error) {
	limit := v.store.Len()

	result := VerificationResult{Valid: true}
	expectedPrev := GenesisSentinel
	expectedSeq := uint64(0)
	lastTS := ""

	err := v.store.walk(func(e Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if expectedSeq >= limit {
			// Appended after the scan started; not part of this run.
			return errStopWalk
		}

		if e.Sequence != expectedSeq {
			result.Valid = false
			result.FirstFailure = &Failure{
				Sequence: expectedSeq,
				Reason:   fmt.Sprintf("sequence gap: expected %d, found %d", expectedSeq, e.Sequence),
			}
			return errStopWalk
		}

		if e.PrevHash != expectedPrev {
			result.Valid = false
			result.FirstFailure = &Failure{
				Sequence: e.Sequence,
				Reason:   fmt.Sprintf("chain linkage broken: prev_hash %s does not match predecessor hash %s", e.PrevHash, expectedPrev),
			}
			return errStopWalk
		}

		ok, err := verifyEntryHash(&e)
		if err != nil {
			return err
		}
		if !ok {
			result.Valid = false
			result.FirstFailure = &Failure{
				Sequence: e.Sequence,
				Reason:   "hash mismatch: stored hash does not match the entry's canonical digest",
			}
			return errStopWalk
		}

		if lastTS != "" && e.Timestamp < lastTS {
			result.Anomalies = append(result.Anomalies, TimestampAnomaly{
				Sequence:      e.Sequence,
				Timestamp:     e.Timestamp,
				PrevTimestamp: lastTS,
			})
		}

		result.Checked++
		expectedPrev = e.Hash
		expectedSeq++
		lastTS = e.Timestamp
		return nil
	})
	if err != nil {
		return VerificationResult{}, fmt.Errorf("verifying chain: %w", err)
	}

	// Storage ended before reaching the expected length: the tail itself
	// was truncated.
	if result.Valid && expectedSeq < limit {
		result.Valid = false
		result.FirstFailure = &Failure{
			Sequence: expectedSeq,
			Reason:   fmt.Sprintf("sequence gap: chain ends at %d, expected %d entries", expectedSeq, limit),
		}
	}

	return result, nil
}
