package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// newTestStore opens a store in a fresh temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppend_Genesis(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Append(context.Background(), EventSystemInit, "kernel", SensitivityPublic, map[string]any{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if e.Sequence != 0 {
		t.Errorf("first entry sequence = %d, want 0", e.Sequence)
	}
	if e.PrevHash != GenesisSentinel {
		t.Errorf("first entry prev_hash = %s, want genesis sentinel", e.PrevHash)
	}
	if e.EntryID == "" {
		t.Error("entry_id should be assigned at append time")
	}
	if e.Hash == "" {
		t.Error("hash should be computed at append time")
	}

	result, err := NewVerifier(s).Verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.Checked != 1 {
		t.Errorf("verify = {valid:%v checked:%d}, want {valid:true checked:1}", result.Valid, result.Checked)
	}
}

func TestAppend_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		eventType   EventType
		actor       string
		sensitivity Sensitivity
		payload     map[string]any
	}{
		{"unknown event type", "made_up_type", "kernel", SensitivityPublic, nil},
		{"empty actor", EventKernelOp, "", SensitivityPublic, nil},
		{"whitespace actor", EventKernelOp, "   ", SensitivityPublic, nil},
		{"unknown sensitivity", EventKernelOp, "kernel", "classified", nil},
		{"unserializable payload", EventKernelOp, "kernel", SensitivityPublic, map[string]any{"fn": func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(ctx, tt.eventType, tt.actor, tt.sensitivity, tt.payload)
			if err == nil {
				t.Fatal("append should be rejected")
			}
			if !IsValidation(err) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}

	// Nothing rejected above may reach the chain.
	if s.Len() != 0 {
		t.Errorf("chain length = %d after rejected appends, want 0", s.Len())
	}
}

func TestAppend_LinksEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var prev Entry
	for i := 0; i < 5; i++ {
		e, err := s.Append(ctx, EventKernelOp, "kernel", SensitivityPublic, map[string]any{"i": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if e.Sequence != uint64(i) {
			t.Errorf("entry %d sequence = %d", i, e.Sequence)
		}
		if i > 0 && e.PrevHash != prev.Hash {
			t.Errorf("entry %d prev_hash does not match predecessor hash", i)
		}
		prev = e
	}

	tail, err := s.Tail()
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if tail.Sequence != 4 || tail.Hash != prev.Hash {
		t.Errorf("tail = #%d, want #4 with last hash", tail.Sequence)
	}
}

func TestAppend_Cancelled(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Append(ctx, EventKernelOp, "kernel", SensitivityPublic, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("append with cancelled context = %v, want context.Canceled", err)
	}
	if s.Len() != 0 {
		t.Error("cancelled append must not advance the tail")
	}
}

func TestAppend_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, EventAIProcessing, "worker", SensitivityPublic, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	entries, err := s.ReadRange(0, n-1)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("chain has %d entries, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Sequence != uint64(i) {
			t.Errorf("entry %d has sequence %d", i, e.Sequence)
		}
	}

	result, err := NewVerifier(s).Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.Checked != n {
		t.Errorf("verify = {valid:%v checked:%d}, want {valid:true checked:%d}", result.Valid, result.Checked, n)
	}
}

func TestOpen_SecondWriterRejected(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(ctx, EventSystemInit, "kernel", SensitivityPublic, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A second writer on the same directory would fork the chain.
	if _, err := Open(dir); err == nil {
		t.Fatal("second writer on a live chain directory should be rejected")
	}

	// Read-only access stays available while the writer holds the lock.
	ro, err := OpenReadOnly(dir)
	if err != nil {
		t.Fatalf("read-only open alongside writer: %v", err)
	}
	if _, err := ro.Read(0); err != nil {
		t.Errorf("read-only store should see durable entries: %v", err)
	}
	if _, err := ro.Append(ctx, EventKernelOp, "kernel", SensitivityPublic, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("append on read-only store = %v, want ErrReadOnly", err)
	}
	if err := ro.Close(); err != nil {
		t.Fatalf("close read-only: %v", err)
	}

	// Closing the writer releases the lock.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after release: %v", err)
	}
	s2.Close()
}

func TestAppend_FixedWidthTimestamps(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Append(context.Background(), EventKernelOp, "kernel", SensitivityPublic, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(e.Timestamp) != len("2006-01-02T15:04:05.000000000Z") {
		t.Errorf("timestamp %q should carry fixed-width nanoseconds", e.Timestamp)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp %q should parse as RFC3339: %v", e.Timestamp, err)
	}

	// Fixed width keeps lexical comparison chronological: a whole second
	// must sort before any fraction of the same second.
	whole := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC).Format(TimestampFormat)
	frac := time.Date(2026, 8, 26, 10, 0, 0, 500000000, time.UTC).Format(TimestampFormat)
	if whole >= frac {
		t.Errorf("lexical order broken: %q should sort before %q", whole, frac)
	}
}

func TestReopen_ContinuesChain(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var last Entry
	for i := 0; i < 3; i++ {
		if last, err = s.Append(ctx, EventKernelOp, "kernel", SensitivityPublic, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	chainID := s.Manifest().ChainID
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Manifest().ChainID != chainID {
		t.Error("reopen should preserve the chain identity")
	}
	if s2.Len() != 3 {
		t.Fatalf("reopened chain length = %d, want 3", s2.Len())
	}

	e, err := s2.Append(ctx, EventConfigChange, "operator", SensitivitySensitive, nil)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if e.Sequence != 3 {
		t.Errorf("sequence after reopen = %d, want 3", e.Sequence)
	}
	if e.PrevHash != last.Hash {
		t.Error("entry after reopen must link to the pre-restart tail")
	}

	result, err := NewVerifier(s2).Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.Checked != 4 {
		t.Errorf("verify after reopen = {valid:%v checked:%d}, want {valid:true checked:4}", result.Valid, result.Checked)
	}
}

func TestRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want, err := s.Append(ctx, EventMemoryAccess, "memory-kernel", SensitivityPublic, map[string]any{"key": "recall"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Read(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.EntryID != want.EntryID || got.Hash != want.Hash {
		t.Error("read entry does not match appended entry")
	}

	if _, err := s.Read(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("read missing sequence = %v, want ErrNotFound", err)
	}
}

func TestTail_Empty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Tail(); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("tail of empty chain = %v, want ErrEmptyChain", err)
	}
}

func TestReadRange_Restartable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.Append(ctx, EventDataAccess, "reader", SensitivityPublic, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, err := s.ReadRange(2, 4)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	second, err := s.ReadRange(2, 4)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("range lengths = %d, %d, want 3", len(first), len(second))
	}
	for i := range first {
		if first[i].Hash != second[i].Hash {
			t.Errorf("restarted range diverges at position %d", i)
		}
		if first[i].Sequence != uint64(i+2) {
			t.Errorf("range entry %d has sequence %d", i, first[i].Sequence)
		}
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appends := []struct {
		t EventType
		v Sensitivity
	}{
		{EventSystemInit, SensitivityPublic},
		{EventKernelOp, SensitivityPublic},
		{EventKernelOp, SensitivitySensitive},
		{EventEthicalDecision, SensitivitySensitive},
	}
	for _, a := range appends {
		if _, err := s.Append(ctx, a.t, "kernel", a.v, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEntries != 4 {
		t.Errorf("total = %d, want 4", stats.TotalEntries)
	}
	if stats.PublicEntries != 2 {
		t.Errorf("public = %d, want 2", stats.PublicEntries)
	}
	if stats.EventCounts[EventKernelOp] != 2 {
		t.Errorf("kernel_op count = %d, want 2", stats.EventCounts[EventKernelOp])
	}
	if stats.OldestEntry == "" || stats.NewestEntry < stats.OldestEntry {
		t.Error("timestamp span should cover oldest..newest")
	}
}
