package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFollow_DeliversNewEntries(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Entries appended before Follow starts must not be delivered.
	if _, err := s.Append(ctx, EventSystemInit, "kernel", SensitivityPublic, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	received := make(chan Entry, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Follow(ctx, func(e Entry) { received <- e })
	}()

	// Give the watcher a moment to register before appending.
	time.Sleep(200 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, EventKernelOp, "kernel", SensitivityPublic, map[string]any{"i": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var got []Entry
	for len(got) < 3 {
		select {
		case e := <-received:
			got = append(got, e)
		case <-ctx.Done():
			t.Fatalf("timed out after %d deliveries", len(got))
		}
	}

	for i, e := range got {
		if e.Sequence != uint64(i+1) {
			t.Errorf("delivery %d has sequence %d, want %d", i, e.Sequence, i+1)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("follow returned %v, want context.Canceled", err)
	}
}
