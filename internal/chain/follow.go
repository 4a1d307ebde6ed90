package chain

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Follow streams entries appended after the call starts, invoking the
// callback for each in sequence order. It watches the chain directory with
// fsnotify, so new entries are delivered as soon as their durability flush
// lands. Blocks until the context is cancelled.
//
// Only already-durable entries are delivered; a write event triggers a
// re-read of everything past the last delivered sequence, so bursts of
// appends collapse into a single catch-up pass.
func (s *Store) Follow(ctx context.Context, callback func(Entry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	s.mu.Lock()
	lastSeq := s.nextSeq // Deliver only entries appended from now on.
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(filepath.Base(event.Name), ".jsonl") {
				continue
			}

			next, err := s.deliverAfter(lastSeq, callback)
			if err != nil {
				slog.Error("follow: reading new entries", "error", err)
				continue
			}
			lastSeq = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("follow: watcher error", "error", err)
		}
	}
}

// deliverAfter invokes the callback for every durable entry with
// sequence >= from, returning the next undelivered sequence.
func (s *Store) deliverAfter(from uint64, callback func(Entry)) (uint64, error) {
	next := from
	err := s.walk(func(e Entry) error {
		if e.Sequence >= from {
			callback(e)
			next = e.Sequence + 1
		}
		return nil
	})
	return next, err
}
