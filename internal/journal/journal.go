// Package journal persists lifecycle events as an append-only log of
// JSON lines. Each entry carries a full snapshot of the mutated entity,
// so replay is a matter of re-applying snapshots in order — the
// in-memory stores are authoritative at runtime and the journal is the
// durable record they are rebuilt from on boot.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/openclear/tradecore/internal/events"
)

// Journal appends events to a log file. Safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// Open opens (or creates) the journal at path in append mode.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one event as a JSON line.
func (j *Journal) Append(e events.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}

// Handler returns a bus handler that appends every event, logging
// write failures without interrupting publication.
func (j *Journal) Handler() events.Handler {
	return func(e events.Event) {
		if err := j.Append(e); err != nil {
			slog.Error("journal append failed",
				slog.String("event", string(e.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Sync(); err != nil {
		return err
	}
	return j.f.Close()
}

// Replay reads the journal at path and invokes fn for each entry in
// order. A missing file is not an error — there is simply nothing to
// replay. Corrupt trailing lines (torn writes) end the replay without
// error; anything corrupt before the tail is reported.
func Replay(path string, fn func(events.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var pending []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// A previously undecodable line followed by more content means
		// real corruption, not a torn tail.
		if pending != nil {
			return fmt.Errorf("corrupt journal entry: %q", string(pending))
		}
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			cp := make([]byte, len(line))
			copy(cp, line)
			pending = cp
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
