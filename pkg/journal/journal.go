// Package journal provides an append-only audit log of filesystem outcomes.
// Every copied, skipped-duplicate and deleted event of a job is written as
// one JSON line tagged with the run id and job kind.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/job"
)

// Entry is one recorded outcome.
type Entry struct {
	Timestamp time.Time     `json:"ts"`
	RunID     string        `json:"run_id,omitempty"`
	Kind      job.Kind      `json:"kind"`
	Type      job.EventType `json:"type"`
	Path      string        `json:"path"`
}

// Writer appends journal entries to a JSONL file. Each Log call writes one
// JSON line and calls file.Sync() to ensure durability.
//
// Writer is safe for concurrent use.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	err     error
}

// NewWriter opens the journal at path for appending, creating it if needed.
// The parent directory must already exist.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Errorf("open journal: %w", err)
	}

	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Log writes an entry to the journal and syncs to disk.
func (w *Writer) Log(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := w.encoder.Encode(entry); err != nil {
		return errors.Errorf("encode journal entry: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return errors.Errorf("sync journal: %w", err)
	}

	return nil
}

// Sink returns a job.Sink that journals the outcome events of one run and
// ignores every other event. The first write failure is kept for Err.
func (w *Writer) Sink(kind job.Kind, runID string) job.Sink {
	return job.SinkFunc(func(e job.Event) {
		if !e.IsOutcome() {
			return
		}
		err := w.Log(Entry{RunID: runID, Kind: kind, Type: e.Type, Path: e.Path})
		if err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
		}
	})
}

// Err returns the first error a Sink failed to write.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}

// Reader reads journal entries from a JSONL file.
type Reader struct {
	path string
}

// NewReader creates a journal reader for the given path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Entries reads all entries from the journal in order.
func (r *Reader) Entries() ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return entries, errors.Errorf("decode journal line %d: %w", lineNum, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return entries, errors.Errorf("read journal: %w", err)
	}

	return entries, nil
}

// Run returns the entries written by the run with the given id.
func (r *Reader) Run(runID string) ([]Entry, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
