package job

import (
	"fmt"
	"sync"
)

// EventType tags an Event.
type EventType string

const (
	EventStatus           EventType = "status"
	EventLog              EventType = "log"
	EventProgress         EventType = "progress"
	EventItem             EventType = "item"
	EventGroupStart       EventType = "group-start"
	EventGroupDuplicate   EventType = "group-duplicate"
	EventDuplicateCount   EventType = "duplicate-count"
	EventCopied           EventType = "copied"
	EventSkippedDuplicate EventType = "skipped-duplicate"
	EventDeleted          EventType = "deleted"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Event is one entry of a job's event stream. Only the field matching Type
// is meaningful: Text for status, log and error; Path for item and outcome
// events; Percent for progress; Count for duplicate-count.
type Event struct {
	Type    EventType
	Text    string
	Path    string
	Percent float64
	Count   int
}

func (e Event) String() string {
	switch e.Type {
	case EventStatus, EventLog, EventError:
		return fmt.Sprintf("%s(%s)", e.Type, e.Text)
	case EventProgress:
		return fmt.Sprintf("%s(%.1f)", e.Type, e.Percent)
	case EventDuplicateCount:
		return fmt.Sprintf("%s(%d)", e.Type, e.Count)
	case EventDone:
		return string(e.Type) + "()"
	default:
		return fmt.Sprintf("%s(%s)", e.Type, e.Path)
	}
}

// IsOutcome reports whether e records a filesystem or ledger outcome for a
// single path.
func (e Event) IsOutcome() bool {
	switch e.Type {
	case EventCopied, EventSkippedDuplicate, EventDeleted:
		return true
	default:
		return false
	}
}

// Status reports a phase change of the job.
func Status(text string) Event {
	return Event{Type: EventStatus, Text: text}
}

// Statusf formats a Status event.
func Statusf(format string, args ...any) Event {
	return Status(fmt.Sprintf(format, args...))
}

// Log reports a human-readable message.
func Log(text string) Event {
	return Event{Type: EventLog, Text: text}
}

// Logf formats a Log event.
func Logf(format string, args ...any) Event {
	return Log(fmt.Sprintf(format, args...))
}

// Progress reports completion in percent.
func Progress(percent float64) Event {
	return Event{Type: EventProgress, Percent: percent}
}

// Item reports that work on path started.
func Item(path string) Event {
	return Event{Type: EventItem, Path: path}
}

// GroupStart reports the canonical member of a duplicate group.
func GroupStart(path string) Event {
	return Event{Type: EventGroupStart, Path: path}
}

// GroupDuplicate reports a member newly marked duplicate.
func GroupDuplicate(path string) Event {
	return Event{Type: EventGroupDuplicate, Path: path}
}

// DuplicateCount reports the running number of duplicate records.
func DuplicateCount(n int) Event {
	return Event{Type: EventDuplicateCount, Count: n}
}

func Copied(path string) Event {
	return Event{Type: EventCopied, Path: path}
}

func SkippedDuplicate(path string) Event {
	return Event{Type: EventSkippedDuplicate, Path: path}
}

func Deleted(path string) Event {
	return Event{Type: EventDeleted, Path: path}
}

// Done terminates a successful run.
func Done() Event {
	return Event{Type: EventDone}
}

// Error terminates a failed run.
func Error(text string) Event {
	return Event{Type: EventError, Text: text}
}

// Sink receives events. Emit must not block for long: jobs call it inline.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Tee returns a Sink that forwards every event to each non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range out {
			s.Emit(e)
		}
	})
}

// Recorder is a Sink that keeps every event. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Paths returns the paths of recorded events of type t, in order.
func (r *Recorder) Paths(t EventType) []string {
	var paths []string
	for _, e := range r.Events() {
		if e.Type == t {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// Last returns the last recorded event.
func (r *Recorder) Last() (Event, bool) {
	events := r.Events()
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t EventType) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}
