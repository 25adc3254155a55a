package trace

import (
	"fmt"
	"sync"
)

// Sink receives file operation events. Implementations must not block.
type Sink interface {
	Record(event Event)
}

// SafeRecord records event on s. A nil sink is allowed and a panicking sink
// never takes the staging code down with it.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Record(event)
}

// Tally counts the outcomes of one run's file operations.
type Tally struct {
	Copied    int
	Replaced  int
	Skipped   int
	Discarded int
	Removed   int
	Retried   int
	Fallbacks int
	Failed    int
}

func (t *Tally) add(kind EventKind) {
	switch kind {
	case EventFileCopied:
		t.Copied++
	case EventFileReplaced:
		t.Replaced++
	case EventFileSkipped:
		t.Skipped++
	case EventFileDiscarded:
		t.Discarded++
	case EventFileRemoved, EventDirRemoved:
		t.Removed++
	case EventCopyRetried:
		t.Retried++
	case EventCopyFallback:
		t.Fallbacks++
	case EventCopyFailed:
		t.Failed++
	}
}

// String renders the tally for the end-of-run summary. Zero counters are
// omitted; an empty tally reads "no file changes".
func (t Tally) String() string {
	parts := []struct {
		n    int
		what string
	}{
		{t.Copied, "copied"}, {t.Replaced, "replaced"}, {t.Skipped, "skipped"},
		{t.Discarded, "discarded"}, {t.Removed, "removed"}, {t.Retried, "retried"},
		{t.Fallbacks, "via fallback"}, {t.Failed, "failed"},
	}
	out := ""
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", p.n, p.what)
	}
	if out == "" {
		return "no file changes"
	}
	return out
}

// Recorder collects the journal of one run. Each event is stamped with its
// 1-based sequence number so the persisted journal keeps record order even
// when read back by tools that sort.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	tally  Tally
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Seq = len(r.events) + 1
	r.events = append(r.events, event)
	r.tally.add(event.Kind)
}

// Events returns a copy of the events recorded so far.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Tally returns the running counts.
func (r *Recorder) Tally() Tally {
	if r == nil {
		return Tally{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tally
}

// Journal returns the events recorded so far as the journal of runID.
func (r *Recorder) Journal(runID string) Journal {
	return Journal{RunID: runID, Events: r.Events()}
}
