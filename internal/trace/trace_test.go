package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestJournalCanonicalJSON_StableAcrossCalls(t *testing.T) {
	r := NewRecorder()
	r.Record(NewEvent(EventCopyRetried, "/p/data/processed/a.csv", "/p/data/interim/a.csv"))
	r.Record(NewEvent(EventFileCopied, "/p/data/processed/a.csv", "/p/data/interim/a.csv"))

	j := r.Journal("run-1")
	b1, err := j.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := r.Journal("run-1").CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}

	// Record order is preserved: the retry precedes the copy.
	if strings.Index(string(b1), "CopyRetried") > strings.Index(string(b1), "FileCopied") {
		t.Fatalf("events reordered: %s", b1)
	}
}

func TestJournalCanonicalJSON_EmptyEventsIsArray(t *testing.T) {
	b, err := Journal{RunID: "run-1"}.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if !strings.Contains(string(b), `"events": []`) {
		t.Fatalf("expected empty events array, got: %s", b)
	}
}

func TestJournalValidate_RejectsEventsWithoutPaths(t *testing.T) {
	j := Journal{RunID: "run-1", Events: []Event{{Kind: EventFileCopied}}}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestJournalCount(t *testing.T) {
	j := Journal{RunID: "r", Events: []Event{
		NewEvent(EventFileCopied, "a", "b"),
		NewEvent(EventFileSkipped, "a", "b").WithReason("identical"),
		NewEvent(EventFileCopied, "c", "d"),
	}}
	if got := j.Count(EventFileCopied); got != 2 {
		t.Fatalf("FileCopied count = %d, want 2", got)
	}
	if got := j.Count(EventFileDiscarded); got != 0 {
		t.Fatalf("FileDiscarded count = %d, want 0", got)
	}
}

func TestHash_Deterministic(t *testing.T) {
	j := Journal{RunID: "r", Events: []Event{NewEvent(EventFileCopied, "a", "b")}}
	h1, err := j.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := j.Hash()
	if h1 == "" || h1 != h2 {
		t.Fatalf("hash not deterministic: %q vs %q", h1, h2)
	}
	if h1 != HashBytes(mustCanonical(t, j)) {
		t.Fatalf("Hash and HashBytes disagree")
	}
}

func mustCanonical(t *testing.T, j Journal) []byte {
	t.Helper()
	b, err := j.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	return b
}

func TestRecorder_StampsSequenceAndTallies(t *testing.T) {
	r := NewRecorder()
	r.Record(NewEvent(EventCopyRetried, "a", "b"))
	r.Record(NewEvent(EventCopyFallback, "a", "b"))
	r.Record(NewEvent(EventFileReplaced, "c", "d"))
	r.Record(NewEvent(EventFileSkipped, "e", "f").WithReason("identical"))
	r.Record(NewEvent(EventDirRemoved, "g", ""))

	events := r.Events()
	for i, e := range events {
		if e.Seq != i+1 {
			t.Fatalf("events[%d].seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	want := Tally{Replaced: 1, Skipped: 1, Removed: 1, Retried: 1, Fallbacks: 1}
	if got := r.Tally(); got != want {
		t.Fatalf("tally = %+v, want %+v", got, want)
	}
	if got := r.Tally().String(); got != "1 replaced, 1 skipped, 1 removed, 1 retried, 1 via fallback" {
		t.Fatalf("tally string = %q", got)
	}
	if got := (Tally{}).String(); got != "no file changes" {
		t.Fatalf("empty tally string = %q", got)
	}
	j := r.Journal("r")
	if err := j.Validate(); err != nil {
		t.Fatalf("recorded journal invalid: %v", err)
	}
}

func TestJournalValidate_RejectsOutOfOrderSequence(t *testing.T) {
	a := NewEvent(EventFileCopied, "a", "b")
	a.Seq = 2
	b := NewEvent(EventFileCopied, "c", "d")
	b.Seq = 1
	j := Journal{RunID: "r", Events: []Event{a, b}}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected out-of-order sequence to be rejected")
	}
}

type panickySink struct{}

func (panickySink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, NewEvent(EventFileCopied, "a", "b"))
	SafeRecord(nil, NewEvent(EventFileCopied, "a", "b"))
}
