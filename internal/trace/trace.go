// Package trace records the file operations performed while staging
// directories are normalized and promoted.
//
// The journal is observational only: recording never affects what the
// staging code does, and a nil or failing sink is tolerated.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
)

// EventKind is the stable discriminator of a journal event.
// The string values end up in persisted run manifests; do not rename.
type EventKind string

const (
	EventFileCopied    EventKind = "FileCopied"
	EventFileReplaced  EventKind = "FileReplaced"
	EventFileSkipped   EventKind = "FileSkipped"
	EventFileDiscarded EventKind = "FileDiscarded"
	EventFileRemoved   EventKind = "FileRemoved"
	EventDirRemoved    EventKind = "DirRemoved"
	EventCopyRetried   EventKind = "CopyRetried"
	EventCopyFallback  EventKind = "CopyFallback"
	EventCopyFailed    EventKind = "CopyFailed"
)

// Event is a single file operation.
//
// Source and Dest are slash-separated so journals compare equal across
// platforms. Reason is a short stable code ("identical", "canonical-newer").
type Event struct {
	Seq     int       `json:"seq,omitempty"`
	Kind    EventKind `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Dest    string    `json:"dest,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

// NewEvent builds an event with slash-normalized paths.
func NewEvent(kind EventKind, src, dst string) Event {
	e := Event{Kind: kind}
	if src != "" {
		e.Source = filepath.ToSlash(src)
	}
	if dst != "" {
		e.Dest = filepath.ToSlash(dst)
	}
	return e
}

// WithReason returns a copy of e carrying reason.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// Journal is the ordered list of file operations of one run.
//
// Unlike a scheduling trace the order of events is meaningful (a retry
// precedes the copy it retried), so events are kept in record order.
type Journal struct {
	RunID  string  `json:"run_id"`
	Events []Event `json:"events"`
}

// Validate checks basic invariants and returns a descriptive error.
func (j *Journal) Validate() error {
	if j == nil {
		return errors.New("journal is nil")
	}
	if j.RunID == "" {
		return errors.New("run_id is required")
	}
	prev := 0
	for i, e := range j.Events {
		if e.Seq != 0 {
			if e.Seq <= prev {
				return fmt.Errorf("events[%d].seq %d is out of order", i, e.Seq)
			}
			prev = e.Seq
		}
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Source == "" && e.Dest == "" {
			return fmt.Errorf("events[%d] must reference a source or a destination", i)
		}
	}
	return nil
}

// Count returns how many events of kind the journal holds.
func (j Journal) Count(kind EventKind) int {
	n := 0
	for _, e := range j.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// CanonicalJSON returns the stable JSON encoding of the journal.
// A journal without events encodes "events" as an empty array, never null.
func (j Journal) CanonicalJSON() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	out := Journal{RunID: j.RunID, Events: j.Events}
	if out.Events == nil {
		out.Events = []Event{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the sha256 hex digest of the canonical JSON encoding.
func (j Journal) Hash() (string, error) {
	b, err := j.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes is the digest Hash applies to an encoding that is already
// canonical.
func HashBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
