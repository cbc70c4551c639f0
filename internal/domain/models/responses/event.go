package responses

import (
	"encoding/json"
	"time"
)

// Event is a single append-only record in a run's timeline. Events are
// never mutated once recorded; Rollback truncates to a prefix, it does not
// rewrite.
type Event struct {
	RunID      string
	Sequence   int64
	Type       string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Clone returns a defensive copy of the event (the payload bytes are
// immutable once recorded, so a shallow copy of the header fields suffices;
// the slice itself is never written to after RecordEvent returns).
func (e Event) Clone() Event {
	return e
}

// Timeline is an ordered, gap-tolerant but duplicate-free sequence of
// events for a single run.
type Timeline struct {
	RunID  string
	Events []Event
}

// LastSequence returns the highest sequence number recorded, or 0 if the
// timeline is empty.
func (t Timeline) LastSequence() int64 {
	if len(t.Events) == 0 {
		return 0
	}
	return t.Events[len(t.Events)-1].Sequence
}

// TimelineSnapshot is the result of SnapshotAt/Rollback: a Timeline
// truncated to a prefix, plus the run status it projects to.
type TimelineSnapshot struct {
	Timeline
	ProjectedStatus string
}
