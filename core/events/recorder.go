package events

import (
	"sync"

	"lpvault/core/types"
)

// Payload is implemented by events that carry a canonical attribute
// rendering.
type Payload interface {
	Event
	Event() *types.Event
}

const defaultRecorderLimit = 256

// Recorder is an Emitter that retains the most recent rendered events so the
// query surface can expose the ledger's state transitions. Events without a
// Payload rendering are dropped.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	entries []*types.Event
}

// NewRecorder builds a recorder keeping at most limit events; a non-positive
// limit falls back to the default.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{limit: limit}
}

// Emit renders and retains the event, evicting the oldest entries beyond the
// limit.
func (r *Recorder) Emit(event Event) {
	if r == nil {
		return
	}
	payload, ok := event.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, rendered)
	if len(r.entries) > r.limit {
		r.entries = append([]*types.Event(nil), r.entries[len(r.entries)-r.limit:]...)
	}
}

// Recent returns the retained events, oldest first.
func (r *Recorder) Recent() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.entries))
	copy(out, r.entries)
	return out
}
