package events

import (
	"slices"
	"sync"
	"time"
)

// Transition is a per-marker appearance or disappearance derived from the
// aggregate stream
type Transition struct {
	ID        int       `json:"id"`
	Visible   bool      `json:"visible"`
	SessionID string    `json:"session_id,omitempty"`
	Cycle     uint64    `json:"cycle"`
	Time      time.Time `json:"time"`
}

// TransitionFilter turns the once-per-cycle aggregate events into edge
// transitions. Repeated MarkersDetected payloads and empty MarkersLost signals
// produce nothing. Ids rejected by the include predicate are ignored, which
// keeps unregistered ids out of the visible set since they are never lost.
type TransitionFilter struct {
	mu      sync.Mutex
	visible map[int]struct{}
	include func(id int) bool
	emit    func(Transition)
}

// NewTransitionFilter creates a filter calling emit for every transition.
// A nil include accepts every id.
func NewTransitionFilter(include func(id int) bool, emit func(Transition)) *TransitionFilter {
	if include == nil {
		include = func(int) bool { return true }
	}
	return &TransitionFilter{
		visible: make(map[int]struct{}),
		include: include,
		emit:    emit,
	}
}

// Handle implements Handler
func (f *TransitionFilter) Handle(ev MarkerEvent) {
	var out []Transition

	f.mu.Lock()
	switch ev.Kind {
	case KindDetected:
		for _, id := range ev.IDs {
			if _, ok := f.visible[id]; ok || !f.include(id) {
				continue
			}
			f.visible[id] = struct{}{}
			out = append(out, Transition{ID: id, Visible: true, SessionID: ev.SessionID, Cycle: ev.Cycle, Time: ev.Time})
		}
	case KindLost:
		for _, id := range ev.IDs {
			if _, ok := f.visible[id]; !ok {
				continue
			}
			delete(f.visible, id)
			out = append(out, Transition{ID: id, Visible: false, SessionID: ev.SessionID, Cycle: ev.Cycle, Time: ev.Time})
		}
	}
	f.mu.Unlock()

	for _, t := range out {
		f.emit(t)
	}
}

// Visible returns the ids currently considered visible, sorted
func (f *TransitionFilter) Visible() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int, 0, len(f.visible))
	for id := range f.visible {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reset forgets all visible ids, e.g. when a new pipeline session starts
func (f *TransitionFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.visible)
}
