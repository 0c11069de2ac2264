// Package targetstatus tracks what happened to each pod of an upgrade job.
//
// The log feed is append-only and best effort, so duplicate or out-of-order
// tokens are expected. Terminal states are therefore sticky, and the first
// failure reason recorded for a target is never overwritten.
package targetstatus

import (
	"github.com/kelda/wavectl/pkg/logtoken"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// Store maps target names to their lifecycle status. It is owned by a single
// goroutine; readers get copies through Snapshot.
type Store struct {
	order   []string
	entries map[string]*upgrade.Target
	waves   int
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: map[string]*upgrade.Target{}}
}

// Reset replaces the contents of the store with the given targets, all of
// them pending.
func (s *Store) Reset(targets []upgrade.Target) {
	s.order = make([]string, 0, len(targets))
	s.entries = make(map[string]*upgrade.Target, len(targets))
	s.waves = 0
	for _, target := range targets {
		target.Status = upgrade.TargetPending
		target.FailureReason = ""
		if _, ok := s.entries[target.Name]; !ok {
			s.order = append(s.order, target.Name)
		}
		t := target
		s.entries[target.Name] = &t
		if target.Wave+1 > s.waves {
			s.waves = target.Wave + 1
		}
	}
}

// Apply updates the store according to a log event, and returns whether
// anything changed. Events that don't refer to a known target are ignored.
func (s *Store) Apply(event logtoken.Event) bool {
	e, ok := s.entries[event.Name]
	if !ok {
		return false
	}

	switch event.Kind {
	case logtoken.TargetStarted:
		if e.Status != upgrade.TargetPending {
			return false
		}
		e.Status = upgrade.TargetRunning
		return true

	case logtoken.TargetSucceeded:
		if e.Status.Terminal() {
			return false
		}
		e.Status = upgrade.TargetSuccess
		return true

	case logtoken.TargetFailed:
		if e.Status.Terminal() {
			return false
		}
		e.Status = upgrade.TargetFailed
		e.FailureReason = event.Reason
		return true
	}
	return false
}

// Status returns the status of the named target.
func (s *Store) Status(name string) (upgrade.TargetStatus, bool) {
	e, ok := s.entries[name]
	if !ok {
		return "", false
	}
	return e.Status, true
}

// Len returns the number of targets.
func (s *Store) Len() int {
	return len(s.order)
}

// Count returns the number of targets with the given status.
func (s *Store) Count(status upgrade.TargetStatus) int {
	var n int
	for _, e := range s.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// Completed returns the number of targets in a terminal state.
func (s *Store) Completed() int {
	return s.Count(upgrade.TargetSuccess) + s.Count(upgrade.TargetFailed)
}

// AllTerminal returns whether every target has finished. It is false for an
// empty store.
func (s *Store) AllTerminal() bool {
	return len(s.order) > 0 && s.Completed() == len(s.order)
}

// Snapshot returns a copy of the store that shares no memory with it.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Targets: make([]upgrade.Target, 0, len(s.order)),
		byName:  make(map[string]int, len(s.order)),
	}
	for _, name := range s.order {
		target := *s.entries[name]
		if target.Diff != nil {
			diff := upgrade.Diff{
				Old: append([]byte(nil), target.Diff.Old...),
				New: append([]byte(nil), target.Diff.New...),
			}
			target.Diff = &diff
		}
		snap.byName[name] = len(snap.Targets)
		snap.Targets = append(snap.Targets, target)
	}
	snap.Waves = s.waves
	return snap
}
