package targetstatus

import "github.com/kelda/wavectl/pkg/upgrade"

// Snapshot is an immutable view of a Store. Targets are listed in plan order.
type Snapshot struct {
	Targets []upgrade.Target
	Waves   int

	byName map[string]int
}

// Get returns the target with the given name.
func (snap Snapshot) Get(name string) (upgrade.Target, bool) {
	i, ok := snap.byName[name]
	if !ok {
		return upgrade.Target{}, false
	}
	return snap.Targets[i], true
}

// Wave returns the targets of the given wave in plan order.
func (snap Snapshot) Wave(i int) []upgrade.Target {
	var targets []upgrade.Target
	for _, target := range snap.Targets {
		if target.Wave == i {
			targets = append(targets, target)
		}
	}
	return targets
}

// CurrentWave returns the index of the last wave that shows any activity, or
// -1 if nothing has started. A wave is never assumed to have started just
// because the previous one finished.
func (snap Snapshot) CurrentWave() int {
	current := -1
	for _, target := range snap.Targets {
		if target.Status != upgrade.TargetPending && target.Wave > current {
			current = target.Wave
		}
	}
	return current
}

// Counts returns the number of targets per status.
func (snap Snapshot) Counts() map[upgrade.TargetStatus]int {
	counts := map[upgrade.TargetStatus]int{}
	for _, target := range snap.Targets {
		counts[target.Status]++
	}
	return counts
}
