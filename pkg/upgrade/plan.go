package upgrade

import (
	"encoding/json"
	"regexp"

	"github.com/kelda/wavectl/pkg/errors"
)

// NamePattern matches the DNS subdomain names that the upgrade job uses to
// identify mount pods.
const NamePattern = `[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*`

var nameRegexp = regexp.MustCompile(`^` + NamePattern + `$`)

// MaxParallel is the largest worker count the upgrade job accepts.
const MaxParallel = 50

// Plan is the ordered set of waves for one upgrade job. It is wire compatible
// with the batch config served by the dashboard.
type Plan struct {
	Parallel    int             `json:"parallel"`
	IgnoreError bool            `json:"ignoreError"`
	NoRecreate  bool            `json:"norecreate,omitempty"`
	Node        string          `json:"node,omitempty"`
	UniqueID    string          `json:"uniqueId,omitempty"`
	Batches     [][]PlannedPod  `json:"batches"`
	Status      ServerStatus    `json:"status"`
	Diffs       map[string]Diff `json:"-"`
}

// PlannedPod is one entry of a wave as it appears on the wire.
type PlannedPod struct {
	Name       string       `json:"name"`
	Node       string       `json:"node"`
	CSINodePod string       `json:"csiNodePod"`
	Status     ServerStatus `json:"status,omitempty"`
}

// Diff is the configuration a mount pod runs with before and after the
// upgrade. It's only used for display.
type Diff struct {
	Old json.RawMessage `json:"oldConfig,omitempty"`
	New json.RawMessage `json:"newConfig,omitempty"`
}

// Target is a single upgrade unit.
type Target struct {
	Name          string
	Node          string
	CSINodePod    string
	Wave          int
	Diff          *Diff
	Status        TargetStatus
	FailureReason string
}

// TotalTargets returns the number of targets across all waves.
func (p Plan) TotalTargets() int {
	var total int
	for _, wave := range p.Batches {
		total += len(wave)
	}
	return total
}

// Waves returns the number of waves.
func (p Plan) Waves() int {
	return len(p.Batches)
}

// Targets flattens the plan into pending targets, in wave order.
func (p Plan) Targets() []Target {
	targets := make([]Target, 0, p.TotalTargets())
	for i, wave := range p.Batches {
		for _, pod := range wave {
			target := Target{
				Name:       pod.Name,
				Node:       pod.Node,
				CSINodePod: pod.CSINodePod,
				Wave:       i,
				Status:     TargetPending,
			}
			if diff, ok := p.Diffs[pod.Name]; ok {
				d := diff
				target.Diff = &d
			}
			targets = append(targets, target)
		}
	}
	return targets
}

// Validate checks that names are unique within the plan and can be matched
// in the job's log output.
func (p Plan) Validate() error {
	if p.Parallel > MaxParallel {
		return errors.NewFriendlyError("parallel must not exceed %d, got %d", MaxParallel, p.Parallel)
	}

	seen := map[string]struct{}{}
	for i, wave := range p.Batches {
		for _, pod := range wave {
			if !nameRegexp.MatchString(pod.Name) {
				return errors.NewFriendlyError("wave %d: invalid pod name %q", i, pod.Name)
			}
			if _, ok := seen[pod.Name]; ok {
				return errors.NewFriendlyError("pod %q appears in the plan more than once", pod.Name)
			}
			seen[pod.Name] = struct{}{}
		}
	}
	return nil
}
