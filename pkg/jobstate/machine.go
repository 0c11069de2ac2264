// Package jobstate implements the job status shown to the user. It combines
// tokens observed in the job's log with the job resource polled from the
// server.
package jobstate

import (
	log "github.com/sirupsen/logrus"

	"github.com/kelda/wavectl/pkg/logtoken"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// Machine is the job status state machine. It is owned by a single goroutine.
type Machine struct {
	state upgrade.JobStatus

	waves          int
	wavesSucceeded int
}

// New returns a machine for a freshly computed plan.
func New(plan upgrade.Plan) *Machine {
	m := &Machine{}
	m.Load(plan)
	return m
}

// State returns the current job status.
func (m *Machine) State() upgrade.JobStatus {
	return m.state
}

// Load resets the machine to the not-started state for the given plan.
func (m *Machine) Load(plan upgrade.Plan) {
	m.waves = plan.Waves()
	m.wavesSucceeded = 0
	if plan.TotalTargets() == 0 {
		m.state = upgrade.JobNoDiff
	} else {
		m.state = upgrade.JobDiff
	}
}

// CanStart returns whether a new run may be started.
func (m *Machine) CanStart() bool {
	return m.state == upgrade.JobDiff
}

// CanComplete returns whether the job has finished so that the user can
// clear it.
func (m *Machine) CanComplete() bool {
	return m.state.Finished()
}

// Start moves the machine to running. It's also used when attaching to a job
// that was started elsewhere, in which case the first poll seeds the real
// status.
func (m *Machine) Start() {
	m.wavesSucceeded = 0
	m.transition(upgrade.JobRunning, "start")
}

// Complete clears a finished job, and loads the plan for the next run.
func (m *Machine) Complete(next upgrade.Plan) {
	m.Load(next)
	log.WithField("state", m.state).Debug("Job completed")
}

// Observe applies a token from the job's log. allTerminal reports whether
// every target has finished, which is how a trailing BATCH-SUCCESS is
// recognised as the final wave.
func (m *Machine) Observe(event logtoken.Event, allTerminal bool) {
	switch event.Kind {
	case logtoken.WaveSucceeded:
		m.wavesSucceeded++
		if m.state != upgrade.JobRunning && m.state != upgrade.JobPause {
			return
		}
		if m.wavesSucceeded >= m.waves || allTerminal {
			m.transition(upgrade.JobSuccess, "final wave succeeded")
		}

	case logtoken.WaveFailed:
		switch m.state {
		case upgrade.JobRunning, upgrade.JobPause, upgrade.JobStop, upgrade.JobFail:
			m.transition(upgrade.JobBatchFail, "wave failed")
		}

	case logtoken.JobFailed:
		switch m.state {
		case upgrade.JobRunning, upgrade.JobPause:
			m.transition(upgrade.JobFail, "job failed")
		}
	}
}

// Reconcile merges a polled job resource into the local state.
//
// A failed counter always wins. Otherwise a state that was latched from the
// log (success, fail or batch-fail) is kept, so that a stale poll can't make
// the job flash back to running. Only while the job is still live does the
// server's status seed the local one.
func (m *Machine) Reconcile(res upgrade.JobResource) {
	if !m.started() {
		return
	}

	if res.Failed > 0 {
		m.transition(upgrade.JobBatchFail, "server reported failed pods")
		return
	}

	if m.latched() {
		return
	}

	switch res.Status {
	case upgrade.ServerPause:
		m.transition(upgrade.JobPause, "server paused")
		return
	case upgrade.ServerStop:
		m.transition(upgrade.JobStop, "server stopped")
		return
	}

	if res.Succeeded > 0 && res.Active == 0 {
		m.transition(upgrade.JobSuccess, "server reported success")
		return
	}

	switch res.Status {
	case upgrade.ServerSuccess:
		m.transition(upgrade.JobSuccess, "server reported success")
	case upgrade.ServerFail:
		m.transition(upgrade.JobBatchFail, "server reported failure")
	default:
		m.transition(upgrade.JobRunning, "server reported running")
	}
}

func (m *Machine) started() bool {
	return m.state != upgrade.JobDiff && m.state != upgrade.JobNoDiff
}

func (m *Machine) latched() bool {
	switch m.state {
	case upgrade.JobSuccess, upgrade.JobFail, upgrade.JobBatchFail:
		return true
	}
	return false
}

func (m *Machine) transition(to upgrade.JobStatus, reason string) {
	if m.state == to {
		return
	}
	log.WithFields(log.Fields{
		"from":   m.state,
		"to":     to,
		"reason": reason,
	}).Debug("Job status changed")
	m.state = to
}
