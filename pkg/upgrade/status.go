package upgrade

// TargetStatus is the lifecycle state of a single upgrade target.
type TargetStatus string

const (
	TargetPending TargetStatus = "pending"
	TargetRunning TargetStatus = "running"
	TargetSuccess TargetStatus = "success"
	TargetFailed  TargetStatus = "failed"
)

// Terminal returns whether the status can never change again.
func (s TargetStatus) Terminal() bool {
	return s == TargetSuccess || s == TargetFailed
}

// JobStatus is the coarse-grained status of an upgrade job as shown to the
// user.
type JobStatus string

const (
	// JobDiff means a plan with at least one target is loaded but not started.
	JobDiff JobStatus = "diff"
	// JobNoDiff means the loaded plan has no targets.
	JobNoDiff    JobStatus = "no-diff"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFail      JobStatus = "fail"
	JobBatchFail JobStatus = "batch-fail"
	JobPause     JobStatus = "pause"
	JobStop      JobStatus = "stop"
)

// Failed returns whether the job ended in a failure.
func (s JobStatus) Failed() bool {
	return s == JobFail || s == JobBatchFail
}

// Finished returns whether the job reached a state from which it will not
// progress without user action.
func (s JobStatus) Finished() bool {
	switch s {
	case JobSuccess, JobFail, JobBatchFail, JobStop:
		return true
	}
	return false
}

// ServerStatus is the status string the upgrade job records in its batch
// config.
type ServerStatus string

const (
	ServerPending ServerStatus = "pending"
	ServerRunning ServerStatus = "running"
	ServerSuccess ServerStatus = "success"
	ServerFail    ServerStatus = "fail"
	ServerStop    ServerStatus = "stop"
	ServerPause   ServerStatus = "pause"
)

// JobResource is the authoritative view of a job obtained by polling.
type JobResource struct {
	Succeeded int32
	Failed    int32
	Active    int32
	Status    ServerStatus
}

// Action is a user action that the server applies to a running job.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)
