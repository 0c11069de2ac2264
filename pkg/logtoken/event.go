package logtoken

import "fmt"

// Kind identifies the type of an Event.
type Kind int

const (
	TargetStarted Kind = iota
	TargetSucceeded
	TargetFailed
	WaveSucceeded
	WaveFailed
	JobFailed
)

func (k Kind) String() string {
	switch k {
	case TargetStarted:
		return "TargetStarted"
	case TargetSucceeded:
		return "TargetSucceeded"
	case TargetFailed:
		return "TargetFailed"
	case WaveSucceeded:
		return "WaveSucceeded"
	case WaveFailed:
		return "WaveFailed"
	case JobFailed:
		return "JobFailed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is a machine-readable marker found in the upgrade job's log output.
// Name is set for target events, and Reason only for TargetFailed.
type Event struct {
	Kind   Kind
	Name   string
	Reason string
}

func (e Event) String() string {
	switch e.Kind {
	case TargetStarted, TargetSucceeded:
		return fmt.Sprintf("%s[%s]", e.Kind, e.Name)
	case TargetFailed:
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Name, e.Reason)
	}
	return e.Kind.String()
}
