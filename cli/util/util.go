package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/buger/goterm"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/kelda/wavectl/pkg/upgrade"
)

// IsTerminal returns whether stdout is an interactive terminal, in which
// case output may be redrawn in place.
func IsTerminal() bool {
	return terminal.IsTerminal(int(os.Stdout.Fd()))
}

// SignalContext returns a context that's cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// JobStatusString returns the message and color used to display a job
// status.
func JobStatusString(status upgrade.JobStatus) (msg string, color int) {
	switch status {
	case upgrade.JobDiff:
		return "Ready to upgrade", goterm.YELLOW
	case upgrade.JobNoDiff:
		return "Nothing to upgrade", goterm.GREEN
	case upgrade.JobRunning:
		return "Running", goterm.YELLOW
	case upgrade.JobSuccess:
		return "Succeeded", goterm.GREEN
	case upgrade.JobFail:
		return "Failed", goterm.RED
	case upgrade.JobBatchFail:
		return "Wave failed", goterm.RED
	case upgrade.JobPause:
		return "Paused", goterm.CYAN
	case upgrade.JobStop:
		return "Stopped", goterm.MAGENTA
	}
	return "Unknown", goterm.YELLOW
}

// TargetStatusString returns the message and color used to display the
// status of a single pod.
func TargetStatusString(target upgrade.Target) (msg string, color int) {
	switch target.Status {
	case upgrade.TargetRunning:
		return "Upgrading", goterm.YELLOW
	case upgrade.TargetSuccess:
		return "Upgraded", goterm.GREEN
	case upgrade.TargetFailed:
		msg = "Failed"
		if target.FailureReason != "" {
			msg += ": " + target.FailureReason
		}
		return msg, goterm.RED
	}
	return "Pending", goterm.WHITE
}

// ServerStatusString returns the message and color used for the status a
// job reports about itself, such as in job listings.
func ServerStatusString(res upgrade.JobResource) (msg string, color int) {
	switch {
	case res.Failed > 0 || res.Status == upgrade.ServerFail:
		return "Failed", goterm.RED
	case res.Status == upgrade.ServerSuccess || (res.Succeeded > 0 && res.Active == 0):
		return "Succeeded", goterm.GREEN
	case res.Status == upgrade.ServerPause:
		return "Paused", goterm.CYAN
	case res.Status == upgrade.ServerStop:
		return "Stopped", goterm.MAGENTA
	case res.Status == upgrade.ServerRunning || res.Active > 0:
		return "Running", goterm.YELLOW
	}
	return "Pending", goterm.YELLOW
}
