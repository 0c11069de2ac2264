package watch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/buger/goterm"

	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/reconcile"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// drainTimeout is how long to keep reading the log after the job finished,
// so that the final tokens are still shown.
const drainTimeout = 3 * time.Second

type statusPrinter struct {
	out         io.Writer
	interactive bool

	prevLinesPrinted int
	spinnerIdx       int

	// Used when the output isn't a terminal, so that only changes are
	// printed.
	prevStatus  upgrade.JobStatus
	prevPercent int
	prevTargets map[string]upgrade.TargetStatus
	prevError   string
}

func newStatusPrinter(out io.Writer, interactive bool) *statusPrinter {
	return &statusPrinter{
		out:         out,
		interactive: interactive,
		prevPercent: -1,
		prevTargets: map[string]upgrade.TargetStatus{},
	}
}

// Follow prints the session's state until the job finishes or the context
// is cancelled, and returns the last snapshot.
func Follow(ctx context.Context, session *reconcile.Session, out io.Writer, interactive bool) reconcile.Snapshot {
	sp := newStatusPrinter(out, interactive)
	updates := session.Subscribe(ctx)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var finishedAt time.Time
	for {
		snap := session.Snapshot()
		sp.print(snap)

		if snap.JobMissing {
			return snap
		}

		if snap.Status.Finished() {
			if finishedAt.IsZero() {
				finishedAt = time.Now()
			}
			if !snap.Streaming || time.Since(finishedAt) > drainTimeout {
				return snap
			}
		}

		select {
		case <-updates:
		case <-ticker.C:
			sp.spinnerIdx++
		case <-ctx.Done():
			return session.Snapshot()
		}
	}
}

func (sp *statusPrinter) print(snap reconcile.Snapshot) {
	if sp.interactive {
		sp.redraw(snap)
	} else {
		sp.printChanges(snap)
	}
}

// redraw writes over the previous status table.
func (sp *statusPrinter) redraw(snap reconcile.Snapshot) {
	for i := 0; i < sp.prevLinesPrinted; i++ {
		goterm.MoveCursorUp(1)
		goterm.Flush()
		fmt.Fprint(sp.out, goterm.ResetLine(""))
	}

	var buf strings.Builder
	statusStr, color := util.JobStatusString(snap.Status)
	if !snap.Status.Finished() {
		statusStr += " " + util.Spinner(sp.spinnerIdx)
	}
	fmt.Fprintf(&buf, "Job %s: %s %s\n", snap.Job, goterm.Color(statusStr, color), progressBar(snap.Percent))
	if snap.LastError != "" && !snap.Status.Finished() {
		fmt.Fprintln(&buf, goterm.Color("Connection problem: "+snap.LastError, goterm.YELLOW))
	}

	tw := tabwriter.NewWriter(&buf, 0, 10, 3, ' ', 0)
	fmt.Fprintln(tw, "WAVE\tPOD\tNODE\tSTATUS")
	for _, target := range snap.Targets.Targets {
		msg, color := util.TargetStatusString(target)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", target.Wave+1, target.Name, target.Node, goterm.Color(msg, color))
	}
	tw.Flush()

	output := buf.String()
	fmt.Fprint(sp.out, output)
	sp.prevLinesPrinted = strings.Count(output, "\n")
}

// printChanges prints one line per change, for logs and pipes.
func (sp *statusPrinter) printChanges(snap reconcile.Snapshot) {
	for _, target := range snap.Targets.Targets {
		if sp.prevTargets[target.Name] == target.Status {
			continue
		}
		sp.prevTargets[target.Name] = target.Status
		if target.Status == upgrade.TargetPending {
			continue
		}

		msg, _ := util.TargetStatusString(target)
		fmt.Fprintf(sp.out, "wave %d: %s: %s\n", target.Wave+1, target.Name, msg)
	}

	if snap.Percent != sp.prevPercent {
		sp.prevPercent = snap.Percent
		fmt.Fprintf(sp.out, "progress: %d%%\n", snap.Percent)
	}

	if snap.Status != sp.prevStatus {
		sp.prevStatus = snap.Status
		msg, _ := util.JobStatusString(snap.Status)
		fmt.Fprintf(sp.out, "job %s: %s\n", snap.Job, msg)
	}

	if snap.LastError != sp.prevError {
		sp.prevError = snap.LastError
		if snap.LastError != "" {
			fmt.Fprintf(sp.out, "warning: %s\n", snap.LastError)
		}
	}
}

func progressBar(percent int) string {
	const width = 30
	filled := percent * width / 100
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("#", filled), strings.Repeat(" ", width-filled), percent)
}

// Summary describes how a finished job ended. It returns an error if the
// job failed.
func Summary(out io.Writer, snap reconcile.Snapshot) error {
	if snap.JobMissing && !snap.Status.Finished() {
		return errors.NewFriendlyError("Upgrade job %s was deleted while it was being watched.", snap.Job)
	}

	counts := snap.Targets.Counts()
	fmt.Fprintf(out, "%d upgraded, %d failed, %d not started.\n",
		counts[upgrade.TargetSuccess], counts[upgrade.TargetFailed],
		counts[upgrade.TargetPending]+counts[upgrade.TargetRunning])

	for _, target := range snap.Targets.Targets {
		if target.Status == upgrade.TargetFailed {
			msg, _ := util.TargetStatusString(target)
			fmt.Fprintf(out, "  %s: %s\n", target.Name, msg)
		}
	}

	switch snap.Status {
	case upgrade.JobSuccess:
		fmt.Fprintln(out, goterm.Color("Upgrade succeeded", goterm.GREEN))
	case upgrade.JobStop:
		fmt.Fprintln(out, goterm.Color("Upgrade stopped", goterm.MAGENTA))
	case upgrade.JobFail, upgrade.JobBatchFail:
		msg, _ := util.JobStatusString(snap.Status)
		return newJobFailedError(snap.Job, msg)
	}
	return nil
}
