package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/buger/goterm"
	"github.com/stretchr/testify/assert"

	"github.com/kelda/wavectl/pkg/upgrade"
)

func TestServerStatusString(t *testing.T) {
	tests := []struct {
		name     string
		res      upgrade.JobResource
		expMsg   string
		expColor int
	}{
		{"FailedCounter", upgrade.JobResource{Failed: 1, Status: upgrade.ServerRunning}, "Failed", goterm.RED},
		{"ServerFail", upgrade.JobResource{Status: upgrade.ServerFail}, "Failed", goterm.RED},
		{"Succeeded", upgrade.JobResource{Succeeded: 1}, "Succeeded", goterm.GREEN},
		{"Paused", upgrade.JobResource{Active: 1, Status: upgrade.ServerPause}, "Paused", goterm.CYAN},
		{"Stopped", upgrade.JobResource{Status: upgrade.ServerStop}, "Stopped", goterm.MAGENTA},
		{"Running", upgrade.JobResource{Active: 1}, "Running", goterm.YELLOW},
		{"Pending", upgrade.JobResource{}, "Pending", goterm.YELLOW},
	}

	for _, test := range tests {
		msg, color := ServerStatusString(test.res)
		assert.Equal(t, test.expMsg, msg, test.name)
		assert.Equal(t, test.expColor, color, test.name)
	}
}

func TestTargetStatusString(t *testing.T) {
	msg, color := TargetStatusString(upgrade.Target{Status: upgrade.TargetFailed, FailureReason: "disk full"})
	assert.Equal(t, "Failed: disk full", msg)
	assert.Equal(t, goterm.RED, color)

	msg, _ = TargetStatusString(upgrade.Target{Status: upgrade.TargetPending})
	assert.Equal(t, "Pending", msg)
}

func TestJobStatusString(t *testing.T) {
	for _, status := range []upgrade.JobStatus{
		upgrade.JobDiff, upgrade.JobNoDiff, upgrade.JobRunning, upgrade.JobSuccess,
		upgrade.JobFail, upgrade.JobBatchFail, upgrade.JobPause, upgrade.JobStop,
	} {
		msg, _ := JobStatusString(status)
		assert.NotEqual(t, "Unknown", msg, string(status))
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	pp := NewProgressPrinter(&out, "Computing plan")
	go pp.Run()
	pp.Stop()
	assert.True(t, strings.HasPrefix(out.String(), "Computing plan  "))
}
