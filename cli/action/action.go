// Package action implements the commands that change the state of a running
// upgrade job.
package action

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// NewPause returns the pause command.
func NewPause() *cobra.Command {
	return newCommand(upgrade.ActionPause, "Pause an upgrade job after the current wave", "Paused")
}

// NewResume returns the resume command.
func NewResume() *cobra.Command {
	return newCommand(upgrade.ActionResume, "Resume a paused upgrade job", "Resumed")
}

// NewStop returns the stop command.
func NewStop() *cobra.Command {
	return newCommand(upgrade.ActionStop, "Stop an upgrade job. Pods that haven't started are not upgraded", "Stopped")
}

func newCommand(action upgrade.Action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s JOB", action),
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			backend, err := cfg.Backend()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(context.Background(), backend, args[0], action); err != nil {
				errors.HandleFatalError(err)
			}
			fmt.Printf("%s upgrade job %s.\n", done, args[0])
		},
	}
}

type updater interface {
	GetJob(ctx context.Context, name string) (upgrade.Job, error)
	UpdateJob(ctx context.Context, name string, action upgrade.Action) error
}

func run(ctx context.Context, backend updater, name string, action upgrade.Action) error {
	job, err := backend.GetJob(ctx, name)
	if err != nil {
		return err
	}

	if err := checkAllowed(job.Resource, action); err != nil {
		return err
	}
	return backend.UpdateJob(ctx, name, action)
}

// checkAllowed rejects actions that can't affect the job in its current
// state.
func checkAllowed(res upgrade.JobResource, action upgrade.Action) error {
	switch res.Status {
	case upgrade.ServerSuccess, upgrade.ServerFail, upgrade.ServerStop:
		return errors.NewFriendlyError("The job already finished with status %q.", res.Status)
	}

	switch {
	case action == upgrade.ActionPause && res.Status == upgrade.ServerPause:
		return errors.NewFriendlyError("The job is already paused.")
	case action == upgrade.ActionResume && res.Status != upgrade.ServerPause:
		return errors.NewFriendlyError("The job isn't paused.")
	}
	return nil
}
