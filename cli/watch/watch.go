package watch

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/reconcile"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "watch JOB",
		Short: "Follow the progress of a running upgrade job",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(cfg, args[0]); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}
}

func run(cfg config.Config, jobName string) error {
	backend, err := cfg.Backend()
	if err != nil {
		return err
	}

	ctx, cancel := util.SignalContext()
	defer cancel()

	job, err := backend.GetJob(ctx, jobName)
	if err != nil {
		return err
	}

	session := reconcile.New(backend, reconcile.Options{PollInterval: cfg.Poll()})
	defer session.Close()

	// The first poll replaces the assumed running status with the job's
	// actual one.
	if err := session.Start(job.Name, job.Plan); err != nil {
		return errors.WithContext("start session", err)
	}

	snap := Follow(ctx, session, os.Stdout, util.IsTerminal())
	if ctx.Err() != nil {
		log.Debug("Interrupted")
		fmt.Printf("Stopped watching. The job keeps running, see `wavectl watch %s`.\n", job.Name)
		return nil
	}
	return Summary(os.Stdout, snap)
}

func newJobFailedError(job, msg string) error {
	return errors.NewFriendlyError("Upgrade job %s ended with status %q. Run `wavectl logs %s` for details.",
		job, msg, job)
}
