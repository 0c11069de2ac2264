package upgrade

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/cli/plan"
	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/cli/watch"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/names"
	"github.com/kelda/wavectl/pkg/reconcile"
	upgradeTypes "github.com/kelda/wavectl/pkg/upgrade"
)

const stopTimeout = 10 * time.Second

type options struct {
	plan            plan.Flags
	name            string
	detach          bool
	stopOnInterrupt bool
}

func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade mount pods in waves and follow the progress",
		Long: "Upgrade computes a plan, submits an upgrade job that executes it, " +
			"and shows the status of every mount pod until the job finishes.",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.GetConfig()
			if err != nil {
				errors.HandleFatalError(err)
			}

			if err := run(cfg, opts); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}
	opts.plan.Register(cmd)
	cmd.Flags().StringVar(&opts.name, "name", "",
		"The name of the upgrade job. A random name is generated by default.")
	cmd.Flags().BoolVarP(&opts.detach, "detach", "d", false,
		"Submit the job and exit without following it.")
	cmd.Flags().BoolVar(&opts.stopOnInterrupt, "stop-on-interrupt", false,
		"Stop the upgrade job when the command is interrupted.")
	return cmd
}

func run(cfg config.Config, opts options) error {
	planOpts, err := opts.plan.Options()
	if err != nil {
		return err
	}

	client, err := cfg.Dashboard()
	if err != nil {
		return err
	}

	backend, err := cfg.Backend()
	if err != nil {
		return err
	}

	ctx, cancel := util.SignalContext()
	defer cancel()

	upgradePlan, err := plan.Get(ctx, client, planOpts)
	if err != nil {
		return err
	}

	session := reconcile.New(backend, reconcile.Options{PollInterval: cfg.Poll()})
	defer session.Close()

	if err := session.Load(upgradePlan); err != nil {
		return errors.WithContext("load plan", err)
	}
	if !session.Snapshot().CanStart {
		fmt.Println("All mount pods are up to date.")
		return nil
	}

	jobName, err := client.SubmitJob(ctx, names.JobName(opts.name), upgradePlan)
	if err != nil {
		return err
	}
	log.WithField("job", jobName).Debug("Submitted upgrade job")

	if opts.detach {
		fmt.Printf("Submitted upgrade job %s. Run `wavectl watch %s` to follow it.\n", jobName, jobName)
		return nil
	}

	if err := session.Start(jobName, upgradePlan); err != nil {
		return errors.WithContext("start session", err)
	}

	snap, err := follow(ctx, backend, session, jobName, opts.stopOnInterrupt)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		if opts.stopOnInterrupt {
			fmt.Printf("Stopped upgrade job %s.\n", jobName)
		} else {
			fmt.Printf("Stopped watching. The job keeps running, see `wavectl watch %s`.\n", jobName)
		}
		return nil
	}
	return watch.Summary(os.Stdout, snap)
}

// follow prints the session until the job finishes or ctx is cancelled. If
// stopOnInterrupt is set, cancelling ctx also stops the job.
func follow(ctx context.Context, backend config.Backend, session *reconcile.Session,
	jobName string, stopOnInterrupt bool) (reconcile.Snapshot, error) {

	var snap reconcile.Snapshot
	followDone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(followDone)
		snap = watch.Follow(ctx, session, os.Stdout, util.IsTerminal())
		return nil
	})
	g.Go(func() error {
		select {
		case <-followDone:
			return nil
		case <-ctx.Done():
		}

		if !stopOnInterrupt {
			return nil
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := backend.UpdateJob(stopCtx, jobName, upgradeTypes.ActionStop); err != nil {
			return errors.WithContext("stop job", err)
		}
		return nil
	})

	err := g.Wait()
	return snap, err
}
