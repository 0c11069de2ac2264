package logs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kelda/wavectl/cli/config"
	"github.com/kelda/wavectl/cli/util"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/reconcile"
)

type logGetter interface {
	GetJobLog(ctx context.Context, name string) (string, error)
	StreamLogs(ctx context.Context, name string) (reconcile.LogStream, error)
}

func New() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs JOB",
		Short: "Print the output of an upgrade job",
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

			ctx, cancel := util.SignalContext()
			defer cancel()
			if err := run(ctx, backend, os.Stdout, args[0], follow); err != nil {
				errors.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false,
		"Specify if the logs should be streamed.")
	return cmd
}

func run(ctx context.Context, backend logGetter, out io.Writer, name string, follow bool) error {
	if !follow {
		logs, err := backend.GetJobLog(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprint(out, logs)
		return nil
	}

	stream, err := backend.StreamLogs(ctx, name)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		switch {
		case err == io.EOF || errors.IsStreamClosed(err):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return errors.WithContext("read logs", err)
		}
		fmt.Fprint(out, chunk)
	}
}
