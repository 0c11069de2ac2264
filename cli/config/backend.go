package config

import (
	"context"

	"github.com/kelda/wavectl/pkg/dashboard"
	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/kube"
	"github.com/kelda/wavectl/pkg/reconcile"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// Backend is what the commands that operate on existing jobs need. It's
// implemented both by the dashboard client and by the Kubernetes source.
type Backend interface {
	reconcile.Source

	GetJob(ctx context.Context, name string) (upgrade.Job, error)
	ListJobs(ctx context.Context, opts upgrade.ListOptions) ([]upgrade.Job, int, error)
	UpdateJob(ctx context.Context, name string, action upgrade.Action) error
	DeleteJob(ctx context.Context, name string) error
	GetJobLog(ctx context.Context, name string) (string, error)
}

var (
	_ Backend = &dashboard.Client{}
	_ Backend = &kube.JobSource{}
)

// Dashboard returns a client for the configured dashboard. Planning and
// submitting jobs always go through the dashboard.
func (config Config) Dashboard() (*dashboard.Client, error) {
	if config.DashboardURL == "" {
		return nil, errors.NewFriendlyError(
			"No dashboard configured. Set dashboardURL in ~/.wavectl.yaml, or set %s.",
			EnvDashboardURL)
	}
	return dashboard.NewClient(config.DashboardURL, config.Token)
}

// Backend returns the configured backend.
func (config Config) Backend() (Backend, error) {
	if config.Source == SourceKube {
		kubeClient, restConfig, err := kube.GetClient(config.KubeContext)
		if err != nil {
			return nil, errors.WithContext("get kube client", err)
		}
		return kube.NewJobSource(kubeClient, restConfig, config.Namespace), nil
	}
	return config.Dashboard()
}
