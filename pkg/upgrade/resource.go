package upgrade

import (
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/kelda/wavectl/pkg/errors"
)

// Labels and names shared by the upgrade job and its resources.
const (
	TypeLabel     = "app.kubernetes.io/name"
	JobTypeValue  = "juicefs-job"
	ConfigType    = "juicefs-conf"
	KindLabel     = "juicefs-job-kind"
	KindValue     = "juicefs-upgrade"
	JobNameLabel  = "juicefs-job-name"
	ConfigLabel   = "juicefs-upgrade-config"
	ConfigKey     = "upgrade"
	ContainerName = "juicefs-upgrade"
)

// ErrJobNotFound is returned by sources when the job doesn't exist, for
// example because it was deleted while being watched.
var ErrJobNotFound = errors.NewFriendlyError("upgrade job not found")

// ConfigName returns the name of the ConfigMap that holds a job's batch
// config.
func ConfigName(job string) string {
	return fmt.Sprintf("%s-config", job)
}

// NewJobResource combines the counters of a Kubernetes job with the status
// recorded in its batch config.
func NewJobResource(job *batchv1.Job, status ServerStatus) JobResource {
	res := JobResource{Status: status}
	if job != nil {
		res.Succeeded = job.Status.Succeeded
		res.Failed = job.Status.Failed
		res.Active = job.Status.Active
	}
	return res
}

// IsUpgradeJob returns whether the labels identify an upgrade job.
func IsUpgradeJob(labels map[string]string) bool {
	return labels[TypeLabel] == JobTypeValue && labels[KindLabel] == KindValue
}

// PodLabels returns the labels of the pod that runs the given job.
func PodLabels(job string) map[string]string {
	return map[string]string{
		TypeLabel:    JobTypeValue,
		KindLabel:    KindValue,
		JobNameLabel: job,
	}
}

// Job is an upgrade job as reported by the server.
type Job struct {
	Name      string
	Namespace string
	Created   time.Time
	Resource  JobResource
	Plan      Plan
}

// NewJob describes a Kubernetes job that executes the given plan.
func NewJob(job *batchv1.Job, plan Plan) Job {
	info := Job{
		Resource: NewJobResource(job, plan.Status),
		Plan:     plan,
	}
	if job != nil {
		info.Name = job.Name
		info.Namespace = job.Namespace
		info.Created = job.CreationTimestamp.Time
	}
	return info
}

// ListOptions page through upgrade jobs. Pages start at 1.
type ListOptions struct {
	PageSize  int
	Page      int
	Ascending bool
	Name      string
}

// Defaults fills in the page and page size if they're unset.
func (opts ListOptions) Defaults() ListOptions {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	return opts
}
