package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

const (
	planPath = "/api/v1/batch/upgrade/plan"
	jobsPath = "/api/v1/batch/upgrade/jobs"
	wsPath   = "/api/v1/ws/batch/upgrade/jobs"
)

// PlanOptions select the mount pods to upgrade.
type PlanOptions struct {
	Node        string
	UniqueID    string
	Worker      int
	IgnoreError bool
	Recreate    bool
}

// jobResponse is a job and its batch config as served by the dashboard.
type jobResponse struct {
	Job    *batchv1.Job  `json:"job"`
	Config *upgrade.Plan `json:"config"`
	Diffs  []podDiff     `json:"diffs,omitempty"`
}

// podDiff is the configuration change of a single mount pod.
type podDiff struct {
	Pod       corev1.Pod      `json:"pod"`
	OldConfig json.RawMessage `json:"oldConfig"`
	NewConfig json.RawMessage `json:"newConfig"`
}

func (resp jobResponse) name() string {
	if resp.Job == nil {
		return ""
	}
	return resp.Job.Name
}

// toJob converts the response, attaching the diffs to their targets.
func (resp jobResponse) toJob() upgrade.Job {
	var plan upgrade.Plan
	if resp.Config != nil {
		plan = *resp.Config
	}

	if len(resp.Diffs) != 0 {
		plan.Diffs = map[string]upgrade.Diff{}
		for _, diff := range resp.Diffs {
			plan.Diffs[diff.Pod.Name] = upgrade.Diff{Old: diff.OldConfig, New: diff.NewConfig}
		}
	}
	return upgrade.NewJob(resp.Job, plan)
}

type listResponse struct {
	Total int           `json:"total"`
	Jobs  []jobResponse `json:"jobs"`
}

// GetPlan asks the dashboard which mount pods need upgrading, and how they
// should be split into waves.
func (c *Client) GetPlan(ctx context.Context, opts PlanOptions) (upgrade.Plan, error) {
	query := url.Values{}
	if opts.Node != "" {
		query.Set("nodeName", opts.Node)
	}
	if opts.UniqueID != "" {
		query.Set("uniqueId", opts.UniqueID)
	}
	if opts.Worker > 0 {
		query.Set("worker", strconv.Itoa(opts.Worker))
	}
	query.Set("ignoreError", strconv.FormatBool(opts.IgnoreError))
	query.Set("recreate", strconv.FormatBool(opts.Recreate))

	var plan upgrade.Plan
	if err := c.do(ctx, http.MethodGet, planPath, query, nil, &plan); err != nil {
		return upgrade.Plan{}, errors.WithContext("get plan", err)
	}
	return plan, nil
}

// SubmitJob creates an upgrade job running the plan and returns its name.
// If name is empty, the dashboard picks one. Submitting a name that already
// exists returns the existing job.
func (c *Client) SubmitJob(ctx context.Context, name string, plan upgrade.Plan) (string, error) {
	req := struct {
		BatchConfig upgrade.Plan `json:"batchConfig"`
		JobName     string       `json:"jobName,omitempty"`
	}{plan, name}

	var resp struct {
		JobName string `json:"jobName"`
	}
	if err := c.do(ctx, http.MethodPost, jobsPath, nil, req, &resp); err != nil {
		return "", errors.WithContext("submit job", err)
	}
	if resp.JobName == "" {
		return "", errors.New("dashboard didn't return a job name")
	}
	return resp.JobName, nil
}

// GetJob returns a job with its plan. The plan's diffs are populated.
func (c *Client) GetJob(ctx context.Context, name string) (upgrade.Job, error) {
	resp, err := c.getJob(ctx, name)
	if err != nil {
		return upgrade.Job{}, errors.WithContext("get job", err)
	}
	return resp.toJob(), nil
}

func (c *Client) getJob(ctx context.Context, name string) (jobResponse, error) {
	var resp jobResponse
	if err := c.do(ctx, http.MethodGet, jobPath(name), nil, nil, &resp); err != nil {
		return jobResponse{}, err
	}

	// The dashboard answers with an empty job rather than a 404.
	if resp.name() == "" {
		return jobResponse{}, ErrNotFound
	}
	return resp, nil
}

// ListJobs returns one page of upgrade jobs, newest first unless
// opts.Ascending is set, along with the total number of matching jobs.
func (c *Client) ListJobs(ctx context.Context, opts upgrade.ListOptions) ([]upgrade.Job, int, error) {
	opts = opts.Defaults()

	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(opts.PageSize))
	query.Set("current", strconv.Itoa(opts.Page))
	if opts.Ascending {
		query.Set("order", "ascend")
	} else {
		query.Set("order", "descend")
	}
	if opts.Name != "" {
		query.Set("name", opts.Name)
	}

	var list listResponse
	if err := c.do(ctx, http.MethodGet, jobsPath, query, nil, &list); err != nil {
		return nil, 0, errors.WithContext("list jobs", err)
	}

	jobs := make([]upgrade.Job, 0, len(list.Jobs))
	for _, resp := range list.Jobs {
		jobs = append(jobs, resp.toJob())
	}
	return jobs, list.Total, nil
}

// UpdateJob pauses, resumes or stops a running job.
func (c *Client) UpdateJob(ctx context.Context, name string, action upgrade.Action) error {
	req := struct {
		Action upgrade.Action `json:"action"`
	}{action}
	if err := c.do(ctx, http.MethodPut, jobPath(name), nil, req, nil); err != nil {
		return errors.WithContext(string(action)+" job", err)
	}
	return nil
}

// DeleteJob deletes a job. Deleting a job that doesn't exist succeeds.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, jobPath(name), nil, nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return errors.WithContext("delete job", err)
	}
	return nil
}

// GetJobLog returns everything the job has logged so far.
func (c *Client) GetJobLog(ctx context.Context, name string) (string, error) {
	body, err := c.doRaw(ctx, http.MethodGet, jobPath(name)+"/logs", nil, nil)
	if err != nil {
		return "", errors.WithContext("get job log", err)
	}
	return string(body), nil
}

// PollJob implements reconcile.Source.
func (c *Client) PollJob(ctx context.Context, name string) (upgrade.JobResource, error) {
	resp, err := c.getJob(ctx, name)
	if err != nil {
		return upgrade.JobResource{}, errors.WithContext("poll job", err)
	}
	return resp.toJob().Resource, nil
}

func jobPath(name string) string {
	return jobsPath + "/" + url.PathEscape(name)
}
