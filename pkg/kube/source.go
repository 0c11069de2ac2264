package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/reconcile"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// DefaultPodTimeout is how long StreamLogs waits for the job's pod to start.
const DefaultPodTimeout = 2 * time.Minute

// JobSource reads upgrade jobs directly from the cluster, without going
// through the dashboard.
type JobSource struct {
	client     kubernetes.Interface
	restConfig *rest.Config
	namespace  string

	// PodTimeout bounds how long StreamLogs waits for the job's pod to leave
	// Pending.
	PodTimeout time.Duration

	// exec runs a command in the upgrade container of the pod.
	exec func(ctx context.Context, pod *corev1.Pod, command []string) error
}

// NewJobSource returns a JobSource for jobs in the given namespace.
func NewJobSource(client kubernetes.Interface, restConfig *rest.Config, namespace string) *JobSource {
	s := &JobSource{
		client:     client,
		restConfig: restConfig,
		namespace:  namespace,
		PodTimeout: DefaultPodTimeout,
	}
	s.exec = s.execInPod
	return s
}

// GetJob returns the job and the plan stored in its batch config.
func (s *JobSource) GetJob(ctx context.Context, name string) (upgrade.Job, error) {
	job, err := s.client.BatchV1().Jobs(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			return upgrade.Job{}, errors.WithContext(
				fmt.Sprintf("get job %s/%s", s.namespace, name), upgrade.ErrJobNotFound)
		}
		return upgrade.Job{}, errors.WithContext("get job", err)
	}

	plan, err := s.getPlan(ctx, job)
	if err != nil {
		return upgrade.Job{}, err
	}
	return upgrade.NewJob(job, plan), nil
}

// PollJob implements reconcile.Source.
func (s *JobSource) PollJob(ctx context.Context, name string) (upgrade.JobResource, error) {
	job, err := s.GetJob(ctx, name)
	if err != nil {
		return upgrade.JobResource{}, err
	}
	return job.Resource, nil
}

// ListJobs returns one page of the upgrade jobs whose name contains
// opts.Name, along with the number of matching jobs. Jobs are sorted by
// creation time, newest first unless opts.Ascending is set.
func (s *JobSource) ListJobs(ctx context.Context, opts upgrade.ListOptions) ([]upgrade.Job, int, error) {
	opts = opts.Defaults()

	jobList, err := s.client.BatchV1().Jobs(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.Set{
			upgrade.TypeLabel: upgrade.JobTypeValue,
			upgrade.KindLabel: upgrade.KindValue,
		}.AsSelector().String(),
	})
	if err != nil {
		return nil, 0, errors.WithContext("list jobs", err)
	}

	configList, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.Set{upgrade.TypeLabel: upgrade.ConfigType}.AsSelector().String(),
	})
	if err != nil {
		return nil, 0, errors.WithContext("list batch configs", err)
	}
	configs := map[string]*corev1.ConfigMap{}
	for i := range configList.Items {
		configs[configList.Items[i].Name] = &configList.Items[i]
	}

	var jobs []upgrade.Job
	for i := range jobList.Items {
		job := &jobList.Items[i]
		if !strings.Contains(job.Name, opts.Name) {
			continue
		}

		var plan upgrade.Plan
		if cm, ok := configs[configName(job)]; ok {
			plan, err = parseBatchConfig(cm)
			if err != nil {
				log.WithError(err).WithField("job", job.Name).Warn("Ignoring invalid batch config")
			}
		}
		jobs = append(jobs, upgrade.NewJob(job, plan))
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if opts.Ascending {
			return jobs[i].Created.Before(jobs[j].Created)
		}
		return jobs[i].Created.After(jobs[j].Created)
	})

	total := len(jobs)
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	return jobs[start:end], total, nil
}

// StreamLogs waits for the job's pod to start and then follows its log. It
// implements reconcile.Source.
func (s *JobSource) StreamLogs(ctx context.Context, name string) (reconcile.LogStream, error) {
	pod, err := s.waitForPod(ctx, name)
	if err != nil {
		return nil, err
	}

	stream, err := s.client.CoreV1().Pods(pod.Namespace).
		GetLogs(pod.Name, &corev1.PodLogOptions{
			Container: upgrade.ContainerName,
			Follow:    true,
		}).
		Stream(ctx)
	if err != nil {
		return nil, errors.WithContext("stream logs", err)
	}
	return newReaderStream(stream), nil
}

// GetJobLog returns everything the job's pod has logged so far.
func (s *JobSource) GetJobLog(ctx context.Context, name string) (string, error) {
	pod, err := s.jobPod(ctx, name)
	if err != nil {
		return "", err
	}

	logs, err := s.client.CoreV1().Pods(pod.Namespace).
		GetLogs(pod.Name, &corev1.PodLogOptions{Container: upgrade.ContainerName}).
		DoRaw(ctx)
	if err != nil {
		return "", errors.WithContext("get logs", err)
	}
	return string(logs), nil
}

// UpdateJob signals the upgrade process. Pausing and resuming both toggle
// with SIGUSR1, and stopping sends SIGTERM.
func (s *JobSource) UpdateJob(ctx context.Context, name string, action upgrade.Action) error {
	pod, err := s.jobPod(ctx, name)
	if err != nil {
		return err
	}

	signal := "-SIGUSR1"
	if action == upgrade.ActionStop {
		signal = "-SIGTERM"
	}
	if err := s.exec(ctx, pod, []string{"kill", signal, "1"}); err != nil {
		return errors.WithContext(string(action)+" job", err)
	}
	return nil
}

// DeleteJob deletes the job and waits for it to be gone.
func (s *JobSource) DeleteJob(ctx context.Context, name string) error {
	return DeleteJob(ctx, s.client, s.namespace, name)
}

func (s *JobSource) getPlan(ctx context.Context, job *batchv1.Job) (upgrade.Plan, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, configName(job), metav1.GetOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			// The job may still be starting up. Its counters are still useful.
			log.WithField("job", job.Name).Debug("Batch config not found")
			return upgrade.Plan{}, nil
		}
		return upgrade.Plan{}, errors.WithContext("get batch config", err)
	}
	return parseBatchConfig(cm)
}

func (s *JobSource) jobPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pod, err := getJobPod(ctx, s.client, s.namespace, name)
	if err != nil {
		return nil, errors.WithContext("get job pod", err)
	}
	if pod == nil {
		return nil, errors.NewFriendlyError("upgrade job %q has no pod", name)
	}
	return pod, nil
}

func (s *JobSource) waitForPod(ctx context.Context, name string) (*corev1.Pod, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.PodTimeout)
	defer cancel()

	var pod *corev1.Pod
	err := WaitForObject(waitCtx,
		JobPodGetter(s.client, s.namespace, name),
		JobPodWatcher(s.client, s.namespace, name),
		func(obj interface{}) bool {
			pod = obj.(*corev1.Pod)
			return pod != nil && pod.Status.Phase != corev1.PodPending
		})
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.NewFriendlyError(
				"The pod of upgrade job %q didn't start within %s. Check the job in namespace %s.",
				name, s.PodTimeout, s.namespace)
		}
		return nil, errors.WithContext("wait for job pod", err)
	}
	return pod, nil
}

func (s *JobSource) execInPod(ctx context.Context, pod *corev1.Pod, command []string) error {
	req := s.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Command:   command,
		Container: upgrade.ContainerName,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(s.restConfig, "POST", req.URL())
	if err != nil {
		return errors.WithContext("create executor", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"pod":    pod.Name,
			"stdout": strings.TrimSpace(stdout.String()),
			"stderr": strings.TrimSpace(stderr.String()),
		}).Debug("Exec failed")
		return errors.WithContext("exec", err)
	}
	return nil
}

func configName(job *batchv1.Job) string {
	if name := job.Labels[upgrade.ConfigLabel]; name != "" {
		return name
	}
	return upgrade.ConfigName(job.Name)
}

func parseBatchConfig(cm *corev1.ConfigMap) (upgrade.Plan, error) {
	var plan upgrade.Plan
	data, ok := cm.Data[upgrade.ConfigKey]
	if !ok {
		return plan, errors.New("config map %s has no %q key", cm.Name, upgrade.ConfigKey)
	}
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return upgrade.Plan{}, errors.WithContext("parse batch config", err)
	}
	return plan, nil
}

// readerStream adapts a log body to reconcile.LogStream.
type readerStream struct {
	body io.ReadCloser
	buf  []byte
	err  error
}

func newReaderStream(body io.ReadCloser) *readerStream {
	return &readerStream{body: body, buf: make([]byte, 32*1024)}
}

func (rs *readerStream) Recv() (string, error) {
	for rs.err == nil {
		var n int
		n, rs.err = rs.body.Read(rs.buf)
		if n > 0 {
			return string(rs.buf[:n]), nil
		}
	}

	if rs.err == io.EOF {
		return "", errors.ErrStreamClosed
	}
	return "", errors.WithContext("read logs", rs.err)
}

func (rs *readerStream) Close() error {
	return rs.body.Close()
}
