package kube

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

// pollInterval bounds how long WaitForObject goes without checking, in case
// the watch misses an event.
var pollInterval = 2 * time.Second

// WaitForObject blocks until validator accepts the object returned by
// objectGetter, or until the context is done. The watch is only used as a
// hint to check again early.
func WaitForObject(
	ctx context.Context,
	objectGetter func(context.Context) (interface{}, error),
	watchFn func(context.Context, metav1.ListOptions) (watch.Interface, error),
	validator func(interface{}) bool) error {

	watcher, err := watchFn(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.WithContext("watch", err)
	}
	defer watcher.Stop()

	watcherChan := watcher.ResultChan()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		obj, err := objectGetter(ctx)
		if err != nil {
			return errors.WithContext("get", err)
		}

		if validator(obj) {
			return nil
		}

		select {
		case <-watcherChan:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// JobPodGetter returns the pod running the given upgrade job, or a nil
// *corev1.Pod if it doesn't exist yet.
func JobPodGetter(kubeClient kubernetes.Interface, namespace, job string) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		return getJobPod(ctx, kubeClient, namespace, job)
	}
}

// JobPodWatcher watches the pods of the given upgrade job.
func JobPodWatcher(kubeClient kubernetes.Interface, namespace, job string) func(context.Context, metav1.ListOptions) (watch.Interface, error) {
	return func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
		opts.LabelSelector = jobPodSelector(job)
		return kubeClient.CoreV1().Pods(namespace).Watch(ctx, opts)
	}
}

func getJobPod(ctx context.Context, kubeClient kubernetes.Interface, namespace, job string) (*corev1.Pod, error) {
	pods, err := kubeClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: jobPodSelector(job),
	})
	if err != nil {
		return nil, err
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	return &pods.Items[0], nil
}

func jobPodSelector(job string) string {
	return labels.Set(upgrade.PodLabels(job)).AsSelector().String()
}
