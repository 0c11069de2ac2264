package kube

import (
	"context"
	"time"

	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kelda/wavectl/pkg/errors"
)

// DeleteJob deletes the job along with its pod, and waits for it to
// disappear. The job's batch config is owned by the job, so it's garbage
// collected as well.
func DeleteJob(ctx context.Context, kubeClient kubernetes.Interface, namespace, name string) error {
	jobClient := kubeClient.BatchV1().Jobs(namespace)
	propagation := metav1.DeletePropagationBackground
	err := jobClient.Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	switch {
	case kerrors.IsNotFound(err):
		return nil
	case err != nil:
		return errors.WithContext("delete job", err)
	}

	jobWatcher, err := jobClient.Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.WithContext("watch jobs", err)
	}
	defer jobWatcher.Stop()
	watcherChan := jobWatcher.ResultChan()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		_, err := jobClient.Get(ctx, name, metav1.GetOptions{})
		switch {
		case kerrors.IsNotFound(err):
			return nil
		case err != nil:
			return errors.WithContext("get job", err)
		}

		select {
		case <-ticker.C:
		case <-watcherChan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
