package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/aiopscore/remediator/internal/domain"
)

// builtinOperations wires every supported remediation action to its
// concrete Kubernetes API call.
func builtinOperations() map[domain.ActionType]Operation {
	return map[domain.ActionType]Operation{
		domain.ActionRestartPod:         restartPod,
		domain.ActionDeletePod:          deletePod,
		domain.ActionRestartDeployment:  restartDeployment,
		domain.ActionRollbackDeployment: rollbackDeployment,
		domain.ActionScaleReplicas:      scaleReplicas,
		domain.ActionCordonNode:         cordonNode,
		domain.ActionUncordonNode:       uncordonNode,
	}
}

func restartPod(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	return deletePod(ctx, client, action)
}

// deletePod removes the target pod; the owning ReplicaSet recreates it.
// Deleting an already-absent pod returns the API's NotFound error.
func deletePod(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	err := client.CoreV1().Pods(action.TargetNamespace).Delete(ctx, action.TargetResource, metav1.DeleteOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted pod %s/%s", action.TargetNamespace, action.TargetResource), nil
}

// restartDeployment patches a rollout-restart annotation, matching kubectl's
// own restart mechanism so it composes with existing rollout tooling.
func restartDeployment(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	patch := []byte(fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().UTC().Format(time.RFC3339),
	))
	_, err := client.AppsV1().Deployments(action.TargetNamespace).Patch(ctx, action.TargetResource, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("restarted deployment %s/%s", action.TargetNamespace, action.TargetResource), nil
}

// rollbackDeployment rolls back to the revision named in
// action.Parameters["prior_revision"], or the immediately preceding
// ReplicaSet if unset.
func rollbackDeployment(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	deploy, err := client.AppsV1().Deployments(action.TargetNamespace).Get(ctx, action.TargetResource, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	rsList, err := client.AppsV1().ReplicaSets(action.TargetNamespace).List(ctx, metav1.ListOptions{
		LabelSelector: metav1.FormatLabelSelector(deploy.Spec.Selector),
	})
	if err != nil {
		return "", err
	}

	target := action.Parameters["prior_revision"]
	if target == "" {
		latest, prior := 0, 0
		for _, rs := range rsList.Items {
			rev, _ := strconv.Atoi(rs.Annotations["deployment.kubernetes.io/revision"])
			if rev > latest {
				latest, prior = rev, latest
			} else if rev > prior && rev < latest {
				prior = rev
			}
		}
		target = strconv.Itoa(prior)
	}

	var priorImage string
	for _, rs := range rsList.Items {
		if rs.Annotations["deployment.kubernetes.io/revision"] == target {
			if len(rs.Spec.Template.Spec.Containers) > 0 {
				priorImage = rs.Spec.Template.Spec.Containers[0].Image
			}
			break
		}
	}
	if priorImage == "" {
		return "", fmt.Errorf("rollback_deployment: no prior revision found for %s/%s", action.TargetNamespace, action.TargetResource)
	}
	if len(deploy.Spec.Template.Spec.Containers) == 0 {
		return "", fmt.Errorf("rollback_deployment: deployment %s/%s has no containers", action.TargetNamespace, action.TargetResource)
	}

	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"containers": []map[string]interface{}{
						{"name": deploy.Spec.Template.Spec.Containers[0].Name, "image": priorImage},
					},
				},
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return "", err
	}
	_, err = client.AppsV1().Deployments(action.TargetNamespace).Patch(ctx, action.TargetResource, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rolled back deployment %s/%s to image %s", action.TargetNamespace, action.TargetResource, priorImage), nil
}

func scaleReplicas(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	replicas, err := strconv.Atoi(action.Parameters["replicas"])
	if err != nil {
		return "", fmt.Errorf("scale_replicas: invalid replicas parameter %q: %w", action.Parameters["replicas"], err)
	}

	scale, err := client.AppsV1().Deployments(action.TargetNamespace).GetScale(ctx, action.TargetResource, metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	scale.Spec.Replicas = int32(replicas)
	_, err = client.AppsV1().Deployments(action.TargetNamespace).UpdateScale(ctx, action.TargetResource, scale, metav1.UpdateOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scaled deployment %s/%s to %d replicas", action.TargetNamespace, action.TargetResource, replicas), nil
}

func cordonNode(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	return setUnschedulable(ctx, client, action.TargetResource, true)
}

func uncordonNode(ctx context.Context, client kubernetes.Interface, action domain.RemediationAction) (string, error) {
	return setUnschedulable(ctx, client, action.TargetResource, false)
}

func setUnschedulable(ctx context.Context, client kubernetes.Interface, nodeName string, unschedulable bool) (string, error) {
	node, err := client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	if node.Spec.Unschedulable == unschedulable {
		return fmt.Sprintf("node %s already unschedulable=%t", nodeName, unschedulable), nil
	}
	node.Spec.Unschedulable = unschedulable
	_, err = client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("set node %s unschedulable=%t", nodeName, unschedulable), nil
}
