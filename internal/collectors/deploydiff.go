package collectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/aiopscore/remediator/internal/domain"
)

// DeployDiffCollector fetches rollout history for the affected workload and
// diffs image tag / config hash between the current and prior ReplicaSet,
// flagging revisions within deployLookback.
type DeployDiffCollector struct {
	client         kubernetes.Interface
	deployLookback time.Duration
}

// NewDeployDiffCollector constructs a DeployDiffCollector.
func NewDeployDiffCollector(client kubernetes.Interface, deployLookback time.Duration) *DeployDiffCollector {
	return &DeployDiffCollector{client: client, deployLookback: deployLookback}
}

func (c *DeployDiffCollector) Name() string { return "deploy-diff" }

func (c *DeployDiffCollector) Collect(ctx context.Context, incident IncidentContext, window domain.TimeWindow) ([]domain.Evidence, error) {
	rsList, err := c.client.AppsV1().ReplicaSets(incident.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + incident.Service,
	})
	if err != nil {
		return nil, nil // permanent/transient upstream error: swallow, report nothing
	}
	if len(rsList.Items) < 1 {
		return nil, nil
	}

	sorted := rsList.Items
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreationTimestamp.After(sorted[j].CreationTimestamp.Time)
	})

	current := sorted[0]
	recent := time.Since(current.CreationTimestamp.Time) <= c.deployLookback

	payload := domain.DeployHistoryPayload{
		CurrentRevision:   current.Annotations["deployment.kubernetes.io/revision"],
		RevisionCreatedAt: current.CreationTimestamp.Time,
		CurrentImage:      firstImage(current),
	}

	strength := SignalInformational
	if len(sorted) > 1 {
		prior := sorted[1]
		payload.PriorRevision = prior.Annotations["deployment.kubernetes.io/revision"]
		payload.PriorImage = firstImage(prior)
		payload.ImageChanged = imagesDiffer(payload.CurrentImage, payload.PriorImage)
		payload.ConfigHashChanged = configHash(current) != configHash(prior)

		if recent && (payload.ImageChanged || payload.ConfigHashChanged) {
			strength = SignalRecentDeployCrash
		}
	}

	return []domain.Evidence{{
		EvidenceType:    domain.EvidenceDeployHistory,
		Source:          domain.SourceDeploy,
		EntityName:      incident.Service,
		EntityNamespace: incident.Namespace,
		Data:            payload,
		SignalStrength:  strength,
		CollectedAt:     time.Now(),
		TimeWindow:      window,
	}}, nil
}

func firstImage(rs appsv1.ReplicaSet) string {
	if len(rs.Spec.Template.Spec.Containers) == 0 {
		return ""
	}
	return rs.Spec.Template.Spec.Containers[0].Image
}

// imagesDiffer compares two image references by repository+tag/digest,
// tolerating registry-qualified vs. short forms.
func imagesDiffer(a, b string) bool {
	if a == b {
		return false
	}
	refA, errA := name.ParseReference(a)
	refB, errB := name.ParseReference(b)
	if errA != nil || errB != nil {
		return a != b
	}
	return refA.Name() != refB.Name()
}

// configHash fingerprints the fields that change independent of the image,
// so a config-only rollout (env vars, resource limits) is distinguishable
// from an image rollout.
func configHash(rs appsv1.ReplicaSet) string {
	h := sha256.New()
	for _, c := range rs.Spec.Template.Spec.Containers {
		h.Write([]byte(c.Name))
		for _, e := range c.Env {
			h.Write([]byte(e.Name + "=" + e.Value))
		}
		h.Write([]byte(c.Resources.Limits.Cpu().String()))
		h.Write([]byte(c.Resources.Limits.Memory().String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
