package domain

import "time"

// EvidenceType names the shape of Evidence.Data; see TypedPayload below.
type EvidenceType string

const (
	EvidencePodState        EvidenceType = "pod_state"
	EvidenceContainerState  EvidenceType = "container_state"
	EvidenceDeployHistory   EvidenceType = "deploy_history"
	EvidenceLogsPattern     EvidenceType = "logs_pattern"
	EvidenceMetricSample    EvidenceType = "metric_sample"
	EvidenceNodeState       EvidenceType = "node_state"
	EvidenceHPAState        EvidenceType = "hpa_state"
	EvidenceEvents          EvidenceType = "events"
)

// EvidenceSource names the collector variant that produced an Evidence
// record.
type EvidenceSource string

const (
	SourceK8s     EvidenceSource = "k8s"
	SourceLogs    EvidenceSource = "logs"
	SourceMetrics EvidenceSource = "metrics"
	SourceDeploy  EvidenceSource = "deploy"
)

// TimeWindow bounds the observation interval for a piece of evidence or a
// collection request.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// TypedPayload is implemented by every per-evidence-type data struct below.
// It exists so Evidence.Data stays a tagged variant instead of an untyped
// bag.
type TypedPayload interface {
	EvidenceType() EvidenceType
}

// Evidence is a single observation relevant to an incident. SignalStrength
// is assigned once, by the collector, and is never mutated downstream.
type Evidence struct {
	ID               string
	IncidentID       string
	EvidenceType     EvidenceType
	Source           EvidenceSource
	EntityName       string
	EntityNamespace  string
	Data             TypedPayload
	SignalStrength   float64
	CollectedAt      time.Time
	TimeWindow       TimeWindow
	Partial          bool
}

// PodStatePayload captures the per-container waiting/terminated reasons and
// restart counts the cluster-state collector extracts from a Pod.
type PodStatePayload struct {
	PodName         string
	RestartCount    int32
	Ready           bool
	WaitingReasons  []string // e.g. CrashLoopBackOff, ImagePullBackOff
	TerminatedReasons []string // e.g. OOMKilled
}

func (PodStatePayload) EvidenceType() EvidenceType { return EvidencePodState }

// NodeStatePayload captures node condition flags.
type NodeStatePayload struct {
	NodeName       string
	Ready          bool
	DiskPressure   bool
	MemoryPressure bool
	PIDPressure    bool
}

func (NodeStatePayload) EvidenceType() EvidenceType { return EvidenceNodeState }

// HPAStatePayload captures horizontal pod autoscaler saturation.
type HPAStatePayload struct {
	Name            string
	CurrentReplicas int32
	MaxReplicas     int32
}

// AtMax reports whether the HPA is saturated.
func (h HPAStatePayload) AtMax() bool { return h.CurrentReplicas >= h.MaxReplicas }

func (HPAStatePayload) EvidenceType() EvidenceType { return EvidenceHPAState }

// EventsPayload captures filtered Kubernetes events relevant to triage.
type EventsPayload struct {
	Reasons []string // e.g. FailedScheduling, BackOff, Unhealthy, FailedMount
	Count   int
}

func (EventsPayload) EvidenceType() EvidenceType { return EvidenceEvents }

// DeployHistoryPayload captures the deploy-diff collector's comparison
// between the current and prior ReplicaSet of a workload.
type DeployHistoryPayload struct {
	CurrentRevision   string
	PriorRevision      string
	RevisionCreatedAt  time.Time
	ImageChanged       bool
	PriorImage         string
	CurrentImage       string
	ConfigHashChanged  bool
}

func (DeployHistoryPayload) EvidenceType() EvidenceType { return EvidenceDeployHistory }

// LogsPatternPayload captures the logs collector's regex-class match
// counts over the requested time window, plus sampled stack traces.
type LogsPatternPayload struct {
	MatchesPerMinute map[string]float64 // class -> rate, e.g. "error", "oom", "5xx"
	Samples          []string
}

func (LogsPatternPayload) EvidenceType() EvidenceType { return EvidenceLogsPattern }

// MetricSamplePayload captures one evaluated PromQL-family query.
type MetricSamplePayload struct {
	Query string
	Value float64
}

func (MetricSamplePayload) EvidenceType() EvidenceType { return EvidenceMetricSample }

// ContainerStatePayload captures a single container's waiting/terminated
// reason, distinct from PodStatePayload when a collector wants
// per-container granularity.
type ContainerStatePayload struct {
	ContainerName    string
	WaitingReason    string
	TerminatedReason string
}

func (ContainerStatePayload) EvidenceType() EvidenceType { return EvidenceContainerState }
