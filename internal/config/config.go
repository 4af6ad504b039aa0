// Package config loads and hot-reloads the remediator's YAML configuration.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Environment is the deployment tier; it drives policy thresholds.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Server holds the ambient HTTP surface configuration (health/metrics only).
type Server struct {
	HealthPort  string `yaml:"health_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// Logging configures the process-wide logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Postgres configures the graph/journal/audit store.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Redis configures the dedup/lease store.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LLM configures the optional enrichment backend.
type LLM struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "anthropic" | "bedrock" | ""
	Model    string `yaml:"model"`
}

// Slack configures the approval-channel delivery backend.
type Slack struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
	Token   string `yaml:"token"`
}

// Workflow holds every timing and threshold knob the engine consults.
type Workflow struct {
	Environment                  Environment   `yaml:"environment"`
	CollectionDeadlineTotal      time.Duration `yaml:"collection_deadline_total"`
	CollectionDeadlinePerSource  time.Duration `yaml:"collection_deadline_per_source"`
	VerificationDelay            time.Duration `yaml:"verification_delay"`
	VerificationErrorImprovement float64       `yaml:"verification_error_improvement_ratio"`
	VerificationErrorRateFloor   float64       `yaml:"verification_error_rate_floor"`
	ApprovalTimeout              time.Duration `yaml:"approval_timeout"`
	RetryBudget                  int           `yaml:"retry_budget"`
	DeployLookback                time.Duration `yaml:"deploy_lookback"`
	FreezeHoursStart              int           `yaml:"freeze_hours_start"`
	FreezeHoursEnd                int           `yaml:"freeze_hours_end"`
	ProtectedNamespaces           []string      `yaml:"protected_namespaces"`
	HighRiskActions               []string      `yaml:"high_risk_actions"`
	OverallWorkflowSoftDeadline   time.Duration `yaml:"overall_workflow_soft_deadline"`
}

// Config is the root configuration document.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	LLM      LLM      `yaml:"llm"`
	Slack    Slack    `yaml:"slack"`
	Workflow Workflow `yaml:"workflow"`
}

// Default returns the baseline configuration before any file is merged in.
func Default() *Config {
	return &Config{
		Server:  Server{HealthPort: "8080", MetricsPort: "9090"},
		Logging: Logging{Level: "info", Format: "json"},
		Workflow: Workflow{
			Environment:                  EnvDev,
			CollectionDeadlineTotal:      5 * time.Minute,
			CollectionDeadlinePerSource:  60 * time.Second,
			VerificationDelay:            120 * time.Second,
			VerificationErrorImprovement: 0.5,
			VerificationErrorRateFloor:   0.01,
			ApprovalTimeout:              4 * time.Hour,
			RetryBudget:                  1,
			DeployLookback:               30 * time.Minute,
			FreezeHoursStart:             22,
			FreezeHoursEnd:               6,
			ProtectedNamespaces: []string{
				"kube-system", "kube-public", "kube-node-lease",
				"istio-system", "cert-manager", "monitoring",
			},
			HighRiskActions: []string{
				"drain_node", "delete_pvc", "update_resource_limits",
				"delete_namespace", "update_configmap", "uncordon_node",
			},
			OverallWorkflowSoftDeadline: 8 * time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, merging it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watcher reloads the whole Config from its file whenever the file is
// written or recreated, swapping in the new copy only if it loads cleanly.
// Holders of an earlier Snapshot keep their older copy.
type Watcher struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewWatcher loads path and starts watching it for changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{cfg: cfg, path: path}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil // reload disabled, not fatal
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return w, nil
	}
	go w.watch(watcher)
	return w, nil
}

func (w *Watcher) watch(watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for event := range watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		if cfg, err := Load(w.path); err == nil {
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
		}
	}
}

// Snapshot returns the current configuration.
func (w *Watcher) Snapshot() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}
