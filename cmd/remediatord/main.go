// Command remediatord runs the AIOps incident-to-remediation worker: it
// consumes normalized alerts, drives each through the C1-C7 pipeline, and
// exposes health/readiness/metrics for the cluster it runs in.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/aiopscore/remediator/internal/collectors"
	"github.com/aiopscore/remediator/internal/config"
	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/executor"
	"github.com/aiopscore/remediator/internal/graph"
	"github.com/aiopscore/remediator/internal/httpapi"
	"github.com/aiopscore/remediator/internal/ingest"
	"github.com/aiopscore/remediator/internal/llm"
	"github.com/aiopscore/remediator/internal/logging"
	"github.com/aiopscore/remediator/internal/policy"
	"github.com/aiopscore/remediator/internal/promquery"
	"github.com/aiopscore/remediator/internal/rules"
	"github.com/aiopscore/remediator/internal/verifier"
	"github.com/aiopscore/remediator/internal/workflow"
	"github.com/aiopscore/remediator/pkg/audit"
	"github.com/aiopscore/remediator/pkg/notify"
)

const alertQueueKey = "remediator:alerts"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the remediator config file")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig file; empty uses in-cluster config")
	prometheusAddr := flag.String("prometheus-addr", "http://prometheus:9090", "Prometheus-compatible query endpoint")
	flag.Parse()

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := watcher.Snapshot()

	logger, err := logging.New(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, httpServer, rdb, closers, err := wire(ctx, cfg, *kubeconfig, *prometheusAddr, logger)
	if err != nil {
		logger.Fatal("wire dependencies", zap.Error(err))
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	httpServer.Start(ctx)
	logger.Info("remediatord ready", zap.String("health_port", cfg.Server.HealthPort), zap.String("metrics_port", cfg.Server.MetricsPort))

	if rdb == nil {
		logger.Info("no redis configured, alert queue consumer disabled")
		<-ctx.Done()
		return
	}
	consumeAlerts(ctx, rdb, engine, logger)
}

// wire builds every dependency the engine and the ambient HTTP server need.
// It returns the redis client it built (nil if no Redis is configured) so
// main can reuse the same connection for the alert queue consumer, and a
// slice of closers for main to run on shutdown.
func wire(ctx context.Context, cfg *config.Config, kubeconfig, prometheusAddr string, logger *zap.Logger) (*workflow.Engine, *httpapi.Server, *redis.Client, []func(), error) {
	var closers []func()

	k8sClient, err := buildKubeClient(kubeconfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build kubernetes client: %w", err)
	}

	metricsClient, err := buildMetricsClient(kubeconfig)
	if err != nil {
		logger.Warn("metrics.k8s.io client unavailable, memory cross-check disabled", zap.Error(err))
	}

	var pool *pgxpool.Pool
	var db *sqlx.DB
	var graphStore graph.Store = graph.NewMemoryStore()
	var auditStore audit.Store
	if cfg.Postgres.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect postgres pool: %w", err)
		}
		closers = append(closers, pool.Close)

		db, err = sqlx.Connect("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect postgres sqlx handle: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		graphStore = graph.NewPostgresStore(pool, db)
		auditStore = audit.NewPostgresStore(pool, db)
	} else {
		logger.Warn("no postgres DSN configured, running with an in-memory graph store and no audit trail")
	}

	promBackend, err := promquery.New(prometheusAddr, 10*time.Second)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build prometheus backend: %w", err)
	}

	registry := collectors.NewRegistry()
	registry.Register(collectors.NewClusterStateCollector(k8sClient))
	registry.Register(collectors.NewDeployDiffCollector(k8sClient, cfg.Workflow.DeployLookback))
	registry.Register(collectors.NewLogsCollector(collectors.NewPodLogsBackend(k8sClient), 5))
	registry.Register(collectors.NewMetricsCollector(promBackend, metricsClient))

	rulesEngine := rules.NewEngine(rules.DefaultThresholds())

	gate, err := policy.NewGate(ctx)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build policy gate: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		closers = append(closers, func() { rdb.Close() })
	}

	exec := executor.New(k8sClient, rdb)
	verify := verifier.New(promBackend, verifier.RealClock(), cfg.Workflow.VerificationDelay,
		cfg.Workflow.VerificationErrorImprovement, cfg.Workflow.VerificationErrorRateFloor)

	enricher := buildEnricher(ctx, cfg.LLM, logger)
	approvals := buildApprovalChannel(cfg.Slack, logger)

	eng := workflow.New(cfg.Workflow, graphStore, registry, rulesEngine, enricher, gate, exec, verify,
		approvals, auditStore, nil, rdb, logger)

	httpServer := httpapi.New(":"+cfg.Server.HealthPort, ":"+cfg.Server.MetricsPort, logger)
	if pool != nil {
		httpServer.RegisterChecker("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })
	}
	if rdb != nil {
		httpServer.RegisterChecker("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	return eng, httpServer, rdb, closers, nil
}

func buildKubeClient(kubeconfigPath string) (kubernetes.Interface, error) {
	restCfg, err := loadRestConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

func buildMetricsClient(kubeconfigPath string) (metricsclientset.Interface, error) {
	restCfg, err := loadRestConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return metricsclientset.NewForConfig(restCfg)
}

func loadRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}

func buildEnricher(ctx context.Context, cfg config.LLM, logger *zap.Logger) llm.Enricher {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Provider {
	case "bedrock":
		enricher, err := llm.NewBedrockEnricher(ctx, cfg.Model)
		if err != nil {
			logger.Warn("bedrock enricher unavailable, proceeding without LLM enrichment", zap.Error(err))
			return nil
		}
		return enricher
	case "anthropic":
		return llm.NewAnthropicEnricher("", cfg.Model)
	default:
		logger.Warn("llm enabled but provider is unset, proceeding without LLM enrichment", zap.String("provider", cfg.Provider))
		return nil
	}
}

func buildApprovalChannel(cfg config.Slack, logger *zap.Logger) notify.ApprovalChannel {
	if !cfg.Enabled {
		return notify.NewLogOnlyChannel(logger)
	}
	return notify.NewSlackChannel(cfg.Token, cfg.Channel, logger)
}

// consumeAlerts blocks on the alert queue and hands each normalized payload
// to the engine in its own goroutine, so one slow incident never delays the
// next alert's intake. Raw webhook receipt and normalization happen
// upstream of this process; this is the boundary where a normalized payload
// enters the workflow.
func consumeAlerts(ctx context.Context, rdb *redis.Client, engine *workflow.Engine, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := rdb.BLPop(ctx, 5*time.Second, alertQueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // timeout or transient redis error; keep polling
		}
		if len(result) < 2 {
			continue
		}

		var alert domain.AlertPayload
		if err := json.Unmarshal([]byte(result[1]), &alert); err != nil {
			logger.Warn("discarding malformed alert payload", zap.Error(err))
			continue
		}
		if err := ingest.Validate(alert); err != nil {
			logger.Warn("discarding invalid alert payload", zap.Error(err))
			continue
		}

		go func(alert domain.AlertPayload) {
			incident, err := engine.Process(ctx, alert)
			if err != nil {
				logger.Error("workflow processing failed", zap.String("fingerprint", alert.Fingerprint), zap.Error(err))
				return
			}
			logger.Info("incident processed", zap.String("incident_id", incident.ID), zap.String("status", string(incident.Status)))
		}(alert)
	}
}
