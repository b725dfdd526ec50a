package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sokoflow/sokoflow/internal/ai"
	"github.com/sokoflow/sokoflow/internal/channels"
	"github.com/sokoflow/sokoflow/internal/database"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/governance"
	"github.com/sokoflow/sokoflow/internal/health"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/shutdown"
	"github.com/sokoflow/sokoflow/internal/stepdedup"
	"github.com/sokoflow/sokoflow/internal/workflow"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

var (
	// workerMetricsAddr serves /metrics and /health for the worker process
	workerMetricsAddr string
	// aiProviderName selects the AI provider implementation
	aiProviderName string
	// channelProviderName selects the messaging provider implementation
	channelProviderName string
)

// newWorkerCmd creates the worker command with subcommands.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker management commands",
		Long:  `Commands for managing SokoFlow workflow execution workers.`,
	}

	cmd.AddCommand(newWorkerStartCmd())

	return cmd
}

// newWorkerStartCmd creates the worker start subcommand.
func newWorkerStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start workflow execution worker",
		Long: `Start a worker that consumes queued workflow jobs and executes
them step by step under the organization's safety limits.

Multiple workers may run against the same queue; step deduplication
and the concurrency slot ledger keep side effects exactly-once.`,
		Example: `  sokoflow worker start
  sokoflow worker start --concurrency 20
  sokoflow worker start --metrics-addr :9091`,
		RunE: runWorkerStart,
	}

	cmd.Flags().IntVar(&queueConcurrency, "concurrency", 10, "concurrent task processors")
	cmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", ":9090", "address for /metrics and /health")
	cmd.Flags().StringVar(&aiProviderName, "ai-provider", "fake", "AI provider (fake)")
	cmd.Flags().StringVar(&channelProviderName, "channel-provider", "fake", "messaging provider (fake)")
	cmd.Flags().StringVar(&defaultPlan, "default-plan", "", "plan for organizations without an assignment")
	addDatabaseFlags(cmd)
	addRedisFlags(cmd)

	return cmd
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	provider, sender, err := buildProviders()
	if err != nil {
		return err
	}

	logger := newLogger()
	reg := metrics.NewRegistry(metrics.DefaultConfig())

	db, err := database.Connect(databaseConfig())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Ping(db); err != nil {
		database.Close(db)
		return fmt.Errorf("database ping failed: %w", err)
	}
	repos := repository.New(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	manager, err := queue.NewManager(queueConfig())
	if err != nil {
		database.Close(db)
		return fmt.Errorf("queue setup failed: %w", err)
	}

	govCfg := governance.DefaultConfig()
	if defaultPlan != "" {
		govCfg.DefaultPlanName = defaultPlan
	}
	gov := governance.NewService(repos, logger, reg, redisClient, govCfg)
	dedup := stepdedup.NewLedger(repos.StepDedup, logger, reg, stepdedup.DefaultConfig())

	engine := workflow.NewEngine(repos, gov, dedup,
		workflow.DefaultRegistry(gov, provider, sender), manager, logger, reg)
	manager.RegisterHandler(queue.TypeWorkflowExecute, engine.HandleTask)

	// Worker observability endpoint.
	checker := health.New(5 * time.Second)
	checker.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	checker.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/health", checker.Handler())
	metricsServer := &http.Server{Addr: workerMetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	coordinator := shutdown.New(60*time.Second, logger)
	coordinator.Register("database", func(ctx context.Context) error {
		return database.Close(db)
	})
	coordinator.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})
	coordinator.Register("queue", func(ctx context.Context) error {
		return manager.Stop()
	})
	coordinator.Register("metrics-server", metricsServer.Shutdown)
	done := coordinator.ListenForSignals()

	if err := manager.Start(); err != nil {
		return fmt.Errorf("worker start failed: %w", err)
	}

	logger.Info("worker started",
		"concurrency", queueConcurrency, "metrics_addr", workerMetricsAddr)
	fmt.Fprintln(cmd.OutOrStdout(), "Worker started, waiting for jobs")

	<-done
	fmt.Fprintln(cmd.OutOrStdout(), "Worker stopped")

	return nil
}

// buildProviders resolves the AI and messaging providers. Concrete
// WhatsApp/SMS and LLM clients plug in here as they are added.
func buildProviders() (ai.Provider, channels.Sender, error) {
	var provider ai.Provider
	switch aiProviderName {
	case "fake":
		provider = ai.NewFake()
	default:
		return nil, nil, fmt.Errorf("unknown AI provider %q", aiProviderName)
	}

	var sender channels.Sender
	switch channelProviderName {
	case "fake":
		sender = channels.NewFake()
	default:
		return nil, nil, fmt.Errorf("unknown channel provider %q", channelProviderName)
	}

	return provider, sender, nil
}
