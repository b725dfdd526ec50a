package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sokoflow/sokoflow/internal/api"
	"github.com/sokoflow/sokoflow/internal/api/handlers"
	"github.com/sokoflow/sokoflow/internal/auth"
	"github.com/sokoflow/sokoflow/internal/database"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/dlq"
	"github.com/sokoflow/sokoflow/internal/governance"
	"github.com/sokoflow/sokoflow/internal/health"
	"github.com/sokoflow/sokoflow/internal/idempotency"
	"github.com/sokoflow/sokoflow/internal/payments"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/shutdown"
	"github.com/sokoflow/sokoflow/internal/stepdedup"
	"github.com/sokoflow/sokoflow/internal/webhooks"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

var (
	// serverPort is the port to listen on
	serverPort int
	// serverHost is the host to bind to
	serverHost string
	// jwtSecret signs and verifies API tokens
	jwtSecret string
	// jwtIssuer is the expected token issuer
	jwtIssuer string
	// defaultPlan is the plan assigned to organizations without one
	defaultPlan string
	// webhookSecretFlags holds provider=secret pairs for HMAC verification
	webhookSecretFlags []string
	// migrateDryRun shows pending migrations without applying
	migrateDryRun bool
)

// newServerCmd creates the server command with subcommands.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Server management commands",
		Long:  `Commands for managing the SokoFlow HTTP API server and database.`,
	}

	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerMigrateCmd())

	return cmd
}

// newServerStartCmd creates the server start subcommand.
func newServerStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start HTTP API server",
		Long: `Start the SokoFlow HTTP API server.

The server provides REST endpoints for workflow definitions, triggers,
execution history, governance limits, and the dead letter queue. Workflow
jobs are enqueued here and executed by 'sokoflow worker start'.`,
		Example: `  sokoflow server start
  sokoflow server start --port 3000
  sokoflow server start --host 0.0.0.0 --webhook-secret whatsapp=wh_secret`,
		RunE: runServerStart,
	}

	cmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "port to listen on")
	cmd.Flags().StringVar(&serverHost, "host", "localhost", "host to bind to")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "JWT signing secret (or SOKOFLOW_JWT_SECRET)")
	cmd.Flags().StringVar(&jwtIssuer, "jwt-issuer", "sokoflow", "expected JWT issuer")
	cmd.Flags().StringVar(&defaultPlan, "default-plan", "", "plan for organizations without an assignment")
	cmd.Flags().StringArrayVar(&webhookSecretFlags, "webhook-secret", nil, "webhook HMAC secret as provider=secret (repeatable)")
	addDatabaseFlags(cmd)
	addRedisFlags(cmd)

	return cmd
}

func runServerStart(cmd *cobra.Command, args []string) error {
	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)

	secret := envOrFlag(jwtSecret, "SOKOFLOW_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("a JWT secret is required: pass --jwt-secret or set SOKOFLOW_JWT_SECRET")
	}
	webhookSecrets, err := parseWebhookSecrets(webhookSecretFlags)
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

	handler := handlers.NewHandler(handlers.Config{
		Repositories:   repos,
		Governance:     gov,
		DLQ:            dlq.NewService(repos, manager, logger, reg),
		Confirmations:  payments.NewConfirmationGuard(dedup),
		Webhooks:       webhooks.NewService(repos.WebhookDedup, logger, reg),
		Enqueuer:       manager,
		WebhookSecrets: webhookSecrets,
		Logger:         logger,
	})

	authMiddleware := auth.NewMiddleware(auth.NewValidator(auth.Config{
		Secret: secret,
		Issuer: jwtIssuer,
	}))
	idemLedger := idempotency.NewLedger(repos.Idempotency, logger, reg, idempotency.DefaultConfig())

	checker := health.New(5 * time.Second)
	checker.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	checker.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	router := api.NewRouter(handler, api.RouterConfig{
		Auth:        authMiddleware,
		Idempotency: idemLedger,
		Health:      checker,
		Logger:      logger,
		Metrics:     reg,
	})
	server := api.NewServer(router, addr)

	coordinator := shutdown.New(30*time.Second, logger)
	coordinator.Register("database", func(ctx context.Context) error {
		return database.Close(db)
	})
	coordinator.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})
	coordinator.Register("http-server", server.Shutdown)
	done := coordinator.ListenForSignals()

	logger.Info("server listening", "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Server listening on %s\n", addr)

	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	coordinator.Shutdown()
	<-done
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")

	return nil
}

// newServerMigrateCmd creates the server migrate subcommand.
func newServerMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run database migrations to set up or update the schema.

Use --dry-run to see what migrations would be applied without
actually running them.`,
		Example: `  sokoflow server migrate
  sokoflow server migrate --dry-run
  sokoflow server migrate --db-host localhost --db-name sokoflow`,
		RunE: runServerMigrate,
	}

	cmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "show pending migrations without applying")
	addDatabaseFlags(cmd)

	return cmd
}

func runServerMigrate(cmd *cobra.Command, args []string) error {
	db, err := database.Connect(databaseConfig())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close(db)

	migrator := database.NewMigrator(db)

	pending, err := migrator.Pending()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
		return nil
	}

	if migrateDryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Pending migrations:")
		for _, m := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", m.Name)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nUse 'sokoflow server migrate' without --dry-run to apply")
		return nil
	}

	if err := migrator.MigrateUp(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(pending))
	return nil
}
