package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sokoflow/sokoflow/internal/database"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/pkg/logging"
)

var (
	// dbDriver selects postgres or sqlite
	dbDriver string
	// dbHost is the database host
	dbHost string
	// dbPort is the database port
	dbPort int
	// dbName is the database name
	dbName string
	// dbUser is the database user
	dbUser string
	// dbPassword is the database password
	dbPassword string
	// dbSSLMode is the database SSL mode
	dbSSLMode string
	// dbPath is the sqlite database file path
	dbPath string

	// redisAddr is the redis host:port for the queue and limits cache
	redisAddr string
	// redisPassword is the redis password
	redisPassword string
	// redisDB is the redis database number
	redisDB int

	// queueConcurrency is the worker's task concurrency
	queueConcurrency int
)

// addDatabaseFlags registers the database connection flags.
func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dbDriver, "db-driver", "postgres", "database driver (postgres|sqlite)")
	cmd.Flags().StringVar(&dbHost, "db-host", "localhost", "database host")
	cmd.Flags().IntVar(&dbPort, "db-port", 5432, "database port")
	cmd.Flags().StringVar(&dbName, "db-name", "sokoflow", "database name")
	cmd.Flags().StringVar(&dbUser, "db-user", "postgres", "database user")
	cmd.Flags().StringVar(&dbPassword, "db-password", "", "database password")
	cmd.Flags().StringVar(&dbSSLMode, "db-sslmode", "disable", "database SSL mode")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite database path (sqlite driver only)")
}

// addRedisFlags registers the redis connection flags.
func addRedisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "redis database number")
}

// databaseConfig builds the database config from flags.
func databaseConfig() database.Config {
	return database.Config{
		Driver:   dbDriver,
		Host:     dbHost,
		Port:     dbPort,
		Database: dbName,
		User:     dbUser,
		Password: dbPassword,
		SSLMode:  dbSSLMode,
		Path:     dbPath,
	}
}

// queueConfig builds the queue config from flags.
func queueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.RedisAddr = redisAddr
	cfg.RedisPassword = redisPassword
	cfg.RedisDB = redisDB
	if queueConcurrency > 0 {
		cfg.Concurrency = queueConcurrency
	}
	return cfg
}

// newLogger builds the process logger from env, honoring --verbose.
func newLogger() *logging.Logger {
	cfg := logging.ConfigFromEnv()
	if verbose {
		cfg.Level = "debug"
	}
	return logging.New(cfg)
}

// parseWebhookSecrets parses repeated provider=secret pairs.
func parseWebhookSecrets(pairs []string) (map[string]string, error) {
	secrets := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		provider, secret, ok := strings.Cut(pair, "=")
		if !ok || provider == "" || secret == "" {
			return nil, fmt.Errorf("invalid webhook secret %q, expected provider=secret", pair)
		}
		secrets[provider] = secret
	}
	return secrets, nil
}

// envOrFlag prefers the flag value, falling back to the environment.
func envOrFlag(flagValue, envName string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envName)
}
