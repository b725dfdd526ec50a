package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/sokoflow/sokoflow/cmd/sokoflow/testing"
)

func TestServerCommand(t *testing.T) {
	t.Run("shows subcommands in help", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "server", "--help")

		require.NoError(t, err)
		assert.Contains(t, output, "start")
		assert.Contains(t, output, "migrate")
	})

	t.Run("start requires a jwt secret", func(t *testing.T) {
		t.Setenv("SOKOFLOW_JWT_SECRET", "")

		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd, "server", "start")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT secret")
	})
}

func TestServerMigrate(t *testing.T) {
	t.Run("dry run lists pending migrations", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd,
			"server", "migrate", "--dry-run", "--db-driver", "sqlite")

		require.NoError(t, err)
		assert.Contains(t, output, "Pending migrations:")
		assert.Contains(t, output, "0001_core_tables")
		assert.Contains(t, output, "without --dry-run to apply")
	})

	t.Run("applies migrations then reports none pending", func(t *testing.T) {
		dbFile := filepath.Join(t.TempDir(), "sokoflow.db")

		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd,
			"server", "migrate", "--db-driver", "sqlite", "--db-path", dbFile)

		require.NoError(t, err)
		assert.Contains(t, output, "Applied 1 migration(s)")

		rootCmd = NewRootCmd()
		output, err = clitest.ExecuteCommand(rootCmd,
			"server", "migrate", "--dry-run", "--db-driver", "sqlite", "--db-path", dbFile)

		require.NoError(t, err)
		assert.Contains(t, output, "No pending migrations")
	})
}

func TestWorkerCommand(t *testing.T) {
	t.Run("shows start subcommand in help", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "worker", "--help")

		require.NoError(t, err)
		assert.Contains(t, output, "start")
	})

	t.Run("start rejects unknown providers", func(t *testing.T) {
		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd,
			"worker", "start", "--ai-provider", "nonsense")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown AI provider")
	})
}
