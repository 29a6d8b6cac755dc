package migrations_test

import (
	"context"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/satq-io/satq/internal/config"
	"github.com/satq-io/satq/migrations"
)

func TestMigrationsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	db := testDB.Connection

	version, dirty, err := migrations.Version(db)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(3), version, "all embedded migrations should be applied")

	t.Run("step down rolls back only the last migration", func(t *testing.T) {
		require.NoError(t, migrations.StepDown(db))

		version, dirty, err := migrations.Version(db)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Equal(t, uint(2), version)

		var exists bool
		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'runs')",
		).Scan(&exists)
		require.NoError(t, err)
		require.True(t, exists, "earlier migrations must survive a single step down")

		require.NoError(t, migrations.Up(db))
	})

	t.Run("down removes the whole schema", func(t *testing.T) {
		require.NoError(t, migrations.Down(db))

		version, dirty, err := migrations.Version(db)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Zero(t, version)

		require.NoError(t, migrations.Up(db))
	})
}
