package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/storage/database"
)

// PrepareDB creates and migrates the TEST database, then empties the profile tables.
// The database is configured with TEST_DATABASE_* environment variables.
func PrepareDB(t *testing.T) *core.Config {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()
	ctx := context.Background()

	require.NoError(t, database.CreateIfNotExist(ctx, conf))
	db, err := database.OpenSqlx(ctx, conf)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, database.Migrate(db.DB, "up"))
	_, err = db.ExecContext(ctx, "TRUNCATE students, teachers")
	require.NoError(t, err)
	return conf
}
