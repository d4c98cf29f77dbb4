package conduit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/conduit/internal/common/database"
	"github.com/G-Research/conduit/internal/conduit/configuration"
)

func TestFetchServerInfo(t *testing.T) {
	if !database.HasTestDb() {
		t.Skipf("set %s to run against Postgres", database.TestPostgresEnv)
	}
	for _, mode := range []database.Mode{database.PooledMode, database.ThreadedMode} {
		t.Run(string(mode), func(t *testing.T) {
			err := database.WithTestDb(nil, func(dbConfig database.DatabaseConfig) error {
				config := testConfig()
				config.Postgres = dbConfig
				config.Database = configuration.DatabaseConfig{Mode: mode}

				ctx := testContext(t)
				client, err := OpenClient(ctx, config)
				require.NoError(t, err)
				defer client.Close()
				assert.Equal(t, mode, client.Mode())

				for i := 0; i < 2; i++ {
					info, err := FetchServerInfo(ctx, client)
					require.NoError(t, err)
					assert.Contains(t, info.Version, "PostgreSQL")
					assert.Equal(t, dbConfig.Dbname, info.Database)
					assert.False(t, info.Time.IsZero())
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}
