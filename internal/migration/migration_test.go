package migration

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)

	versions := make([]string, 0, len(ups))
	for v := range ups {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	assert.True(t, strings.HasPrefix(versions[0], "000001_"))
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn))
	for _, table := range []string{
		"payment_records", "payment_events", "fulfillment_jobs",
		"service_requests", "subscriptions", "training_registrations",
		"shop_products", "shop_purchases", "payable_settlements",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}

	require.NoError(t, Run(conn))
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(nil))
}
