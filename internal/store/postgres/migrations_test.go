package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/10_add_index.sql":     {Data: []byte("CREATE INDEX x ON t (a);")},
		"migrations/2_second.sql":         {Data: []byte("ALTER TABLE t ADD b INT;")},
		"migrations/1_initial_schema.sql": {Data: []byte("CREATE TABLE t (a INT);")},
		"migrations/README.md":            {Data: []byte("ignored")},
		"migrations/notes.sql":            {Data: []byte("ignored, no version")},
	}

	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []int{1, 2, 10}, []int{got[0].version, got[1].version, got[2].version})
	require.Equal(t, "CREATE TABLE t (a INT);", got[0].content)
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/1_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/1_b.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := loadMigrations(fsys)
	require.ErrorContains(t, err, "share version 1")
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := loadMigrations(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, 1, got[0].version)
	require.Contains(t, got[0].content, "CREATE TABLE jobs")
}
