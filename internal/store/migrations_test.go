package store

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_OrderedByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_commands_index.sql": {Data: []byte("CREATE INDEX x ON t(a);")},
		"migrations/002_events.sql":         {Data: []byte("CREATE TABLE e (id INTEGER);")},
		"migrations/README.md":              {Data: []byte("ignored")},
	}
	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].version)
	assert.Equal(t, "events", got[0].name)
	assert.Equal(t, 10, got[1].version)
	assert.Equal(t, "commands_index", got[1].name)
}

func TestLoadMigrations_Rejects(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"migrations/initial.sql": {Data: []byte("")}})
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{"migrations/one_initial.sql": {Data: []byte("")}})
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("")},
		"migrations/1_b.sql":   {Data: []byte("")},
	})
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := loadMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0].version)
	assert.NotEmpty(t, statements(got[0].script))
}

func TestStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INTEGER); -- trailing
-- only a comment;

CREATE INDEX idx_a ON a(id);
`
	assert.Equal(t, []string{
		"CREATE TABLE a (id INTEGER)",
		"CREATE INDEX idx_a ON a(id)",
	}, statements(script))
}
