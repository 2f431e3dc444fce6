package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingFiles_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"000010_late.up.sql":   {Data: []byte("SELECT 10")},
		"000002_second.up.sql": {Data: []byte("SELECT 2")},
		"000001_init.up.sql":   {Data: []byte("SELECT 1")},
		"000001_init.down.sql": {Data: []byte("DROP")},
		"README.md":            {Data: []byte("notes")},
	}

	files, err := pendingFiles(fsys)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, int64(1), files[0].version)
	assert.Equal(t, int64(2), files[1].version)
	assert.Equal(t, int64(10), files[2].version)
	assert.Equal(t, "000010_late.up.sql", files[2].name)
}

func TestPendingFiles_RejectsBadVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"init.up.sql": {Data: []byte("SELECT 1")},
	}

	_, err := pendingFiles(fsys)
	assert.Error(t, err)
}

func TestMigrations_Embedded(t *testing.T) {
	files, err := pendingFiles(Migrations())
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, int64(1), files[0].version)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
	assert.Equal(t, "alice", escapeLike("alice"))
}
