package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/archive"
	"github.com/koopa0/system-design/racesync/internal/testutils"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

func TestFileArchive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "messages")
	a, err := archive.NewFileArchive(dir)
	require.NoError(t, err)

	body := []byte(`{"message":"gg"}`)
	require.NoError(t, a.Save(context.Background(), "u1", 1700000000000, body))

	got, err := os.ReadFile(filepath.Join(dir, "u1-1700000000000.json"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFileArchiveSanitizesUser(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.NewFileArchive(dir)
	require.NoError(t, err)

	path := a.Path("../../etc/passwd", 5)
	assert.Equal(t, dir, filepath.Dir(path))
	require.NoError(t, a.Save(context.Background(), "../../etc/passwd", 5, []byte(`{}`)))
	assert.FileExists(t, path)
}

func TestFileArchiveWriteFailure(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.NewFileArchive(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, a.Save(context.Background(), "u1", 1, []byte(`{}`)))
}

func TestPostgresArchive(t *testing.T) {
	env := testutils.SetupPostgres(t)
	ctx := context.Background()

	m, err := archive.NewMigrator(env.DSN, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "重複執行沒有變更")
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	a := archive.NewPostgresArchive(env.Pool, logger.Discard())
	require.NoError(t, a.Ping(ctx))

	require.NoError(t, a.Save(ctx, "u1", 1, []byte(`{"message":"hello"}`)))
	require.NoError(t, a.Save(ctx, "u1", 2, []byte(`{"message":"again"}`)))
	require.NoError(t, a.Save(ctx, "u2", 3, []byte(`{"message":"hi"}`)))
	assert.Error(t, a.Save(ctx, "u2", 4, []byte(`not json`)))

	n, err := a.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.Down())
	assert.Error(t, a.Save(ctx, "u1", 5, []byte(`{}`)), "資料表已刪除")
}
