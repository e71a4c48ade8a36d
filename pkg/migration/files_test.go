package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblgo/sbl/pkg/constants"
)

func TestSetup(t *testing.T) {
	base := t.TempDir()

	created, err := Setup(base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		Dir(base, true),
		filepath.Join(Dir(base, true), "1.sql"),
		Dir(base, false),
		filepath.Join(Dir(base, false), "1.sql"),
	}, created)

	again, err := Setup(base)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSetupKeepsExistingFiles(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(Dir(base, true), 0o755))
	path := filepath.Join(Dir(base, true), "1.sql")
	require.NoError(t, os.WriteFile(path, []byte("DEFINE TABLE user;"), 0o644))

	_, err := Setup(base)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DEFINE TABLE user;", string(data))
}

func TestCreate(t *testing.T) {
	base := t.TempDir()

	_, err := Create(base)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(Dir(base, true), "1.sql"))

	created, err := Create(base)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(Dir(base, true), "2.sql"),
		filepath.Join(Dir(base, false), "2.sql"),
	}, created)
}

func TestGenerateNewUsesHighestOfBothDirectories(t *testing.T) {
	base := t.TempDir()
	_, err := Setup(base)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(Dir(base, false), "4.sql"), nil, 0o644))

	created, err := GenerateNew(base)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(Dir(base, true), "5.sql"),
		filepath.Join(Dir(base, false), "5.sql"),
	}, created)
}

func TestVersionsSortNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.sql", "2.sql", "1.sql", "notes.txt", "draft.sql", "3.sql.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "7.sql"), 0o755))

	versions, err := Versions(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 10}, versions)

	highest, err := Highest(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, highest)

	highest, err = Highest(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, highest)
}

func TestLoad(t *testing.T) {
	base := t.TempDir()
	_, err := Setup(base)
	require.NoError(t, err)

	files := map[string]string{
		"1.sql":  "CREATE user:one;\n-- first\n",
		"2.sql":  "CREATE   user:two;",
		"10.sql": "CREATE user:ten;\nCREATE user:eleven;",
	}
	for name, sql := range files {
		require.NoError(t, os.WriteFile(filepath.Join(Dir(base, true), name), []byte(sql), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(Dir(base, false), name), nil, 0o644))
	}

	up, err := Load(base, true)
	require.NoError(t, err)
	down, err := Load(base, false)
	require.NoError(t, err)
	require.Len(t, up, 3)
	require.Len(t, down, 3)

	assert.Equal(t, "CREATE user:one;", up[0].SQL())
	assert.Equal(t, "CREATE user:two;", up[1].SQL())
	assert.Equal(t, "CREATE user:ten; CREATE user:eleven;", up[2].SQL())
	assert.True(t, down[0].Empty())
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(t.TempDir(), true)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAll(t *testing.T) {
	write := func(t *testing.T, base string, up, down []string) {
		t.Helper()
		_, err := Setup(base)
		require.NoError(t, err)
		for _, name := range up {
			require.NoError(t, os.WriteFile(filepath.Join(Dir(base, true), name), []byte("CREATE user:"+name[:1]+";"), 0o644))
		}
		for _, name := range down {
			require.NoError(t, os.WriteFile(filepath.Join(Dir(base, false), name), nil, 0o644))
		}
	}

	t.Run("contiguous", func(t *testing.T) {
		base := t.TempDir()
		write(t, base, []string{"2.sql", "3.sql"}, []string{"2.sql", "3.sql"})

		up, down, err := LoadAll(base)
		require.NoError(t, err)
		require.Len(t, up, 3)
		require.Len(t, down, 3)
		assert.Equal(t, "CREATE user:3;", up[2].SQL())
	})

	t.Run("different numbers", func(t *testing.T) {
		base := t.TempDir()
		write(t, base, []string{"2.sql"}, []string{"3.sql"})

		_, _, err := LoadAll(base)
		require.ErrorIs(t, err, constants.ErrMigrationNumbering)
		assert.Contains(t, err.Error(), "down has 3.sql where 2.sql was expected")
	})

	t.Run("gap in both", func(t *testing.T) {
		base := t.TempDir()
		write(t, base, []string{"3.sql"}, []string{"3.sql"})

		_, _, err := LoadAll(base)
		require.ErrorIs(t, err, constants.ErrMigrationNumbering)
		assert.Contains(t, err.Error(), "up has 3.sql where 2.sql was expected")
	})

	t.Run("different counts", func(t *testing.T) {
		base := t.TempDir()
		write(t, base, []string{"2.sql"}, nil)

		_, _, err := LoadAll(base)
		require.ErrorIs(t, err, constants.ErrMismatchedMigrations)
	})
}
