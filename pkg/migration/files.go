package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sblgo/sbl/pkg/constants"
)

const (
	// DirName is the directory, below a project's base path, holding the migrations.
	DirName = "surreal_migrations"
	UpDir   = "up"
	DownDir = "down"

	sqlExt = ".sql"
)

// Dir returns the up or down migration directory below base.
func Dir(base string, up bool) string {
	if up {
		return filepath.Join(base, DirName, UpDir)
	}
	return filepath.Join(base, DirName, DownDir)
}

// Setup creates the up and down directories with an empty 1.sql in each.
// Existing files are left alone. It returns the paths it created.
func Setup(base string) ([]string, error) {
	var created []string
	for _, up := range []bool{true, false} {
		dir := Dir(base, up)
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return created, err
			}
			created = append(created, dir)
		}

		path, ok, err := touch(dir, 1)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, path)
		}
	}
	return created, nil
}

// GenerateNew creates the next empty N.sql pair, N being one past the highest
// number found in either directory.
func GenerateNew(base string) ([]string, error) {
	highestUp, err := Highest(Dir(base, true))
	if err != nil {
		return nil, err
	}
	highestDown, err := Highest(Dir(base, false))
	if err != nil {
		return nil, err
	}
	next := max(highestUp, highestDown) + 1

	var created []string
	for _, up := range []bool{true, false} {
		path, _, err := touch(Dir(base, up), next)
		if err != nil {
			return created, err
		}
		created = append(created, path)
	}
	return created, nil
}

// Create runs Setup when base has no migration directory yet and GenerateNew otherwise.
func Create(base string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(base, DirName)); errors.Is(err, fs.ErrNotExist) {
		return Setup(base)
	}
	return GenerateNew(base)
}

// Versions returns the numbers of the N.sql files in dir in ascending order.
// Other files are ignored.
func Versions(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var versions []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sqlExt) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, sqlExt))
		if err != nil || n < 0 {
			continue
		}
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

// Highest returns the highest file number in dir, or 0 when there is none.
func Highest(dir string) (int, error) {
	versions, err := Versions(dir)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1], nil
}

// Load reads the up or down migrations below base, ordered by file number.
func Load(base string, up bool) ([]Migration, error) {
	dir := Dir(base, up)
	versions, err := Versions(dir)
	if err != nil {
		return nil, err
	}
	return load(dir, versions)
}

// LoadAll reads both directories below base. Both must hold the same
// numbers, running 1..n without gaps, since a migration's version is its
// position in the list.
func LoadAll(base string) (up, down []Migration, err error) {
	upVersions, err := Versions(Dir(base, true))
	if err != nil {
		return nil, nil, err
	}
	downVersions, err := Versions(Dir(base, false))
	if err != nil {
		return nil, nil, err
	}
	if len(upVersions) != len(downVersions) {
		return nil, nil, fmt.Errorf("%w: %d up, %d down", constants.ErrMismatchedMigrations, len(upVersions), len(downVersions))
	}
	if err := checkContiguous(UpDir, upVersions); err != nil {
		return nil, nil, err
	}
	if err := checkContiguous(DownDir, downVersions); err != nil {
		return nil, nil, err
	}

	if up, err = load(Dir(base, true), upVersions); err != nil {
		return nil, nil, err
	}
	if down, err = load(Dir(base, false), downVersions); err != nil {
		return nil, nil, err
	}
	return up, down, nil
}

func checkContiguous(name string, versions []int) error {
	for i, v := range versions {
		if v != i+1 {
			return fmt.Errorf("%w: %s has %s where %s was expected", constants.ErrMigrationNumbering, name, fileName(v), fileName(i+1))
		}
	}
	return nil
}

func load(dir string, versions []int) ([]Migration, error) {
	migrations := make([]Migration, 0, len(versions))
	for _, v := range versions {
		m, err := FromFile(filepath.Join(dir, fileName(v)))
		if err != nil {
			return nil, fmt.Errorf("load migration %d: %w", v, err)
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

func fileName(version int) string {
	return strconv.Itoa(version) + sqlExt
}

func touch(dir string, version int) (string, bool, error) {
	path := filepath.Join(dir, fileName(version))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return path, false, nil
	}
	if err != nil {
		return path, false, err
	}
	return path, true, f.Close()
}
