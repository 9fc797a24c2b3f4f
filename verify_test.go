// Repository-wide wiring checks that no single package test can make.
package karaoke_live_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/txn2/karaoke-live"

// sourceFile is a non-test Go file, path relative to the module root.
type sourceFile struct {
	path string
	src  string
}

// sources loads the non-test Go files under the given module-relative roots,
// skipping any directory listed in skip. Missing roots are ignored.
func sources(t *testing.T, roots []string, skip ...string) []sourceFile {
	t.Helper()

	var out []sourceFile
	for _, root := range roots {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				for _, s := range skip {
					if path == s {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if !isSource(d.Name()) {
				return nil
			}
			b, err := os.ReadFile(path) //nolint:gosec // reads repository sources
			if err != nil {
				return err
			}
			out = append(out, sourceFile{path: filepath.ToSlash(path), src: string(b)})
			return nil
		})
		require.NoError(t, err, "walking %s", root)
	}
	return out
}

func isSource(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

// TestNoDeadPackages fails for a package under pkg/ that no non-test file in
// pkg/, cmd/ or internal/ imports.
func TestNoDeadPackages(t *testing.T) {
	packages := map[string]bool{}
	for _, f := range sources(t, []string{"pkg"}) {
		packages[modulePath+"/"+filepath.ToSlash(filepath.Dir(f.path))] = false
	}
	require.NotEmpty(t, packages)

	importRe := regexp.MustCompile(`"(` + regexp.QuoteMeta(modulePath) + `/[^"]+)"`)
	for _, f := range sources(t, []string{"pkg", "cmd", "internal"}) {
		for _, m := range importRe.FindAllStringSubmatch(f.src, -1) {
			if _, ok := packages[m[1]]; ok {
				packages[m[1]] = true
			}
		}
	}

	for pkg, used := range packages {
		assert.True(t, used, "%s is never imported outside its tests", pkg)
	}
}

// TestNoopOnlyInterfaces fails when every compliance assertion for an
// interface names a no-op type.
func TestNoopOnlyInterfaces(t *testing.T) {
	assertRe := regexp.MustCompile(`var\s+_\s+(\S+)\s*=\s*\(\*(\w+)\)\(nil\)`)

	byIface := map[string][]string{}
	for _, f := range sources(t, []string{"pkg"}) {
		for _, m := range assertRe.FindAllStringSubmatch(f.src, -1) {
			byIface[m[1]] = append(byIface[m[1]], m[2])
		}
	}
	require.NotEmpty(t, byIface)

	for iface, types := range byIface {
		genuine := 0
		for _, name := range types {
			if !strings.Contains(strings.ToLower(name), "noop") {
				genuine++
			}
		}
		if genuine == len(types) {
			continue
		}
		sort.Strings(types)
		assert.Positive(t, genuine, "%s is only satisfied by no-op types %v", iface, types)
	}
}

// TestMigrationTablesHaveStores fails for a table created by an up migration
// that no file outside pkg/database reads or writes.
func TestMigrationTablesHaveStores(t *testing.T) {
	ups, err := filepath.Glob(filepath.Join("pkg", "database", "migrate", "migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	createRe := regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?(\w+)`)
	tables := map[string]bool{}
	for _, up := range ups {
		b, err := os.ReadFile(up) //nolint:gosec // reads migration files
		require.NoError(t, err)
		for _, m := range createRe.FindAllStringSubmatch(string(b), -1) {
			tables[strings.ToLower(m[1])] = false
		}
	}
	require.NotEmpty(t, tables)

	files := sources(t, []string{"pkg"}, filepath.Join("pkg", "database"))
	for table := range tables {
		useRe := regexp.MustCompile(`"` + table + `"|(?i)\b(?:FROM|INTO|UPDATE|JOIN)\s+` + table + `\b`)
		for _, f := range files {
			if useRe.MatchString(f.src) {
				tables[table] = true
				break
			}
		}
	}

	for table, used := range tables {
		assert.True(t, used, "table %s has a migration but no store", table)
	}
}
