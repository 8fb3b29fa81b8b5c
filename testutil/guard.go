// Package testutil provides fixtures shared by the package tests and helpers
// that enforce the import boundaries between the block contract, the block
// families and the runtime.
package testutil

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// AssertNoTransitiveDependency shells out to `go list -deps` with the provided pattern
// (e.g. ./... or .) and fails the test if any dependency path satisfies the forbidden predicate.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIfViolations(t, "forbidden transitive dependency", reason, viols)
}

// AssertNoDirectImports scans the non-test .go files of dir and fails if any
// import path satisfies the forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, false, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// AssertNoDirectImportsTree is AssertNoDirectImports over dir and every
// directory below it. testdata directories are skipped.
func AssertNoDirectImportsTree(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, true, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// StorageImportForbidden matches the persistence stack: the statistics store
// implementations, database/sql and the cloud SDKs. Blocks reach persisted
// statistics only through block.StatisticsStore.
func StorageImportForbidden(path string) bool {
	switch {
	case path == "database/sql":
		return true
	case strings.HasPrefix(path, "github.com/aws/"):
		return true
	case strings.HasPrefix(path, "github.com/jackc/"), strings.HasPrefix(path, "modernc.org/sqlite"):
		return true
	}
	for _, p := range []string{"/internal/statstore", "/internal/blob", "/internal/infra/"} {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// AnyOf combines predicates.
func AnyOf(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	cmd := exec.Command("go", "list", "-deps", pattern)
	return cmd.CombinedOutput()
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directImportViolations(dir string, recurse bool, forbidden func(importPath string) bool) ([]string, error) {
	fset := token.NewFileSet()
	var viols []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (!recurse || d.Name() == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+filepath.ToSlash(rel)+")")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, what, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
