package core_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestCoreImportsOnlyStdlib verifies pkg/core has no third-party or internal
// imports, so the wire model can be shared by servers, clients and stores.
func TestCoreImportsOnlyStdlib(t *testing.T) {
	fset := token.NewFileSet()

	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("Failed to read core directory: %v", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}

		f, err := parser.ParseFile(fset, filepath.Join(".", name), nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", name, err)
			continue
		}

		for _, imp := range f.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)

			// stdlib paths have no dot in the first element
			if !strings.Contains(strings.SplitN(importPath, "/", 2)[0], ".") {
				continue
			}
			// Tests may use assertion libraries but never the rest of the module.
			if strings.HasSuffix(name, "_test.go") && !strings.Contains(importPath, "leapreport/") {
				continue
			}
			t.Errorf("%s imports forbidden package: %s", name, importPath)
		}
	}
}
