package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the extension of assembler source files.
const SourceExt = ".jasm"

// reservedPackages are class name prefixes owned by the runtime. Program
// classes may not be declared under them.
var reservedPackages = []string{
	"java/",
	"javelin/",
}

// IsReservedClass reports whether name falls in a runtime-owned package.
// Both slash and dotted forms are accepted.
func IsReservedClass(name string) bool {
	name = strings.ReplaceAll(name, ".", "/")
	for _, p := range reservedPackages {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ClassNameForPath derives the class name a source file is expected to
// declare from its path relative to a source directory.
// "src/tests/arrays/ArraysSetFields.jasm" -> "tests/arrays/ArraysSetFields"
func ClassNameForPath(sourceDir, path string) (string, error) {
	rel, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", path, sourceDir)
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel))), nil
}

// SourceFiles returns every .jasm file under the source directories,
// sorted. Missing directories are skipped.
func (m *Manifest) SourceFiles() ([]string, error) {
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == SourceExt {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
