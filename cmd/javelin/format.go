package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/javelin/asm"
	"github.com/chazu/javelin/manifest"
)

// ---------------------------------------------------------------------------
// javelin fmt: canonical layout for .jasm files
// ---------------------------------------------------------------------------

func handleFmtCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("fmt", flag.ExitOnError)
	checkMode := fs.Bool("check", false, "Report files that need formatting without rewriting them; exit 1 if any do")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: javelin fmt [-check] [files or directories...]\n\n")
		fmt.Fprintf(os.Stderr, "Format .jasm files to canonical style. With no arguments the\n")
		fmt.Fprintf(os.Stderr, "project's source directories are formatted.\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		paths = m.SourceDirPaths()
	}
	files, err := collectSourceFiles(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No %s files found\n", manifest.SourceExt)
		return 0
	}

	anyChanged := false
	for _, path := range files {
		changed, err := formatFile(os.Stdout, path, *checkMode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting %s: %v\n", path, err)
			return 1
		}
		anyChanged = anyChanged || changed
	}
	if *checkMode && anyChanged {
		return 1
	}
	return 0
}

// formatFile formats a single source file. In check mode it reports
// whether the file would change; otherwise it rewrites the file in place
// and reports whether it changed.
func formatFile(w io.Writer, path string, checkMode bool) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	original := string(content)
	formatted, err := asm.Format(original)
	if err != nil {
		return false, err
	}
	if original == formatted {
		return false, nil
	}

	if checkMode {
		fmt.Fprintf(w, "would format: %s\n", path)
		return true, nil
	}
	if err := os.WriteFile(path, []byte(formatted), 0o644); err != nil {
		return false, err
	}
	fmt.Fprintf(w, "formatted: %s\n", path)
	return true, nil
}

// collectSourceFiles resolves paths to a flat list of source files.
// Directories are walked; missing directories are skipped.
func collectSourceFiles(paths []string) ([]string, error) {
	var result []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot access %q: %w", p, err)
		}

		if !info.IsDir() {
			if filepath.Ext(p) != manifest.SourceExt {
				return nil, fmt.Errorf("%q is not a %s file", p, manifest.SourceExt)
			}
			result = append(result, p)
			continue
		}
		err = filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() && filepath.Ext(path) == manifest.SourceExt {
				result = append(result, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
