package classfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/javelin/vm"
)

var log = commonlog.GetLogger("javelin.classfile")

// Loader reads classes from a class path: a list of directories holding
// <name>.class files, with package segments as subdirectories. It is a
// vm.ClassSource.
type Loader struct {
	Path []string
}

// NewLoader returns a loader searching dirs in order.
func NewLoader(dirs ...string) *Loader {
	return &Loader{Path: dirs}
}

// SplitPath splits a class path written in the platform's list syntax.
func SplitPath(s string) []string {
	var dirs []string
	for _, d := range filepath.SplitList(s) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// FindClass reads and translates the first <dir>/<name>.class on the
// path. A class on no directory of the path is an error wrapping
// vm.ErrUnknownClass.
func (l *Loader) FindClass(name string) (*vm.Class, error) {
	for _, dir := range l.Path {
		file := filepath.Join(dir, filepath.FromSlash(name)+".class")
		data, err := os.ReadFile(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		c, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		log.Debugf("read %s from %s", name, file)
		return c, nil
	}
	return nil, fmt.Errorf("%w %s on class path %q", vm.ErrUnknownClass, name,
		strings.Join(l.Path, string(filepath.ListSeparator)))
}

// Root returns the class path directory for a class file: the file's
// directory with one level removed per package segment of its class name.
func Root(file, className string) string {
	dir := filepath.Dir(file)
	for i := strings.Count(className, "/"); i > 0; i-- {
		dir = filepath.Dir(dir)
	}
	return dir
}
