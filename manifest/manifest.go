// Package manifest handles javelin.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in project directories.
const FileName = "javelin.toml"

// Defaults applied by Load when a section leaves a value unset.
const (
	DefaultSourceDir   = "src"
	DefaultServerAddr  = "127.0.0.1:7420"
	DefaultJournalPath = ".javelin/journal.db"
)

// Manifest represents a javelin.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Server  Server  `toml:"server"`
	Journal Journal `toml:"journal"`

	// Dir is the directory containing the javelin.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations. Entry names the class whose
// main method starts the program, in slash form. ClassPath lists
// directories of compiled .class files loaded on first use.
type Source struct {
	Dirs      []string `toml:"dirs"`
	Entry     string   `toml:"entry"`
	ClassPath []string `toml:"classpath"`
}

// Runtime configures the VM. Zero means the VM default.
type Runtime struct {
	MaxFrames int `toml:"max-frames"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Server configures the RPC listener.
type Server struct {
	Addr string `toml:"addr"`
}

// Journal configures the run journal. Disabled turns recording off.
type Journal struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Default returns the manifest used when no javelin.toml is found.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{DefaultSourceDir}
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultServerAddr
	}
	if m.Journal.Path == "" {
		m.Journal.Path = DefaultJournalPath
	}
}

// Load parses a javelin.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if m.Runtime.MaxFrames < 0 {
		return nil, fmt.Errorf("%s: runtime.max-frames must not be negative", path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a javelin.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute against the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// ClassPathDirs returns absolute paths for the configured class path.
func (m *Manifest) ClassPathDirs() []string {
	var paths []string
	for _, d := range m.Source.ClassPath {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// JournalPath returns the journal database path, or "" when disabled.
func (m *Manifest) JournalPath() string {
	if m.Journal.Disabled {
		return ""
	}
	return m.resolve(m.Journal.Path)
}

// LogPath returns the log file path; "" means stderr.
func (m *Manifest) LogPath() string {
	return m.resolve(m.Log.Path)
}
