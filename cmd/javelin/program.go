package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/javelin/asm"
	"github.com/chazu/javelin/classfile"
	"github.com/chazu/javelin/image"
	"github.com/chazu/javelin/manifest"
	"github.com/chazu/javelin/vm"
)

// ImageExt is the extension of program image files.
const ImageExt = ".jimg"

// ClassExt is the extension of compiled JVM class files.
const ClassExt = ".class"

// program is a loaded but not yet installed program: a decoded image,
// the classes assembled from source files, or a compiled class. Classes
// it references but does not hold are loaded from classPath.
type program struct {
	name      string // file the program came from, or the project name
	img       *image.Image
	classes   []*vm.Class
	entry     string
	classPath []string
}

// isProgramFile reports whether arg names a program rather than an
// argument to one.
func isProgramFile(arg string) bool {
	ext := filepath.Ext(arg)
	return ext == manifest.SourceExt || ext == ImageExt || ext == ClassExt
}

// classPathProgram runs entry, a class name in dotted or slash form,
// straight from a class path.
func classPathProgram(entry string, dirs []string) *program {
	name := strings.ReplaceAll(entry, ".", "/")
	return &program{name: name, entry: name, classPath: dirs}
}

// loadProgram reads an image or assembles source files. With no files,
// the project's source directories are assembled. entry overrides the
// entry class the program would otherwise pick.
func loadProgram(files []string, m *manifest.Manifest, entry string) (*program, error) {
	p, err := readProgram(files, m, entry)
	if err != nil {
		return nil, err
	}
	p.classPath = append(p.classPath, m.ClassPathDirs()...)
	return p, nil
}

func readProgram(files []string, m *manifest.Manifest, entry string) (*program, error) {
	if len(files) == 1 {
		data, err := os.ReadFile(files[0])
		if err != nil {
			return nil, err
		}
		if classfile.IsClassFile(data) {
			return classProgram(files[0], data, entry)
		}
		if image.IsImage(data) {
			img, err := image.Decode(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", files[0], err)
			}
			p := &program{name: files[0], img: img, entry: img.Entry}
			if entry != "" {
				p.entry = entry
			}
			if p.classes, err = img.Unpack(); err != nil {
				return nil, fmt.Errorf("%s: %w", files[0], err)
			}
			return p, nil
		}
	}

	p := &program{name: strings.Join(files, " ")}
	if len(files) == 0 {
		var err error
		if files, err = m.SourceFiles(); err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no %s files in %s", manifest.SourceExt, strings.Join(m.SourceDirPaths(), ", "))
		}
		p.name = m.Project.Name
		if p.name == "" {
			p.name = filepath.Base(m.Dir)
		}
		if entry == "" {
			entry = m.Source.Entry
		}
	}

	var errs []error
	for _, f := range files {
		classes, err := asm.ParseFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.classes = append(p.classes, classes...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p.entry = entry
	if p.entry == "" {
		p.entry = asm.MainClass(p.classes)
	}
	return p, nil
}

// classProgram translates one class file. The rest of its package tree
// is served from the directory the class path would start at.
func classProgram(file string, data []byte, entry string) (*program, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	c, err := cf.Class()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	p := &program{
		name:      file,
		classes:   []*vm.Class{c},
		entry:     c.Name,
		classPath: []string{classfile.Root(file, cf.Name)},
	}
	if entry != "" {
		p.entry = entry
	}
	return p, nil
}

// install defines the program's classes in v and links them.
func (p *program) install(v *vm.VM) error {
	if p.img != nil {
		if _, err := image.Install(v, p.img); err != nil {
			return err
		}
	} else if err := v.Define(p.classes...); err != nil {
		return err
	}
	for _, c := range p.classes {
		// Superclasses only on the class path are loaded before linking.
		if c.SuperName != "" && v.Lookup(c.SuperName) == nil && len(p.classPath) > 0 {
			if _, err := v.Resolve(c.SuperName); err != nil {
				return err
			}
		}
	}
	return v.Link()
}

// vmOptions returns the VM options a manifest asks for.
func vmOptions(m *manifest.Manifest) []vm.Option {
	var opts []vm.Option
	if m.Runtime.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrameDepth(m.Runtime.MaxFrames))
	}
	return opts
}

// options adds the program's class path to the manifest's VM options.
func (p *program) options(m *manifest.Manifest) []vm.Option {
	opts := vmOptions(m)
	if len(p.classPath) > 0 {
		opts = append(opts, vm.WithClassSource(classfile.NewLoader(p.classPath...)))
	}
	return opts
}
