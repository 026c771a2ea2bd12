package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chazu/javelin/classfile"
	"github.com/chazu/javelin/image"
	"github.com/chazu/javelin/journal"
	"github.com/chazu/javelin/manifest"
	"github.com/chazu/javelin/vm"
)

// handleRunCommand processes the `javelin run` subcommand.
// Usage:
//
//	javelin run                       # project sources, manifest entry
//	javelin run Main.jasm a b         # one source file with arguments
//	javelin run -entry demo/Tool app.jimg
//	javelin run -method compute Calc.jasm
//	javelin run out/tests/arrays/ArraysSetFields.class
//	javelin run -cp out tests.arrays.ArraysSetFields a b
func handleRunCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.String("entry", "", "Entry class (default: manifest entry, image entry, or the class declaring main)")
	method := fs.String("method", "main", "Static method to run; anything but main is called without arguments")
	maxFrames := fs.Int("max-frames", 0, "Call stack limit (default: manifest [runtime] max-frames)")
	classPath := fs.String("cp", "", "Class path searched for compiled classes, after the manifest's [source] classpath")
	noJournal := fs.Bool("no-journal", false, "Do not record the run")
	fs.Parse(args)

	var files []string
	rest := fs.Args()
	if len(rest) > 0 && isProgramFile(rest[0]) {
		files, rest = rest[:1], rest[1:]
	}

	var p *program
	var err error
	if *classPath != "" && len(files) == 0 {
		name := *entry
		if name == "" {
			if len(rest) == 0 {
				fmt.Fprintln(os.Stderr, "Error: -cp needs a class to run")
				return 1
			}
			name, rest = rest[0], rest[1:]
		}
		p = classPathProgram(name, append(m.ClassPathDirs(), classfile.SplitPath(*classPath)...))
	} else {
		if p, err = loadProgram(files, m, *entry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		p.classPath = append(p.classPath, classfile.SplitPath(*classPath)...)
	}

	opts := p.options(m)
	if *maxFrames > 0 {
		opts = append(opts, vm.WithMaxFrameDepth(*maxFrames))
	}
	v := vm.NewVM(opts...)

	var j *journal.Journal
	if path := m.JournalPath(); path != "" && !*noJournal {
		if j, err = journal.Open(path); err != nil {
			log.Warningf("run journal unavailable: %v", err)
		} else {
			defer j.Close()
		}
	}

	return runProgram(v, p, *method, rest, j, os.Stderr)
}

// runProgram installs and runs p, reporting an uncaught exception on
// stderr. Returns the process exit status.
func runProgram(v *vm.VM, p *program, method string, argv []string, j *journal.Journal, stderr io.Writer) int {
	if err := p.install(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if p.entry == "" {
		fmt.Fprintf(stderr, "Error: %s has no main method; use -entry\n", p.name)
		return 1
	}

	started := time.Now()
	var (
		out vm.Outcome
		err error
	)
	if method == "" || method == "main" {
		out, err = v.RunMain(p.entry, argv)
	} else {
		if len(argv) > 0 {
			fmt.Fprintf(stderr, "Error: arguments are only passed to main\n")
			return 1
		}
		out, err = v.RunEntryPoint(p.entry, method, nil)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	elapsed := time.Since(started)

	if out.Diagnostic != nil {
		fmt.Fprintln(stderr, out.Diagnostic.String())
	} else if out.Result.Kind() != vm.KindVoid {
		fmt.Fprintln(v.Out, strings.TrimRight(v.Inspect(out.Result).String(), "\n"))
	}
	log.Infof("%s: %s in %s (%d steps)", p.entry, out.Status, elapsed, out.Steps)

	if j != nil {
		e := journal.FromOutcome(p.entry, p.name, out, started, elapsed)
		if _, err := j.Record(context.Background(), e); err != nil {
			log.Warningf("recording run: %v", err)
		}
	}
	return out.ExitCode()
}

// handleBuildCommand processes the `javelin build` subcommand.
// Usage:
//
//	javelin build                     # <project>.jimg from the source dirs
//	javelin build -o app.jimg A.jasm B.jasm
func handleBuildCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "Output image (default: <name>.jimg)")
	entry := fs.String("entry", "", "Entry class recorded in the image")
	fs.Parse(args)

	files := fs.Args()
	for _, f := range files {
		if filepath.Ext(f) != manifest.SourceExt {
			fmt.Fprintf(os.Stderr, "Error: %s is not a %s file\n", f, manifest.SourceExt)
			return 1
		}
	}
	p, err := loadProgram(files, m, *entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out := *output
	if out == "" {
		out = defaultImageName(files, p.name)
	}
	if err := buildImage(p, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Noticef("wrote %s (%d classes, entry %q)", out, len(p.classes), p.entry)
	return 0
}

func defaultImageName(files []string, name string) string {
	if len(files) > 0 {
		return strings.TrimSuffix(files[0], filepath.Ext(files[0])) + ImageExt
	}
	if name == "" {
		name = "program"
	}
	return name + ImageExt
}

// buildImage links p in a scratch VM, so link errors surface at build
// time, then writes its image to path.
func buildImage(p *program, path string) error {
	if err := p.install(vm.NewVM(vm.WithOutput(io.Discard))); err != nil {
		return err
	}
	img, err := image.Build(p.entry, p.classes)
	if err != nil {
		return err
	}
	return image.WriteFile(path, img)
}

// handleDisasmCommand processes the `javelin disasm` subcommand.
func handleDisasmCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	p, err := loadProgram(fs.Args(), m, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	disassemble(os.Stdout, p)
	return 0
}

func disassemble(w io.Writer, p *program) {
	if p.entry != "" {
		fmt.Fprintf(w, "; entry %s\n", p.entry)
	}
	for _, c := range p.classes {
		fmt.Fprintf(w, "\nclass %s", c.Name)
		if c.SuperName != "" {
			fmt.Fprintf(w, " extends %s", c.SuperName)
		}
		fmt.Fprintln(w)
		if c.SourceFile != "" {
			fmt.Fprintf(w, "  source %s\n", c.SourceFile)
		}
		for _, f := range c.Fields {
			fmt.Fprintf(w, "  field %s %s\n", f.Name, f.Descriptor)
		}
		for _, meth := range c.Methods {
			fmt.Fprintf(w, "\n%s", meth.Disassemble())
		}
	}
}
