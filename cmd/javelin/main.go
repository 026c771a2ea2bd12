// Javelin CLI - assembles, runs and serves javelin programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/javelin/manifest"
)

var log = commonlog.GetLogger("javelin.cli")

// options are the global flags shared by every subcommand.
type options struct {
	dir       string
	verbosity int
	logPath   string
	quiet     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dir, "C", ".", "Project directory (searched upward for javelin.toml)")
	flag.IntVar(&opts.verbosity, "v", 0, "Log verbosity added to the manifest's [log] verbosity")
	flag.StringVar(&opts.logPath, "log", "", "Log file (default: manifest [log] path, else stderr)")
	flag.BoolVar(&opts.quiet, "q", false, "Disable logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: javelin [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [file] [args...]     Run a .jasm or .jimg program (default: project sources)\n")
		fmt.Fprintf(os.Stderr, "  build [-o out] [files]   Assemble sources into a .jimg program image\n")
		fmt.Fprintf(os.Stderr, "  disasm <file>            Print the classes and bytecode of a program\n")
		fmt.Fprintf(os.Stderr, "  fmt [-check] [paths]     Format .jasm files to canonical style\n")
		fmt.Fprintf(os.Stderr, "  serve [-addr host:port]  Start the run service (gRPC + Connect HTTP/JSON)\n")
		fmt.Fprintf(os.Stderr, "  lsp                      Start the .jasm language server on stdio\n")
		fmt.Fprintf(os.Stderr, "  remote <file> [args...]  Run a program on a run service\n")
		fmt.Fprintf(os.Stderr, "  history [program]        List recorded runs\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  javelin run Main.jasm a b         # Run demo program with two arguments\n")
		fmt.Fprintf(os.Stderr, "  javelin build -o app.jimg         # Build the project in javelin.toml\n")
		fmt.Fprintf(os.Stderr, "  javelin -v 2 run app.jimg         # Run an image with debug logging\n")
		fmt.Fprintf(os.Stderr, "  javelin remote -addr :7420 M.jasm # Run on a remote service\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(opts.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(opts, m)
	log.Debugf("project directory %s", m.Dir)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		os.Exit(handleRunCommand(rest, m))
	case "build":
		os.Exit(handleBuildCommand(rest, m))
	case "disasm":
		os.Exit(handleDisasmCommand(rest, m))
	case "fmt":
		os.Exit(handleFmtCommand(rest, m))
	case "serve":
		os.Exit(handleServeCommand(rest, m))
	case "lsp":
		os.Exit(handleLSPCommand(rest, m))
	case "remote":
		os.Exit(handleRemoteCommand(rest, m))
	case "history":
		os.Exit(handleHistoryCommand(rest, m))
	case "help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

// loadManifest finds javelin.toml at or above dir, falling back to the
// defaults rooted at dir. Runs outside a project are not journaled.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(dir)
		m.Journal.Disabled = true
	}
	return m, nil
}

func configureLogging(opts options, m *manifest.Manifest) {
	verbosity := m.Log.Verbosity + opts.verbosity
	if opts.quiet {
		verbosity = -4
	}
	path := opts.logPath
	if path == "" {
		path = m.LogPath()
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
	} else {
		commonlog.Configure(verbosity, &path)
	}
}
