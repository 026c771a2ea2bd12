package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chazu/javelin/image"
	"github.com/chazu/javelin/journal"
	"github.com/chazu/javelin/manifest"
	"github.com/chazu/javelin/server"
)

// handleServeCommand processes the `javelin serve` subcommand. The server
// runs until interrupted.
func handleServeCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", m.Server.Addr, "Listen address")
	fs.Parse(args)

	var opts []server.ServerOption
	if m.Runtime.MaxFrames > 0 {
		opts = append(opts, server.WithMaxFrameDepth(m.Runtime.MaxFrames))
	}
	if path := m.JournalPath(); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer j.Close()
		opts = append(opts, server.WithJournal(j))
	}

	srv := server.New(opts...)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(*addr) }()

	select {
	case err := <-errc:
		srv.Stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	log.Notice("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
		return 1
	}
	return 0
}

// handleLSPCommand processes the `javelin lsp` subcommand.
func handleLSPCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("lsp", flag.ExitOnError)
	fs.Parse(args)

	if err := server.NewLSP(vmOptions(m)...).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
		return 1
	}
	return 0
}

// handleRemoteCommand processes the `javelin remote` subcommand: the
// program file is sent to a run service and its output replayed locally.
// Usage:
//
//	javelin remote Main.jasm a b
//	javelin remote -addr build-box:7420 app.jimg
func handleRemoteCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	addr := fs.String("addr", m.Server.Addr, "Run service address")
	entry := fs.String("entry", "", "Entry class")
	maxFrames := fs.Int("max-frames", 0, "Call stack limit (default: the server's)")
	timeout := fs.Duration("timeout", time.Minute, "Call timeout")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: javelin remote [options] <file> [args...]")
		return 2
	}
	req, err := remoteRequest(fs.Arg(0), fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	req.Entry = *entry
	req.MaxFrames = *maxFrames

	client, err := server.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	res, err := client.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printRemoteResult(os.Stdout, os.Stderr, res)
}

// remoteRequest builds a run request from a program file.
func remoteRequest(path string, argv []string) (server.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return server.RunRequest{}, err
	}
	req := server.RunRequest{File: filepath.Base(path), Args: argv}
	if image.IsImage(data) {
		req.Image = data
	} else {
		req.Source = string(data)
	}
	return req, nil
}

func printRemoteResult(stdout, stderr io.Writer, res server.RunResult) int {
	io.WriteString(stdout, res.Output)
	if res.Diagnostic != "" {
		fmt.Fprintln(stderr, res.Diagnostic)
	} else if res.Result != "" {
		fmt.Fprintln(stdout, res.Result)
	}
	if res.RunID != 0 {
		log.Infof("recorded as run %d", res.RunID)
	}
	return res.ExitCode
}

// handleHistoryCommand processes the `javelin history` subcommand. Runs
// come from the project journal, or from a run service with -remote.
func handleHistoryCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	remote := fs.Bool("remote", false, "Ask the run service instead of the local journal")
	addr := fs.String("addr", m.Server.Addr, "Run service address (with -remote)")
	limit := fs.Int("n", 20, "Number of runs to list")
	fs.Parse(args)

	program := fs.Arg(0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		runs []journal.Entry
		err  error
	)
	if *remote {
		var client *server.Client
		if client, err = server.Dial(*addr); err == nil {
			defer client.Close()
			runs, err = client.History(ctx, program, *limit)
		}
	} else {
		runs, err = localHistory(ctx, m, program, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printHistory(os.Stdout, runs)
	return 0
}

func localHistory(ctx context.Context, m *manifest.Manifest, program string, limit int) ([]journal.Entry, error) {
	path := m.JournalPath()
	if path == "" {
		return nil, fmt.Errorf("no run journal (journal disabled or no %s)", manifest.FileName)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.Recent(ctx, program, limit)
}

func printHistory(w io.Writer, runs []journal.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tPROGRAM\tSTATUS\tEXCEPTION\tSTEPS\tDURATION")
	for _, e := range runs {
		exc := e.Exception
		if exc == "" {
			exc = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Started.Local().Format(time.DateTime), e.Program, e.Status, exc, e.Steps, e.Duration.Round(time.Microsecond))
	}
	tw.Flush()
}
