package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/javelin/asm"
	"github.com/chazu/javelin/image"
	"github.com/chazu/javelin/journal"
	"github.com/chazu/javelin/vm"
)

const (
	// RunServiceName is the fully qualified service name.
	RunServiceName = "javelin.v1.RunService"

	// RunProcedure runs one program.
	RunProcedure = "/" + RunServiceName + "/Run"
	// HistoryProcedure lists journaled runs.
	HistoryProcedure = "/" + RunServiceName + "/History"

	defaultHistoryLimit = 20
)

// RunService implements the RunService gRPC/Connect handler.
type RunService struct {
	worker  *VMWorker
	journal *journal.Journal
}

// NewRunService creates a RunService. j may be nil, which disables
// journaling and the History procedure.
func NewRunService(worker *VMWorker, j *journal.Journal) *RunService {
	return &RunService{worker: worker, journal: j}
}

// runOutput is what a run hands back from the worker goroutine.
type runOutput struct {
	entry   string
	outcome vm.Outcome
	result  string
	err     error
	code    connect.Code
}

// Run loads the program in the request into a fresh VM and runs its main
// method. An uncaught exception is a successful call whose result reports
// AbnormalTermination; errors are reserved for programs that cannot run.
func (s *RunService) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	rr, err := ParseRunRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var stdout bytes.Buffer
	opts := []vm.Option{vm.WithOutput(&stdout)}
	if rr.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrameDepth(rr.MaxFrames))
	}

	started := time.Now()
	res, err := s.worker.Do(func(v *vm.VM) interface{} {
		return s.run(v, rr)
	}, opts...)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	out := res.(runOutput)
	if out.err != nil {
		return nil, connect.NewError(out.code, out.err)
	}
	elapsed := time.Since(started)

	result := RunResult{
		Status:   out.outcome.Status.String(),
		ExitCode: out.outcome.ExitCode(),
		Entry:    out.entry,
		Output:   stdout.String(),
		Result:   out.result,
		Steps:    out.outcome.Steps,
	}
	if d := out.outcome.Diagnostic; d != nil {
		result.Diagnostic = d.String()
		result.Exception = strings.ReplaceAll(d.Class, "/", ".")
		result.Message = d.Message
		for _, f := range d.Trace {
			result.Trace = append(result.Trace, f.String())
		}
	}

	if s.journal != nil {
		e := journal.FromOutcome(out.entry, rr.File, out.outcome, started, elapsed)
		if id, err := s.journal.Record(ctx, e); err != nil {
			log.Errorf("journal: %v", err)
		} else {
			result.RunID = id
		}
	}
	log.Infof("run %s: %s after %d steps", out.entry, result.Status, result.Steps)

	msg, err := result.Struct()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// run executes on the worker goroutine.
func (s *RunService) run(v *vm.VM, rr RunRequest) runOutput {
	var (
		classes []*vm.Class
		entry   = rr.Entry
		err     error
	)
	if len(rr.Image) > 0 {
		var img *image.Image
		img, err = image.Decode(rr.Image)
		if err == nil {
			if entry == "" {
				entry = img.Entry
			}
			classes, err = image.Install(v, img)
		}
	} else {
		classes, err = asm.NewParser(rr.File, rr.Source).Parse()
		if err == nil {
			err = v.Define(classes...)
		}
	}
	if err == nil {
		err = v.Link()
	}
	if err != nil {
		return runOutput{err: err, code: connect.CodeInvalidArgument}
	}

	if entry == "" {
		entry = asm.MainClass(classes)
	}
	if entry == "" {
		return runOutput{err: errors.New("program has no main method"), code: connect.CodeFailedPrecondition}
	}

	outcome, err := v.RunMain(entry, rr.Args)
	if err != nil {
		return runOutput{entry: entry, err: err, code: connect.CodeFailedPrecondition}
	}
	out := runOutput{entry: entry, outcome: outcome}
	if outcome.Result.Kind() != vm.KindVoid {
		out.result = v.Inspect(outcome.Result).String()
	}
	return out
}

// History lists journaled runs, newest first. The request may carry a
// "program" filter and a "limit".
func (s *RunService) History(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.journal == nil {
		return nil, connect.NewError(connect.CodeUnavailable, errors.New("run journal is disabled"))
	}
	program, err := stringField(req.Msg, "program")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	limit, err := intField(req.Msg, "limit")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if limit < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("limit must not be negative"))
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	entries, err := s.journal.Recent(ctx, program, limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := historyStruct(entries)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
