package server

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/javelin/journal"
)

// ---------------------------------------------------------------------------
// RunService messages
// ---------------------------------------------------------------------------
//
// Requests and responses travel as google.protobuf.Struct so the service
// needs no generated code. The typed forms below are what handlers and the
// client work with; each converts to and from its Struct.

// RunRequest asks the server to run a program given as assembler source
// or as an encoded image. Exactly one of Source and Image must be set.
type RunRequest struct {
	Source    string   // .jasm text
	File      string   // name used in syntax errors and the journal
	Image     []byte   // encoded program image
	Entry     string   // class whose main runs; defaults to the image entry or the first main
	Args      []string // main's String[] argument
	MaxFrames int      // call stack limit; 0 means the server default
}

// Struct encodes r as a request message.
func (r RunRequest) Struct() (*structpb.Struct, error) {
	fields := map[string]any{}
	if r.Source != "" {
		fields["source"] = r.Source
	}
	if r.File != "" {
		fields["file"] = r.File
	}
	if len(r.Image) > 0 {
		fields["image"] = base64.StdEncoding.EncodeToString(r.Image)
	}
	if r.Entry != "" {
		fields["entry"] = r.Entry
	}
	if len(r.Args) > 0 {
		fields["args"] = stringsToList(r.Args)
	}
	if r.MaxFrames != 0 {
		fields["maxFrames"] = r.MaxFrames
	}
	return structpb.NewStruct(fields)
}

// ParseRunRequest decodes and validates a request message.
func ParseRunRequest(s *structpb.Struct) (RunRequest, error) {
	var r RunRequest
	var err error
	if r.Source, err = stringField(s, "source"); err != nil {
		return r, err
	}
	if r.File, err = stringField(s, "file"); err != nil {
		return r, err
	}
	img, err := stringField(s, "image")
	if err != nil {
		return r, err
	}
	if img != "" {
		if r.Image, err = base64.StdEncoding.DecodeString(img); err != nil {
			return r, fmt.Errorf("image: %w", err)
		}
	}
	if r.Entry, err = stringField(s, "entry"); err != nil {
		return r, err
	}
	if r.Args, err = stringListField(s, "args"); err != nil {
		return r, err
	}
	if r.MaxFrames, err = intField(s, "maxFrames"); err != nil {
		return r, err
	}

	switch {
	case r.Source == "" && len(r.Image) == 0:
		return r, fmt.Errorf("one of source or image is required")
	case r.Source != "" && len(r.Image) > 0:
		return r, fmt.Errorf("source and image are mutually exclusive")
	case r.MaxFrames < 0:
		return r, fmt.Errorf("maxFrames must not be negative")
	}
	return r, nil
}

// RunResult is the outcome of a run as reported to clients.
type RunResult struct {
	Status     string // "Normal" or "AbnormalTermination"
	ExitCode   int
	Entry      string
	Output     string // everything the program printed
	Result     string // inspected return value; empty for void
	Diagnostic string // rendered uncaught exception
	Exception  string
	Message    string
	Trace      []string // one rendered frame per entry, innermost first
	Steps      uint64
	RunID      int64 // journal id; 0 when the journal is disabled
}

// Struct encodes r as a response message.
func (r RunResult) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"status":   r.Status,
		"exitCode": r.ExitCode,
		"entry":    r.Entry,
		"output":   r.Output,
		"steps":    r.Steps,
	}
	if r.Result != "" {
		fields["result"] = r.Result
	}
	if r.Diagnostic != "" {
		fields["diagnostic"] = r.Diagnostic
		fields["exception"] = r.Exception
		fields["message"] = r.Message
		fields["trace"] = stringsToList(r.Trace)
	}
	if r.RunID != 0 {
		fields["runId"] = r.RunID
	}
	return structpb.NewStruct(fields)
}

// ParseRunResult decodes a response message.
func ParseRunResult(s *structpb.Struct) (RunResult, error) {
	var r RunResult
	var err error
	for name, dst := range map[string]*string{
		"status": &r.Status, "entry": &r.Entry, "output": &r.Output,
		"result": &r.Result, "diagnostic": &r.Diagnostic,
		"exception": &r.Exception, "message": &r.Message,
	} {
		if *dst, err = stringField(s, name); err != nil {
			return r, err
		}
	}
	if r.ExitCode, err = intField(s, "exitCode"); err != nil {
		return r, err
	}
	steps, err := intField(s, "steps")
	if err != nil {
		return r, err
	}
	r.Steps = uint64(steps)
	id, err := intField(s, "runId")
	if err != nil {
		return r, err
	}
	r.RunID = int64(id)
	if r.Trace, err = stringListField(s, "trace"); err != nil {
		return r, err
	}
	return r, nil
}

// historyStruct encodes journal entries as a History response.
func historyStruct(entries []journal.Entry) (*structpb.Struct, error) {
	runs := make([]any, 0, len(entries))
	for _, e := range entries {
		runs = append(runs, map[string]any{
			"id":         e.ID,
			"program":    e.Program,
			"source":     e.Source,
			"status":     e.Status,
			"exitCode":   e.ExitCode,
			"exception":  e.Exception,
			"message":    e.Message,
			"trace":      stringsToList(e.Trace),
			"steps":      e.Steps,
			"started":    e.Started.UTC().Format(time.RFC3339Nano),
			"durationMs": float64(e.Duration) / float64(time.Millisecond),
		})
	}
	return structpb.NewStruct(map[string]any{"runs": runs})
}

// ---------------------------------------------------------------------------
// Struct field helpers
// ---------------------------------------------------------------------------

func stringsToList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", name)
	}
	return sv.StringValue, nil
}

func intField(s *structpb.Struct, name string) (int, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, nil
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || nv.NumberValue != math.Trunc(nv.NumberValue) {
		return 0, fmt.Errorf("field %q must be an integer", name)
	}
	return int(nv.NumberValue), nil
}

func stringListField(s *structpb.Struct, name string) ([]string, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, nil
	}
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("field %q must be a list", name)
	}
	var out []string
	for i, item := range lv.ListValue.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d] must be a string", name, i)
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}

// ParseHistory decodes a History response.
func ParseHistory(s *structpb.Struct) ([]journal.Entry, error) {
	runs, ok := s.GetFields()["runs"]
	if !ok {
		return nil, nil
	}
	lv, ok := runs.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("field %q must be a list", "runs")
	}
	var out []journal.Entry
	for i, item := range lv.ListValue.GetValues() {
		rs := item.GetStructValue()
		if rs == nil {
			return nil, fmt.Errorf("runs[%d] must be an object", i)
		}
		e, err := parseHistoryEntry(rs)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseHistoryEntry(s *structpb.Struct) (journal.Entry, error) {
	var e journal.Entry
	var err error
	for name, dst := range map[string]*string{
		"program": &e.Program, "source": &e.Source, "status": &e.Status,
		"exception": &e.Exception, "message": &e.Message,
	} {
		if *dst, err = stringField(s, name); err != nil {
			return e, err
		}
	}
	id, err := intField(s, "id")
	if err != nil {
		return e, err
	}
	e.ID = int64(id)
	if e.ExitCode, err = intField(s, "exitCode"); err != nil {
		return e, err
	}
	steps, err := intField(s, "steps")
	if err != nil {
		return e, err
	}
	e.Steps = uint64(steps)
	if e.Trace, err = stringListField(s, "trace"); err != nil {
		return e, err
	}
	started, err := stringField(s, "started")
	if err != nil {
		return e, err
	}
	if started != "" {
		if e.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return e, fmt.Errorf("started: %w", err)
		}
	}
	e.Duration = time.Duration(s.GetFields()["durationMs"].GetNumberValue() * float64(time.Millisecond))
	return e, nil
}
