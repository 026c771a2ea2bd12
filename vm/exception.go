package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Throwable: the propagated exceptional condition
// ---------------------------------------------------------------------------

// TraceFrame locates one frame an exception passed through.
type TraceFrame struct {
	Class      string
	Method     string
	SourceFile string
	Line       int // 0 when unknown
	PC         int
	Native     bool
}

// String renders the frame the way a JVM stack trace line does, without
// the leading "at".
func (f TraceFrame) String() string {
	name := dotted(f.Class) + "." + f.Method
	switch {
	case f.Native:
		return name + "(Native Method)"
	case f.Line > 0 && f.SourceFile != "":
		return fmt.Sprintf("%s(%s:%d)", name, f.SourceFile, f.Line)
	case f.Line > 0:
		return fmt.Sprintf("%s(line %d)", name, f.Line)
	case f.SourceFile != "":
		return fmt.Sprintf("%s(%s)", name, f.SourceFile)
	}
	return name + "(Unknown Source)"
}

// Throwable is an exception in flight. Its identity is the instance in the
// Store; the engine hands the same *Throwable from frame to frame and
// never copies it. A Throwable caught by a handler and thrown again keeps
// its origin and continues its trace.
type Throwable struct {
	Class   *Class
	Object  Ref
	Message string // empty when the detail message is null
	Origin  TraceFrame
	Trace   []TraceFrame // frames passed through, innermost first

	caughtIn *Frame // frame whose handler last caught it
}

// ClassName returns the slash-separated name of the exception class.
func (t *Throwable) ClassName() string {
	if t.Class == nil {
		return ClassThrowable
	}
	return t.Class.Name
}

// IsA reports whether the exception carries tag among its type tags.
func (t *Throwable) IsA(tag string) bool {
	return t.Class != nil && t.Class.HasTag(tag)
}

func (t *Throwable) Error() string {
	if t.Message == "" {
		return dotted(t.ClassName())
	}
	return dotted(t.ClassName()) + ": " + t.Message
}

// Diagnostic snapshots the exception for reporting.
func (t *Throwable) Diagnostic() *Diagnostic {
	d := &Diagnostic{
		Class:   t.ClassName(),
		Message: t.Message,
		Origin:  t.Origin,
		Trace:   append([]TraceFrame(nil), t.Trace...),
	}
	if t.Class != nil {
		d.Tags = append([]string(nil), t.Class.Tags()...)
	}
	return d
}

// ---------------------------------------------------------------------------
// Diagnostic
// ---------------------------------------------------------------------------

// Diagnostic describes an uncaught exception: its type identity, message,
// where it was raised and every frame it propagated through, innermost
// first.
type Diagnostic struct {
	Class   string
	Tags    []string
	Message string
	Origin  TraceFrame
	Trace   []TraceFrame
}

// Methods returns the qualified method name of each trace frame,
// innermost first.
func (d *Diagnostic) Methods() []string {
	out := make([]string, len(d.Trace))
	for i, f := range d.Trace {
		out[i] = f.Class + "." + f.Method
	}
	return out
}

// String renders the diagnostic as a JVM prints an uncaught exception.
func (d *Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(`Exception in thread "main" `)
	b.WriteString(dotted(d.Class))
	if d.Message != "" {
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	for _, f := range d.Trace {
		b.WriteString("\n\tat ")
		b.WriteString(f.String())
	}
	return b.String()
}

// dotted converts an internal class name to its source form.
func dotted(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
