package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// ConstantTag identifies the type of a constant pool entry.
type ConstantTag uint8

const (
	ConstInt ConstantTag = iota + 1
	ConstString
	ConstClass  // class name or array descriptor
	ConstField  // Class.Name:Descriptor
	ConstMethod // Class.Name(Descriptor)
)

func (t ConstantTag) String() string {
	switch t {
	case ConstInt:
		return "int"
	case ConstString:
		return "string"
	case ConstClass:
		return "class"
	case ConstField:
		return "field"
	case ConstMethod:
		return "method"
	}
	return fmt.Sprintf("ConstantTag(%d)", uint8(t))
}

// Constant is one constant pool entry.
type Constant struct {
	Tag        ConstantTag
	Int        int32
	Str        string
	Class      string
	Name       string
	Descriptor string
}

func (c Constant) String() string {
	switch c.Tag {
	case ConstInt:
		return fmt.Sprintf("int %d", c.Int)
	case ConstString:
		return fmt.Sprintf("string %q", c.Str)
	case ConstClass:
		return "class " + c.Class
	case ConstField:
		return fmt.Sprintf("field %s.%s:%s", c.Class, c.Name, c.Descriptor)
	case ConstMethod:
		return fmt.Sprintf("method %s.%s%s", c.Class, c.Name, c.Descriptor)
	}
	return c.Tag.String()
}

// ---------------------------------------------------------------------------
// Exception table and line numbers
// ---------------------------------------------------------------------------

// ExceptionHandler is one exception table entry. It covers the
// instructions in [StartPC, EndPC) and transfers control to HandlerPC
// when the raised Throwable carries CatchType among its tags. An empty
// CatchType catches everything.
type ExceptionHandler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string
}

// Covers reports whether the entry protects the instruction at pc.
func (h ExceptionHandler) Covers(pc int) bool {
	return pc >= h.StartPC && pc < h.EndPC
}

// Matches reports whether the entry catches a Throwable of class c.
func (h ExceptionHandler) Matches(c *Class) bool {
	if h.CatchType == "" {
		return true
	}
	return c != nil && c.HasTag(h.CatchType)
}

// LineEntry maps the instruction at PC and those following it to a
// source line.
type LineEntry struct {
	PC   int
	Line int
}

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

// NativeFunc implements a method in Go. this is Null for static methods.
// A returned *Throwable is raised as-is; any other error is converted to
// the matching exception class.
type NativeFunc func(ctx *NativeContext, this Value, args []Value) (Value, error)

// Method is a bytecode or native method.
type Method struct {
	Class      *Class
	Name       string
	Descriptor string
	Static     bool

	MaxLocals int
	Code      []byte
	Constants []Constant
	Handlers  []ExceptionHandler
	Lines     []LineEntry

	Native NativeFunc

	typ    MethodType
	parsed bool
}

// NewMethod creates a method after validating its descriptor.
func NewMethod(name, descriptor string, static bool) (*Method, error) {
	mt, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", name, err)
	}
	m := &Method{Name: name, Descriptor: descriptor, Static: static, typ: mt, parsed: true}
	m.MaxLocals = m.ArgSlots()
	return m, nil
}

// Key returns the lookup key of the method within its class.
func (m *Method) Key() string {
	return m.Name + m.Descriptor
}

// Type returns the parsed descriptor.
func (m *Method) Type() MethodType {
	if !m.parsed {
		if mt, err := ParseMethodDescriptor(m.Descriptor); err == nil {
			m.typ = mt
		}
		m.parsed = true
	}
	return m.typ
}

// ArgSlots returns the number of locals occupied by arguments, including
// the receiver for instance methods. Every argument uses one slot.
func (m *Method) ArgSlots() int {
	n := len(m.Type().Params)
	if !m.Static {
		n++
	}
	return n
}

// IsNative reports whether the method is implemented in Go.
func (m *Method) IsNative() bool {
	return m.Native != nil
}

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>"
}

// QualifiedName returns Class.name for traces.
func (m *Method) QualifiedName() string {
	if m.Class == nil {
		return m.Name
	}
	return m.Class.Name + "." + m.Name
}

// LineFor returns the source line of the instruction at pc, or 0.
func (m *Method) LineFor(pc int) int {
	line := 0
	for _, e := range m.Lines {
		if e.PC > pc {
			break
		}
		line = e.Line
	}
	return line
}

// HandlerFor returns the first exception table entry that covers pc and
// catches class c, in table order.
func (m *Method) HandlerFor(pc int, c *Class) (ExceptionHandler, bool) {
	for _, h := range m.Handlers {
		if h.Covers(pc) && h.Matches(c) {
			return h, true
		}
	}
	return ExceptionHandler{}, false
}

// Validate checks that every exception table entry lies inside the
// method's code. Native methods have no code and always pass.
func (m *Method) Validate() error {
	if m.IsNative() {
		return nil
	}
	n := len(m.Code)
	for i, h := range m.Handlers {
		if h.StartPC < 0 || h.StartPC >= h.EndPC || h.EndPC > n {
			return fmt.Errorf("%s: handler %d: range [%d, %d) outside code of length %d", m.QualifiedName(), i, h.StartPC, h.EndPC, n)
		}
		if h.HandlerPC < 0 || h.HandlerPC >= n {
			return fmt.Errorf("%s: handler %d: target %d outside code of length %d", m.QualifiedName(), i, h.HandlerPC, n)
		}
	}
	return nil
}

// Constant returns pool entry idx.
func (m *Method) Constant(idx int) (Constant, error) {
	if idx < 0 || idx >= len(m.Constants) {
		return Constant{}, fmt.Errorf("%s: constant #%d out of range (pool size %d)", m.QualifiedName(), idx, len(m.Constants))
	}
	return m.Constants[idx], nil
}

// Disassemble renders the method's code, pool and exception table.
func (m *Method) Disassemble() string {
	var b strings.Builder
	mod := ""
	if m.Static {
		mod = "static "
	}
	fmt.Fprintf(&b, "%s%s%s\n", mod, m.QualifiedName(), m.Descriptor)
	if m.IsNative() {
		b.WriteString("  <native>\n")
		return b.String()
	}
	fmt.Fprintf(&b, "  locals=%d\n", m.MaxLocals)
	for _, line := range strings.Split(Disassemble(m.Code), "\n") {
		if line != "" {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	for i, c := range m.Constants {
		fmt.Fprintf(&b, "  #%d = %s\n", i, c)
	}
	for _, h := range m.Handlers {
		ct := h.CatchType
		if ct == "" {
			ct = "any"
		}
		fmt.Fprintf(&b, "  catch %s [%d, %d) -> %d\n", ct, h.StartPC, h.EndPC, h.HandlerPC)
	}
	return b.String()
}
