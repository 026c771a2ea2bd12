package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// MethodBuilder: helper for constructing bytecode methods
// ---------------------------------------------------------------------------

// MethodBuilder helps construct Method instances. It owns the constant
// pool, exception table and line table, and resolves label-based handler
// ranges when the method is built.
type MethodBuilder struct {
	method   *Method
	bytecode *BytecodeBuilder
	pool     map[Constant]int
	labels   []*Label
	handlers []pendingHandler
	err      error
}

type pendingHandler struct {
	start, end, handler *Label
	catchType           string
}

// NewMethodBuilder creates a builder for a bytecode method. A malformed
// descriptor is reported by Build.
func NewMethodBuilder(name, descriptor string, static bool) *MethodBuilder {
	m, err := NewMethod(name, descriptor, static)
	if err != nil {
		m = &Method{Name: name, Descriptor: descriptor, Static: static}
	}
	return &MethodBuilder{
		method:   m,
		bytecode: NewBytecodeBuilder(),
		pool:     make(map[Constant]int),
		err:      err,
	}
}

// Bytecode returns the bytecode builder for direct emission.
func (b *MethodBuilder) Bytecode() *BytecodeBuilder {
	return b.bytecode
}

// SetMaxLocals sets the number of local slots. It never drops below the
// argument slots.
func (b *MethodBuilder) SetMaxLocals(n int) *MethodBuilder {
	if n < b.method.ArgSlots() {
		n = b.method.ArgSlots()
	}
	b.method.MaxLocals = n
	return b
}

// AddLocal reserves one more local slot and returns its index.
func (b *MethodBuilder) AddLocal() int {
	idx := b.method.MaxLocals
	b.method.MaxLocals++
	return idx
}

func (b *MethodBuilder) addConstant(c Constant) int {
	if idx, ok := b.pool[c]; ok {
		return idx
	}
	idx := len(b.method.Constants)
	b.method.Constants = append(b.method.Constants, c)
	b.pool[c] = idx
	return idx
}

// AddInt adds an int constant and returns its pool index.
func (b *MethodBuilder) AddInt(i int32) int {
	return b.addConstant(Constant{Tag: ConstInt, Int: i})
}

// AddString adds a string constant.
func (b *MethodBuilder) AddString(s string) int {
	return b.addConstant(Constant{Tag: ConstString, Str: s})
}

// AddClass adds a class reference. Array classes use descriptor syntax.
func (b *MethodBuilder) AddClass(name string) int {
	return b.addConstant(Constant{Tag: ConstClass, Class: name})
}

// AddField adds a field reference.
func (b *MethodBuilder) AddField(class, name, descriptor string) int {
	return b.addConstant(Constant{Tag: ConstField, Class: class, Name: name, Descriptor: descriptor})
}

// AddMethodRef adds a method reference.
func (b *MethodBuilder) AddMethodRef(class, name, descriptor string) int {
	return b.addConstant(Constant{Tag: ConstMethod, Class: class, Name: name, Descriptor: descriptor})
}

// NewLabel creates a label tracked by the builder.
func (b *MethodBuilder) NewLabel() *Label {
	l := b.bytecode.NewLabel()
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves label to the current position.
func (b *MethodBuilder) Mark(l *Label) {
	b.bytecode.Mark(l)
}

// AddHandler registers an exception table entry covering [start, end)
// that jumps to handler. An empty catchType catches everything. Entries
// are searched in the order they are added.
func (b *MethodBuilder) AddHandler(start, end, handler *Label, catchType string) {
	b.handlers = append(b.handlers, pendingHandler{start: start, end: end, handler: handler, catchType: catchType})
}

// MarkLine records that instructions from the current position on belong
// to source line.
func (b *MethodBuilder) MarkLine(line int) {
	pc := b.bytecode.Len()
	lines := b.method.Lines
	if n := len(lines); n > 0 && lines[n-1].PC == pc {
		lines[n-1].Line = line
		return
	}
	b.method.Lines = append(lines, LineEntry{PC: pc, Line: line})
}

// PushInt emits the shortest instruction that pushes i.
func (b *MethodBuilder) PushInt(i int32) {
	switch {
	case i >= math.MinInt8 && i <= math.MaxInt8:
		b.bytecode.EmitInt8(OpBIPush, int8(i))
	case i >= math.MinInt16 && i <= math.MaxInt16:
		b.bytecode.EmitInt16(OpSIPush, int16(i))
	default:
		b.bytecode.EmitUint16(OpLDC, uint16(b.AddInt(i)))
	}
}

// PushString emits an LDC of a string constant.
func (b *MethodBuilder) PushString(s string) {
	b.bytecode.EmitUint16(OpLDC, uint16(b.AddString(s)))
}

// Invoke emits an invoke instruction against a method reference.
func (b *MethodBuilder) Invoke(op Opcode, class, name, descriptor string) {
	b.bytecode.EmitUint16(op, uint16(b.AddMethodRef(class, name, descriptor)))
}

// FieldOp emits GETFIELD or PUTFIELD against a field reference.
func (b *MethodBuilder) FieldOp(op Opcode, class, name, descriptor string) {
	b.bytecode.EmitUint16(op, uint16(b.AddField(class, name, descriptor)))
}

// ClassOp emits NEW or ANEWARRAY against a class reference.
func (b *MethodBuilder) ClassOp(op Opcode, class string) {
	b.bytecode.EmitUint16(op, uint16(b.AddClass(class)))
}

// Build finalizes and returns the method. It fails if the descriptor was
// malformed, a jump targets an unmarked label, or a handler range is
// unresolved or empty.
func (b *MethodBuilder) Build() (*Method, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := b.method
	for _, l := range b.labels {
		if l.Unresolved() {
			return nil, fmt.Errorf("%s: jump to unmarked label", m.Name)
		}
	}
	if len(m.Constants) > math.MaxUint16+1 {
		return nil, fmt.Errorf("%s: constant pool too large (%d entries)", m.Name, len(m.Constants))
	}
	m.Handlers = m.Handlers[:0]
	for i, h := range b.handlers {
		start, ok1 := h.start.Position()
		end, ok2 := h.end.Position()
		target, ok3 := h.handler.Position()
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%s: handler %d uses an unmarked label", m.Name, i)
		}
		if start >= end {
			return nil, fmt.Errorf("%s: handler %d covers an empty range [%d, %d)", m.Name, i, start, end)
		}
		m.Handlers = append(m.Handlers, ExceptionHandler{StartPC: start, EndPC: end, HandlerPC: target, CatchType: h.catchType})
	}
	m.Code = b.bytecode.Bytes()
	return m, nil
}
