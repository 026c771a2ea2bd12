package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame: execution state for one method invocation
// ---------------------------------------------------------------------------

// FrameState is the lifecycle state of a single frame.
type FrameState uint8

const (
	FrameRunning   FrameState = iota // executing instructions
	FrameUnwinding                   // an exception was raised in or through this frame
	FrameReturned                    // completed normally; about to be popped
)

func (s FrameState) String() string {
	switch s {
	case FrameRunning:
		return "running"
	case FrameUnwinding:
		return "unwinding"
	case FrameReturned:
		return "returned"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

// Frame is one activation record: locals, operand stack and the
// continuation point within its method.
type Frame struct {
	Method *Method
	Locals []Value
	State  FrameState

	// PC is the offset of the next instruction. InstrPC is the offset of
	// the instruction currently executing; exception table and line
	// lookups use it so a fault is attributed to the faulting instruction.
	PC      int
	InstrPC int

	stack []Value
}

// newFrame creates a frame for m with args copied into the leading locals.
func newFrame(m *Method, args []Value) *Frame {
	n := m.MaxLocals
	if n < len(args) {
		n = len(args)
	}
	locals := make([]Value, n)
	copy(locals, args)
	return &Frame{Method: m, Locals: locals, stack: make([]Value, 0, 8)}
}

// malformedCode reports bytecode the engine cannot execute: operand stack
// underflow, bad local indexes, jumps outside the method. The engine
// recovers it at the invocation boundary and returns it as a Go error.
type malformedCode struct {
	method string
	pc     int
	msg    string
}

func (e *malformedCode) Error() string {
	return fmt.Sprintf("malformed code in %s at pc %d: %s", e.method, e.pc, e.msg)
}

func (f *Frame) malformed(format string, args ...any) {
	panic(&malformedCode{method: f.Method.QualifiedName(), pc: f.InstrPC, msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() Value {
	n := len(f.stack)
	if n == 0 {
		f.malformed("operand stack underflow")
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *Frame) top() Value {
	if len(f.stack) == 0 {
		f.malformed("operand stack underflow")
	}
	return f.stack[len(f.stack)-1]
}

// popN pops n values and returns them in push order.
func (f *Frame) popN(n int) []Value {
	if len(f.stack) < n {
		f.malformed("operand stack underflow: need %d, have %d", n, len(f.stack))
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

// clearStack discards every pending operand.
func (f *Frame) clearStack() {
	f.stack = f.stack[:0]
}

// StackDepth returns the number of values on the operand stack.
func (f *Frame) StackDepth() int {
	return len(f.stack)
}

func (f *Frame) local(i int) Value {
	if i >= len(f.Locals) {
		f.malformed("local %d out of range (%d locals)", i, len(f.Locals))
	}
	return f.Locals[i]
}

func (f *Frame) setLocal(i int, v Value) {
	if i >= len(f.Locals) {
		f.malformed("local %d out of range (%d locals)", i, len(f.Locals))
	}
	f.Locals[i] = v
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (f *Frame) readU8() byte {
	code := f.Method.Code
	if f.PC >= len(code) {
		f.malformed("truncated instruction")
	}
	b := code[f.PC]
	f.PC++
	return b
}

func (f *Frame) readI8() int8 {
	return int8(f.readU8())
}

func (f *Frame) readU16() uint16 {
	code := f.Method.Code
	if f.PC+2 > len(code) {
		f.malformed("truncated instruction")
	}
	v := binary.LittleEndian.Uint16(code[f.PC:])
	f.PC += 2
	return v
}

func (f *Frame) readI16() int16 {
	return int16(f.readU16())
}

// jump moves PC by offset relative to the end of the current instruction.
func (f *Frame) jump(offset int16) {
	target := f.PC + int(offset)
	if target < 0 || target >= len(f.Method.Code) {
		f.malformed("branch target %d outside method", target)
	}
	f.PC = target
}

// ---------------------------------------------------------------------------
// CallStack
// ---------------------------------------------------------------------------

// CallStack is the ordered list of live frames, innermost last. Frames
// are pushed and popped in strict LIFO order.
type CallStack struct {
	frames   []*Frame
	maxDepth int
}

// NewCallStack creates an empty call stack that refuses to grow beyond
// maxDepth frames. A maxDepth of zero or less means no limit.
func NewCallStack(maxDepth int) *CallStack {
	return &CallStack{frames: make([]*Frame, 0, 16), maxDepth: maxDepth}
}

// Push adds f as the innermost frame. It returns ErrStackOverflow when
// the depth limit is reached; the stack is unchanged in that case.
func (s *CallStack) Push(f *Frame) error {
	if s.maxDepth > 0 && len(s.frames) >= s.maxDepth {
		return ErrStackOverflow
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes f, which must be the innermost frame.
func (s *CallStack) Pop(f *Frame) error {
	n := len(s.frames)
	if n == 0 || s.frames[n-1] != f {
		return ErrFrameOrder
	}
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	return nil
}

// Top returns the innermost frame, or nil if the stack is empty.
func (s *CallStack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of live frames.
func (s *CallStack) Depth() int {
	return len(s.frames)
}

// MaxDepth returns the depth limit.
func (s *CallStack) MaxDepth() int {
	return s.maxDepth
}

// Frames returns a copy of the live frames, innermost last.
func (s *CallStack) Frames() []*Frame {
	out := make([]*Frame, len(s.frames))
	copy(out, s.frames)
	return out
}
