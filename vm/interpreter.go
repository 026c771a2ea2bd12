package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Engine state
// ---------------------------------------------------------------------------

// EngineState is the state of an interpreter's call/unwind machine.
type EngineState uint8

const (
	StateIdle       EngineState = iota // nothing invoked yet
	StateRunning                       // executing the innermost frame
	StateUnwinding                     // propagating an exception outward
	StateReturned                      // the entry frame completed normally
	StateTerminated                    // an exception escaped the entry frame
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateUnwinding:
		return "unwinding"
	case StateReturned:
		return "returned"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("EngineState(%d)", uint8(s))
}

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes bytecode on one call stack. It is not safe for
// concurrent use; create one interpreter per thread of control. Several
// interpreters may share a VM and its Store.
//
// Exceptions never use Go panics: raising moves the engine into
// StateUnwinding and the main loop walks frames outward one at a time,
// consulting each frame's exception table, until a handler resumes
// execution or the entry frame is popped.
type Interpreter struct {
	vm    *VM
	stack *CallStack
	state EngineState
	base  int // stack depth below the entry frame

	pending  *Throwable // exception being propagated
	uncaught *Throwable // exception that escaped the entry frame
	result   Value      // entry frame's return value

	thrown map[Ref]*Throwable
	steps  uint64
}

func newInterpreter(vm *VM) *Interpreter {
	return &Interpreter{
		vm:     vm,
		stack:  NewCallStack(vm.MaxFrameDepth),
		thrown: make(map[Ref]*Throwable),
	}
}

// State returns the engine state.
func (in *Interpreter) State() EngineState {
	return in.state
}

// CallStack returns the live call stack.
func (in *Interpreter) CallStack() *CallStack {
	return in.stack
}

// Steps returns the number of instructions executed so far.
func (in *Interpreter) Steps() uint64 {
	return in.steps
}

// Invoke runs m to completion. args fill the leading locals, receiver
// first for instance methods. It returns the method's result when it
// completes normally, or the uncaught Throwable when an exception escapes
// it. The error return is reserved for faults outside the executed
// program: wrong argument count, a busy interpreter or malformed code.
func (in *Interpreter) Invoke(m *Method, args []Value) (Value, *Throwable, error) {
	if in.state == StateRunning || in.state == StateUnwinding {
		return Value{}, nil, fmt.Errorf("invoke %s: interpreter is busy", m.QualifiedName())
	}
	if len(args) != m.ArgSlots() {
		return Value{}, nil, fmt.Errorf("invoke %s: want %d arguments, got %d", m.QualifiedName(), m.ArgSlots(), len(args))
	}
	in.base = in.stack.Depth()
	in.result, in.pending, in.uncaught = Value{}, nil, nil

	entry := newFrame(m, args)
	if err := in.stack.Push(entry); err != nil {
		return Value{}, nil, fmt.Errorf("invoke %s: %w", m.QualifiedName(), err)
	}
	in.state = StateRunning
	log.Debugf("invoke %s%s", m.QualifiedName(), m.Descriptor)

	if err := in.execute(entry, args); err != nil {
		in.abandon()
		return Value{}, nil, err
	}
	if in.state == StateTerminated {
		return Value{}, in.uncaught, nil
	}
	return in.result, nil, nil
}

// execute drives the main loop and converts malformed code into an error.
func (in *Interpreter) execute(entry *Frame, args []Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			mc, ok := r.(*malformedCode)
			if !ok {
				panic(r)
			}
			err = mc
		}
	}()
	if entry.Method.IsNative() {
		in.runNative(entry, args)
	}
	for {
		switch in.state {
		case StateRunning:
			in.step()
		case StateUnwinding:
			in.unwind()
		default:
			return nil
		}
	}
}

// abandon drops every frame above the entry point after a fault.
func (in *Interpreter) abandon() {
	for in.stack.Depth() > in.base {
		in.popFrame(in.stack.Top())
	}
	in.pending = nil
	in.state = StateTerminated
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func (in *Interpreter) popFrame(f *Frame) {
	if err := in.stack.Pop(f); err != nil {
		panic(fmt.Sprintf("vm: pop %s: %v", f.Method.QualifiedName(), err))
	}
}

// call pushes a frame for m. Natives run to completion immediately inside
// their own frame. A full call stack raises StackOverflowError in the
// caller.
func (in *Interpreter) call(m *Method, args []Value) {
	f := newFrame(m, args)
	if err := in.stack.Push(f); err != nil {
		in.fail(err)
		return
	}
	if m.IsNative() {
		in.runNative(f, args)
	}
}

func (in *Interpreter) runNative(f *Frame, args []Value) {
	m := f.Method
	this, rest := Null, args
	if !m.Static {
		this, rest = args[0], args[1:]
	}
	ctx := &NativeContext{VM: in.vm, Store: in.vm.Store, Out: in.vm.Out, Method: m}
	v, err := m.Native(ctx, this, rest)
	if err != nil {
		in.fail(err)
		return
	}
	in.complete(f, v)
}

// complete returns from f, handing v to the caller.
func (in *Interpreter) complete(f *Frame, v Value) {
	f.State = FrameReturned
	in.popFrame(f)
	if in.stack.Depth() == in.base {
		in.result = v
		in.state = StateReturned
		log.Debugf("returned from %s", f.Method.QualifiedName())
		return
	}
	if f.Method.Type().Return.Kind != KindVoid {
		in.stack.Top().push(widen(v))
	}
}

// ---------------------------------------------------------------------------
// Raising and unwinding
// ---------------------------------------------------------------------------

// raise starts propagating t from the innermost frame. No further
// instruction of that frame runs unless one of its handlers catches t.
func (in *Interpreter) raise(t *Throwable) {
	f := in.stack.Top()
	if t.Origin.Method == "" {
		t.Origin = location(f)
	}
	f.State = FrameUnwinding
	in.pending = t
	in.state = StateUnwinding
	log.Debugf("raise %s in %s at pc %d", t.ClassName(), f.Method.QualifiedName(), f.InstrPC)
}

// fail raises the exception that running code observes for err.
func (in *Interpreter) fail(err error) {
	var t *Throwable
	if errors.As(err, &t) {
		in.raise(t)
		return
	}
	if errors.Is(err, ErrBadReference) {
		in.stack.Top().malformed("%v", err)
	}
	t, nerr := in.newThrowable(exceptionClassFor(err), exceptionDetailFor(err))
	if nerr != nil {
		panic(fmt.Sprintf("vm: cannot raise %s: %v", exceptionClassFor(err), nerr))
	}
	in.raise(t)
}

// unwind performs one propagation step: either the innermost frame has a
// handler for the pending exception and execution resumes there, or the
// frame is recorded in the trace and popped.
func (in *Interpreter) unwind() {
	f := in.stack.Top()
	t := in.pending
	if !f.Method.IsNative() {
		if h, ok := f.Method.HandlerFor(f.InstrPC, t.Class); ok {
			f.clearStack()
			f.push(FromRef(t.Object))
			f.PC = h.HandlerPC
			f.State = FrameRunning
			t.caughtIn = f
			in.pending = nil
			in.state = StateRunning
			log.Debugf("caught %s in %s, resuming at pc %d", t.ClassName(), f.Method.QualifiedName(), h.HandlerPC)
			return
		}
	}
	t.Trace = append(t.Trace, location(f))
	in.popFrame(f)
	if in.stack.Depth() == in.base {
		in.uncaught = t
		in.pending = nil
		in.state = StateTerminated
		log.Debugf("uncaught %s", t.ClassName())
	}
}

// newThrowable allocates an instance of the named exception class.
func (in *Interpreter) newThrowable(className, message string) (*Throwable, error) {
	c, err := in.vm.resolveClass(className)
	if err != nil {
		return nil, err
	}
	store := in.vm.Store
	obj, err := store.AllocateObject(c)
	if err != nil {
		return nil, err
	}
	if message != "" {
		if err := store.WriteField(obj, detailMessageField, FromRef(store.AllocateString(message))); err != nil {
			return nil, err
		}
	}
	t := &Throwable{Class: c, Object: obj, Message: message}
	in.thrown[obj] = t
	return t, nil
}

// throwableFor returns the Throwable for an instance thrown by ATHROW,
// reusing the one already in flight for a rethrown exception.
func (in *Interpreter) throwableFor(r Ref) (*Throwable, error) {
	if t, ok := in.thrown[r]; ok {
		return t, nil
	}
	store := in.vm.Store
	c, err := store.ClassOf(r)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.HasTag(ClassThrowable) {
		return nil, fmt.Errorf("athrow: %s is not a Throwable", store.TypeName(r))
	}
	t := &Throwable{Class: c, Object: r}
	if v, err := store.ReadField(r, detailMessageField); err == nil && !v.IsNull() {
		t.Message, _ = store.StringValue(v.Ref())
	}
	in.thrown[r] = t
	return t, nil
}

// location describes where f currently is.
func location(f *Frame) TraceFrame {
	m := f.Method
	tf := TraceFrame{Method: m.Name, PC: f.InstrPC, Native: m.IsNative()}
	if m.Class != nil {
		tf.Class = m.Class.Name
		tf.SourceFile = m.Class.SourceFile
	}
	if !tf.Native {
		tf.Line = m.LineFor(f.InstrPC)
	}
	return tf
}

// widen converts sub-int values to int as they enter the operand stack.
func widen(v Value) Value {
	if v.kind != KindInt && v.kind.IsIntLike() {
		return FromInt(v.Int())
	}
	return v
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

// constant reads a pool index operand and returns the entry, which must
// carry tag.
func (in *Interpreter) constant(f *Frame, tags ...ConstantTag) Constant {
	idx := int(f.readU16())
	c, err := f.Method.Constant(idx)
	if err != nil {
		f.malformed("%v", err)
	}
	for _, t := range tags {
		if c.Tag == t {
			return c
		}
	}
	f.malformed("constant #%d is %s, not %v", idx, c.Tag, tags)
	return Constant{}
}

// step executes one instruction of the innermost frame.
func (in *Interpreter) step() {
	f := in.stack.Top()
	code := f.Method.Code
	f.InstrPC = f.PC
	if f.PC < 0 || f.PC >= len(code) {
		f.malformed("pc %d outside method of length %d", f.PC, len(code))
	}
	op := Opcode(code[f.PC])
	f.PC++
	in.steps++
	store := in.vm.Store

	switch op {
	// --- Constants and stack ---
	case OpNOP:

	case OpAConstNull:
		f.push(Null)

	case OpBIPush:
		f.push(FromInt(int32(f.readI8())))

	case OpSIPush:
		f.push(FromInt(int32(f.readI16())))

	case OpLDC:
		c := in.constant(f, ConstInt, ConstString)
		if c.Tag == ConstInt {
			f.push(FromInt(c.Int))
		} else {
			f.push(FromRef(in.vm.Intern(c.Str)))
		}

	case OpPop:
		f.pop()

	case OpDup:
		f.push(f.top())

	case OpSwap:
		b := f.pop()
		a := f.pop()
		f.push(b)
		f.push(a)

	// --- Locals ---
	case OpILoad, OpALoad:
		f.push(f.local(int(f.readU8())))

	case OpIStore, OpAStore:
		idx := int(f.readU8())
		f.setLocal(idx, f.pop())

	case OpIInc:
		idx := int(f.readU8())
		delta := int32(f.readI8())
		f.setLocal(idx, FromInt(f.local(idx).Int()+delta))

	// --- Arithmetic ---
	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIRem:
		b := f.pop().Int()
		a := f.pop().Int()
		var r int32
		switch op {
		case OpIAdd:
			r = a + b
		case OpISub:
			r = a - b
		case OpIMul:
			r = a * b
		case OpIDiv, OpIRem:
			if b == 0 {
				in.fail(ErrArithmetic)
				return
			}
			if op == OpIDiv {
				r = a / b
			} else {
				r = a % b
			}
		}
		f.push(FromInt(r))

	case OpINeg:
		f.push(FromInt(-f.pop().Int()))

	// --- Arrays ---
	case OpNewArray:
		d := f.readU8()
		k, ok := descriptorKinds[d]
		if !ok || k == KindVoid {
			f.malformed("newarray: bad element type %q", d)
		}
		in.newArray(f, TypeDesc{Kind: k})

	case OpANewArray:
		c := in.constant(f, ConstClass)
		elem, err := in.elementType(c.Class)
		if err != nil {
			in.fail(err)
			return
		}
		in.newArray(f, elem)

	case OpArrayLength:
		arr := f.pop()
		n, err := store.ArrayLength(arr.Ref())
		if err != nil {
			in.fail(err)
			return
		}
		f.push(FromInt(int32(n)))

	case OpIALoad, OpAALoad:
		idx := f.pop().Int()
		arr := f.pop()
		v, err := store.ReadElement(arr.Ref(), int(idx))
		if err != nil {
			in.fail(err)
			return
		}
		f.push(widen(v))

	case OpIAStore, OpAAStore:
		v := f.pop()
		idx := f.pop().Int()
		arr := f.pop()
		if err := store.WriteElement(arr.Ref(), int(idx), v); err != nil {
			in.fail(err)
			return
		}

	// --- Objects ---
	case OpNew:
		c := in.constant(f, ConstClass)
		class, err := in.vm.resolveClass(c.Class)
		if err != nil {
			in.fail(err)
			return
		}
		r, err := store.AllocateObject(class)
		if err != nil {
			in.fail(err)
			return
		}
		f.push(FromRef(r))

	case OpGetField:
		c := in.constant(f, ConstField)
		obj := f.pop()
		v, err := store.ReadField(obj.Ref(), c.Name)
		if err != nil {
			in.fail(err)
			return
		}
		f.push(widen(v))

	case OpPutField:
		c := in.constant(f, ConstField)
		v := f.pop()
		obj := f.pop()
		if err := store.WriteField(obj.Ref(), c.Name, v); err != nil {
			in.fail(err)
			return
		}

	case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic:
		in.invoke(f, op, in.constant(f, ConstMethod))

	case OpAThrow:
		v := f.pop()
		if v.IsNull() {
			in.fail(&AccessError{Op: "athrow", Err: ErrNullReference})
			return
		}
		t, err := in.throwableFor(v.Ref())
		if err != nil {
			f.malformed("%v", err)
		}
		if t.caughtIn != f {
			// Thrown from somewhere other than the handler that caught it:
			// the trace starts again at this frame.
			t.Origin, t.Trace = TraceFrame{}, nil
		}
		t.caughtIn = nil
		in.raise(t)

	// --- Control flow ---
	case OpIfEq, OpIfNe, OpIfLt, OpIfGe, OpIfGt, OpIfLe:
		off := f.readI16()
		if intCompare(op, f.pop().Int(), 0) {
			f.jump(off)
		}

	case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
		off := f.readI16()
		b := f.pop().Int()
		a := f.pop().Int()
		if intCompare(op, a, b) {
			f.jump(off)
		}

	case OpIfACmpEq, OpIfACmpNe:
		off := f.readI16()
		b := f.pop()
		a := f.pop()
		if (a.Ref() == b.Ref()) == (op == OpIfACmpEq) {
			f.jump(off)
		}

	case OpIfNull, OpIfNonNull:
		off := f.readI16()
		v := f.pop()
		if v.IsNull() == (op == OpIfNull) {
			f.jump(off)
		}

	case OpGoto:
		f.jump(f.readI16())

	// --- Returns ---
	case OpIReturn, OpAReturn:
		in.complete(f, f.pop())

	case OpReturn:
		in.complete(f, Value{})

	default:
		f.malformed("unknown opcode 0x%02x", byte(op))
	}
}

// intCompare evaluates the condition of an int branch against a and b.
// Single-operand branches compare against zero.
func intCompare(op Opcode, a, b int32) bool {
	switch op {
	case OpIfEq, OpIfICmpEq:
		return a == b
	case OpIfNe, OpIfICmpNe:
		return a != b
	case OpIfLt, OpIfICmpLt:
		return a < b
	case OpIfGe, OpIfICmpGe:
		return a >= b
	case OpIfGt, OpIfICmpGt:
		return a > b
	case OpIfLe, OpIfICmpLe:
		return a <= b
	}
	return false
}

func (in *Interpreter) newArray(f *Frame, elem TypeDesc) {
	n := f.pop().Int()
	r, err := in.vm.Store.AllocateArray(elem, int(n))
	if err != nil {
		in.fail(err)
		return
	}
	f.push(FromRef(r))
}

// elementType resolves the operand of ANEWARRAY: a class name, or an
// array descriptor for arrays of arrays.
func (in *Interpreter) elementType(name string) (TypeDesc, error) {
	if len(name) > 0 && name[0] == '[' {
		return ParseFieldDescriptor(name)
	}
	if _, err := in.vm.resolveClass(name); err != nil {
		return TypeDesc{}, err
	}
	return TypeDesc{Kind: KindRef, ClassName: name}, nil
}

// invoke resolves a method reference, pops its arguments and calls it.
// Instance calls on a null receiver raise NullPointerException in the
// calling frame before any callee frame exists.
func (in *Interpreter) invoke(f *Frame, op Opcode, c Constant) {
	m, err := in.vm.resolveMethod(c.Class, c.Name, c.Descriptor)
	if err != nil {
		in.fail(err)
		return
	}
	if m.Static != (op == OpInvokeStatic) {
		in.fail(&LinkError{Class: c.Class, Member: c.Name + c.Descriptor, Err: ErrUnknownMethod})
		return
	}
	args := f.popN(m.ArgSlots())
	if !m.Static {
		recv := args[0]
		if recv.IsNull() {
			in.fail(&AccessError{Op: "invoke", Member: dotted(c.Class) + "." + c.Name + "()", Err: ErrNullReference})
			return
		}
		if op == OpInvokeVirtual {
			rc, err := in.vm.Store.ClassOf(recv.Ref())
			if err != nil {
				in.fail(err)
				return
			}
			if rc == nil {
				rc = in.vm.ObjectClass
			}
			if impl := rc.LookupMethod(c.Name, c.Descriptor); impl != nil {
				m = impl
			}
		}
	}
	in.call(m, args)
}
