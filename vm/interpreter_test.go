package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Interpreter: straight-line code and control flow
// ---------------------------------------------------------------------------

func defineStatic(t *testing.T, vm *VM, class string, methods ...*Method) *Class {
	t.Helper()
	c := NewClass(class, ClassObject)
	c.SourceFile = class + ".jasm"
	for _, m := range methods {
		c.AddMethod(m)
	}
	if err := vm.Define(c); err != nil {
		t.Fatal(err)
	}
	return c
}

func runStatic(t *testing.T, vm *VM, class, method string, args ...Value) Outcome {
	t.Helper()
	out, err := vm.RunEntryPoint(class, method, args)
	if err != nil {
		t.Fatalf("RunEntryPoint(%s.%s): %v", class, method, err)
	}
	return out
}

// TestIntegerLoop computes 1 + 2 + ... + n with a backward branch.
func TestIntegerLoop(t *testing.T) {
	b := NewMethodBuilder("sumTo", "(I)I", true)
	sum := b.AddLocal()
	i := b.AddLocal()
	bc := b.Bytecode()

	b.PushInt(0)
	bc.EmitByte(OpIStore, byte(sum))
	b.PushInt(1)
	bc.EmitByte(OpIStore, byte(i))

	loop := b.NewLabel()
	done := b.NewLabel()
	b.Mark(loop)
	// while (n >= i)
	bc.EmitByte(OpILoad, 0)
	bc.EmitByte(OpILoad, byte(i))
	bc.EmitJump(OpIfICmpLt, done)
	bc.EmitByte(OpILoad, byte(sum))
	bc.EmitByte(OpILoad, byte(i))
	bc.Emit(OpIAdd)
	bc.EmitByte(OpIStore, byte(sum))
	bc.EmitIInc(byte(i), 1)
	bc.EmitJump(OpGoto, loop)
	b.Mark(done)
	bc.EmitByte(OpILoad, byte(sum))
	bc.Emit(OpIReturn)

	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Loop", mustBuild(t, b))

	for _, tc := range []struct{ n, want int32 }{{0, 0}, {1, 1}, {10, 55}, {1000, 500500}} {
		out := runStatic(t, vm, "Loop", "sumTo", FromInt(tc.n))
		if out.Status != OutcomeNormal {
			t.Fatalf("sumTo(%d): %v", tc.n, out.Diagnostic)
		}
		if got := out.Result.Int(); got != tc.want {
			t.Errorf("sumTo(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int32
		want int32
	}{
		{"add", OpIAdd, 6, 7, 13},
		{"sub", OpISub, 6, 7, -1},
		{"mul", OpIMul, 5, 2, 10},
		{"div", OpIDiv, -7, 2, -3},
		{"rem", OpIRem, -7, 2, -1},
		{"add overflow", OpIAdd, 2147483647, 1, -2147483648},
		{"div overflow", OpIDiv, -2147483648, -1, -2147483648},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMethodBuilder("f", "(II)I", true)
			bc := b.Bytecode()
			bc.EmitByte(OpILoad, 0)
			bc.EmitByte(OpILoad, 1)
			bc.Emit(tt.op)
			bc.Emit(OpIReturn)
			vm, _ := newTestVM(t)
			defineStatic(t, vm, "Arith", mustBuild(t, b))
			out := runStatic(t, vm, "Arith", "f", FromInt(tt.a), FromInt(tt.b))
			if out.Status != OutcomeNormal {
				t.Fatalf("abnormal: %v", out.Diagnostic)
			}
			if got := out.Result.Int(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConditionalBranches(t *testing.T) {
	tests := []struct {
		op    Opcode
		a, b  int32
		taken bool
	}{
		{OpIfEq, 0, 0, true},
		{OpIfNe, 0, 0, false},
		{OpIfLt, -1, 0, true},
		{OpIfGe, -1, 0, false},
		{OpIfGt, 1, 0, true},
		{OpIfGt, 0, 0, false},
		{OpIfLe, 0, 0, true},
		{OpIfLe, 3, 0, false},
		{OpIfICmpEq, 4, 4, true},
		{OpIfICmpNe, 4, 4, false},
		{OpIfICmpLt, 3, 4, true},
		{OpIfICmpGe, 3, 4, false},
		{OpIfICmpGt, 5, 4, true},
		{OpIfICmpGt, 4, 4, false},
		{OpIfICmpLe, 4, 4, true},
		{OpIfICmpLe, 5, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.Name(), func(t *testing.T) {
			b := NewMethodBuilder("f", "(II)I", true)
			bc := b.Bytecode()
			taken := b.NewLabel()
			bc.EmitByte(OpILoad, 0)
			if tt.op.Info().Name[:3] == "if_" {
				bc.EmitByte(OpILoad, 1)
			}
			bc.EmitJump(tt.op, taken)
			b.PushInt(0)
			bc.Emit(OpIReturn)
			b.Mark(taken)
			b.PushInt(1)
			bc.Emit(OpIReturn)

			vm, _ := newTestVM(t)
			defineStatic(t, vm, "Branch", mustBuild(t, b))
			out := runStatic(t, vm, "Branch", "f", FromInt(tt.a), FromInt(tt.b))
			if got := out.Result.Int() == 1; got != tt.taken {
				t.Errorf("%s(%d, %d) taken = %v, want %v", tt.op.Name(), tt.a, tt.b, got, tt.taken)
			}
		})
	}
}

func TestReferenceCompareBranches(t *testing.T) {
	b := NewMethodBuilder("same", "(Ljava/lang/Object;Ljava/lang/Object;)I", true)
	bc := b.Bytecode()
	differ := b.NewLabel()
	bc.EmitByte(OpALoad, 0)
	bc.EmitByte(OpALoad, 1)
	bc.EmitJump(OpIfACmpNe, differ)
	b.PushInt(1)
	bc.Emit(OpIReturn)
	b.Mark(differ)
	b.PushInt(0)
	bc.Emit(OpIReturn)

	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Same", mustBuild(t, b))
	x := FromRef(vm.Intern("x"))
	y := FromRef(vm.Intern("y"))
	if out := runStatic(t, vm, "Same", "same", x, x); out.Result.Int() != 1 {
		t.Error("identical references compared unequal")
	}
	if out := runStatic(t, vm, "Same", "same", x, y); out.Result.Int() != 0 {
		t.Error("different references compared equal")
	}
	if out := runStatic(t, vm, "Same", "same", Null, Null); out.Result.Int() != 1 {
		t.Error("null compared unequal to null")
	}
}

func TestDivideByZeroRaisesArithmeticException(t *testing.T) {
	b := NewMethodBuilder("f", "(II)I", true)
	bc := b.Bytecode()
	bc.EmitByte(OpILoad, 0)
	bc.EmitByte(OpILoad, 1)
	bc.Emit(OpIDiv)
	bc.Emit(OpIReturn)
	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Arith", mustBuild(t, b))

	out := runStatic(t, vm, "Arith", "f", FromInt(1), FromInt(0))
	if out.Status != OutcomeAbnormal {
		t.Fatal("expected abnormal termination")
	}
	if out.Diagnostic.Class != ClassArithmeticException || out.Diagnostic.Message != "/ by zero" {
		t.Errorf("diagnostic = %s: %s", out.Diagnostic.Class, out.Diagnostic.Message)
	}
}

// ---------------------------------------------------------------------------
// Interpreter: exception handlers
// ---------------------------------------------------------------------------

// buildGuarded builds a static ()I method that runs body inside a handler
// for catchType. The handler stores the exception, then returns 99; the
// normal path returns 1.
func buildGuarded(t *testing.T, catchType string, body func(b *MethodBuilder)) *Method {
	t.Helper()
	b := NewMethodBuilder("guarded", "()I", true)
	ex := b.AddLocal()
	bc := b.Bytecode()
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()

	b.Mark(start)
	body(b)
	b.Mark(end)
	b.PushInt(1)
	bc.Emit(OpIReturn)

	b.Mark(handler)
	bc.EmitByte(OpAStore, byte(ex))
	b.PushInt(99)
	bc.Emit(OpIReturn)

	b.AddHandler(start, end, handler, catchType)
	return mustBuild(t, b)
}

func nullDeref(b *MethodBuilder) {
	b.Bytecode().Emit(OpAConstNull)
	b.Bytecode().Emit(OpArrayLength)
	b.Bytecode().Emit(OpPop)
}

func TestHandlerMatching(t *testing.T) {
	tests := []struct {
		catchType string
		caught    bool
	}{
		{ClassNullPointerException, true},
		{ClassRuntimeException, true},
		{ClassException, true},
		{ClassThrowable, true},
		{"", true},
		{ClassArithmeticException, false},
		{ClassError, false},
	}
	for _, tt := range tests {
		name := tt.catchType
		if name == "" {
			name = "any"
		}
		t.Run(name, func(t *testing.T) {
			vm, _ := newTestVM(t)
			defineStatic(t, vm, "Guard", buildGuarded(t, tt.catchType, nullDeref))
			out := runStatic(t, vm, "Guard", "guarded")
			if tt.caught {
				if out.Status != OutcomeNormal || out.Result.Int() != 99 {
					t.Errorf("expected handler to return 99, got %v %v", out.Status, out.Result)
				}
				return
			}
			if out.Status != OutcomeAbnormal || out.Diagnostic.Class != ClassNullPointerException {
				t.Errorf("expected uncaught NPE, got %v", out.Status)
			}
		})
	}
}

func TestHandlerRangeExcludesEnd(t *testing.T) {
	b := NewMethodBuilder("f", "()I", true)
	bc := b.Bytecode()
	start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	bc.Emit(OpNOP)
	b.Mark(end)
	nullDeref(b) // outside [start, end)
	b.PushInt(1)
	bc.Emit(OpIReturn)
	b.Mark(handler)
	bc.Emit(OpPop)
	b.PushInt(99)
	bc.Emit(OpIReturn)
	b.AddHandler(start, end, handler, "")

	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Range", mustBuild(t, b))
	out := runStatic(t, vm, "Range", "f")
	if out.Status != OutcomeAbnormal {
		t.Errorf("fault outside the protected range was caught")
	}
}

// TestCatchInCallerPopsIntermediateFrames throws three frames deep and
// catches in the outermost frame.
func TestCatchInCallerPopsIntermediateFrames(t *testing.T) {
	vm, _ := newTestVM(t)

	inner := NewMethodBuilder("inner", "()V", true)
	inner.ClassOp(OpNew, ClassIllegalArgumentException)
	inner.Bytecode().Emit(OpDup)
	inner.PushString("bad input")
	inner.Invoke(OpInvokeSpecial, ClassIllegalArgumentException, "<init>", "(Ljava/lang/String;)V")
	inner.Bytecode().Emit(OpAThrow)

	middle := NewMethodBuilder("middle", "()V", true)
	middle.Invoke(OpInvokeStatic, "Deep", "inner", "()V")
	middle.Bytecode().Emit(OpReturn)

	outer := NewMethodBuilder("outer", "()Ljava/lang/String;", true)
	bc := outer.Bytecode()
	start, end, handler := outer.NewLabel(), outer.NewLabel(), outer.NewLabel()
	outer.Mark(start)
	outer.Invoke(OpInvokeStatic, "Deep", "middle", "()V")
	outer.Mark(end)
	bc.Emit(OpAConstNull)
	bc.Emit(OpAReturn)
	outer.Mark(handler)
	outer.Invoke(OpInvokeVirtual, ClassThrowable, "getMessage", "()Ljava/lang/String;")
	bc.Emit(OpAReturn)
	outer.AddHandler(start, end, handler, ClassRuntimeException)

	defineStatic(t, vm, "Deep", mustBuild(t, inner), mustBuild(t, middle), mustBuild(t, outer))
	out := runStatic(t, vm, "Deep", "outer")
	if out.Status != OutcomeNormal {
		t.Fatalf("expected the handler to catch: %v", out.Diagnostic)
	}
	msg, err := vm.Store.StringValue(out.Result.Ref())
	if err != nil || msg != "bad input" {
		t.Errorf("getMessage() = %q, %v", msg, err)
	}
}

func TestHandlerOrderFirstMatchWins(t *testing.T) {
	b := NewMethodBuilder("f", "()I", true)
	bc := b.Bytecode()
	start, end, h1, h2 := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	nullDeref(b)
	b.Mark(end)
	b.PushInt(0)
	bc.Emit(OpIReturn)
	b.Mark(h1)
	bc.Emit(OpPop)
	b.PushInt(1)
	bc.Emit(OpIReturn)
	b.Mark(h2)
	bc.Emit(OpPop)
	b.PushInt(2)
	bc.Emit(OpIReturn)
	b.AddHandler(start, end, h1, ClassNullPointerException)
	b.AddHandler(start, end, h2, "")

	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Order", mustBuild(t, b))
	if got := runStatic(t, vm, "Order", "f").Result.Int(); got != 1 {
		t.Errorf("handler = %d, want the first matching entry", got)
	}
}

func TestRethrowKeepsOriginAndExtendsTrace(t *testing.T) {
	vm, _ := newTestVM(t)

	thrower := NewMethodBuilder("thrower", "()V", true)
	thrower.MarkLine(3)
	nullDeref(thrower)
	thrower.Bytecode().Emit(OpReturn)

	relay := NewMethodBuilder("relay", "()V", true)
	bc := relay.Bytecode()
	start, end, handler := relay.NewLabel(), relay.NewLabel(), relay.NewLabel()
	relay.MarkLine(7)
	relay.Mark(start)
	relay.Invoke(OpInvokeStatic, "Relay", "thrower", "()V")
	relay.Mark(end)
	bc.Emit(OpReturn)
	relay.MarkLine(9)
	relay.Mark(handler)
	bc.Emit(OpAThrow)
	relay.AddHandler(start, end, handler, "")

	main := NewMethodBuilder("main", "()V", true)
	main.Invoke(OpInvokeStatic, "Relay", "relay", "()V")
	main.Bytecode().Emit(OpReturn)

	defineStatic(t, vm, "Relay", mustBuild(t, thrower), mustBuild(t, relay), mustBuild(t, main))
	out := runStatic(t, vm, "Relay", "main")
	if out.Status != OutcomeAbnormal {
		t.Fatal("expected the rethrow to escape")
	}
	d := out.Diagnostic
	if d.Origin.Method != "thrower" || d.Origin.Line != 3 {
		t.Errorf("origin = %+v, want thrower line 3", d.Origin)
	}
	want := "Relay.thrower Relay.relay Relay.main"
	if got := strings.Join(d.Methods(), " "); got != want {
		t.Errorf("trace = %s, want %s", got, want)
	}
	if d.Trace[1].Line != 9 {
		t.Errorf("relay frame line = %d, want the rethrow line 9", d.Trace[1].Line)
	}
}

// TestThrowFromAnotherFrameRestartsTrace catches an exception in main,
// hands it to a helper and throws it again from there. The trace covers
// the frames between the helper and the entry point only.
func TestThrowFromAnotherFrameRestartsTrace(t *testing.T) {
	vm, _ := newTestVM(t)

	thrower := NewMethodBuilder("thrower", "()V", true)
	thrower.MarkLine(3)
	nullDeref(thrower)
	thrower.Bytecode().Emit(OpReturn)

	rethrow := NewMethodBuilder("rethrow", "(Ljava/lang/Throwable;)V", true)
	rethrow.MarkLine(12)
	rethrow.Bytecode().EmitByte(OpALoad, 0)
	rethrow.Bytecode().Emit(OpAThrow)

	main := NewMethodBuilder("main", "()V", true)
	ex := main.AddLocal()
	bc := main.Bytecode()
	start, end, handler := main.NewLabel(), main.NewLabel(), main.NewLabel()
	main.MarkLine(20)
	main.Mark(start)
	main.Invoke(OpInvokeStatic, "Pass", "thrower", "()V")
	main.Mark(end)
	bc.Emit(OpReturn)
	main.MarkLine(22)
	main.Mark(handler)
	bc.EmitByte(OpAStore, byte(ex))
	bc.EmitByte(OpALoad, byte(ex))
	main.Invoke(OpInvokeStatic, "Pass", "rethrow", "(Ljava/lang/Throwable;)V")
	bc.Emit(OpReturn)
	main.AddHandler(start, end, handler, "")

	defineStatic(t, vm, "Pass", mustBuild(t, thrower), mustBuild(t, rethrow), mustBuild(t, main))
	out := runStatic(t, vm, "Pass", "main")
	if out.Status != OutcomeAbnormal {
		t.Fatal("expected the second throw to escape")
	}
	d := out.Diagnostic
	if d.Class != ClassNullPointerException {
		t.Errorf("class = %s", d.Class)
	}
	if d.Origin.Method != "rethrow" || d.Origin.Line != 12 {
		t.Errorf("origin = %+v, want rethrow line 12", d.Origin)
	}
	want := "Pass.rethrow Pass.main"
	if got := strings.Join(d.Methods(), " "); got != want {
		t.Errorf("trace = %s, want %s", got, want)
	}
}

func TestAThrowNullRaisesNullPointerException(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	b.Bytecode().Emit(OpAConstNull)
	b.Bytecode().Emit(OpAThrow)
	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Throw", mustBuild(t, b))
	out := runStatic(t, vm, "Throw", "f")
	if out.Status != OutcomeAbnormal || out.Diagnostic.Class != ClassNullPointerException {
		t.Errorf("got %v %v", out.Status, out.Diagnostic)
	}
}

// ---------------------------------------------------------------------------
// Interpreter: stack depth
// ---------------------------------------------------------------------------

func buildRecurse(t *testing.T, class string) *Method {
	b := NewMethodBuilder("recurse", "(I)I", true)
	bc := b.Bytecode()
	bc.EmitByte(OpILoad, 0)
	b.PushInt(1)
	bc.Emit(OpIAdd)
	b.Invoke(OpInvokeStatic, class, "recurse", "(I)I")
	bc.Emit(OpIReturn)
	return mustBuild(t, b)
}

func TestStackOverflow(t *testing.T) {
	vm, _ := newTestVM(t, WithMaxFrameDepth(50))
	defineStatic(t, vm, "Rec", buildRecurse(t, "Rec"))

	out := runStatic(t, vm, "Rec", "recurse", FromInt(0))
	if out.Status != OutcomeAbnormal {
		t.Fatal("expected StackOverflowError")
	}
	if out.Diagnostic.Class != ClassStackOverflowError {
		t.Errorf("class = %s", out.Diagnostic.Class)
	}
	if n := len(out.Diagnostic.Trace); n != 50 {
		t.Errorf("trace has %d frames, want 50", n)
	}
}

func TestStackOverflowCatchable(t *testing.T) {
	vm, _ := newTestVM(t, WithMaxFrameDepth(30))
	guarded := buildGuarded(t, ClassVirtualMachineError, func(b *MethodBuilder) {
		b.PushInt(0)
		b.Invoke(OpInvokeStatic, "Rec", "recurse", "(I)I")
		b.Bytecode().Emit(OpPop)
	})
	defineStatic(t, vm, "Rec", buildRecurse(t, "Rec"), guarded)

	out := runStatic(t, vm, "Rec", "guarded")
	if out.Status != OutcomeNormal || out.Result.Int() != 99 {
		t.Errorf("expected the handler to catch StackOverflowError, got %v", out.Status)
	}
}

// ---------------------------------------------------------------------------
// Interpreter: harness faults
// ---------------------------------------------------------------------------

func TestMalformedCodeIsAnError(t *testing.T) {
	tests := []struct {
		name string
		emit func(bc *BytecodeBuilder)
	}{
		{"underflow", func(bc *BytecodeBuilder) { bc.Emit(OpPop) }},
		{"fall off end", func(bc *BytecodeBuilder) { bc.Emit(OpNOP) }},
		{"bad local", func(bc *BytecodeBuilder) { bc.EmitByte(OpILoad, 9) }},
		{"unknown opcode", func(bc *BytecodeBuilder) { bc.Emit(Opcode(0xFE)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMethodBuilder("f", "()V", true)
			tt.emit(b.Bytecode())
			vm, _ := newTestVM(t)
			defineStatic(t, vm, "Bad", mustBuild(t, b))
			_, err := vm.RunEntryPoint("Bad", "f", nil)
			if err == nil || !strings.Contains(err.Error(), "malformed code") {
				t.Errorf("err = %v, want malformed code", err)
			}
		})
	}
}

func TestDefineRejectsHandlerOutsideCode(t *testing.T) {
	tests := []struct {
		name string
		h    ExceptionHandler
	}{
		{"negative target", ExceptionHandler{StartPC: 0, EndPC: 3, HandlerPC: -1}},
		{"target past end", ExceptionHandler{StartPC: 0, EndPC: 3, HandlerPC: 3}},
		{"range past end", ExceptionHandler{StartPC: 0, EndPC: 4, HandlerPC: 2}},
		{"empty range", ExceptionHandler{StartPC: 1, EndPC: 1, HandlerPC: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMethodBuilder("f", "()V", true)
			b.Bytecode().Emit(OpAConstNull)
			b.Bytecode().Emit(OpAThrow)
			b.Bytecode().Emit(OpReturn)
			m := mustBuild(t, b)
			m.Handlers = []ExceptionHandler{tt.h}

			c := NewClass("BadHandler", ClassObject)
			c.AddMethod(m)
			vm, _ := newTestVM(t)
			if err := vm.Define(c); err == nil || !strings.Contains(err.Error(), "handler 0") {
				t.Errorf("Define err = %v", err)
			}
		})
	}
}

// TestHandlerTargetOutsideCodeIsAnError corrupts a handler after the
// class was accepted; the run must fail with an error, not a panic.
func TestHandlerTargetOutsideCodeIsAnError(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	b.Bytecode().Emit(OpAConstNull)
	b.Bytecode().Emit(OpAThrow)
	b.Bytecode().Emit(OpReturn)
	m := mustBuild(t, b)

	vm, _ := newTestVM(t)
	defineStatic(t, vm, "LateHandler", m)
	m.Handlers = []ExceptionHandler{{StartPC: 0, EndPC: 3, HandlerPC: -1}}

	_, err := vm.RunEntryPoint("LateHandler", "f", nil)
	if err == nil || !strings.Contains(err.Error(), "malformed code") {
		t.Errorf("err = %v, want malformed code", err)
	}
}

func TestUnissuedReferenceIsAnError(t *testing.T) {
	b := NewMethodBuilder("size", "([I)I", true)
	b.Bytecode().EmitByte(OpALoad, 0)
	b.Bytecode().Emit(OpArrayLength)
	b.Bytecode().Emit(OpIReturn)
	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Forged", mustBuild(t, b))

	_, err := vm.RunEntryPoint("Forged", "size", []Value{FromRef(Ref(1 << 20))})
	if err == nil || !strings.Contains(err.Error(), "malformed code") || !strings.Contains(err.Error(), ErrBadReference.Error()) {
		t.Errorf("err = %v, want malformed code with a bad reference", err)
	}
}

func TestEntryPointErrors(t *testing.T) {
	vm, _ := newTestVM(t)
	if _, err := vm.RunEntryPoint("Missing", "main", nil); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("missing class err = %v", err)
	}
	defineStatic(t, vm, "Empty")
	if _, err := vm.RunEntryPoint("Empty", "main", nil); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("missing method err = %v", err)
	}
}

func TestUnknownMethodRaisesNoSuchMethodError(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	b.Invoke(OpInvokeStatic, ClassObject, "nope", "()V")
	b.Bytecode().Emit(OpReturn)
	vm, _ := newTestVM(t)
	defineStatic(t, vm, "Link", mustBuild(t, b))
	out := runStatic(t, vm, "Link", "f")
	if out.Status != OutcomeAbnormal || out.Diagnostic.Class != ClassNoSuchMethodError {
		t.Errorf("got %v %+v", out.Status, out.Diagnostic)
	}
}

// ---------------------------------------------------------------------------
// Natives
// ---------------------------------------------------------------------------

func TestConsolePrintln(t *testing.T) {
	b := NewMethodBuilder("main", "([Ljava/lang/String;)V", true)
	b.PushInt(42)
	b.Invoke(OpInvokeStatic, ClassConsole, "println", "(I)V")
	b.PushString("hello")
	b.Invoke(OpInvokeStatic, ClassConsole, "println", "(Ljava/lang/String;)V")
	b.Bytecode().Emit(OpReturn)

	vm, out := newTestVM(t)
	defineStatic(t, vm, "Hello", mustBuild(t, b))
	res := runStatic(t, vm, "Hello", "main")
	if res.Status != OutcomeNormal {
		t.Fatalf("abnormal: %v", res.Diagnostic)
	}
	if got := out.String(); got != "42\nhello\n" {
		t.Errorf("output = %q", got)
	}
}

func TestNativeErrorTracedAsNativeFrame(t *testing.T) {
	natives := NewNativeRegistry()
	natives.Register("Fail", "boom", "()V", true, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		return Value{}, &AccessError{Op: "read_element", Index: 3, Length: 1, Err: ErrIndexOutOfBounds}
	})
	vm, _ := newTestVM(t, WithNatives(natives))
	b := NewMethodBuilder("main", "()V", true)
	b.Invoke(OpInvokeStatic, "Fail", "boom", "()V")
	b.Bytecode().Emit(OpReturn)
	defineStatic(t, vm, "Fail", mustBuild(t, b))

	out := runStatic(t, vm, "Fail", "main")
	if out.Status != OutcomeAbnormal {
		t.Fatal("expected abnormal termination")
	}
	d := out.Diagnostic
	if d.Class != ClassArrayIndexOutOfBounds {
		t.Errorf("class = %s", d.Class)
	}
	if len(d.Trace) != 2 || !d.Trace[0].Native || d.Trace[0].Method != "boom" {
		t.Errorf("trace = %+v", d.Trace)
	}
	if !strings.Contains(d.String(), "Fail.boom(Native Method)") {
		t.Errorf("rendering:\n%s", d)
	}
}

func TestRunMainPassesArguments(t *testing.T) {
	b := NewMethodBuilder("main", "([Ljava/lang/String;)V", true)
	bc := b.Bytecode()
	bc.EmitByte(OpALoad, 0)
	bc.Emit(OpArrayLength)
	b.Invoke(OpInvokeStatic, ClassConsole, "println", "(I)V")
	bc.EmitByte(OpALoad, 0)
	b.PushInt(1)
	bc.Emit(OpAALoad)
	b.Invoke(OpInvokeStatic, ClassConsole, "println", "(Ljava/lang/String;)V")
	bc.Emit(OpReturn)

	vm, out := newTestVM(t)
	defineStatic(t, vm, "Args", mustBuild(t, b))
	res, err := vm.RunMain("Args", []string{"a", "b"})
	if err != nil || res.Status != OutcomeNormal {
		t.Fatalf("RunMain: %v %v", err, res.Status)
	}
	if got := out.String(); got != "2\nb\n" {
		t.Errorf("output = %q", got)
	}
}

func TestInterpreterRejectsWrongArity(t *testing.T) {
	vm, _ := newTestVM(t)
	c := defineStatic(t, vm, "Rec", buildRecurse(t, "Rec"))
	in := vm.NewInterpreter()
	if _, _, err := in.Invoke(c.DeclaredMethod("recurse", "(I)I"), nil); err == nil {
		t.Error("expected an arity error")
	}
}
