package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// CallStack tests
// ---------------------------------------------------------------------------

func testFrame(t *testing.T, name string) *Frame {
	t.Helper()
	m, err := NewMethod(name, "()V", true)
	if err != nil {
		t.Fatal(err)
	}
	return newFrame(m, nil)
}

func TestCallStackLIFO(t *testing.T) {
	s := NewCallStack(0)
	a, b := testFrame(t, "a"), testFrame(t, "b")
	if s.Top() != nil {
		t.Fatal("empty stack has a top")
	}
	s.Push(a)
	s.Push(b)
	if s.Top() != b || s.Depth() != 2 {
		t.Fatalf("Top = %v, Depth = %d", s.Top(), s.Depth())
	}
	if err := s.Pop(a); !errors.Is(err, ErrFrameOrder) {
		t.Errorf("popping a non-top frame: err = %v", err)
	}
	if err := s.Pop(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Pop(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Pop(a); !errors.Is(err, ErrFrameOrder) {
		t.Errorf("popping an empty stack: err = %v", err)
	}
}

func TestCallStackDepthLimit(t *testing.T) {
	s := NewCallStack(2)
	if s.MaxDepth() != 2 {
		t.Errorf("MaxDepth = %d", s.MaxDepth())
	}
	s.Push(testFrame(t, "a"))
	s.Push(testFrame(t, "b"))
	if err := s.Push(testFrame(t, "c")); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("err = %v, want ErrStackOverflow", err)
	}
	if s.Depth() != 2 {
		t.Errorf("failed push changed depth to %d", s.Depth())
	}
}

func TestCallStackFramesIsCopy(t *testing.T) {
	s := NewCallStack(0)
	a := testFrame(t, "a")
	s.Push(a)
	frames := s.Frames()
	frames[0] = nil
	if s.Top() != a {
		t.Error("Frames() exposed internal storage")
	}
}

func TestNewFrameLocals(t *testing.T) {
	m, _ := NewMethod("f", "(IZ)V", true)
	m.MaxLocals = 4
	f := newFrame(m, []Value{FromInt(7), FromBool(true)})
	if len(f.Locals) != 4 {
		t.Fatalf("locals = %d", len(f.Locals))
	}
	if f.Locals[0].Int() != 7 || !f.Locals[1].Bool() || f.Locals[2].Kind() != KindVoid {
		t.Errorf("locals = %v", f.Locals)
	}
	if f.State != FrameRunning || f.PC != 0 || f.StackDepth() != 0 {
		t.Errorf("new frame state = %v pc %d depth %d", f.State, f.PC, f.StackDepth())
	}
}

// TestDeepRecursionWithinLimit runs recursion that stays below the limit
// and returns normally.
func TestDeepRecursionWithinLimit(t *testing.T) {
	b := NewMethodBuilder("down", "(I)I", true)
	bc := b.Bytecode()
	base := b.NewLabel()
	bc.EmitByte(OpILoad, 0)
	bc.EmitJump(OpIfEq, base)
	bc.EmitByte(OpILoad, 0)
	b.PushInt(1)
	bc.Emit(OpISub)
	b.Invoke(OpInvokeStatic, "Down", "down", "(I)I")
	b.PushInt(1)
	bc.Emit(OpIAdd)
	bc.Emit(OpIReturn)
	b.Mark(base)
	b.PushInt(0)
	bc.Emit(OpIReturn)

	vm, _ := newTestVM(t, WithMaxFrameDepth(200))
	defineStatic(t, vm, "Down", mustBuild(t, b))
	out := runStatic(t, vm, "Down", "down", FromInt(150))
	if out.Status != OutcomeNormal || out.Result.Int() != 150 {
		t.Errorf("down(150) = %v %v", out.Status, out.Result)
	}

	out = runStatic(t, vm, "Down", "down", FromInt(250))
	if out.Status != OutcomeAbnormal || out.Diagnostic.Class != ClassStackOverflowError {
		t.Errorf("down(250) should overflow a 200-frame stack, got %v", out.Status)
	}
}
