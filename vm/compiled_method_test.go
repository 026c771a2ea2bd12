package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// MethodBuilder tests
// ---------------------------------------------------------------------------

func TestMethodBuilderPoolDedup(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	i1 := b.AddString("hello")
	i2 := b.AddInt(100000)
	i3 := b.AddString("hello")
	i4 := b.AddMethodRef("A", "m", "()V")
	i5 := b.AddField("A", "m", "I")

	if i1 != i3 {
		t.Errorf("equal constants got indexes %d and %d", i1, i3)
	}
	if i1 == i2 || i4 == i5 {
		t.Error("distinct constants share an index")
	}
	b.Bytecode().Emit(OpReturn)
	m := mustBuild(t, b)
	if len(m.Constants) != 4 {
		t.Errorf("pool size = %d, want 4", len(m.Constants))
	}
}

func TestPushIntChoosesEncoding(t *testing.T) {
	tests := []struct {
		v  int32
		op Opcode
	}{
		{0, OpBIPush},
		{-128, OpBIPush},
		{127, OpBIPush},
		{128, OpSIPush},
		{-32768, OpSIPush},
		{32768, OpLDC},
		{-2147483648, OpLDC},
	}
	for _, tt := range tests {
		b := NewMethodBuilder("f", "()I", true)
		b.PushInt(tt.v)
		if op := Opcode(b.Bytecode().Bytes()[0]); op != tt.op {
			t.Errorf("PushInt(%d) emitted %s, want %s", tt.v, op, tt.op)
		}
		b.Bytecode().Emit(OpIReturn)

		vm, _ := newTestVM(t)
		defineStatic(t, vm, "Push", mustBuild(t, b))
		out := runStatic(t, vm, "Push", "f")
		if out.Result.Int() != tt.v {
			t.Errorf("PushInt(%d) pushed %d", tt.v, out.Result.Int())
		}
	}
}

func TestBuildRejectsUnmarkedLabel(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	b.Bytecode().EmitJump(OpGoto, b.NewLabel())
	if _, err := b.Build(); err == nil {
		t.Error("jump to an unmarked label accepted")
	}
}

func TestBuildRejectsBadHandlers(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	start, end, h := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Mark(end)
	b.Mark(h)
	b.Bytecode().Emit(OpReturn)
	b.AddHandler(start, end, h, "")
	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "empty range") {
		t.Errorf("err = %v, want empty range", err)
	}

	b = NewMethodBuilder("g", "()V", true)
	start, end = b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.Bytecode().Emit(OpReturn)
	b.Mark(end)
	b.AddHandler(start, end, b.NewLabel(), "")
	if _, err := b.Build(); err == nil {
		t.Error("handler with an unmarked target accepted")
	}
}

func TestBuildRejectsBadDescriptor(t *testing.T) {
	b := NewMethodBuilder("f", "(I", true)
	b.Bytecode().Emit(OpReturn)
	if _, err := b.Build(); err == nil {
		t.Error("bad descriptor accepted")
	}
}

func TestLocalsAndLines(t *testing.T) {
	b := NewMethodBuilder("f", "(II)V", false)
	if got := b.AddLocal(); got != 3 {
		t.Errorf("first free local = %d, want 3", got)
	}
	b.SetMaxLocals(1)
	bc := b.Bytecode()
	b.MarkLine(1)
	b.MarkLine(2) // same pc: replaces line 1
	bc.Emit(OpNOP)
	b.MarkLine(3)
	bc.Emit(OpNOP)
	bc.Emit(OpReturn)
	m := mustBuild(t, b)

	if m.MaxLocals != 3 {
		t.Errorf("MaxLocals = %d, want the 3 argument slots", m.MaxLocals)
	}
	for pc, want := range []int{2, 3, 3} {
		if got := m.LineFor(pc); got != want {
			t.Errorf("LineFor(%d) = %d, want %d", pc, got, want)
		}
	}
}

func TestMethodDisassemble(t *testing.T) {
	b := NewMethodBuilder("f", "()V", true)
	start, end, h := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	b.PushString("x")
	b.Bytecode().Emit(OpPop)
	b.Mark(end)
	b.Bytecode().Emit(OpReturn)
	b.Mark(h)
	b.Bytecode().Emit(OpAThrow)
	b.AddHandler(start, end, h, ClassArithmeticException)

	text := mustBuild(t, b).Disassemble()
	for _, want := range []string{
		"static f()V",
		"ldc #0",
		`#0 = string "x"`,
		"catch java/lang/ArithmeticException [0, 4) -> 5",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly missing %q:\n%s", want, text)
		}
	}
}

func TestHandlerCoversAndMatches(t *testing.T) {
	vm := NewVM()
	npe, _ := vm.resolveClass(ClassNullPointerException)
	h := ExceptionHandler{StartPC: 2, EndPC: 5, HandlerPC: 9, CatchType: ClassRuntimeException}
	if h.Covers(1) || !h.Covers(2) || !h.Covers(4) || h.Covers(5) {
		t.Error("Covers must be [start, end)")
	}
	if !h.Matches(npe) || h.Matches(vm.ThrowableClass) {
		t.Error("Matches must follow the tags")
	}
	if !(ExceptionHandler{}).Matches(vm.ThrowableClass) {
		t.Error("an empty catch type catches everything")
	}
}
