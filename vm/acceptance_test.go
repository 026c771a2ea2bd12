package vm

import (
	"bytes"
	"testing"
)

// ---------------------------------------------------------------------------
// Acceptance programs built with MethodBuilder
// ---------------------------------------------------------------------------
//
// The programs follow the bytecode javac emits for:
//
//	public class ArraysSetFields {
//	    public static void main(String... args) {
//	        Wrapper[] arr = new Wrapper[7];
//	        arr[1] = new Wrapper(5);
//	        arr[4] = new Wrapper(2);
//	        if (arr[1].value * arr[4].value != 10) {
//	            ((Object) null).hashCode();
//	        }
//	    }
//	}
//
//	public class ThrowableTest {
//	    public static void main(String... args) throws Throwable { method1(); }
//	    private static int method1() throws Throwable {
//	        int a = 6 + 7;
//	        a += method2();
//	        return a;
//	    }
//	    private static int method2() throws Throwable { throw new Throwable(); }
//	}

const (
	arraysClass  = "tests/arrays/ArraysSetFields"
	wrapperClass = "tests/arrays/ArraysSetFields$Wrapper"
	wrapperArray = "[Ltests/arrays/ArraysSetFields$Wrapper;"
	throwClass   = "tests/java/lang/ThrowableTest"
	probeClass   = "javelin/Probe"
)

func mustBuild(t *testing.T, b *MethodBuilder) *Method {
	t.Helper()
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func newTestVM(t *testing.T, opts ...Option) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)
	return NewVM(opts...), &out
}

// wrapperClassDef builds Wrapper { int value; Wrapper(int value) }.
func wrapperClassDef(t *testing.T) *Class {
	t.Helper()
	c := NewClass(wrapperClass, ClassObject)
	c.SourceFile = "ArraysSetFields.java"
	if err := c.AddField("value", "I"); err != nil {
		t.Fatal(err)
	}

	b := NewMethodBuilder("<init>", "(I)V", false)
	bc := b.Bytecode()
	b.MarkLine(18)
	bc.EmitByte(OpALoad, 0)
	b.Invoke(OpInvokeSpecial, ClassObject, "<init>", "()V")
	b.MarkLine(19)
	bc.EmitByte(OpALoad, 0)
	bc.EmitByte(OpILoad, 1)
	b.FieldOp(OpPutField, wrapperClass, "value", "I")
	b.MarkLine(20)
	bc.Emit(OpReturn)
	c.AddMethod(mustBuild(t, b))
	return c
}

// arraysProgram describes one variant of ArraysSetFields: where the two
// wrappers go, what they hold, and which slots the guard multiplies.
type arraysProgram struct {
	length         int32
	setA, setB     int32 // indexes written
	valA, valB     int32 // wrapper values
	readA, readB   int32 // indexes read by the guard
	expectedResult int32
}

var canonicalArrays = arraysProgram{length: 7, setA: 1, setB: 4, valA: 5, valB: 2, readA: 1, readB: 4, expectedResult: 10}

// arraysClassDef builds the program class. makeArray()[LWrapper; does the
// allocation and stores and returns the array; main calls it and runs the
// guard.
func arraysClassDef(t *testing.T, p arraysProgram) *Class {
	t.Helper()
	c := NewClass(arraysClass, ClassObject)
	c.SourceFile = "ArraysSetFields.java"

	mk := NewMethodBuilder("makeArray", "()"+wrapperArray, true)
	mk.SetMaxLocals(1)
	bc := mk.Bytecode()
	mk.MarkLine(5)
	mk.PushInt(p.length)
	mk.ClassOp(OpANewArray, wrapperClass)
	bc.EmitByte(OpAStore, 0)
	for _, set := range []struct{ idx, val int32 }{{p.setA, p.valA}, {p.setB, p.valB}} {
		mk.MarkLine(6)
		bc.EmitByte(OpALoad, 0)
		mk.PushInt(set.idx)
		mk.ClassOp(OpNew, wrapperClass)
		bc.Emit(OpDup)
		mk.PushInt(set.val)
		mk.Invoke(OpInvokeSpecial, wrapperClass, "<init>", "(I)V")
		bc.Emit(OpAAStore)
	}
	bc.EmitByte(OpALoad, 0)
	bc.Emit(OpAReturn)
	c.AddMethod(mustBuild(t, mk))

	main := NewMethodBuilder("main", "([Ljava/lang/String;)V", true)
	main.SetMaxLocals(2)
	bc = main.Bytecode()
	done := main.NewLabel()
	main.MarkLine(5)
	main.Invoke(OpInvokeStatic, arraysClass, "makeArray", "()"+wrapperArray)
	bc.EmitByte(OpAStore, 1)
	main.MarkLine(9)
	bc.EmitByte(OpALoad, 1)
	main.PushInt(p.readA)
	bc.Emit(OpAALoad)
	main.FieldOp(OpGetField, wrapperClass, "value", "I")
	bc.EmitByte(OpALoad, 1)
	main.PushInt(p.readB)
	bc.Emit(OpAALoad)
	main.FieldOp(OpGetField, wrapperClass, "value", "I")
	bc.Emit(OpIMul)
	main.PushInt(p.expectedResult)
	bc.EmitJump(OpIfICmpEq, done)
	main.MarkLine(10)
	bc.Emit(OpAConstNull)
	main.Invoke(OpInvokeVirtual, ClassObject, "hashCode", "()I")
	bc.Emit(OpPop)
	main.Mark(done)
	main.MarkLine(12)
	bc.Emit(OpReturn)
	c.AddMethod(mustBuild(t, main))
	return c
}

func defineArrays(t *testing.T, vm *VM, p arraysProgram) {
	t.Helper()
	if err := vm.Define(wrapperClassDef(t), arraysClassDef(t, p)); err != nil {
		t.Fatalf("Define: %v", err)
	}
}

// throwableClassDef builds ThrowableTest. When probe is set, method1
// calls javelin/Probe.hit()V after method2 returns and before the
// addition, so tests can observe whether any post-raise code ran.
func throwableClassDef(t *testing.T, probe bool) *Class {
	t.Helper()
	c := NewClass(throwClass, ClassObject)
	c.SourceFile = "ThrowableTest.java"

	main := NewMethodBuilder("main", "([Ljava/lang/String;)V", true)
	bc := main.Bytecode()
	main.MarkLine(5)
	main.Invoke(OpInvokeStatic, throwClass, "method1", "()I")
	bc.Emit(OpPop)
	main.MarkLine(6)
	bc.Emit(OpReturn)
	c.AddMethod(mustBuild(t, main))

	m1 := NewMethodBuilder("method1", "()I", true)
	m1.SetMaxLocals(1)
	bc = m1.Bytecode()
	m1.MarkLine(9)
	m1.PushInt(13)
	bc.EmitByte(OpIStore, 0)
	m1.MarkLine(10)
	bc.EmitByte(OpILoad, 0)
	m1.Invoke(OpInvokeStatic, throwClass, "method2", "()I")
	if probe {
		m1.Invoke(OpInvokeStatic, probeClass, "hit", "()V")
	}
	bc.Emit(OpIAdd)
	bc.EmitByte(OpIStore, 0)
	m1.MarkLine(11)
	bc.EmitByte(OpILoad, 0)
	bc.Emit(OpIReturn)
	c.AddMethod(mustBuild(t, m1))

	m2 := NewMethodBuilder("method2", "()I", true)
	bc = m2.Bytecode()
	m2.MarkLine(15)
	m2.ClassOp(OpNew, ClassThrowable)
	bc.Emit(OpDup)
	m2.Invoke(OpInvokeSpecial, ClassThrowable, "<init>", "()V")
	bc.Emit(OpAThrow)
	c.AddMethod(mustBuild(t, m2))
	return c
}

// probeVM returns a VM with javelin/Probe.hit()V counting its calls.
func probeVM(t *testing.T) (*VM, *int) {
	t.Helper()
	hits := 0
	natives := NewNativeRegistry()
	natives.Register(probeClass, "hit", "()V", true, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		hits++
		return Value{}, nil
	})
	vm, _ := newTestVM(t, WithNatives(natives))
	if err := vm.Define(NewClass(probeClass, ClassObject)); err != nil {
		t.Fatal(err)
	}
	return vm, &hits
}
