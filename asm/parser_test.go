package asm

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/javelin/vm"
)

// ---------------------------------------------------------------------------
// Lexer tests
// ---------------------------------------------------------------------------

func TestTokenize(t *testing.T) {
	input := "loop: iload 0 # comment\n  ldc \"a \\\"b\\\"\\n\" -12\n"
	want := []struct {
		typ TokenType
		lit string
	}{
		{TokenLabel, "loop"},
		{TokenWord, "iload"},
		{TokenInteger, "0"},
		{TokenNewline, "\n"},
		{TokenWord, "ldc"},
		{TokenString, "a \"b\"\n"},
		{TokenInteger, "-12"},
		{TokenNewline, "\n"},
		{TokenEOF, ""},
	}
	toks := Tokenize(input)
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens: %v", len(toks), toks)
	}
	for i, w := range want {
		if toks[i].Type != w.typ || toks[i].Literal != w.lit {
			t.Errorf("token %d = %v, want %s(%q)", i, toks[i], w.typ, w.lit)
		}
	}
}

func TestTokenPositions(t *testing.T) {
	toks := Tokenize("class A\n  field x I\n")
	field := toks[3]
	if field.Literal != "field" || field.Pos.Line != 2 || field.Pos.Column != 3 {
		t.Errorf("field token at %v", field.Pos)
	}
	if end := field.End(); end.Column != 8 {
		t.Errorf("End() = %v", end)
	}
}

func TestTokenizeDescriptorsAreSingleWords(t *testing.T) {
	toks := Tokenize("invokestatic a/B.main([Ljava/lang/String;)V")
	if len(toks) != 3 || toks[1].Literal != "a/B.main([Ljava/lang/String;)V" {
		t.Errorf("tokens = %v", toks)
	}
}

func TestTokenizeErrors(t *testing.T) {
	for _, input := range []string{`ldc "open`, `ldc "\q"`, `: x`} {
		toks := Tokenize(input)
		if last := toks[len(toks)-1]; last.Type != TokenError {
			t.Errorf("%q: last token = %v, want an error", input, last)
		}
	}
}

// ---------------------------------------------------------------------------
// Parser tests
// ---------------------------------------------------------------------------

func TestParseClassDirectives(t *testing.T) {
	classes, err := Parse(`
class demo/Point
super demo/Shape
source Point.java
field x I
field next Ldemo/Point;

native static hash ()I

method static origin ()Ldemo/Point;
    aconst_null
    areturn
end

class demo/Shape
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 2 {
		t.Fatalf("got %d classes", len(classes))
	}
	p := classes[0]
	if p.Name != "demo/Point" || p.SuperName != "demo/Shape" || p.SourceFile != "Point.java" {
		t.Errorf("class = %+v", p)
	}
	if len(p.Fields) != 2 || p.Fields[1].Type.ClassName != "demo/Point" {
		t.Errorf("fields = %+v", p.Fields)
	}
	if m := p.DeclaredMethod("hash", "()I"); m == nil || len(m.Code) != 0 || !m.Static {
		t.Errorf("native declaration = %+v", m)
	}
	if m := p.DeclaredMethod("origin", "()Ldemo/Point;"); m == nil || len(m.Code) != 2 {
		t.Errorf("origin = %+v", m)
	}
	if classes[1].SuperName != "" {
		t.Errorf("default super should be left for the VM, got %q", classes[1].SuperName)
	}
}

func TestParseInstructionEncoding(t *testing.T) {
	classes, err := Parse(`
class E
method static f (I)I
    locals 2
top:
    iload 0
    ifeq out
    iinc 1 -3
    sipush -300
    ldc 100000
    ldc "s"
    newarray int
    newarray Z
    anewarray [I
    goto top
out:
    iload 1
    ireturn
end
`)
	if err != nil {
		t.Fatal(err)
	}
	m := classes[0].DeclaredMethod("f", "(I)I")
	want := strings.Join([]string{
		"0000  iload 0",
		"0002  ifeq 22 (-> 0027)",
		"0005  iinc 1 -3",
		"0008  sipush -300",
		"0011  ldc #0",
		"0014  ldc #1",
		"0017  newarray I",
		"0019  newarray Z",
		"0021  anewarray #2",
		"0024  goto -27 (-> 0000)",
		"0027  iload 1",
		"0029  ireturn",
	}, "\n")
	if got := vm.Disassemble(m.Code); got != want {
		t.Errorf("code:\n%s\nwant:\n%s", got, want)
	}
	if m.MaxLocals != 2 {
		t.Errorf("MaxLocals = %d", m.MaxLocals)
	}
	wantPool := []vm.Constant{
		{Tag: vm.ConstInt, Int: 100000},
		{Tag: vm.ConstString, Str: "s"},
		{Tag: vm.ConstClass, Class: "[I"},
	}
	if !reflect.DeepEqual(m.Constants, wantPool) {
		t.Errorf("pool = %v", m.Constants)
	}
}

func TestParseCatchAndLines(t *testing.T) {
	classes, err := Parse(`
class C
method static f ()V
    line 3
a:
    nop
b:
    line 4
    return
h:
    athrow
    catch any from a to b using h
    catch java/lang/Error from a to b using h
end
`)
	if err != nil {
		t.Fatal(err)
	}
	m := classes[0].DeclaredMethod("f", "()V")
	want := []vm.ExceptionHandler{
		{StartPC: 0, EndPC: 1, HandlerPC: 2, CatchType: ""},
		{StartPC: 0, EndPC: 1, HandlerPC: 2, CatchType: "java/lang/Error"},
	}
	if !reflect.DeepEqual(m.Handlers, want) {
		t.Errorf("handlers = %+v", m.Handlers)
	}
	if m.LineFor(0) != 3 || m.LineFor(1) != 4 {
		t.Errorf("lines = %+v", m.Lines)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"outside class", "nop\n", 1, "outside a class"},
		{"unknown instruction", "class A\nmethod static f ()V\n  frob\nend\n", 3, "unknown instruction"},
		{"operand count", "class A\nmethod static f ()V\n  iload\nend\n", 3, "takes 1 operand"},
		{"range", "class A\nmethod static f ()V\n  bipush 200\nend\n", 3, "out of range"},
		{"undefined label", "class A\nmethod static f ()V\n  goto nowhere\nend\n", 3, "never defined"},
		{"duplicate label", "class A\nmethod static f ()V\nx:\nx:\n  return\nend\n", 4, "defined twice"},
		{"bad descriptor", "class A\nmethod static f (Q)V\nend\n", 2, "unknown type"},
		{"bad member", "class A\nmethod static f ()V\n  invokestatic nodot()V\nend\n", 3, "Class.member"},
		{"missing end", "class A\nmethod static f ()V\n  return\n", 2, "has no end"},
		{"lexical", "class A\nsource \"x\n", 2, "unterminated string"},
		{"bad catch", "class A\nmethod static f ()V\n  catch any a b c\n  return\nend\n", 3, "catch:"},
		{"empty handler range", "class A\nmethod static f ()V\na:\nb:\n  return\n  catch any from a to b using a\nend\n", 2, "empty range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var list ErrorList
			if !errors.As(err, &list) || len(list) == 0 {
				t.Fatalf("err = %v, want an ErrorList", err)
			}
			first := list[0]
			if first.Pos.Line != tt.line || !strings.Contains(first.Msg, tt.msg) {
				t.Errorf("first error = %v, want line %d containing %q", first, tt.line, tt.msg)
			}
		})
	}
}

func TestParseCollectsMultipleErrors(t *testing.T) {
	_, err := Parse("class A\nmethod static f ()V\n  frob\n  bipush x\n  return\nend\n")
	var list ErrorList
	if !errors.As(err, &list) || len(list) != 2 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "and 1 more") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseFileNamesErrors(t *testing.T) {
	if _, err := ParseFile("testdata/missing.jasm"); err == nil {
		t.Fatal("missing file accepted")
	}
	p := NewParser("x.jasm", "nop\n")
	_, err := p.Parse()
	if err == nil || !strings.HasPrefix(err.Error(), "x.jasm:1:1:") {
		t.Errorf("err = %v", err)
	}
	if len(p.Errors()) != 1 {
		t.Errorf("Errors() = %v", p.Errors())
	}
}

// ---------------------------------------------------------------------------
// Programs under testdata
// ---------------------------------------------------------------------------

func loadProgram(t *testing.T, file string) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	v := vm.NewVM(vm.WithOutput(&out))
	if _, err := LoadFile(v, "testdata/"+file); err != nil {
		t.Fatalf("LoadFile(%s): %v", file, err)
	}
	if err := v.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	return v, &out
}

func TestArraysSetFieldsProgram(t *testing.T) {
	v, _ := loadProgram(t, "ArraysSetFields.jasm")
	out, err := v.RunMain("tests/arrays/ArraysSetFields", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != vm.OutcomeNormal {
		t.Fatalf("status = %v\n%s", out.Status, out.Diagnostic)
	}
}

func TestThrowableTestProgram(t *testing.T) {
	v, _ := loadProgram(t, "ThrowableTest.jasm")
	out, err := v.RunMain("tests/java/lang/ThrowableTest", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != vm.OutcomeAbnormal {
		t.Fatalf("status = %v", out.Status)
	}
	want := strings.Join([]string{
		`Exception in thread "main" java.lang.Throwable`,
		"\tat tests.java.lang.ThrowableTest.method2(ThrowableTest.java:15)",
		"\tat tests.java.lang.ThrowableTest.method1(ThrowableTest.java:10)",
		"\tat tests.java.lang.ThrowableTest.main(ThrowableTest.java:5)",
	}, "\n")
	if got := out.Diagnostic.String(); got != want {
		t.Errorf("diagnostic:\n%s\nwant:\n%s", got, want)
	}
}

func TestHandlersProgram(t *testing.T) {
	v, stdout := loadProgram(t, "Handlers.jasm")
	out, err := v.RunMain("demo/Handlers", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != vm.OutcomeNormal {
		t.Fatalf("status = %v\n%s", out.Status, out.Diagnostic)
	}
	if got := stdout.String(); got != "55\n/ by zero\n" {
		t.Errorf("output = %q", got)
	}
}
