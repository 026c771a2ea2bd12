package asm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/javelin/vm"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// SyntaxError is a problem at a source position.
type SyntaxError struct {
	File string
	Pos  Position
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList is every syntax error found in one source, in order.
type ErrorList []*SyntaxError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------
//
// Source is a sequence of class blocks:
//
//	class tests/arrays/ArraysSetFields
//	super java/lang/Object
//	source ArraysSetFields.java
//	field value I
//
//	method static main ([Ljava/lang/String;)V
//	    locals 2
//	    line 5
//	    invokestatic tests/arrays/ArraysSetFields.makeArray()[LWrapper;
//	done:
//	    return
//	    catch java/lang/RuntimeException from start to done using handler
//	end
//
//	native static hit ()V
//
// A class block runs until the next "class" directive or the end of the
// file. Instructions use the mnemonics of vm.Mnemonics. Field references
// are written Class.name followed by the field descriptor; method
// references are written Class.name(descriptor). "catch any" catches
// every exception.

// Parser assembles .jasm source into classes.
type Parser struct {
	lexer   *Lexer
	file    string
	errors  ErrorList
	classes []*vm.Class
	class   *vm.Class
	method  *methodState
}

type methodState struct {
	b        *vm.MethodBuilder
	name     string
	pos      Position
	labels   map[string]*labelState
	handlers []pendingCatch
}

type labelState struct {
	label   *vm.Label
	defined bool
	ref     Position // first use
}

type pendingCatch struct {
	catchType           string
	start, end, handler Token
}

// NewParser creates a parser for input. file is used in error messages
// and may be empty.
func NewParser(file, input string) *Parser {
	return &Parser{lexer: NewLexer(input), file: file}
}

// Parse assembles source and returns its classes. The error, if any, is
// an ErrorList.
func Parse(source string) ([]*vm.Class, error) {
	return NewParser("", source).Parse()
}

// ParseFile reads and assembles the file at path.
func ParseFile(path string) ([]*vm.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return NewParser(path, string(data)).Parse()
}

// LoadFile assembles path and defines its classes in v.
func LoadFile(v *vm.VM, path string) ([]*vm.Class, error) {
	classes, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := v.Define(classes...); err != nil {
		return nil, fmt.Errorf("asm: %s: %w", path, err)
	}
	return classes, nil
}

// Errors returns the errors recorded so far.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// Parse consumes the whole input.
func (p *Parser) Parse() ([]*vm.Class, error) {
	for {
		toks, eof := p.readLine()
		if len(toks) > 0 {
			p.line(toks)
		}
		if eof {
			break
		}
	}
	if p.method != nil {
		p.errorf(p.method.pos, "method %s has no end", p.method.name)
		p.method = nil
	}
	p.closeClass()
	if len(p.errors) > 0 {
		return p.classes, p.errors
	}
	return p.classes, nil
}

func (p *Parser) errorf(pos Position, format string, args ...any) {
	p.errors = append(p.errors, &SyntaxError{File: p.file, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// readLine returns the tokens of the next line. A lexical error is
// recorded and the rest of the line dropped.
func (p *Parser) readLine() ([]Token, bool) {
	var toks []Token
	for {
		tok := p.lexer.NextToken()
		switch tok.Type {
		case TokenEOF:
			return toks, true
		case TokenNewline:
			return toks, false
		case TokenError:
			p.errorf(tok.Pos, "%s", tok.Literal)
			for {
				t := p.lexer.NextToken()
				if t.Type == TokenEOF {
					return nil, true
				}
				if t.Type == TokenNewline {
					return nil, false
				}
			}
		}
		toks = append(toks, tok)
	}
}

func (p *Parser) line(toks []Token) {
	if toks[0].Type == TokenLabel {
		p.defineLabel(toks[0])
		toks = toks[1:]
		if len(toks) == 0 {
			return
		}
	}
	head := toks[0]
	if head.Type != TokenWord {
		p.errorf(head.Pos, "expected a directive or instruction, got %s", head)
		return
	}
	args := toks[1:]

	switch head.Literal {
	case "class":
		p.classDirective(head, args)
		return
	case "method", "native":
		p.methodDirective(head, args)
		return
	case "end":
		if p.method == nil {
			p.errorf(head.Pos, "end outside a method")
			return
		}
		p.finishMethod()
		return
	}

	if p.method != nil {
		p.methodLine(head, args)
		return
	}
	if p.class == nil {
		p.errorf(head.Pos, "%s outside a class", head.Literal)
		return
	}
	switch head.Literal {
	case "super":
		if w, ok := p.words(head, args, 1); ok {
			p.class.SuperName = w[0]
		}
	case "source":
		if w, ok := p.words(head, args, 1); ok {
			p.class.SourceFile = w[0]
		}
	case "field":
		if w, ok := p.words(head, args, 2); ok {
			if err := p.class.AddField(w[0], w[1]); err != nil {
				p.errorf(args[1].Pos, "%v", err)
			}
		}
	default:
		p.errorf(head.Pos, "unknown class directive %q", head.Literal)
	}
}

// words checks that args are exactly n words and returns their text.
func (p *Parser) words(head Token, args []Token, n int) ([]string, bool) {
	if len(args) != n {
		p.errorf(head.Pos, "%s takes %d operand(s), got %d", head.Literal, n, len(args))
		return nil, false
	}
	out := make([]string, n)
	for i, a := range args {
		if a.Type != TokenWord {
			p.errorf(a.Pos, "%s: expected a name, got %s", head.Literal, a)
			return nil, false
		}
		out[i] = a.Literal
	}
	return out, true
}

func (p *Parser) classDirective(head Token, args []Token) {
	if p.method != nil {
		p.errorf(head.Pos, "class inside method %s", p.method.name)
		return
	}
	w, ok := p.words(head, args, 1)
	if !ok {
		return
	}
	p.closeClass()
	p.class = vm.NewClass(w[0], "")
}

func (p *Parser) closeClass() {
	if p.class != nil {
		p.classes = append(p.classes, p.class)
		p.class = nil
	}
}

// methodDirective handles "method [static] name desc" and the bodiless
// "native [static] name desc".
func (p *Parser) methodDirective(head Token, args []Token) {
	if p.class == nil {
		p.errorf(head.Pos, "%s outside a class", head.Literal)
		return
	}
	if p.method != nil {
		p.errorf(head.Pos, "%s inside method %s", head.Literal, p.method.name)
		return
	}
	static := false
	if len(args) > 0 && args[0].Type == TokenWord && args[0].Literal == "static" {
		static = true
		args = args[1:]
	}
	w, ok := p.words(head, args, 2)
	if !ok {
		return
	}
	name, desc := w[0], w[1]
	if _, err := vm.ParseMethodDescriptor(desc); err != nil {
		p.errorf(args[1].Pos, "%v", err)
		return
	}
	if head.Literal == "native" {
		m, _ := vm.NewMethod(name, desc, static)
		p.class.AddMethod(m)
		return
	}
	p.method = &methodState{
		b:      vm.NewMethodBuilder(name, desc, static),
		name:   name,
		pos:    head.Pos,
		labels: make(map[string]*labelState),
	}
}

func (p *Parser) finishMethod() {
	m := p.method
	p.method = nil
	failed := len(p.errors)

	for name, l := range m.labels {
		if !l.defined {
			p.errorf(l.ref, "label %s is never defined", name)
		}
	}
	for _, c := range m.handlers {
		start := m.labels[c.start.Literal]
		end := m.labels[c.end.Literal]
		handler := m.labels[c.handler.Literal]
		m.b.AddHandler(start.label, end.label, handler.label, c.catchType)
	}
	if len(p.errors) > failed {
		return
	}
	built, err := m.b.Build()
	if err != nil {
		p.errorf(m.pos, "%v", err)
		return
	}
	p.class.AddMethod(built)
}

// ---------------------------------------------------------------------------
// Method bodies
// ---------------------------------------------------------------------------

func (m *methodState) label(name string, pos Position) *labelState {
	l, ok := m.labels[name]
	if !ok {
		l = &labelState{label: m.b.NewLabel(), ref: pos}
		m.labels[name] = l
	}
	return l
}

func (p *Parser) defineLabel(tok Token) {
	if p.method == nil {
		p.errorf(tok.Pos, "label %s outside a method", tok.Literal)
		return
	}
	l := p.method.label(tok.Literal, tok.Pos)
	if l.defined {
		p.errorf(tok.Pos, "label %s defined twice", tok.Literal)
		return
	}
	l.defined = true
	p.method.b.Mark(l.label)
}

func (p *Parser) methodLine(head Token, args []Token) {
	m := p.method
	switch head.Literal {
	case "locals":
		if n, ok := p.intArgs(head, args, 1, 0, 255); ok {
			m.b.SetMaxLocals(n[0])
		}
		return
	case "line":
		if n, ok := p.intArgs(head, args, 1, 1, 1<<30); ok {
			m.b.MarkLine(n[0])
		}
		return
	case "catch":
		p.catchDirective(head, args)
		return
	}

	op, ok := vm.OpcodeByName(head.Literal)
	if !ok {
		p.errorf(head.Pos, "unknown instruction %q", head.Literal)
		return
	}
	p.instruction(op, head, args)
}

// intArgs parses exactly n integer operands within [lo, hi].
func (p *Parser) intArgs(head Token, args []Token, n, lo, hi int) ([]int, bool) {
	if len(args) != n {
		p.errorf(head.Pos, "%s takes %d operand(s), got %d", head.Literal, n, len(args))
		return nil, false
	}
	out := make([]int, n)
	for i, a := range args {
		v, ok := p.intValue(a, lo, hi)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (p *Parser) intValue(a Token, lo, hi int) (int, bool) {
	if a.Type != TokenInteger {
		p.errorf(a.Pos, "expected an integer, got %s", a)
		return 0, false
	}
	v, err := strconv.ParseInt(a.Literal, 10, 64)
	if err != nil || v < int64(lo) || v > int64(hi) {
		p.errorf(a.Pos, "%s out of range [%d, %d]", a.Literal, lo, hi)
		return 0, false
	}
	return int(v), true
}

// catchDirective handles "catch <class|any> from L1 to L2 using L3".
func (p *Parser) catchDirective(head Token, args []Token) {
	if len(args) != 7 || args[1].Literal != "from" || args[3].Literal != "to" || args[5].Literal != "using" {
		p.errorf(head.Pos, "catch: expected 'catch <class|any> from <label> to <label> using <label>'")
		return
	}
	for _, i := range []int{0, 2, 4, 6} {
		if args[i].Type != TokenWord {
			p.errorf(args[i].Pos, "catch: expected a name, got %s", args[i])
			return
		}
	}
	catchType := args[0].Literal
	if catchType == "any" {
		catchType = ""
	}
	m := p.method
	for _, i := range []int{2, 4, 6} {
		m.label(args[i].Literal, args[i].Pos)
	}
	m.handlers = append(m.handlers, pendingCatch{catchType: catchType, start: args[2], end: args[4], handler: args[6]})
}

var newarrayKinds = map[string]byte{
	"int": 'I', "boolean": 'Z', "byte": 'B', "char": 'C',
	"short": 'S', "long": 'J', "float": 'F', "double": 'D',
}

func (p *Parser) instruction(op vm.Opcode, head Token, args []Token) {
	b := p.method.b
	bc := b.Bytecode()
	info := op.Info()

	want := 1
	switch info.Operands {
	case vm.OperandNone:
		want = 0
	case vm.OperandIInc:
		want = 2
	case vm.OperandPool:
		if op == vm.OpGetField || op == vm.OpPutField {
			want = 2
		}
	}
	if len(args) != want {
		p.errorf(head.Pos, "%s takes %d operand(s), got %d", info.Name, want, len(args))
		return
	}

	switch info.Operands {
	case vm.OperandNone:
		bc.Emit(op)

	case vm.OperandInt8:
		if v, ok := p.intValue(args[0], -128, 127); ok {
			bc.EmitInt8(op, int8(v))
		}

	case vm.OperandInt16:
		if v, ok := p.intValue(args[0], -32768, 32767); ok {
			bc.EmitInt16(op, int16(v))
		}

	case vm.OperandLocal:
		if v, ok := p.intValue(args[0], 0, 255); ok {
			bc.EmitByte(op, byte(v))
		}

	case vm.OperandIInc:
		idx, ok1 := p.intValue(args[0], 0, 255)
		delta, ok2 := p.intValue(args[1], -128, 127)
		if ok1 && ok2 {
			bc.EmitIInc(byte(idx), int8(delta))
		}

	case vm.OperandKind:
		a := args[0]
		k, ok := newarrayKinds[a.Literal]
		if !ok && len(a.Literal) == 1 && strings.Contains("IZBCSJFD", a.Literal) {
			k, ok = a.Literal[0], true
		}
		if !ok {
			p.errorf(a.Pos, "newarray: unknown element type %q", a.Literal)
			return
		}
		bc.EmitByte(op, k)

	case vm.OperandBranch:
		a := args[0]
		if a.Type != TokenWord {
			p.errorf(a.Pos, "%s: expected a label, got %s", info.Name, a)
			return
		}
		bc.EmitJump(op, p.method.label(a.Literal, a.Pos).label)

	case vm.OperandPool:
		p.poolInstruction(op, args)
	}
}

func (p *Parser) poolInstruction(op vm.Opcode, args []Token) {
	b := p.method.b
	a := args[0]
	switch op {
	case vm.OpLDC:
		switch a.Type {
		case TokenString:
			b.PushString(a.Literal)
		case TokenInteger:
			v, err := strconv.ParseInt(a.Literal, 10, 32)
			if err != nil {
				p.errorf(a.Pos, "ldc: %s does not fit in an int", a.Literal)
				return
			}
			b.Bytecode().EmitUint16(op, uint16(b.AddInt(int32(v))))
		default:
			p.errorf(a.Pos, "ldc: expected an integer or string, got %s", a)
		}

	case vm.OpNew, vm.OpANewArray:
		if a.Type != TokenWord {
			p.errorf(a.Pos, "%s: expected a class name, got %s", op, a)
			return
		}
		if op == vm.OpANewArray && strings.HasPrefix(a.Literal, "[") {
			if _, err := vm.ParseFieldDescriptor(a.Literal); err != nil {
				p.errorf(a.Pos, "%v", err)
				return
			}
		}
		b.ClassOp(op, a.Literal)

	case vm.OpGetField, vm.OpPutField:
		class, name, err := splitMember(a.Literal)
		if err == nil && args[1].Type != TokenWord {
			err = errors.New("expected a field descriptor")
		}
		if err == nil {
			_, err = vm.ParseFieldDescriptor(args[1].Literal)
		}
		if err != nil {
			p.errorf(a.Pos, "%s: %v", op, err)
			return
		}
		b.FieldOp(op, class, name, args[1].Literal)

	case vm.OpInvokeVirtual, vm.OpInvokeSpecial, vm.OpInvokeStatic:
		i := strings.IndexByte(a.Literal, '(')
		if i < 0 {
			p.errorf(a.Pos, "%s: expected Class.name(descriptor)", op)
			return
		}
		class, name, err := splitMember(a.Literal[:i])
		desc := a.Literal[i:]
		if err == nil {
			_, err = vm.ParseMethodDescriptor(desc)
		}
		if err != nil {
			p.errorf(a.Pos, "%s: %v", op, err)
			return
		}
		b.Invoke(op, class, name, desc)

	default:
		p.errorf(a.Pos, "%s: unsupported operand", op)
	}
}

// splitMember splits "pkg/Class.member" at the last dot.
func splitMember(s string) (class, member string, err error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("expected Class.member, got %q", s)
	}
	return s[:i], s[i+1:], nil
}
