package classfile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chazu/javelin/vm"
)

// ---------------------------------------------------------------------------
// Class translation
// ---------------------------------------------------------------------------

// Decode parses a class file and translates it in one step.
func Decode(data []byte) (*vm.Class, error) {
	cf, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cf.Class()
}

// Class translates cf into a javelin class. Instance fields and every
// method are carried over; method bodies are re-encoded into javelin
// bytecode with the exception and line tables remapped to the new
// offsets. Static fields are dropped: javelin has no class-level storage,
// and code that touches them fails translation.
func (cf *ClassFile) Class() (*vm.Class, error) {
	if cf.Access&AccInterface != 0 {
		return nil, fmt.Errorf("%w: %s is an interface", ErrUnsupported, cf.Name)
	}
	c := vm.NewClass(cf.Name, cf.Super)
	c.SourceFile = cf.SourceFile
	for _, f := range cf.Fields {
		if f.Access&AccStatic != 0 {
			continue
		}
		if err := c.AddField(f.Name, f.Descriptor); err != nil {
			return nil, fmt.Errorf("class %s: %w", cf.Name, err)
		}
	}
	for i := range cf.Methods {
		m, err := cf.method(&cf.Methods[i])
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", cf.Name, err)
		}
		c.AddMethod(m)
	}
	return c, nil
}

func (cf *ClassFile) method(mi *Member) (*vm.Method, error) {
	static := mi.Access&AccStatic != 0
	if mi.Code == nil {
		// Native or abstract. Natives are bound when the class is defined.
		return vm.NewMethod(mi.Name, mi.Descriptor, static)
	}
	mt, err := vm.ParseMethodDescriptor(mi.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", mi.Name, err)
	}
	for _, p := range mt.Params {
		if p.Dims == 0 && (p.Kind == vm.KindLong || p.Kind == vm.KindDouble) {
			return nil, fmt.Errorf("method %s%s: %w: two-slot %s parameter", mi.Name, mi.Descriptor, ErrUnsupported, p.Kind)
		}
	}

	t := &translator{
		pool:   cf.Pool,
		code:   mi.Code,
		b:      vm.NewMethodBuilder(mi.Name, mi.Descriptor, static),
		labels: make(map[int]*vm.Label),
	}
	t.b.SetMaxLocals(int(mi.Code.MaxLocals))
	if err := t.run(); err != nil {
		return nil, fmt.Errorf("method %s%s: %w", mi.Name, mi.Descriptor, err)
	}
	return t.b.Build()
}

// ---------------------------------------------------------------------------
// Bytecode re-encoding
// ---------------------------------------------------------------------------

// JVM opcodes outside javelin's own numbering, or whose operands differ.
const (
	jvmIConstM1 = 0x02
	jvmIConst5  = 0x08
	jvmLDC      = 0x12
	jvmLDCW     = 0x13
	jvmILoad0   = 0x1a
	jvmILoad3   = 0x1d
	jvmALoad0   = 0x2a
	jvmALoad3   = 0x2d
	jvmBALoad   = 0x33
	jvmCALoad   = 0x34
	jvmSALoad   = 0x35
	jvmIStore0  = 0x3b
	jvmIStore3  = 0x3e
	jvmAStore0  = 0x4b
	jvmAStore3  = 0x4e
	jvmBAStore  = 0x54
	jvmCAStore  = 0x55
	jvmSAStore  = 0x56
	jvmGotoW    = 0xc8
)

// instrSizes holds the encoded length of every JVM instruction the
// translator accepts.
var instrSizes = func() map[byte]int {
	m := map[byte]int{
		0x00: 1, 0x01: 1, // nop aconst_null
		0x10: 2, 0x11: 3, jvmLDC: 2, jvmLDCW: 3, // bipush sipush ldc ldc_w
		0x15: 2, 0x19: 2, 0x36: 2, 0x3a: 2, // iload aload istore astore
		0x2e: 1, 0x32: 1, jvmBALoad: 1, jvmCALoad: 1, jvmSALoad: 1,
		0x4f: 1, 0x53: 1, jvmBAStore: 1, jvmCAStore: 1, jvmSAStore: 1,
		0x57: 1, 0x59: 1, 0x5f: 1, // pop dup swap
		0x60: 1, 0x64: 1, 0x68: 1, 0x6c: 1, 0x70: 1, 0x74: 1, // iadd .. ineg
		0x84: 3,                            // iinc
		0xac: 1, 0xb0: 1, 0xb1: 1,          // ireturn areturn return
		0xb4: 3, 0xb5: 3,                   // getfield putfield
		0xb6: 3, 0xb7: 3, 0xb8: 3,          // invokevirtual invokespecial invokestatic
		0xbb: 3, 0xbc: 2, 0xbd: 3, 0xbe: 1, // new newarray anewarray arraylength
		0xbf: 1,                            // athrow
		0xc6: 3, 0xc7: 3, jvmGotoW: 5, // ifnull ifnonnull goto_w
	}
	for op := jvmIConstM1; op <= jvmIConst5; op++ {
		m[byte(op)] = 1
	}
	for _, base := range []int{jvmILoad0, jvmALoad0, jvmIStore0, jvmAStore0} {
		for op := base; op < base+4; op++ {
			m[byte(op)] = 1
		}
	}
	for op := 0x99; op <= 0xa7; op++ { // ifeq .. goto
		m[byte(op)] = 3
	}
	return m
}()

// unsupportedNames labels common instructions javelin cannot execute.
var unsupportedNames = map[byte]string{
	0x14: "ldc2_w", 0xaa: "tableswitch", 0xab: "lookupswitch",
	0xb2: "getstatic", 0xb3: "putstatic", 0xb9: "invokeinterface",
	0xba: "invokedynamic", 0xc0: "checkcast", 0xc1: "instanceof",
	0xc2: "monitorenter", 0xc3: "monitorexit", 0xc4: "wide",
	0xc5: "multianewarray",
}

// newarray type codes mapped to descriptor characters.
var arrayTypes = map[byte]byte{
	4: 'Z', 5: 'C', 6: 'F', 7: 'D', 8: 'B', 9: 'S', 10: 'I', 11: 'J',
}

type translator struct {
	pool   Pool
	code   *Code
	b      *vm.MethodBuilder
	labels map[int]*vm.Label
}

func (t *translator) label(pc int) *vm.Label {
	if l, ok := t.labels[pc]; ok {
		return l
	}
	l := t.b.NewLabel()
	t.labels[pc] = l
	return l
}

func (t *translator) u16(pc int) uint16 {
	return binary.BigEndian.Uint16(t.code.Bytes[pc:])
}

func (t *translator) s16(pc int) int {
	return int(int16(t.u16(pc)))
}

// run decodes the code twice: once to find instruction boundaries and
// create labels for every branch and handler target, then to emit.
func (t *translator) run() error {
	code := t.code.Bytes
	var starts []int
	for pc := 0; pc < len(code); {
		op := code[pc]
		size, ok := instrSizes[op]
		if !ok {
			if name, known := unsupportedNames[op]; known {
				return fmt.Errorf("%w instruction %s at pc %d", ErrUnsupported, name, pc)
			}
			return fmt.Errorf("%w opcode 0x%02x at pc %d", ErrUnsupported, op, pc)
		}
		if pc+size > len(code) {
			return fmt.Errorf("%w: instruction at pc %d", ErrTruncated, pc)
		}
		switch {
		case op >= 0x99 && op <= 0xa7, op == 0xc6, op == 0xc7:
			t.label(pc + t.s16(pc+1))
		case op == jvmGotoW:
			t.label(pc + int(int32(binary.BigEndian.Uint32(code[pc+1:]))))
		}
		starts = append(starts, pc)
		pc += size
	}

	for _, e := range t.code.Exceptions {
		catch := ""
		if e.CatchType != 0 {
			name, err := t.pool.ClassName(e.CatchType)
			if err != nil {
				return err
			}
			catch = name
		}
		t.b.AddHandler(t.label(int(e.StartPC)), t.label(int(e.EndPC)), t.label(int(e.HandlerPC)), catch)
	}

	lines := append([]LineNumber(nil), t.code.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].StartPC < lines[j].StartPC })
	next := 0

	for _, pc := range starts {
		if l, ok := t.labels[pc]; ok {
			t.b.Mark(l)
		}
		for next < len(lines) && int(lines[next].StartPC) <= pc {
			t.b.MarkLine(int(lines[next].Line))
			next++
		}
		if err := t.emit(pc); err != nil {
			return err
		}
	}
	if l, ok := t.labels[len(code)]; ok {
		t.b.Mark(l)
	}
	for pc, l := range t.labels {
		if _, marked := l.Position(); !marked {
			return fmt.Errorf("target pc %d is not the start of an instruction", pc)
		}
	}
	return nil
}

// emit re-encodes the JVM instruction at pc.
func (t *translator) emit(pc int) error {
	code := t.code.Bytes
	op := code[pc]
	bc := t.b.Bytecode()

	switch {
	case op >= jvmIConstM1 && op <= jvmIConst5:
		t.b.PushInt(int32(op) - 3)
	case op >= jvmILoad0 && op <= jvmILoad3:
		bc.EmitByte(vm.OpILoad, op-jvmILoad0)
	case op >= jvmALoad0 && op <= jvmALoad3:
		bc.EmitByte(vm.OpALoad, op-jvmALoad0)
	case op >= jvmIStore0 && op <= jvmIStore3:
		bc.EmitByte(vm.OpIStore, op-jvmIStore0)
	case op >= jvmAStore0 && op <= jvmAStore3:
		bc.EmitByte(vm.OpAStore, op-jvmAStore0)
	case op >= 0x99 && op <= 0xa7, op == 0xc6, op == 0xc7:
		// JVM offsets are relative to the opcode; labels absorb the difference.
		bc.EmitJump(vm.Opcode(op), t.labels[pc+t.s16(pc+1)])
	case op == jvmGotoW:
		bc.EmitJump(vm.OpGoto, t.labels[pc+int(int32(binary.BigEndian.Uint32(code[pc+1:])))])
	case op == 0x10: // bipush
		t.b.PushInt(int32(int8(code[pc+1])))
	case op == 0x11: // sipush
		t.b.PushInt(int32(t.s16(pc + 1)))
	case op == jvmLDC:
		return t.ldc(uint16(code[pc+1]), pc)
	case op == jvmLDCW:
		return t.ldc(t.u16(pc+1), pc)
	case op == 0x15, op == 0x19, op == 0x36, op == 0x3a: // iload aload istore astore
		bc.EmitByte(vm.Opcode(op), code[pc+1])
	case op == 0x84:
		bc.EmitIInc(code[pc+1], int8(code[pc+2]))
	case op == jvmBALoad, op == jvmCALoad, op == jvmSALoad:
		bc.Emit(vm.OpIALoad)
	case op == jvmBAStore, op == jvmCAStore, op == jvmSAStore:
		bc.Emit(vm.OpIAStore)
	case op == 0xb4, op == 0xb5:
		ref, err := t.pool.Member(t.u16(pc+1), TagFieldref)
		if err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
		t.b.FieldOp(vm.Opcode(op), ref.Class, ref.Name, ref.Descriptor)
	case op == 0xb6, op == 0xb7, op == 0xb8:
		ref, err := t.pool.Member(t.u16(pc+1), TagMethodref, TagInterfaceMethodref)
		if err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
		t.b.Invoke(vm.Opcode(op), ref.Class, ref.Name, ref.Descriptor)
	case op == 0xbb, op == 0xbd:
		name, err := t.pool.ClassName(t.u16(pc + 1))
		if err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
		t.b.ClassOp(vm.Opcode(op), name)
	case op == 0xbc:
		d, ok := arrayTypes[code[pc+1]]
		if !ok {
			return fmt.Errorf("pc %d: newarray: bad type code %d", pc, code[pc+1])
		}
		bc.EmitByte(vm.OpNewArray, d)
	default:
		// Operand-free instructions share javelin's numbering.
		bc.Emit(vm.Opcode(op))
	}
	return nil
}

func (t *translator) ldc(idx uint16, pc int) error {
	e, err := t.pool.entry(idx, TagInteger, TagString)
	if err != nil {
		return fmt.Errorf("pc %d: ldc: %w", pc, err)
	}
	if e.Tag == TagInteger {
		t.b.PushInt(int32(e.Bits))
		return nil
	}
	s, err := t.pool.Utf8(e.Index1)
	if err != nil {
		return fmt.Errorf("pc %d: ldc: %w", pc, err)
	}
	t.b.PushString(s)
	return nil
}
