package vm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Constants and stack manipulation
const (
	OpNOP        Opcode = 0x00 // no operation
	OpAConstNull Opcode = 0x01 // push null
	OpBIPush     Opcode = 0x10 // push sign-extended 8-bit int
	OpSIPush     Opcode = 0x11 // push sign-extended 16-bit int
	OpLDC        Opcode = 0x12 // push int or string constant (16-bit pool index)
	OpPop        Opcode = 0x57 // discard top of stack
	OpDup        Opcode = 0x59 // duplicate top of stack
	OpSwap       Opcode = 0x5F // swap the two top values
)

// Locals
const (
	OpILoad  Opcode = 0x15 // push int local (8-bit index)
	OpALoad  Opcode = 0x19 // push reference local (8-bit index)
	OpIStore Opcode = 0x36 // pop int into local (8-bit index)
	OpAStore Opcode = 0x3A // pop reference into local (8-bit index)
	OpIInc   Opcode = 0x84 // add signed 8-bit delta to int local
)

// Arithmetic
const (
	OpIAdd Opcode = 0x60
	OpISub Opcode = 0x64
	OpIMul Opcode = 0x68
	OpIDiv Opcode = 0x6C // raises ArithmeticException on zero divisor
	OpIRem Opcode = 0x70 // raises ArithmeticException on zero divisor
	OpINeg Opcode = 0x74
)

// Arrays
const (
	OpIALoad      Opcode = 0x2E // array, index -> int element
	OpAALoad      Opcode = 0x32 // array, index -> reference element
	OpIAStore     Opcode = 0x4F // array, index, int ->
	OpAAStore     Opcode = 0x53 // array, index, reference ->
	OpNewArray    Opcode = 0xBC // length -> primitive array (8-bit descriptor char)
	OpANewArray   Opcode = 0xBD // length -> reference array (16-bit class index)
	OpArrayLength Opcode = 0xBE // array -> length
)

// Objects and calls
const (
	OpNew           Opcode = 0xBB // allocate instance (16-bit class index)
	OpGetField      Opcode = 0xB4 // object -> value (16-bit field index)
	OpPutField      Opcode = 0xB5 // object, value -> (16-bit field index)
	OpInvokeVirtual Opcode = 0xB6 // receiver, args -> result (16-bit method index)
	OpInvokeSpecial Opcode = 0xB7 // receiver, args -> result (16-bit method index)
	OpInvokeStatic  Opcode = 0xB8 // args -> result (16-bit method index)
	OpAThrow        Opcode = 0xBF // throwable -> (raises)
)

// Control flow. Branch offsets are signed 16-bit, relative to the end of
// the instruction.
const (
	OpIfEq      Opcode = 0x99
	OpIfNe      Opcode = 0x9A
	OpIfLt      Opcode = 0x9B
	OpIfGe      Opcode = 0x9C
	OpIfGt      Opcode = 0x9D
	OpIfLe      Opcode = 0x9E
	OpIfICmpEq  Opcode = 0x9F
	OpIfICmpNe  Opcode = 0xA0
	OpIfICmpLt  Opcode = 0xA1
	OpIfICmpGe  Opcode = 0xA2
	OpIfICmpGt  Opcode = 0xA3
	OpIfICmpLe  Opcode = 0xA4
	OpIfACmpEq  Opcode = 0xA5
	OpIfACmpNe  Opcode = 0xA6
	OpGoto      Opcode = 0xA7
	OpIfNull    Opcode = 0xC6
	OpIfNonNull Opcode = 0xC7
)

// Returns
const (
	OpIReturn Opcode = 0xAC
	OpAReturn Opcode = 0xB0
	OpReturn  Opcode = 0xB1
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandFormat describes the operand bytes following an opcode.
type OperandFormat uint8

const (
	OperandNone   OperandFormat = iota
	OperandInt8                 // signed immediate
	OperandInt16                // signed immediate
	OperandLocal                // 8-bit local index
	OperandPool                 // 16-bit constant pool index
	OperandBranch               // signed 16-bit relative offset
	OperandIInc                 // 8-bit local index, signed 8-bit delta
	OperandKind                 // 8-bit primitive descriptor character
)

var operandSizes = [...]int{
	OperandNone:   0,
	OperandInt8:   1,
	OperandInt16:  2,
	OperandLocal:  1,
	OperandPool:   2,
	OperandBranch: 2,
	OperandIInc:   2,
	OperandKind:   1,
}

// Size returns the number of operand bytes.
func (f OperandFormat) Size() int {
	return operandSizes[f]
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string        // assembler mnemonic
	Operands OperandFormat // operand layout
	Doc      string        // one-line description
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:        {"nop", OperandNone, "Do nothing."},
	OpAConstNull: {"aconst_null", OperandNone, "Push the null reference."},
	OpBIPush:     {"bipush", OperandInt8, "Push a sign-extended byte as an int."},
	OpSIPush:     {"sipush", OperandInt16, "Push a sign-extended short as an int."},
	OpLDC:        {"ldc", OperandPool, "Push an int or string constant from the pool."},
	OpPop:        {"pop", OperandNone, "Discard the top of the operand stack."},
	OpDup:        {"dup", OperandNone, "Duplicate the top of the operand stack."},
	OpSwap:       {"swap", OperandNone, "Swap the two topmost operand stack values."},

	OpILoad:  {"iload", OperandLocal, "Push an int local variable."},
	OpALoad:  {"aload", OperandLocal, "Push a reference local variable."},
	OpIStore: {"istore", OperandLocal, "Pop an int into a local variable."},
	OpAStore: {"astore", OperandLocal, "Pop a reference into a local variable."},
	OpIInc:   {"iinc", OperandIInc, "Add a constant to an int local variable."},

	OpIAdd: {"iadd", OperandNone, "Add two ints."},
	OpISub: {"isub", OperandNone, "Subtract two ints."},
	OpIMul: {"imul", OperandNone, "Multiply two ints."},
	OpIDiv: {"idiv", OperandNone, "Divide two ints; zero divisor raises ArithmeticException."},
	OpIRem: {"irem", OperandNone, "Int remainder; zero divisor raises ArithmeticException."},
	OpINeg: {"ineg", OperandNone, "Negate an int."},

	OpIALoad:      {"iaload", OperandNone, "Load an int-like element from an array."},
	OpAALoad:      {"aaload", OperandNone, "Load a reference element from an array."},
	OpIAStore:     {"iastore", OperandNone, "Store an int-like element into an array."},
	OpAAStore:     {"aastore", OperandNone, "Store a reference element into an array."},
	OpNewArray:    {"newarray", OperandKind, "Allocate a primitive array; all elements zero."},
	OpANewArray:   {"anewarray", OperandPool, "Allocate a reference array; all elements null."},
	OpArrayLength: {"arraylength", OperandNone, "Push the length of an array."},

	OpNew:           {"new", OperandPool, "Allocate an instance with default field values."},
	OpGetField:      {"getfield", OperandPool, "Read an instance field."},
	OpPutField:      {"putfield", OperandPool, "Write an instance field."},
	OpInvokeVirtual: {"invokevirtual", OperandPool, "Call an instance method on the receiver's runtime class."},
	OpInvokeSpecial: {"invokespecial", OperandPool, "Call a constructor or exact instance method."},
	OpInvokeStatic:  {"invokestatic", OperandPool, "Call a static method."},
	OpAThrow:        {"athrow", OperandNone, "Raise the Throwable on top of the stack."},

	OpIfEq:      {"ifeq", OperandBranch, "Branch if int is zero."},
	OpIfNe:      {"ifne", OperandBranch, "Branch if int is not zero."},
	OpIfLt:      {"iflt", OperandBranch, "Branch if int is negative."},
	OpIfGe:      {"ifge", OperandBranch, "Branch if int is zero or positive."},
	OpIfICmpEq:  {"if_icmpeq", OperandBranch, "Branch if two ints are equal."},
	OpIfICmpNe:  {"if_icmpne", OperandBranch, "Branch if two ints differ."},
	OpIfICmpLt:  {"if_icmplt", OperandBranch, "Branch if first int is less than second."},
	OpIfICmpGe:  {"if_icmpge", OperandBranch, "Branch if first int is not less than second."},
	OpIfGt:      {"ifgt", OperandBranch, "Branch if int is positive."},
	OpIfLe:      {"ifle", OperandBranch, "Branch if int is zero or negative."},
	OpIfICmpGt:  {"if_icmpgt", OperandBranch, "Branch if first int is greater than second."},
	OpIfICmpLe:  {"if_icmple", OperandBranch, "Branch if first int is not greater than second."},
	OpIfACmpEq:  {"if_acmpeq", OperandBranch, "Branch if two references are the same."},
	OpIfACmpNe:  {"if_acmpne", OperandBranch, "Branch if two references differ."},
	OpGoto:      {"goto", OperandBranch, "Branch unconditionally."},
	OpIfNull:    {"ifnull", OperandBranch, "Branch if reference is null."},
	OpIfNonNull: {"ifnonnull", OperandBranch, "Branch if reference is not null."},

	OpIReturn: {"ireturn", OperandNone, "Return an int to the caller."},
	OpAReturn: {"areturn", OperandNone, "Return a reference to the caller."},
	OpReturn:  {"return", OperandNone, "Return void to the caller."},
}

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeByName looks up an opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := mnemonics[strings.ToLower(name)]
	return op, ok
}

// Mnemonics returns every mnemonic, sorted.
func Mnemonics() []string {
	out := make([]string, 0, len(mnemonics))
	for n := range mnemonics {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the pc of the next
// emitted instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single unsigned byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitInt16 appends an opcode with a signed 16-bit operand.
func (b *BytecodeBuilder) EmitInt16(op Opcode, operand int16) {
	b.EmitUint16(op, uint16(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitIInc appends an IINC instruction.
func (b *BytecodeBuilder) EmitIInc(local byte, delta int8) {
	b.bytes = append(b.bytes, byte(OpIInc), local, byte(delta))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a bytecode position that may not be known yet.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2)
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// Position returns the resolved position of the label and whether it has
// been marked.
func (l *Label) Position() (int, bool) {
	return l.position, l.resolved
}

// EmitJump emits a branch instruction targeting label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0)
	}
}

// Unresolved reports whether any label emitted against is still unmarked.
func (l *Label) Unresolved() bool {
	return !l.resolved && len(l.refs) > 0
}

// ---------------------------------------------------------------------------
// BytecodeReader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Remaining returns the number of unread bytes.
func (r *BytecodeReader) Remaining() int {
	return len(r.bytes) - r.pos
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()
	if !op.Valid() {
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
	if r.Remaining() < info.Operands.Size() {
		return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
	}

	switch info.Operands {
	case OperandInt8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt8())
	case OperandInt16:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt16())
	case OperandLocal:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())
	case OperandPool:
		return fmt.Sprintf("%04d  %s #%d", pos, info.Name, r.ReadUint16())
	case OperandBranch:
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)
	case OperandIInc:
		idx := r.ReadByte()
		delta := r.ReadInt8()
		return fmt.Sprintf("%04d  %s %d %d", pos, info.Name, idx, delta)
	case OperandKind:
		return fmt.Sprintf("%04d  %s %c", pos, info.Name, r.ReadByte())
	}
	return fmt.Sprintf("%04d  %s", pos, info.Name)
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
