package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Type descriptors
// ---------------------------------------------------------------------------
//
// Field and method types use JVM descriptor syntax:
//
//	I J F D Z B C S     int long float double boolean byte char short
//	Lpkg/Name;          reference to class pkg/Name
//	[X                  array of X
//	(XY...)R            method taking X, Y, ... returning R (V for void)

// TypeDesc is a parsed field descriptor.
type TypeDesc struct {
	Kind      Kind
	ClassName string // for references: the class, or the full array descriptor
	Dims      int    // array dimensions, 0 for non-arrays
}

// String renders t back to descriptor syntax.
func (t TypeDesc) String() string {
	if t.Dims > 0 || t.Kind == KindRef {
		if strings.HasPrefix(t.ClassName, "[") {
			return t.ClassName
		}
		return "L" + t.ClassName + ";"
	}
	return string(kindDescriptor(t.Kind))
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []TypeDesc
	Return TypeDesc
}

// Arity returns the number of declared parameters.
func (m MethodType) Arity() int {
	return len(m.Params)
}

var descriptorKinds = map[byte]Kind{
	'I': KindInt,
	'J': KindLong,
	'F': KindFloat,
	'D': KindDouble,
	'Z': KindBoolean,
	'B': KindByte,
	'C': KindChar,
	'S': KindShort,
	'V': KindVoid,
}

func kindDescriptor(k Kind) byte {
	for c, kk := range descriptorKinds {
		if kk == k {
			return c
		}
	}
	return 'L'
}

// ParseFieldDescriptor parses a single field descriptor such as "I",
// "Ljava/lang/String;" or "[LWrapper;".
func ParseFieldDescriptor(desc string) (TypeDesc, error) {
	t, n, err := parseType(desc, 0, false)
	if err != nil {
		return TypeDesc{}, err
	}
	if n != len(desc) {
		return TypeDesc{}, fmt.Errorf("descriptor %q: trailing characters at %d", desc, n)
	}
	return t, nil
}

// ParseMethodDescriptor parses a method descriptor such as "(I)V" or
// "([Ljava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	var mt MethodType
	pos := 1
	for {
		if pos >= len(desc) {
			return MethodType{}, fmt.Errorf("method descriptor %q: missing ')'", desc)
		}
		if desc[pos] == ')' {
			pos++
			break
		}
		t, n, err := parseType(desc, pos, false)
		if err != nil {
			return MethodType{}, err
		}
		mt.Params = append(mt.Params, t)
		pos = n
	}
	ret, n, err := parseType(desc, pos, true)
	if err != nil {
		return MethodType{}, err
	}
	if n != len(desc) {
		return MethodType{}, fmt.Errorf("method descriptor %q: trailing characters at %d", desc, n)
	}
	mt.Return = ret
	return mt, nil
}

// parseType parses one type starting at pos and returns it with the
// position just past it.
func parseType(desc string, pos int, allowVoid bool) (TypeDesc, int, error) {
	if pos >= len(desc) {
		return TypeDesc{}, pos, fmt.Errorf("descriptor %q: unexpected end", desc)
	}
	start := pos
	dims := 0
	for pos < len(desc) && desc[pos] == '[' {
		dims++
		pos++
	}
	if pos >= len(desc) {
		return TypeDesc{}, pos, fmt.Errorf("descriptor %q: array without element type", desc)
	}
	c := desc[pos]
	if c == 'L' {
		end := strings.IndexByte(desc[pos:], ';')
		if end < 2 {
			return TypeDesc{}, pos, fmt.Errorf("descriptor %q: malformed class type at %d", desc, pos)
		}
		name := desc[pos+1 : pos+end]
		pos += end + 1
		if dims > 0 {
			return TypeDesc{Kind: KindRef, ClassName: desc[start:pos], Dims: dims}, pos, nil
		}
		return TypeDesc{Kind: KindRef, ClassName: name}, pos, nil
	}
	k, ok := descriptorKinds[c]
	if !ok {
		return TypeDesc{}, pos, fmt.Errorf("descriptor %q: unknown type %q at %d", desc, c, pos)
	}
	pos++
	if k == KindVoid && (!allowVoid || dims > 0) {
		return TypeDesc{}, pos, fmt.Errorf("descriptor %q: void not allowed here", desc)
	}
	if dims > 0 {
		return TypeDesc{Kind: KindRef, ClassName: desc[start:pos], Dims: dims}, pos, nil
	}
	return TypeDesc{Kind: k}, pos, nil
}

// ElementType returns the element type of an array descriptor. It fails
// for non-array types.
func (t TypeDesc) ElementType() (TypeDesc, error) {
	if t.Dims == 0 {
		return TypeDesc{}, fmt.Errorf("%s is not an array type", t)
	}
	return ParseFieldDescriptor(t.ClassName[1:])
}
