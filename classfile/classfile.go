// Package classfile reads compiled JVM class files and turns them into
// javelin classes.
//
// Parse decodes the binary format: magic number, version, constant pool,
// fields, methods and the attributes javelin uses (Code, LineNumberTable,
// Exceptions, SourceFile). Other attributes are skipped by length.
// (*ClassFile).Class translates the result into a *vm.Class, re-encoding
// method bodies into javelin bytecode. A Loader finds class files on a
// class path and serves them to a VM on demand.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrBadMagic     = errors.New("classfile: not a class file")
	ErrTruncated    = errors.New("classfile: unexpected end of data")
	ErrBadConstant  = errors.New("classfile: bad constant pool entry")
	ErrUnsupported  = errors.New("classfile: unsupported")
	ErrTrailingData = errors.New("classfile: trailing data after class")
)

// FormatError locates a decoding failure in the class file.
type FormatError struct {
	Offset int
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// Tag identifies a constant pool entry type.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// Entry is one constant pool slot. Which fields are set depends on Tag:
// Utf8 uses Str; Integer and Float use Bits; Long and Double use Bits64;
// the remaining tags reference other entries through Index1 and Index2.
type Entry struct {
	Tag    Tag
	Str    string
	Bits   uint32
	Bits64 uint64
	Index1 uint16
	Index2 uint16
}

// Pool is a constant pool. Index 0 and the slot after every Long or
// Double are unusable and hold a zero Entry.
type Pool []Entry

func (p Pool) entry(idx uint16, tags ...Tag) (Entry, error) {
	if idx == 0 || int(idx) >= len(p) || p[idx].Tag == 0 {
		return Entry{}, fmt.Errorf("%w: index %d", ErrBadConstant, idx)
	}
	e := p[idx]
	for _, t := range tags {
		if e.Tag == t {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: #%d has tag %d, want %v", ErrBadConstant, idx, e.Tag, tags)
}

// Utf8 returns the string at idx.
func (p Pool) Utf8(idx uint16) (string, error) {
	e, err := p.entry(idx, TagUtf8)
	return e.Str, err
}

// ClassName returns the internal name of the Class entry at idx.
func (p Pool) ClassName(idx uint16) (string, error) {
	e, err := p.entry(idx, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(e.Index1)
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Class      string
	Name       string
	Descriptor string
}

// Member resolves the reference at idx.
func (p Pool) Member(idx uint16, tags ...Tag) (MemberRef, error) {
	e, err := p.entry(idx, tags...)
	if err != nil {
		return MemberRef{}, err
	}
	class, err := p.ClassName(e.Index1)
	if err != nil {
		return MemberRef{}, err
	}
	nt, err := p.entry(e.Index2, TagNameAndType)
	if err != nil {
		return MemberRef{}, err
	}
	name, err := p.Utf8(nt.Index1)
	if err != nil {
		return MemberRef{}, err
	}
	desc, err := p.Utf8(nt.Index2)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Class: class, Name: name, Descriptor: desc}, nil
}

// ---------------------------------------------------------------------------
// Class file structure
// ---------------------------------------------------------------------------

// Access flags used by the translator.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
)

// ExceptionEntry is one row of a Code attribute's exception table. PCs
// are byte offsets into the original code; CatchType is 0 for a
// catch-all.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// LineNumber maps a code offset to a source line.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytes      []byte
	Exceptions []ExceptionEntry
	Lines      []LineNumber
}

// Member is a field or method.
type Member struct {
	Access     uint16
	Name       string
	Descriptor string
	Code       *Code    // methods with a body only
	Throws     []string // Exceptions attribute
}

// ClassFile is a decoded class file.
type ClassFile struct {
	Minor      uint16
	Major      uint16
	Pool       Pool
	Access     uint16
	Name       string
	Super      string // empty for java/lang/Object
	Interfaces []string
	Fields     []Member
	Methods    []Member
	SourceFile string
}

// IsClassFile reports whether data starts with the class file magic.
func IsClassFile(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data) == Magic
}

// ReadFile parses the class file at path.
func ReadFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}
	if r.u32() != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrBadMagic
	}
	cf := &ClassFile{Minor: r.u16(), Major: r.u16()}
	cf.Pool = r.pool()
	if r.err != nil {
		return nil, r.err
	}

	cf.Access = r.u16()
	var err error
	if cf.Name, err = cf.Pool.ClassName(r.u16()); err != nil {
		return nil, r.fail(err)
	}
	if super := r.u16(); super != 0 {
		if cf.Super, err = cf.Pool.ClassName(super); err != nil {
			return nil, r.fail(err)
		}
	}
	for i, n := 0, int(r.u16()); i < n && r.err == nil; i++ {
		name, err := cf.Pool.ClassName(r.u16())
		if err != nil {
			return nil, r.fail(err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}
	if cf.Fields, err = r.members(cf.Pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = r.members(cf.Pool); err != nil {
		return nil, err
	}
	err = r.attributes(cf.Pool, func(name string, body *reader) error {
		if name != "SourceFile" {
			return nil
		}
		s, err := cf.Pool.Utf8(body.u16())
		cf.SourceFile = s
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &FormatError{Offset: r.off, Err: ErrTrailingData}
	}
	return cf, nil
}

// ---------------------------------------------------------------------------
// Binary reader
// ---------------------------------------------------------------------------

// reader decodes big-endian values. The first failure sticks; later reads
// return zero.
type reader struct {
	data []byte
	off  int
	base int // offset of data within the whole file, for errors
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = &FormatError{Offset: r.base + r.off, Err: ErrTruncated}
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) fail(err error) error {
	if r.err == nil {
		r.err = &FormatError{Offset: r.base + r.off, Err: err}
	}
	return r.err
}

func (r *reader) pool() Pool {
	count := int(r.u16())
	if count == 0 {
		r.fail(fmt.Errorf("%w: empty constant pool", ErrBadConstant))
		return nil
	}
	p := make(Pool, count)
	for i := 1; i < count && r.err == nil; i++ {
		e := Entry{Tag: Tag(r.u8())}
		switch e.Tag {
		case TagUtf8:
			e.Str = decodeModifiedUTF8(r.take(int(r.u16())))
		case TagInteger, TagFloat:
			e.Bits = r.u32()
		case TagLong, TagDouble:
			e.Bits64 = uint64(r.u32())<<32 | uint64(r.u32())
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			e.Index1 = r.u16()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			e.Index1, e.Index2 = r.u16(), r.u16()
		case TagMethodHandle:
			e.Index1, e.Index2 = uint16(r.u8()), r.u16()
		default:
			r.fail(fmt.Errorf("%w: unknown tag %d at #%d", ErrBadConstant, e.Tag, i))
			return nil
		}
		p[i] = e
		if e.Tag == TagLong || e.Tag == TagDouble {
			i++ // eight-byte constants take two slots
		}
	}
	return p
}

func (r *reader) members(p Pool) ([]Member, error) {
	n := int(r.u16())
	out := make([]Member, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := Member{Access: r.u16()}
		var err error
		if m.Name, err = p.Utf8(r.u16()); err != nil {
			return nil, r.fail(err)
		}
		if m.Descriptor, err = p.Utf8(r.u16()); err != nil {
			return nil, r.fail(err)
		}
		err = r.attributes(p, func(name string, body *reader) error {
			switch name {
			case "Code":
				m.Code = body.code(p)
			case "Exceptions":
				for j, k := 0, int(body.u16()); j < k && body.err == nil; j++ {
					t, err := p.ClassName(body.u16())
					if err != nil {
						return err
					}
					m.Throws = append(m.Throws, t)
				}
			}
			return body.err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, r.err
}

// attributes walks an attribute table, handing each body to fn in its
// own reader so unknown attributes are skipped by length.
func (r *reader) attributes(p Pool, fn func(name string, body *reader) error) error {
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		name, err := p.Utf8(r.u16())
		if err != nil {
			return r.fail(err)
		}
		length := r.u32()
		if length > math.MaxInt32 {
			return r.fail(ErrTruncated)
		}
		start := r.off
		data := r.take(int(length))
		if r.err != nil {
			return r.err
		}
		body := &reader{data: data, base: r.base + start}
		if err := fn(name, body); err != nil {
			if body.err != nil {
				r.err = body.err
			} else {
				r.err = &FormatError{Offset: r.base + start, Err: fmt.Errorf("%s attribute: %w", name, err)}
			}
			return r.err
		}
	}
	return r.err
}

func (r *reader) code(p Pool) *Code {
	c := &Code{MaxStack: r.u16(), MaxLocals: r.u16()}
	c.Bytes = r.take(int(r.u32()))
	for i, n := 0, int(r.u16()); i < n && r.err == nil; i++ {
		c.Exceptions = append(c.Exceptions, ExceptionEntry{
			StartPC: r.u16(), EndPC: r.u16(), HandlerPC: r.u16(), CatchType: r.u16(),
		})
	}
	r.attributes(p, func(name string, body *reader) error {
		if name == "LineNumberTable" {
			for i, n := 0, int(body.u16()); i < n && body.err == nil; i++ {
				c.Lines = append(c.Lines, LineNumber{StartPC: body.u16(), Line: body.u16()})
			}
		}
		return body.err
	})
	return c
}

// decodeModifiedUTF8 converts the class file string encoding to UTF-8:
// NUL is stored as 0xC0 0x80 and supplementary characters as surrogate
// pairs.
func decodeModifiedUTF8(b []byte) string {
	if utf8.Valid(b) && !strings.Contains(string(b), "\xc0\x80") {
		return string(b)
	}
	var units []uint16
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, uint16(utf8.RuneError))
			i++
		}
	}
	var sb strings.Builder
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
			sb.WriteRune(rune(u-0xD800)<<10 | rune(units[i+1]-0xDC00) + 0x10000)
			i++
			continue
		}
		sb.WriteRune(rune(u))
	}
	return sb.String()
}
