// Package image stores assembled programs as CBOR program images. An
// image holds every class of a program in a form the VM can install
// without re-assembling, plus a content hash over the classes so a
// damaged or hand-edited image is rejected on load.
package image

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/javelin/vm"
)

// Magic prefixes every encoded image.
const Magic = "JVLN"

// Version is the current image format version.
const Version = 1

var (
	ErrBadMagic     = errors.New("image: not a javelin image")
	ErrVersion      = errors.New("image: unsupported version")
	ErrHashMismatch = errors.New("image: content hash mismatch")
)

// Image is a serialized program.
type Image struct {
	Version uint8         `cbor:"1,keyasint"`
	Entry   string        `cbor:"2,keyasint,omitempty"` // class holding main
	Classes []ClassRecord `cbor:"3,keyasint"`
	Hash    [32]byte      `cbor:"4,keyasint"` // sha256 of the encoded Classes
}

// ClassRecord is one class.
type ClassRecord struct {
	Name       string         `cbor:"1,keyasint"`
	Super      string         `cbor:"2,keyasint,omitempty"`
	SourceFile string         `cbor:"3,keyasint,omitempty"`
	Fields     []FieldRecord  `cbor:"4,keyasint,omitempty"`
	Methods    []MethodRecord `cbor:"5,keyasint,omitempty"`
}

// FieldRecord is one declared field.
type FieldRecord struct {
	Name       string `cbor:"1,keyasint"`
	Descriptor string `cbor:"2,keyasint"`
}

// MethodRecord is one method. Native methods carry no code; the loading
// VM binds them from its native registry.
type MethodRecord struct {
	Name       string           `cbor:"1,keyasint"`
	Descriptor string           `cbor:"2,keyasint"`
	Static     bool             `cbor:"3,keyasint,omitempty"`
	Native     bool             `cbor:"4,keyasint,omitempty"`
	MaxLocals  int              `cbor:"5,keyasint,omitempty"`
	Code       []byte           `cbor:"6,keyasint,omitempty"`
	Constants  []ConstantRecord `cbor:"7,keyasint,omitempty"`
	Handlers   []HandlerRecord  `cbor:"8,keyasint,omitempty"`
	Lines      []LineRecord     `cbor:"9,keyasint,omitempty"`
}

// ConstantRecord is one constant pool entry.
type ConstantRecord struct {
	Tag        uint8  `cbor:"1,keyasint"`
	Int        int32  `cbor:"2,keyasint,omitempty"`
	Str        string `cbor:"3,keyasint,omitempty"`
	Class      string `cbor:"4,keyasint,omitempty"`
	Name       string `cbor:"5,keyasint,omitempty"`
	Descriptor string `cbor:"6,keyasint,omitempty"`
}

// HandlerRecord is one exception table entry. An empty CatchType catches
// everything.
type HandlerRecord struct {
	Start     int    `cbor:"1,keyasint"`
	End       int    `cbor:"2,keyasint"`
	Handler   int    `cbor:"3,keyasint"`
	CatchType string `cbor:"4,keyasint,omitempty"`
}

// LineRecord maps a pc to a source line.
type LineRecord struct {
	PC   int `cbor:"1,keyasint"`
	Line int `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// ---------------------------------------------------------------------------
// Building and installing
// ---------------------------------------------------------------------------

// Build captures classes in an image. entry names the class whose main
// method runs the program and may be empty.
func Build(entry string, classes []*vm.Class) (*Image, error) {
	img := &Image{Version: Version, Entry: entry}
	for _, c := range classes {
		img.Classes = append(img.Classes, classRecord(c))
	}
	h, err := contentHash(img.Classes)
	if err != nil {
		return nil, err
	}
	img.Hash = h
	return img, nil
}

func classRecord(c *vm.Class) ClassRecord {
	r := ClassRecord{Name: c.Name, Super: c.SuperName, SourceFile: c.SourceFile}
	for _, f := range c.Fields {
		r.Fields = append(r.Fields, FieldRecord{Name: f.Name, Descriptor: f.Descriptor})
	}
	for _, m := range c.Methods {
		mr := MethodRecord{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Static:     m.Static,
			Native:     len(m.Code) == 0,
		}
		if !mr.Native {
			mr.MaxLocals = m.MaxLocals
			mr.Code = append([]byte(nil), m.Code...)
			for _, k := range m.Constants {
				mr.Constants = append(mr.Constants, ConstantRecord{
					Tag: uint8(k.Tag), Int: k.Int, Str: k.Str,
					Class: k.Class, Name: k.Name, Descriptor: k.Descriptor,
				})
			}
			for _, h := range m.Handlers {
				mr.Handlers = append(mr.Handlers, HandlerRecord{Start: h.StartPC, End: h.EndPC, Handler: h.HandlerPC, CatchType: h.CatchType})
			}
			for _, l := range m.Lines {
				mr.Lines = append(mr.Lines, LineRecord{PC: l.PC, Line: l.Line})
			}
		}
		r.Methods = append(r.Methods, mr)
	}
	return r
}

// Unpack rebuilds the image's classes.
func (img *Image) Unpack() ([]*vm.Class, error) {
	out := make([]*vm.Class, 0, len(img.Classes))
	for _, r := range img.Classes {
		c := vm.NewClass(r.Name, r.Super)
		c.SourceFile = r.SourceFile
		for _, f := range r.Fields {
			if err := c.AddField(f.Name, f.Descriptor); err != nil {
				return nil, fmt.Errorf("image: %w", err)
			}
		}
		for _, mr := range r.Methods {
			m, err := vm.NewMethod(mr.Name, mr.Descriptor, mr.Static)
			if err != nil {
				return nil, fmt.Errorf("image: class %s: %w", r.Name, err)
			}
			if !mr.Native {
				m.MaxLocals = mr.MaxLocals
				m.Code = mr.Code
				for _, k := range mr.Constants {
					m.Constants = append(m.Constants, vm.Constant{
						Tag: vm.ConstantTag(k.Tag), Int: k.Int, Str: k.Str,
						Class: k.Class, Name: k.Name, Descriptor: k.Descriptor,
					})
				}
				for _, h := range mr.Handlers {
					m.Handlers = append(m.Handlers, vm.ExceptionHandler{StartPC: h.Start, EndPC: h.End, HandlerPC: h.Handler, CatchType: h.CatchType})
				}
				for _, l := range mr.Lines {
					m.Lines = append(m.Lines, vm.LineEntry{PC: l.PC, Line: l.Line})
				}
				if err := m.Validate(); err != nil {
					return nil, fmt.Errorf("image: class %s: %w", r.Name, err)
				}
			}
			c.AddMethod(m)
		}
		out = append(out, c)
	}
	return out, nil
}

// Install defines the image's classes in v.
func Install(v *vm.VM, img *Image) ([]*vm.Class, error) {
	classes, err := img.Unpack()
	if err != nil {
		return nil, err
	}
	if err := v.Define(classes...); err != nil {
		return nil, fmt.Errorf("image: install: %w", err)
	}
	return classes, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func contentHash(classes []ClassRecord) ([32]byte, error) {
	data, err := encMode.Marshal(classes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("image: hash: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Encode serializes img: the magic prefix followed by canonical CBOR, so
// equal images encode to equal bytes.
func Encode(img *Image) ([]byte, error) {
	data, err := encMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return append([]byte(Magic), data...), nil
}

// Decode parses and verifies an encoded image.
func Decode(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, ErrBadMagic
	}
	var img Image
	if err := cbor.Unmarshal(data[len(Magic):], &img); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, img.Version)
	}
	h, err := contentHash(img.Classes)
	if err != nil {
		return nil, err
	}
	if h != img.Hash {
		return nil, ErrHashMismatch
	}
	return &img, nil
}

// WriteFile encodes img to path.
func WriteFile(path string, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile decodes the image at path.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return Decode(data)
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}
