package vm

import (
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Store: arena of objects and arrays addressed by Ref
// ---------------------------------------------------------------------------

// cell is one allocated instance. Exactly one of fields, array or str is
// meaningful, selected by shape.
type cell struct {
	shape  cellShape
	class  *Class  // instance class; nil for arrays
	fields []Value // object instances
	array  *arrayData
	str    string // java/lang/String payload
}

type cellShape uint8

const (
	shapeObject cellShape = iota
	shapeArray
	shapeString
)

type arrayData struct {
	elem  TypeDesc // element type
	slots []Value
}

// Store allocates arrays and objects and mediates every element and field
// access. References are indexes into the arena; index 0 is reserved so
// that the zero Ref is null. A Store may be shared by several call stacks;
// reads and writes are serialized by an RWMutex so a completed write is
// visible through every alias.
type Store struct {
	mu      sync.RWMutex
	cells   []*cell
	string  *Class      // java/lang/String, set by the VM at bootstrap
	classes *ClassTable // resolves array element classes; may be nil
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{cells: make([]*cell, 1, 64)}
}

func (s *Store) add(c *cell) Ref {
	s.cells = append(s.cells, c)
	return Ref(len(s.cells) - 1)
}

// get returns the cell for r. Callers hold s.mu.
func (s *Store) get(op string, r Ref) (*cell, error) {
	if r == NullRef {
		return nil, &AccessError{Op: op, Err: ErrNullReference}
	}
	if int(r) >= len(s.cells) {
		return nil, &AccessError{Op: op, Ref: r, Err: ErrBadReference}
	}
	return s.cells[r], nil
}

// Len returns the number of live allocations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells) - 1
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// AllocateArray creates an array of length slots of the given element
// type, every slot holding the element kind's default value.
func (s *Store) AllocateArray(elem TypeDesc, length int) (Ref, error) {
	if length < 0 {
		return NullRef, &AccessError{Op: "allocate_array", Length: length, Err: ErrInvalidLength}
	}
	if elem.Kind == KindVoid {
		return NullRef, &AccessError{Op: "allocate_array", Class: "void", Err: ErrKindMismatch}
	}
	slots := make([]Value, length)
	def := DefaultValue(elem.Kind)
	for i := range slots {
		slots[i] = def
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&cell{shape: shapeArray, array: &arrayData{elem: elem, slots: slots}}), nil
}

// AllocateObject creates an instance of class with every field at its
// default value. The class must be linked. Constructors are run by the
// engine after allocation, never by the store.
func (s *Store) AllocateObject(class *Class) (Ref, error) {
	if class == nil || !class.linked {
		name := "<nil>"
		if class != nil {
			name = class.Name
		}
		return NullRef, &LinkError{Class: name, Err: ErrUnknownClass}
	}
	fields := make([]Value, len(class.layout))
	for i, f := range class.layout {
		fields[i] = DefaultValue(f.Kind())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&cell{shape: shapeObject, class: class, fields: fields}), nil
}

// AllocateString creates a java/lang/String instance.
func (s *Store) AllocateString(str string) Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&cell{shape: shapeString, class: s.string, str: str})
}

// ---------------------------------------------------------------------------
// Element access
// ---------------------------------------------------------------------------

func (s *Store) arrayCell(op string, r Ref) (*arrayData, error) {
	c, err := s.get(op, r)
	if err != nil {
		return nil, err
	}
	if c.shape != shapeArray {
		return nil, &AccessError{Op: op, Ref: r, Class: s.className(c), Err: ErrNotArray}
	}
	return c.array, nil
}

// ReadElement returns slot index of the array r.
func (s *Store) ReadElement(r Ref, index int) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.arrayCell("read_element", r)
	if err != nil {
		return Value{}, err
	}
	if index < 0 || index >= len(a.slots) {
		return Value{}, &AccessError{Op: "read_element", Ref: r, Index: index, Length: len(a.slots), Err: ErrIndexOutOfBounds}
	}
	return a.slots[index], nil
}

// WriteElement overwrites slot index of the array r. The write is visible
// through every reference to the same array.
func (s *Store) WriteElement(r Ref, index int, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.arrayCell("write_element", r)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(a.slots) {
		return &AccessError{Op: "write_element", Ref: r, Index: index, Length: len(a.slots), Err: ErrIndexOutOfBounds}
	}
	if !assignable(a.elem.Kind, v.Kind()) {
		return &AccessError{Op: "write_element", Ref: r, Index: index, Class: v.Kind().String(), Err: ErrKindMismatch}
	}
	if v.IsRef() && !v.IsNull() {
		check := s.checkElementClass
		if a.elem.Dims > 0 {
			check = s.checkElementArray
		}
		if err := check(r, index, a.elem.ClassName, v.Ref()); err != nil {
			return err
		}
	}
	a.slots[index] = coerce(a.elem.Kind, v)
	return nil
}

// checkElementClass rejects storing an instance into a reference array
// whose element class it does not extend.
func (s *Store) checkElementClass(arr Ref, index int, elemClass string, v Ref) error {
	if elemClass == "" || elemClass == ClassObject {
		return nil
	}
	c, err := s.get("write_element", v)
	if err != nil {
		return err
	}
	if c.class == nil || !c.class.HasTag(elemClass) {
		return &AccessError{Op: "write_element", Ref: arr, Index: index, Class: s.className(c), Err: ErrKindMismatch}
	}
	return nil
}

// checkElementArray rejects storing anything but a compatible array into
// an array of arrays. want is the full element descriptor, e.g.
// "[Ljava/lang/String;".
func (s *Store) checkElementArray(arr Ref, index int, want string, v Ref) error {
	c, err := s.get("write_element", v)
	if err != nil {
		return err
	}
	if c.shape != shapeArray || !s.descriptorAssignable("["+c.array.elem.String(), want) {
		return &AccessError{Op: "write_element", Ref: arr, Index: index, Class: s.className(c), Err: ErrKindMismatch}
	}
	return nil
}

// descriptorAssignable reports whether a value of type have may be stored
// where want is expected. Reference arrays are covariant in their element
// type; primitive arrays must match exactly.
func (s *Store) descriptorAssignable(have, want string) bool {
	for {
		switch {
		case have == want:
			return true
		case have == "" || want == "":
			return false
		case have[0] == '[' && want[0] == '[':
			have, want = have[1:], want[1:]
		case want == "L"+ClassObject+";":
			return have[0] == 'L' || have[0] == '['
		case have[0] == 'L' && want[0] == 'L':
			if s.classes == nil {
				return false
			}
			c := s.classes.Lookup(strings.TrimSuffix(have[1:], ";"))
			return c != nil && c.HasTag(strings.TrimSuffix(want[1:], ";"))
		default:
			return false
		}
	}
}

// ArrayLength returns the fixed length of the array r.
func (s *Store) ArrayLength(r Ref) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.arrayCell("array_length", r)
	if err != nil {
		return 0, err
	}
	return len(a.slots), nil
}

// ArrayElementType returns the element type of the array r.
func (s *Store) ArrayElementType(r Ref) (TypeDesc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, err := s.arrayCell("array_element_type", r)
	if err != nil {
		return TypeDesc{}, err
	}
	return a.elem, nil
}

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

func (s *Store) objectField(op string, r Ref, name string) (*cell, int, error) {
	c, err := s.get(op, r)
	if err != nil {
		if ae, ok := err.(*AccessError); ok {
			ae.Field = name
		}
		return nil, 0, err
	}
	if c.shape != shapeObject {
		return nil, 0, &AccessError{Op: op, Ref: r, Field: name, Class: s.className(c), Err: ErrUnknownField}
	}
	idx, ok := c.class.FieldIndex(name)
	if !ok {
		return nil, 0, &AccessError{Op: op, Ref: r, Field: name, Class: c.class.Name, Err: ErrUnknownField}
	}
	return c, idx, nil
}

// ReadField returns the named field of the object r.
func (s *Store) ReadField(r Ref, name string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, idx, err := s.objectField("read_field", r, name)
	if err != nil {
		return Value{}, err
	}
	return c.fields[idx], nil
}

// WriteField overwrites the named field of the object r.
func (s *Store) WriteField(r Ref, name string, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, idx, err := s.objectField("write_field", r, name)
	if err != nil {
		return err
	}
	k := c.class.layout[idx].Kind()
	if !assignable(k, v.Kind()) {
		return &AccessError{Op: "write_field", Ref: r, Field: name, Class: c.class.Name, Err: ErrKindMismatch}
	}
	c.fields[idx] = coerce(k, v)
	return nil
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// ClassOf returns the class of the instance r. Arrays have no class and
// yield nil with a nil error.
func (s *Store) ClassOf(r Ref) (*Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get("class_of", r)
	if err != nil {
		return nil, err
	}
	return c.class, nil
}

// IsArray reports whether r names an array.
func (s *Store) IsArray(r Ref) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get("is_array", r)
	return err == nil && c.shape == shapeArray
}

// StringValue returns the contents of the java/lang/String r.
func (s *Store) StringValue(r Ref) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get("string_value", r)
	if err != nil {
		return "", err
	}
	if c.shape != shapeString {
		return "", &AccessError{Op: "string_value", Ref: r, Class: s.className(c), Err: ErrKindMismatch}
	}
	return c.str, nil
}

// IdentityHash returns a stable hash for the instance r.
func (s *Store) IdentityHash(r Ref) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.get("hash_code", r); err != nil {
		return 0, err
	}
	// Fibonacci hashing of the handle spreads small arena indexes.
	return int32(uint32(r) * 2654435769), nil
}

// TypeName returns the runtime type name of r for diagnostics: the class
// name for objects and strings, the array descriptor for arrays.
func (s *Store) TypeName(r Ref) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get("type_name", r)
	if err != nil {
		return "null"
	}
	return s.className(c)
}

func (s *Store) className(c *cell) string {
	switch c.shape {
	case shapeArray:
		return "[" + c.array.elem.String()
	case shapeString:
		return ClassString
	}
	if c.class == nil {
		return "?"
	}
	return c.class.Name
}
