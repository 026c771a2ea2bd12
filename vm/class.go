package vm

import (
	"fmt"
	"sort"
	"sync"
)

// Field is a declared instance field.
type Field struct {
	Name       string
	Descriptor string
	Type       TypeDesc
}

// Kind returns the slot kind of the field.
func (f Field) Kind() Kind {
	return f.Type.Kind
}

// Class is a type descriptor: its name, superclass, declared fields and
// methods. Instances are laid out with inherited fields first.
type Class struct {
	Name       string
	SuperName  string // empty only for java/lang/Object
	Superclass *Class // resolved by ClassTable.Link
	SourceFile string

	Fields  []Field   // declared on this class only
	Methods []*Method // declared on this class only

	// Computed by Link.
	linked     bool
	layout     []Field
	fieldIndex map[string]int
	methods    map[string]*Method // name+descriptor -> declared method
	tags       []string           // own name followed by every ancestor name
}

// NewClass creates an unlinked class.
func NewClass(name, superName string) *Class {
	return &Class{
		Name:      name,
		SuperName: superName,
		methods:   make(map[string]*Method),
	}
}

// AddField declares an instance field.
func (c *Class) AddField(name, descriptor string) error {
	t, err := ParseFieldDescriptor(descriptor)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", c.Name, name, err)
	}
	for _, f := range c.Fields {
		if f.Name == name {
			return fmt.Errorf("field %s.%s declared twice", c.Name, name)
		}
	}
	c.Fields = append(c.Fields, Field{Name: name, Descriptor: descriptor, Type: t})
	c.linked = false
	return nil
}

// AddMethod declares a method on the class and binds it to c.
func (c *Class) AddMethod(m *Method) {
	if c.methods == nil {
		c.methods = make(map[string]*Method)
	}
	m.Class = c
	key := m.Key()
	if old, ok := c.methods[key]; ok {
		for i, om := range c.Methods {
			if om == old {
				c.Methods = append(c.Methods[:i], c.Methods[i+1:]...)
				break
			}
		}
	}
	c.methods[key] = m
	c.Methods = append(c.Methods, m)
}

// DeclaredMethod returns the method declared directly on c.
func (c *Class) DeclaredMethod(name, descriptor string) *Method {
	return c.methods[name+descriptor]
}

// LookupMethod finds a method on c or its superclasses.
func (c *Class) LookupMethod(name, descriptor string) *Method {
	key := name + descriptor
	for k := c; k != nil; k = k.Superclass {
		if m, ok := k.methods[key]; ok {
			return m
		}
	}
	return nil
}

// LookupMethodByName finds the first method called name on c or its
// superclasses regardless of descriptor. Used to resolve entry points.
func (c *Class) LookupMethodByName(name string) *Method {
	for k := c; k != nil; k = k.Superclass {
		for _, m := range k.Methods {
			if m.Name == name {
				return m
			}
		}
	}
	return nil
}

// FieldIndex returns the slot index of the named field in an instance of c.
func (c *Class) FieldIndex(name string) (int, bool) {
	idx, ok := c.fieldIndex[name]
	return idx, ok
}

// Layout returns every field of an instance of c, inherited first.
func (c *Class) Layout() []Field {
	return c.layout
}

// NumSlots returns the number of field slots in an instance of c.
func (c *Class) NumSlots() int {
	return len(c.layout)
}

// Tags returns the exception-matching tags of c: its own name followed by
// the name of every ancestor, nearest first.
func (c *Class) Tags() []string {
	return c.tags
}

// HasTag reports whether tag names c or one of its ancestors.
func (c *Class) HasTag(tag string) bool {
	for _, t := range c.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Superclass {
		if k == other {
			return true
		}
	}
	return false
}

// IsLinked reports whether the class has been linked.
func (c *Class) IsLinked() bool {
	return c.linked
}

func (c *Class) String() string {
	return c.Name
}

// ---------------------------------------------------------------------------
// ClassTable
// ---------------------------------------------------------------------------

// ClassTable holds every class known to a VM.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates an empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds a class to the table, replacing any class of the same
// name. Returns the previous class, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Has reports whether a class is registered.
func (ct *ClassTable) Has(name string) bool {
	return ct.Lookup(name) != nil
}

// All returns every class sorted by name.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}

// Link resolves the named class and its superclass chain, computing field
// layouts and exception tags.
func (ct *ClassTable) Link(name string) (*Class, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.link(name, map[string]bool{})
}

// LinkAll links every registered class.
func (ct *ClassTable) LinkAll() error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	names := make([]string, 0, len(ct.classes))
	for n := range ct.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := ct.link(n, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func (ct *ClassTable) link(name string, visiting map[string]bool) (*Class, error) {
	c, ok := ct.classes[name]
	if !ok {
		return nil, &LinkError{Class: name, Err: ErrUnknownClass}
	}
	if c.linked && (c.Superclass == nil || c.Superclass.linked) {
		return c, nil
	}
	if visiting[name] {
		return nil, fmt.Errorf("class %s: circular superclass chain", name)
	}
	visiting[name] = true

	var inherited []Field
	var superTags []string
	c.Superclass = nil
	if c.SuperName != "" {
		super, err := ct.link(c.SuperName, visiting)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		c.Superclass = super
		inherited = super.layout
		superTags = super.tags
	}

	c.layout = make([]Field, 0, len(inherited)+len(c.Fields))
	c.layout = append(c.layout, inherited...)
	c.layout = append(c.layout, c.Fields...)
	c.fieldIndex = make(map[string]int, len(c.layout))
	for i, f := range c.layout {
		// A redeclared field shadows the inherited one.
		c.fieldIndex[f.Name] = i
	}
	c.tags = append([]string{c.Name}, superTags...)
	if c.methods == nil {
		c.methods = make(map[string]*Method)
	}
	for _, m := range c.Methods {
		m.Class = c
		c.methods[m.Key()] = m
	}
	c.linked = true
	return c, nil
}
