package vm

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Class and ClassTable tests
// ---------------------------------------------------------------------------

func newTable(t *testing.T, classes ...*Class) *ClassTable {
	t.Helper()
	ct := NewClassTable()
	ct.Register(NewClass(ClassObject, ""))
	for _, c := range classes {
		ct.Register(c)
	}
	return ct
}

func TestNewClass(t *testing.T) {
	c := NewClass("Point", ClassObject)
	if c.Name != "Point" || c.SuperName != ClassObject {
		t.Errorf("class = %s extends %s", c.Name, c.SuperName)
	}
	if c.IsLinked() {
		t.Error("a new class should not be linked")
	}
	if c.String() != "Point" {
		t.Errorf("String() = %q", c.String())
	}
}

func TestAddFieldRejectsDuplicatesAndBadDescriptors(t *testing.T) {
	c := NewClass("Point", ClassObject)
	if err := c.AddField("x", "I"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddField("x", "I"); err == nil {
		t.Error("duplicate field accepted")
	}
	if err := c.AddField("y", "Q"); err == nil {
		t.Error("bad descriptor accepted")
	}
}

func TestLinkLayoutInheritedFirst(t *testing.T) {
	base := NewClass("Base", ClassObject)
	base.AddField("a", "I")
	derived := NewClass("Derived", "Base")
	derived.AddField("b", "LBase;")
	ct := newTable(t, base, derived)

	c, err := ct.Link("Derived")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range c.Layout() {
		names = append(names, f.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("layout = %v", names)
	}
	if idx, ok := c.FieldIndex("b"); !ok || idx != 1 {
		t.Errorf("FieldIndex(b) = %d, %v", idx, ok)
	}
	if c.NumSlots() != 2 {
		t.Errorf("NumSlots() = %d", c.NumSlots())
	}
	if c.Layout()[1].Kind() != KindRef {
		t.Errorf("b kind = %v", c.Layout()[1].Kind())
	}
}

func TestTagsNearestFirst(t *testing.T) {
	vm := NewVM()
	c, err := vm.resolveClass(ClassArrayIndexOutOfBounds)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		ClassArrayIndexOutOfBounds,
		ClassIndexOutOfBounds,
		ClassRuntimeException,
		ClassException,
		ClassThrowable,
		ClassObject,
	}
	if !reflect.DeepEqual(c.Tags(), want) {
		t.Errorf("Tags() = %v", c.Tags())
	}
	if !c.HasTag(ClassRuntimeException) || c.HasTag(ClassError) {
		t.Error("HasTag disagrees with the hierarchy")
	}
	if !c.IsSubclassOf(vm.ThrowableClass) || vm.ThrowableClass.IsSubclassOf(c) {
		t.Error("IsSubclassOf disagrees with the hierarchy")
	}
}

func TestLinkUnknownSuperclass(t *testing.T) {
	ct := newTable(t, NewClass("Orphan", "Missing"))
	_, err := ct.Link("Orphan")
	if !errors.Is(err, ErrUnknownClass) {
		t.Errorf("err = %v, want ErrUnknownClass", err)
	}
}

func TestLinkCycle(t *testing.T) {
	ct := newTable(t, NewClass("A", "B"), NewClass("B", "A"))
	if _, err := ct.Link("A"); err == nil {
		t.Error("circular superclass chain accepted")
	}
	if err := ct.LinkAll(); err == nil {
		t.Error("LinkAll accepted a cycle")
	}
}

func TestMethodLookupInheritsAndOverrides(t *testing.T) {
	base := NewClass("Base", ClassObject)
	derived := NewClass("Derived", "Base")

	bf, _ := NewMethod("f", "()I", false)
	bg, _ := NewMethod("g", "()I", false)
	df, _ := NewMethod("f", "()I", false)
	base.AddMethod(bf)
	base.AddMethod(bg)
	derived.AddMethod(df)

	ct := newTable(t, base, derived)
	c, err := ct.Link("Derived")
	if err != nil {
		t.Fatal(err)
	}
	if c.LookupMethod("f", "()I") != df {
		t.Error("override not found first")
	}
	if c.LookupMethod("g", "()I") != bg {
		t.Error("inherited method not found")
	}
	if c.DeclaredMethod("g", "()I") != nil {
		t.Error("DeclaredMethod should not search superclasses")
	}
	if c.LookupMethod("f", "(I)I") != nil {
		t.Error("descriptor is part of the method identity")
	}
	if c.LookupMethodByName("g") != bg {
		t.Error("LookupMethodByName should search superclasses")
	}
}

func TestAddMethodReplacesSameKey(t *testing.T) {
	c := NewClass("C", ClassObject)
	m1, _ := NewMethod("f", "()V", true)
	m2, _ := NewMethod("f", "()V", true)
	c.AddMethod(m1)
	c.AddMethod(m2)
	if len(c.Methods) != 1 || c.DeclaredMethod("f", "()V") != m2 {
		t.Errorf("methods = %v", c.Methods)
	}
	if m2.Class != c {
		t.Error("AddMethod should bind the method to its class")
	}
}

func TestClassTableAllSorted(t *testing.T) {
	ct := newTable(t, NewClass("b/B", ClassObject), NewClass("a/A", ClassObject))
	var names []string
	for _, c := range ct.All() {
		names = append(names, c.Name)
	}
	want := []string{"a/A", "b/B", ClassObject}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("All() = %v", names)
	}
	if ct.Len() != 3 || !ct.Has("a/A") || ct.Has("c/C") {
		t.Error("Len/Has disagree with registrations")
	}
}

func TestRelinkAfterAddField(t *testing.T) {
	c := NewClass("Grow", ClassObject)
	ct := newTable(t, c)
	if _, err := ct.Link("Grow"); err != nil {
		t.Fatal(err)
	}
	c.AddField("extra", "J")
	if c.IsLinked() {
		t.Fatal("adding a field should invalidate the layout")
	}
	if _, err := ct.Link("Grow"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.FieldIndex("extra"); !ok {
		t.Error("relink did not pick up the new field")
	}
}

// ---------------------------------------------------------------------------
// Descriptor tests
// ---------------------------------------------------------------------------

func TestParseFieldDescriptor(t *testing.T) {
	tests := []struct {
		desc string
		want TypeDesc
	}{
		{"I", TypeDesc{Kind: KindInt}},
		{"Z", TypeDesc{Kind: KindBoolean}},
		{"Ljava/lang/String;", TypeDesc{Kind: KindRef, ClassName: "java/lang/String"}},
		{"[I", TypeDesc{Kind: KindRef, ClassName: "[I", Dims: 1}},
		{"[[LWrapper;", TypeDesc{Kind: KindRef, ClassName: "[[LWrapper;", Dims: 2}},
	}
	for _, tt := range tests {
		got, err := ParseFieldDescriptor(tt.desc)
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.desc, got, tt.want)
		}
		if got.String() != tt.desc {
			t.Errorf("%s: String() = %s", tt.desc, got.String())
		}
	}

	for _, bad := range []string{"", "V", "[", "L;", "LFoo", "II", "[V", "Q"} {
		if _, err := ParseFieldDescriptor(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	mt, err := ParseMethodDescriptor("(I[Ljava/lang/String;J)V")
	if err != nil {
		t.Fatal(err)
	}
	if mt.Arity() != 3 || mt.Return.Kind != KindVoid {
		t.Errorf("got %+v", mt)
	}
	if mt.Params[1].ClassName != "[Ljava/lang/String;" {
		t.Errorf("param 1 = %+v", mt.Params[1])
	}

	for _, bad := range []string{"", "I", "(I", "(V)V", "()", "()VV"} {
		if _, err := ParseMethodDescriptor(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestElementType(t *testing.T) {
	arr, _ := ParseFieldDescriptor("[[I")
	el, err := arr.ElementType()
	if err != nil || el.String() != "[I" {
		t.Errorf("ElementType([[I) = %v, %v", el, err)
	}
	if _, err := (TypeDesc{Kind: KindInt}).ElementType(); err == nil {
		t.Error("ElementType of int should fail")
	}
}

func TestMethodArgSlots(t *testing.T) {
	static, _ := NewMethod("f", "(IJ)V", true)
	inst, _ := NewMethod("g", "(IJ)V", false)
	if static.ArgSlots() != 2 || inst.ArgSlots() != 3 {
		t.Errorf("ArgSlots = %d, %d", static.ArgSlots(), inst.ArgSlots())
	}
	if static.MaxLocals != 2 {
		t.Errorf("MaxLocals = %d", static.MaxLocals)
	}
	if _, err := NewMethod("h", "bogus", true); err == nil {
		t.Error("bad descriptor accepted")
	}
}

// ---------------------------------------------------------------------------
// Class sources
// ---------------------------------------------------------------------------

type mapSource struct {
	classes map[string]*Class
	asked   []string
}

func (s *mapSource) FindClass(name string) (*Class, error) {
	s.asked = append(s.asked, name)
	if c, ok := s.classes[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %s", ErrUnknownClass, name)
}

func TestClassSourceLoadsOnDemand(t *testing.T) {
	leaf := NewClass("Leaf", "Base")
	b := NewMethodBuilder("answer", "()I", true)
	b.PushInt(42)
	b.Bytecode().Emit(OpIReturn)
	leaf.AddMethod(mustBuild(t, b))

	broken := NewClass("Broken", ClassObject)
	b = NewMethodBuilder("make", "()Ljava/lang/Object;", true)
	b.MarkLine(4)
	b.ClassOp(OpNew, "Gone")
	b.Bytecode().Emit(OpAReturn)
	broken.AddMethod(mustBuild(t, b))

	src := &mapSource{classes: map[string]*Class{
		"Leaf":   leaf,
		"Base":   NewClass("Base", ClassObject),
		"Broken": broken,
		"Alias":  NewClass("Other", ClassObject),
	}}
	vm, _ := newTestVM(t, WithClassSource(src))

	out, err := vm.RunEntryPoint("Leaf", "answer", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Int() != 42 {
		t.Errorf("answer() = %v", out.Result)
	}
	if vm.Lookup("Base") == nil {
		t.Error("superclass was not loaded")
	}
	if !reflect.DeepEqual(src.asked, []string{"Leaf", "Base"}) {
		t.Errorf("asked for %v", src.asked)
	}

	// Defined classes are not looked up again.
	if _, err := vm.RunEntryPoint("Leaf", "answer", nil); err != nil {
		t.Fatal(err)
	}
	if len(src.asked) != 2 {
		t.Errorf("asked again: %v", src.asked)
	}

	tests := []struct {
		class string
		want  error
	}{
		{"Missing", ErrUnknownClass},
		{"Alias", ErrUnknownClass},
	}
	for _, tt := range tests {
		if _, err := vm.RunEntryPoint(tt.class, "main", nil); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.class, err, tt.want)
		}
	}
	if vm.Lookup("Other") != nil {
		t.Error("misnamed class was defined")
	}

	// A class missing at run time is raised in the running program.
	out, err = vm.RunEntryPoint("Broken", "make", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != OutcomeAbnormal || out.Diagnostic.Class != ClassNoClassDefFoundError {
		t.Errorf("outcome = %v %+v", out.Status, out.Diagnostic)
	}
}
