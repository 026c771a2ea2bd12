package vm

import (
	"fmt"
	"strings"
)

// Inspector renders values and the instances they reference for
// debugging. It reads through the Store and never mutates it.
type Inspector struct {
	store *Store
}

// InspectionResult is a structured view of one value.
type InspectionResult struct {
	Kind      string              // value kind: int, reference, ...
	Value     string              // short rendering of the value itself
	ClassName string              // runtime type of a non-null reference
	Fields    []FieldInfo         // object fields in layout order
	Length    int                 // array length
	Elements  []*InspectionResult // preview of array elements
}

// FieldInfo is one inspected field.
type FieldInfo struct {
	Name  string
	Value *InspectionResult
}

// MaxElementPreview is the maximum number of array elements inspected.
const MaxElementPreview = 10

// DefaultMaxDepth is the default recursion depth for inspection.
const DefaultMaxDepth = 3

// NewInspector creates an inspector reading from store.
func NewInspector(store *Store) *Inspector {
	return &Inspector{store: store}
}

// Inspect inspects v with the default depth.
func (i *Inspector) Inspect(v Value) *InspectionResult {
	return i.InspectDepth(v, DefaultMaxDepth)
}

// InspectDepth inspects v, following references depth levels deep.
func (i *Inspector) InspectDepth(v Value, depth int) *InspectionResult {
	r := &InspectionResult{Kind: v.Kind().String(), Value: v.String()}
	if !v.IsRef() || v.IsNull() {
		return r
	}
	ref := v.Ref()
	r.ClassName = i.store.TypeName(ref)

	if s, err := i.store.StringValue(ref); err == nil {
		r.Value = fmt.Sprintf("%q", s)
		return r
	}
	if n, err := i.store.ArrayLength(ref); err == nil {
		r.Length = n
		if depth <= 0 {
			return r
		}
		for idx := 0; idx < n && idx < MaxElementPreview; idx++ {
			ev, err := i.store.ReadElement(ref, idx)
			if err != nil {
				break
			}
			r.Elements = append(r.Elements, i.InspectDepth(ev, depth-1))
		}
		return r
	}
	c, err := i.store.ClassOf(ref)
	if err != nil || c == nil || depth <= 0 {
		return r
	}
	for _, f := range c.Layout() {
		fv, err := i.store.ReadField(ref, f.Name)
		if err != nil {
			continue
		}
		r.Fields = append(r.Fields, FieldInfo{Name: f.Name, Value: i.InspectDepth(fv, depth-1)})
	}
	return r
}

// String returns a compact multi-line rendering, one level deep.
func (r *InspectionResult) String() string {
	var sb strings.Builder
	sb.WriteString(r.Kind)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	if r.ClassName != "" {
		sb.WriteString(" (")
		sb.WriteString(dotted(r.ClassName))
		sb.WriteString(")")
	}
	sb.WriteString("\n")
	for _, f := range r.Fields {
		fmt.Fprintf(&sb, "  %s: %s\n", f.Name, f.Value.Value)
	}
	if len(r.Elements) > 0 {
		fmt.Fprintf(&sb, "  elements (showing %d of %d):\n", len(r.Elements), r.Length)
		for idx, e := range r.Elements {
			fmt.Fprintf(&sb, "    [%d]: %s\n", idx, e.Value)
		}
	}
	return sb.String()
}

// Inspect is a convenience for NewInspector(vm.Store).Inspect(v).
func (vm *VM) Inspect(v Value) *InspectionResult {
	return NewInspector(vm.Store).Inspect(v)
}
