package vm

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// ClassConsole hosts the output natives used by test programs.
const ClassConsole = "javelin/Console"

// NativeContext is handed to every native method call.
type NativeContext struct {
	VM     *VM
	Store  *Store
	Out    io.Writer
	Method *Method
}

// String returns the contents of a java/lang/String reference, or "null".
func (c *NativeContext) String(v Value) (string, error) {
	if v.IsNull() {
		return "null", nil
	}
	return c.Store.StringValue(v.Ref())
}

// NewString allocates a java/lang/String.
func (c *NativeContext) NewString(s string) Value {
	return FromRef(c.Store.AllocateString(s))
}

// ---------------------------------------------------------------------------
// NativeRegistry
// ---------------------------------------------------------------------------

type nativeEntry struct {
	class, name, descriptor string
	static                  bool
	fn                      NativeFunc
}

// NativeRegistry maps Class.name+descriptor to Go implementations.
type NativeRegistry struct {
	mu      sync.RWMutex
	entries map[string]nativeEntry
}

// NewNativeRegistry creates a registry seeded with the built-in natives.
func NewNativeRegistry() *NativeRegistry {
	r := &NativeRegistry{entries: make(map[string]nativeEntry)}
	registerBuiltinNatives(r)
	return r
}

func nativeKey(class, name, descriptor string) string {
	return class + "." + name + descriptor
}

// Register adds or replaces a native implementation.
func (r *NativeRegistry) Register(class, name, descriptor string, static bool, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[nativeKey(class, name, descriptor)] = nativeEntry{class, name, descriptor, static, fn}
}

// Lookup returns the native for class.name+descriptor.
func (r *NativeRegistry) Lookup(class, name, descriptor string) (NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nativeKey(class, name, descriptor)]
	return e.fn, ok
}

// Keys returns every registered key, sorted.
func (r *NativeRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// forClass returns the entries registered for class.
func (r *NativeRegistry) forClass(class string) []nativeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []nativeEntry
	for _, e := range r.entries {
		if e.class == class {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name+out[i].descriptor < out[j].name+out[j].descriptor
	})
	return out
}

// Bind attaches registered natives to c: methods c declares without code
// get their implementation, and natives c does not declare are added.
func (r *NativeRegistry) Bind(c *Class) error {
	for _, e := range r.forClass(c.Name) {
		if m := c.DeclaredMethod(e.name, e.descriptor); m != nil {
			if len(m.Code) == 0 && m.Native == nil {
				m.Native = e.fn
			}
			continue
		}
		m, err := NewMethod(e.name, e.descriptor, e.static)
		if err != nil {
			return fmt.Errorf("native %s: %w", nativeKey(e.class, e.name, e.descriptor), err)
		}
		m.Native = e.fn
		c.AddMethod(m)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Built-in natives
// ---------------------------------------------------------------------------

const detailMessageField = "detailMessage"

func registerBuiltinNatives(r *NativeRegistry) {
	r.Register(ClassObject, "<init>", "()V", false, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})

	r.Register(ClassObject, "hashCode", "()I", false, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		h, err := ctx.Store.IdentityHash(this.Ref())
		if err != nil {
			return Value{}, err
		}
		return FromInt(h), nil
	})

	r.Register(ClassThrowable, "<init>", "()V", false, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})

	r.Register(ClassThrowable, "<init>", "(Ljava/lang/String;)V", false, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		return Value{}, ctx.Store.WriteField(this.Ref(), detailMessageField, args[0])
	})

	r.Register(ClassThrowable, "getMessage", "()Ljava/lang/String;", false, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		return ctx.Store.ReadField(this.Ref(), detailMessageField)
	})

	r.Register(ClassConsole, "println", "(I)V", true, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		_, err := fmt.Fprintln(ctx.Out, args[0].Int())
		return Value{}, err
	})

	r.Register(ClassConsole, "println", "(Ljava/lang/String;)V", true, func(ctx *NativeContext, this Value, args []Value) (Value, error) {
		s, err := ctx.String(args[0])
		if err != nil {
			return Value{}, err
		}
		_, err = fmt.Fprintln(ctx.Out, s)
		return Value{}, err
	})
}
