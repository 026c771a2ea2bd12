package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("javelin.vm")

// DefaultMaxFrameDepth bounds the call stack of every interpreter unless
// overridden with WithMaxFrameDepth.
const DefaultMaxFrameDepth = 1024

// ---------------------------------------------------------------------------
// VM: class table, store and natives shared by interpreters
// ---------------------------------------------------------------------------

// VM owns the classes, the object store and the native registry that
// interpreters run against.
type VM struct {
	Classes *ClassTable
	Store   *Store
	Natives *NativeRegistry

	// Out receives program output from the Console natives.
	Out io.Writer

	// MaxFrameDepth is the call stack limit of interpreters created by
	// this VM. Exceeding it raises java/lang/StackOverflowError.
	MaxFrameDepth int

	// Well-known classes
	ObjectClass    *Class
	StringClass    *Class
	ThrowableClass *Class

	internMu sync.Mutex
	interned map[string]Ref

	source ClassSource
	loadMu sync.Mutex
}

// ClassSource supplies classes that were never defined in the VM, such as
// compiled classes found on a class path. FindClass returns an error
// wrapping ErrUnknownClass when it has no class of that name.
type ClassSource interface {
	FindClass(name string) (*Class, error)
}

// Option configures a VM.
type Option func(*VM)

// WithOutput directs Console output to w.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.Out = w }
}

// WithMaxFrameDepth sets the call stack limit.
func WithMaxFrameDepth(n int) Option {
	return func(vm *VM) { vm.MaxFrameDepth = n }
}

// WithStore makes the VM allocate into an existing store, so several VMs
// can share one arena.
func WithStore(s *Store) Option {
	return func(vm *VM) { vm.Store = s }
}

// WithClassSource makes the VM load unknown classes from src on first
// use.
func WithClassSource(src ClassSource) Option {
	return func(vm *VM) { vm.source = src }
}

// WithNatives replaces the default native registry.
func WithNatives(r *NativeRegistry) Option {
	return func(vm *VM) { vm.Natives = r }
}

// NewVM creates and bootstraps a new VM.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		Classes:       NewClassTable(),
		Out:           os.Stdout,
		MaxFrameDepth: DefaultMaxFrameDepth,
		interned:      make(map[string]Ref),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.Store == nil {
		vm.Store = NewStore()
	}
	if vm.Natives == nil {
		vm.Natives = NewNativeRegistry()
	}
	if err := vm.bootstrap(); err != nil {
		// The bootstrap hierarchy is fixed; failing to link it is a bug.
		panic(fmt.Sprintf("vm: bootstrap: %v", err))
	}
	return vm
}

// ---------------------------------------------------------------------------
// Bootstrap: core classes and the exception hierarchy
// ---------------------------------------------------------------------------

var bootstrapHierarchy = []struct{ name, super string }{
	{ClassObject, ""},
	{ClassString, ClassObject},
	{ClassThrowable, ClassObject},
	{ClassException, ClassThrowable},
	{ClassRuntimeException, ClassException},
	{ClassNullPointerException, ClassRuntimeException},
	{ClassIndexOutOfBounds, ClassRuntimeException},
	{ClassArrayIndexOutOfBounds, ClassIndexOutOfBounds},
	{ClassNegativeArraySize, ClassRuntimeException},
	{ClassArrayStoreException, ClassRuntimeException},
	{ClassArithmeticException, ClassRuntimeException},
	{ClassIllegalArgumentException, ClassRuntimeException},
	{ClassError, ClassThrowable},
	{ClassLinkageError, ClassError},
	{ClassNoSuchFieldError, ClassLinkageError},
	{ClassNoSuchMethodError, ClassLinkageError},
	{ClassNoClassDefFoundError, ClassLinkageError},
	{ClassVirtualMachineError, ClassError},
	{ClassStackOverflowError, ClassVirtualMachineError},
	{ClassConsole, ClassObject},
}

func (vm *VM) bootstrap() error {
	for _, bc := range bootstrapHierarchy {
		c := NewClass(bc.name, bc.super)
		if bc.name == ClassThrowable {
			if err := c.AddField(detailMessageField, "Ljava/lang/String;"); err != nil {
				return err
			}
		}
		if err := vm.Natives.Bind(c); err != nil {
			return err
		}
		vm.Classes.Register(c)
	}
	if err := vm.Classes.LinkAll(); err != nil {
		return err
	}
	vm.ObjectClass = vm.Classes.Lookup(ClassObject)
	vm.StringClass = vm.Classes.Lookup(ClassString)
	vm.ThrowableClass = vm.Classes.Lookup(ClassThrowable)
	vm.Store.mu.Lock()
	if vm.Store.classes == nil {
		vm.Store.classes = vm.Classes
	}
	if vm.Store.string == nil {
		vm.Store.string = vm.StringClass
	}
	vm.Store.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Class definition
// ---------------------------------------------------------------------------

// Define registers program classes, binding any natives registered for
// them. Classes are linked lazily on first use, or eagerly by Link.
func (vm *VM) Define(classes ...*Class) error {
	for _, c := range classes {
		if c.Name == "" {
			return fmt.Errorf("define: class without a name")
		}
		if c.SuperName == "" && c.Name != ClassObject {
			c.SuperName = ClassObject
		}
		if err := vm.Natives.Bind(c); err != nil {
			return err
		}
		for _, m := range c.Methods {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("define %s: %w", c.Name, err)
			}
		}
		if old := vm.Classes.Register(c); old != nil {
			log.Debugf("redefined class %s", c.Name)
		}
	}
	return nil
}

// Link links every defined class, reporting the first failure.
func (vm *VM) Link() error {
	return vm.Classes.LinkAll()
}

// Lookup returns a defined class by name.
func (vm *VM) Lookup(name string) *Class {
	return vm.Classes.Lookup(name)
}

// Resolve returns the named class linked, loading it and its superclasses
// from the class source when they are not defined yet.
func (vm *VM) Resolve(name string) (*Class, error) {
	return vm.resolveClass(name)
}

// resolveClass returns the named class, linking it if necessary. Classes
// missing from the table are loaded from the class source, if any.
func (vm *VM) resolveClass(name string) (*Class, error) {
	c, err := vm.Classes.Link(name)
	if err != nil && vm.source != nil && errors.Is(err, ErrUnknownClass) {
		if lerr := vm.load(name); lerr != nil {
			return nil, lerr
		}
		c, err = vm.Classes.Link(name)
	}
	if err != nil {
		if errors.Is(err, ErrUnknownClass) {
			return nil, err
		}
		return nil, &LinkError{Class: name, Err: fmt.Errorf("%w (%v)", ErrUnknownClass, err)}
	}
	return c, nil
}

// load defines name and every missing superclass from the class source.
func (vm *VM) load(name string) error {
	vm.loadMu.Lock()
	defer vm.loadMu.Unlock()
	for depth := 0; name != "" && !vm.Classes.Has(name); depth++ {
		if depth > vm.MaxFrameDepth {
			return &LinkError{Class: name, Err: fmt.Errorf("%w (superclass chain too deep)", ErrUnknownClass)}
		}
		c, err := vm.source.FindClass(name)
		if err != nil {
			if errors.Is(err, ErrUnknownClass) {
				return &LinkError{Class: name, Err: ErrUnknownClass}
			}
			return &LinkError{Class: name, Err: fmt.Errorf("%w (%v)", ErrUnknownClass, err)}
		}
		if c.Name != name {
			return &LinkError{Class: name, Err: fmt.Errorf("%w (found %s instead)", ErrUnknownClass, c.Name)}
		}
		if err := vm.Define(c); err != nil {
			return &LinkError{Class: name, Err: fmt.Errorf("%w (%v)", ErrUnknownClass, err)}
		}
		log.Infof("loaded class %s", name)
		name = c.SuperName
	}
	return nil
}

// resolveMethod finds name+descriptor on the named class or its supers.
func (vm *VM) resolveMethod(class, name, descriptor string) (*Method, error) {
	c, err := vm.resolveClass(class)
	if err != nil {
		return nil, err
	}
	m := c.LookupMethod(name, descriptor)
	if m == nil {
		return nil, &LinkError{Class: class, Member: name + descriptor, Err: ErrUnknownMethod}
	}
	return m, nil
}

// Intern returns the canonical java/lang/String instance for s, so equal
// string constants share one reference.
func (vm *VM) Intern(s string) Ref {
	vm.internMu.Lock()
	defer vm.internMu.Unlock()
	if r, ok := vm.interned[s]; ok {
		return r
	}
	r := vm.Store.AllocateString(s)
	vm.interned[s] = r
	return r
}

// NewInterpreter creates an interpreter with its own call stack.
func (vm *VM) NewInterpreter() *Interpreter {
	return newInterpreter(vm)
}
