package vm

import (
	"fmt"
	"strings"
)

// OutcomeStatus says how a program run ended.
type OutcomeStatus uint8

const (
	OutcomeNormal   OutcomeStatus = iota // the entry method returned
	OutcomeAbnormal                      // an exception escaped the entry method
)

func (s OutcomeStatus) String() string {
	if s == OutcomeNormal {
		return "Normal"
	}
	return "AbnormalTermination"
}

// Outcome is the result of running an entry point.
type Outcome struct {
	Status     OutcomeStatus
	Result     Value       // entry method's return value; void for V methods
	Diagnostic *Diagnostic // set for OutcomeAbnormal
	Steps      uint64      // instructions executed
}

// ExitCode returns the process exit status for the outcome.
func (o Outcome) ExitCode() int {
	if o.Status == OutcomeNormal {
		return 0
	}
	return 1
}

// RunEntryPoint runs a static method of a defined class on a fresh
// interpreter. method is a bare name, which picks the first method of
// that name, or a name followed by its descriptor. A main method taking
// String[] receives an empty array when args is empty.
//
// An uncaught exception is reported as an OutcomeAbnormal outcome; the
// error return is reserved for entry points that cannot be run at all.
func (vm *VM) RunEntryPoint(className, method string, args []Value) (Outcome, error) {
	m, err := vm.entryMethod(className, method)
	if err != nil {
		return Outcome{}, fmt.Errorf("entry point: %w", err)
	}
	if len(args) == 0 && isStringArrayMain(m) {
		arr, err := vm.Store.AllocateArray(TypeDesc{Kind: KindRef, ClassName: ClassString}, 0)
		if err != nil {
			return Outcome{}, fmt.Errorf("entry point: %w", err)
		}
		args = []Value{FromRef(arr)}
	}
	return vm.run(m, args)
}

// RunMain runs className.main(String[]) with argv as its arguments.
func (vm *VM) RunMain(className string, argv []string) (Outcome, error) {
	m, err := vm.entryMethod(className, "main([Ljava/lang/String;)V")
	if err != nil {
		return Outcome{}, fmt.Errorf("entry point: %w", err)
	}
	arr, err := vm.Store.AllocateArray(TypeDesc{Kind: KindRef, ClassName: ClassString}, len(argv))
	if err != nil {
		return Outcome{}, fmt.Errorf("entry point: %w", err)
	}
	for i, a := range argv {
		if err := vm.Store.WriteElement(arr, i, FromRef(vm.Store.AllocateString(a))); err != nil {
			return Outcome{}, fmt.Errorf("entry point: %w", err)
		}
	}
	return vm.run(m, []Value{FromRef(arr)})
}

func (vm *VM) run(m *Method, args []Value) (Outcome, error) {
	in := vm.NewInterpreter()
	result, thrown, err := in.Invoke(m, args)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Status: OutcomeNormal, Result: result, Steps: in.Steps()}
	if thrown != nil {
		out.Status = OutcomeAbnormal
		out.Diagnostic = thrown.Diagnostic()
		log.Infof("%s terminated: %s", m.QualifiedName(), thrown)
	} else {
		log.Infof("%s returned after %d steps", m.QualifiedName(), out.Steps)
	}
	return out, nil
}

func (vm *VM) entryMethod(className, method string) (*Method, error) {
	c, err := vm.resolveClass(className)
	if err != nil {
		return nil, err
	}
	var m *Method
	if i := strings.IndexByte(method, '('); i >= 0 {
		m = c.LookupMethod(method[:i], method[i:])
	} else {
		m = c.LookupMethodByName(method)
	}
	if m == nil {
		return nil, &LinkError{Class: className, Member: method, Err: ErrUnknownMethod}
	}
	if !m.Static {
		return nil, fmt.Errorf("%s is not static", m.QualifiedName())
	}
	return m, nil
}

func isStringArrayMain(m *Method) bool {
	p := m.Type().Params
	return len(p) == 1 && p[0].ClassName == "[Ljava/lang/String;"
}
