package vm

import (
	"errors"
	"fmt"
)

// Store and linkage failures. Every one of these surfaces to running code
// as a Throwable; see exceptionClassFor.
var (
	ErrInvalidLength    = errors.New("invalid array length")
	ErrNullReference    = errors.New("null reference")
	ErrBadReference     = errors.New("reference not issued by this store")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrUnknownField     = errors.New("unknown field")
	ErrKindMismatch     = errors.New("kind mismatch")
	ErrNotArray         = errors.New("not an array")
	ErrUnknownClass     = errors.New("unknown class")
	ErrUnknownMethod    = errors.New("unknown method")
	ErrArithmetic       = errors.New("/ by zero")
	ErrStackOverflow    = errors.New("stack overflow")
)

// ErrFrameOrder is returned when a frame other than the innermost one is
// popped from a CallStack.
var ErrFrameOrder = errors.New("frame is not the innermost frame")

// AccessError describes a failed Store operation.
type AccessError struct {
	Op     string // "allocate_array", "read_element", "write_field", ...
	Ref    Ref
	Index  int
	Length int
	Field  string
	Member string // method invoked on a null receiver, in source form
	Class  string
	Err    error // one of the sentinel errors above
}

func (e *AccessError) Error() string {
	switch e.Err {
	case ErrInvalidLength:
		return fmt.Sprintf("%s: %v: %d", e.Op, e.Err, e.Length)
	case ErrIndexOutOfBounds:
		return fmt.Sprintf("%s: Index %d out of bounds for length %d", e.Op, e.Index, e.Length)
	case ErrUnknownField:
		return fmt.Sprintf("%s: %v %s.%s", e.Op, e.Err, e.Class, e.Field)
	case ErrKindMismatch:
		if e.Field != "" {
			return fmt.Sprintf("%s: %v on %s.%s", e.Op, e.Err, e.Class, e.Field)
		}
		return fmt.Sprintf("%s: %v storing into %s", e.Op, e.Err, e.Class)
	case ErrNullReference:
		if e.Field != "" {
			return fmt.Sprintf("%s: cannot access field %q of a null reference", e.Op, e.Field)
		}
		if e.Member != "" {
			return fmt.Sprintf("%s: cannot invoke %s on a null reference", e.Op, e.Member)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// detail returns the message carried by the Throwable raised for e,
// matching what a JVM puts in the exception's detail message.
func (e *AccessError) detail() string {
	switch e.Err {
	case ErrInvalidLength:
		return fmt.Sprintf("%d", e.Length)
	case ErrIndexOutOfBounds:
		return fmt.Sprintf("Index %d out of bounds for length %d", e.Index, e.Length)
	case ErrUnknownField:
		return e.Field
	case ErrKindMismatch:
		return e.Class
	case ErrNullReference:
		if e.Field != "" && e.Op == "write_field" {
			return fmt.Sprintf("Cannot assign field %q because value is null", e.Field)
		}
		if e.Field != "" {
			return fmt.Sprintf("Cannot read field %q because value is null", e.Field)
		}
		if e.Member != "" {
			return fmt.Sprintf("Cannot invoke %q because value is null", e.Member)
		}
		switch e.Op {
		case "read_element":
			return "Cannot load from array because value is null"
		case "write_element":
			return "Cannot store to array because value is null"
		case "array_length":
			return "Cannot read the array length because value is null"
		case "athrow":
			return "Cannot throw exception because value is null"
		}
	}
	return ""
}

// LinkError describes a class or member that could not be resolved.
type LinkError struct {
	Class  string
	Member string // "name(descriptor)" or "" for class-level failures
	Err    error
}

func (e *LinkError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Class)
	}
	return fmt.Sprintf("%v: %s.%s", e.Err, e.Class, e.Member)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Names of the classes raised for Store and engine failures.
const (
	ClassObject                   = "java/lang/Object"
	ClassString                   = "java/lang/String"
	ClassThrowable                = "java/lang/Throwable"
	ClassException                = "java/lang/Exception"
	ClassRuntimeException         = "java/lang/RuntimeException"
	ClassError                    = "java/lang/Error"
	ClassNullPointerException     = "java/lang/NullPointerException"
	ClassIndexOutOfBounds         = "java/lang/IndexOutOfBoundsException"
	ClassArrayIndexOutOfBounds    = "java/lang/ArrayIndexOutOfBoundsException"
	ClassNegativeArraySize        = "java/lang/NegativeArraySizeException"
	ClassArrayStoreException      = "java/lang/ArrayStoreException"
	ClassArithmeticException      = "java/lang/ArithmeticException"
	ClassLinkageError             = "java/lang/LinkageError"
	ClassNoSuchFieldError         = "java/lang/NoSuchFieldError"
	ClassNoSuchMethodError        = "java/lang/NoSuchMethodError"
	ClassNoClassDefFoundError     = "java/lang/NoClassDefFoundError"
	ClassVirtualMachineError      = "java/lang/VirtualMachineError"
	ClassStackOverflowError       = "java/lang/StackOverflowError"
	ClassIllegalArgumentException = "java/lang/IllegalArgumentException"
)

// exceptionClassFor maps a Go error from the Store, linker or a native
// method to the name of the exception class that running code observes.
func exceptionClassFor(err error) string {
	switch {
	case errors.Is(err, ErrNullReference):
		return ClassNullPointerException
	case errors.Is(err, ErrIndexOutOfBounds):
		return ClassArrayIndexOutOfBounds
	case errors.Is(err, ErrInvalidLength):
		return ClassNegativeArraySize
	case errors.Is(err, ErrUnknownField):
		return ClassNoSuchFieldError
	case errors.Is(err, ErrKindMismatch), errors.Is(err, ErrNotArray):
		return ClassArrayStoreException
	case errors.Is(err, ErrArithmetic):
		return ClassArithmeticException
	case errors.Is(err, ErrUnknownClass):
		return ClassNoClassDefFoundError
	case errors.Is(err, ErrUnknownMethod):
		return ClassNoSuchMethodError
	case errors.Is(err, ErrStackOverflow):
		return ClassStackOverflowError
	}
	return ClassRuntimeException
}

// exceptionDetailFor returns the detail message for the Throwable raised
// in place of err.
func exceptionDetailFor(err error) string {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.detail()
	}
	var le *LinkError
	if errors.As(err, &le) {
		if le.Member != "" {
			return le.Class + "." + le.Member
		}
		return le.Class
	}
	if errors.Is(err, ErrArithmetic) {
		return ErrArithmetic.Error()
	}
	if errors.Is(err, ErrStackOverflow) {
		return ""
	}
	return err.Error()
}
