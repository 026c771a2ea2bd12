// Package vm implements the javelin runtime core.
//
// This package contains:
//   - Tagged slot values and opaque references
//   - The object/array Store, an arena addressed by Ref
//   - Classes, field layout and method lookup
//   - JVM-flavoured bytecode and the method builder
//   - The call/unwind engine with exception tables
//   - Native methods for the bootstrap classes
package vm
