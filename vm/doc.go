// Package vm implements the Kestrel script engine core.
//
// This package contains:
//   - NaN-boxed value representation and the string interner
//   - A mark-sweep heap with handle-based rooting (LocalScope, Persistent, WeakRef)
//   - The object model: property maps, prototypes, arrays and accessors
//   - Bytecode, the program loader and a flat dispatch loop with exception handlers
//   - Generators, async functions, promises and the microtask queue
//   - Intrinsic constructors and prototypes
//
// A VM is single-threaded. Separate VMs share nothing and may run on
// separate goroutines.
package vm
