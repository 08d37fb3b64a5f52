// Package engine implements the varkeep variable state engine.
//
// The engine answers reads from memory and writes to memory, and leaves
// durability to a background pipeline. It owns one instance of every
// component:
//
//	registry   definitions, swapped whole on reload
//	memstore   authoritative values with dirty tracking
//	cache      expression and result tiers in front of the memstore
//	snapshot   frozen bases of strict-initial-mode variables
//	persist    batched write-behind to the backend
//
// Read path:
//
//  1. Look up the definition; check the identity and access conditions.
//  2. Serve the result tier when the variable has no conditions.
//  3. Literal variables show their stored value or initial value.
//  4. Formula variables resolve their initial expression (or read the
//     frozen base of a strict variable) and combine it with the stored
//     increment.
//
// ${key} references inside expressions go back through the same read path
// with the resolution chain extended by key, so cycles end on the chain.
//
// Write path:
//
//  1. Check read-only, identity and access conditions.
//  2. Resolve and parse the input for the declared type.
//  3. Fit the result into the limits; formula variables store it relative
//     to the current base.
//  4. Mark the entry dirty and invalidate every cached value that read the
//     key before returning.
//
// Every public operation runs under a deadline and reports failures as
// *Error values carrying a Code.
package engine
