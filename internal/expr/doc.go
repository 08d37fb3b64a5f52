// Package expr resolves variable value strings.
//
// A value string may contain three constructs, handled in this order on
// every pass:
//
//  1. Internal references: ${key}, replaced by the referenced variable's
//     current value through a Lookup.
//  2. External placeholders: %name%, delegated to a PlaceholderProvider.
//  3. Arithmetic: + - * / ^ ( ) over decimal numerals, evaluated when the
//     whole string is an arithmetic expression and the declared type is
//     numeric.
//
// Passes repeat until the string stops changing. Three bounds guarantee
// termination:
//   - Max recursion depth caps the number of passes and the length of the
//     reference chain (default 10).
//   - Max expression length aborts resolution and returns the original
//     string (default 1000).
//   - A seen-set of intermediate strings aborts on repetition, and a
//     reference back into the chain is never followed, unless the
//     definition allows circular references.
//
// None of these are errors: Resolve always returns a Resolution whose
// Outcome says how it ended.
package expr
