// Package ir provides the data model shared by every varkeep package.
//
// This package contains type definitions and pure value operations only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Definitions are immutable once registered and replaced wholesale on reload
//   - Values are a closed sum type (IntValue, DoubleValue, StringValue, ListValue)
//   - Every operation over values uses an exhaustive type switch
//   - Strings are NFC normalized at the parse boundary
//   - All JSON and YAML tags use snake_case
package ir
