// Package errors provides the toolkit's fatal error type.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type includes rich context: a field path,
// a Go type name, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindOverflow).
//		Path("global", "0").
//		GoType("i32").
//		Detail("value does not fit").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//	err := errors.Overflow(errors.PhaseEncode, path, 300, "u8")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
