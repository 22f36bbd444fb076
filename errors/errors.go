// Package errors provides a structured fatal error type for problems after
// which processing cannot produce any result at all — a bad magic number, a
// truncated header, a section that cannot be framed. No other package of the
// toolkit returns it: wasm.ParseModule and wat.Compile return plain Go
// errors, and validate.Validate reports its problems through diag.Sink.
package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred.
type Phase string

const (
	PhaseDecode   Phase = "decode"
	PhaseEncode   Phase = "encode"
	PhaseParse    Phase = "parse"
	PhaseResolve  Phase = "resolve"
	PhaseValidate Phase = "validate"
)

// Kind categorizes the error.
type Kind string

const (
	KindInvalidData  Kind = "invalid_data"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindUnsupported  Kind = "unsupported"
	KindInvalidUTF8  Kind = "invalid_utf8"
	KindOverflow     Kind = "overflow"
	KindInvalidEnum  Kind = "invalid_enum"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
)

// Error is the structured fatal error type used throughout the toolkit.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns.

func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupported, Detail: what}
}

func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		GoType: targetType,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

func InvalidEnum(phase Phase, path []string, value any, enumType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidEnum,
		Path:   path,
		GoType: enumType,
		Detail: fmt.Sprintf("invalid enum value %v for %s", value, enumType),
		Value:  value,
	}
}

func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidData, Path: path, Detail: detail}
}

func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

func NotFound(phase Phase, what, name string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: fmt.Sprintf("%s %q not found", what, name)}
}

func InvalidInput(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidInput, Detail: detail}
}

func ParseFailed(what string, cause error) *Error {
	return &Error{Phase: PhaseParse, Kind: KindInvalidData, Detail: fmt.Sprintf("parse %s", what), Cause: cause}
}
