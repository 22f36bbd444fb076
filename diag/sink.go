// Package diag implements the toolkit's error sink: a collector of located
// diagnostics with a nested context stack, modeled on the
// ErrorsContextGuard/PushContext/PopContext pattern used by the reference
// WebAssembly text-format reader this toolkit's validator design is drawn
// from. The validator reports through a Sink rather than returning on the
// first problem, so a single validate.Validate call can surface every defect
// in a module; the binary reader and the text parser return a Go error
// instead.
package diag

import "fmt"

// Kind categorizes a Diagnostic the way the rest of the toolkit's error
// types do, so callers can filter/report consistently across the binary,
// text, and validate packages.
type Kind string

const (
	KindDecode      Kind = "decode"
	KindParse       Kind = "parse"
	KindResolve     Kind = "resolve"
	KindValidate    Kind = "validate"
	KindEncode      Kind = "encode"
	KindLex         Kind = "lex"
	KindUnsupported Kind = "unsupported"
)

// Severity distinguishes diagnostics that should fail an otherwise-successful
// decode/parse from ones that are recorded but do not change the caller's
// success/failure outcome (see the data-count soft-error case in
// SPEC_FULL.md's Open Question resolution).
type Severity int

const (
	SeverityError Severity = iota
	SeveritySoft
)

// Diagnostic is one reported problem, with the nested description stack
// active when it was reported.
type Diagnostic struct {
	Loc      Location
	Message  string
	Kind     Kind
	Severity Severity
	Context  []string
}

func (d Diagnostic) Error() string {
	msg := d.Loc.String() + ": " + d.Message
	if len(d.Context) > 0 {
		msg += " (in " + joinContext(d.Context) + ")"
	}
	return msg
}

func joinContext(ctx []string) string {
	out := ctx[0]
	for _, c := range ctx[1:] {
		out += " > " + c
	}
	return out
}

// Sink accumulates diagnostics while parsing/validating continues past
// recoverable errors.
type Sink struct {
	diags []Diagnostic
	ctx   []string
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// PushContext records a human-readable description (e.g. "function 3",
// "global type") that is attached to every diagnostic reported until the
// matching PopContext.
func (s *Sink) PushContext(desc string) {
	s.ctx = append(s.ctx, desc)
}

// PopContext removes the most recently pushed context. It is a no-op on an
// empty stack so a defensive Pop in a deferred Guard.Close is always safe.
func (s *Sink) PopContext() {
	if len(s.ctx) == 0 {
		return
	}
	s.ctx = s.ctx[:len(s.ctx)-1]
}

// Guard is a scoped context-stack entry, acquired with Push and released
// with Close. Using a Guard guarantees the LIFO PushContext/PopContext
// pairing holds even when the caller returns early.
type Guard struct {
	sink *Sink
}

// Push records desc as context and returns a Guard whose Close pops it. The
// call site pattern is:
//
//	g := sink.Push("section 3")
//	defer g.Close()
func (s *Sink) Push(desc string) Guard {
	s.PushContext(desc)
	return Guard{sink: s}
}

// Close pops the context this Guard pushed. Safe to call multiple times.
func (g Guard) Close() {
	if g.sink != nil {
		g.sink.PopContext()
	}
}

// OnError reports a diagnostic at loc with the current context stack
// attached, and continues — it never aborts the calling pass.
func (s *Sink) OnError(loc Location, kind Kind, format string, args ...any) {
	s.onError(loc, kind, SeverityError, format, args...)
}

// OnSoftError reports a diagnostic that should not flip an otherwise
// successful operation's result to failure.
func (s *Sink) OnSoftError(loc Location, kind Kind, format string, args ...any) {
	s.onError(loc, kind, SeveritySoft, format, args...)
}

func (s *Sink) onError(loc Location, kind Kind, sev Severity, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	ctxCopy := make([]string, len(s.ctx))
	copy(ctxCopy, s.ctx)
	s.diags = append(s.diags, Diagnostic{
		Loc:      loc,
		Message:  msg,
		Kind:     kind,
		Severity: sev,
		Context:  ctxCopy,
	})
}

// Diagnostics returns every diagnostic reported so far, in report order.
func (s *Sink) Diagnostics() []Diagnostic {
	return s.diags
}

// HasErrors reports whether any non-soft diagnostic was reported.
func (s *Sink) HasErrors() bool {
	for _, d := range s.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
