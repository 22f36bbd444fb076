// Package validate implements the per-function stack-polymorphic type
// checker: the pass that walks each function body's instruction sequence
// against an operand stack and a label stack, the same two-stack algorithm
// described by the WebAssembly core specification's validation appendix.
//
// wasm.Module.Validate (see wasm/validate.go) already checks index-level
// structural validity — that type/func/table/memory/global indices are in
// range, that sections agree on counts. This package adds the layer above
// that: whether the instructions in a function body actually type-check
// against the declared signature and the current feature set.
package validate

import (
	"fmt"

	"github.com/watkit/watkit/diag"
	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/internal/telemetry"
	"github.com/watkit/watkit/wasm"
	"go.uber.org/zap"
)

// Validate runs index-level structural validation followed by per-function
// instruction type checking, and reports every problem found through a
// Sink rather than stopping at the first one. It returns the diagnostics
// collected; the caller decides whether diag.Sink.HasErrors makes the
// module unusable.
func Validate(m *wasm.Module, fset features.Set) []diag.Diagnostic {
	sink := diag.NewSink()

	if err := m.Validate(); err != nil {
		for _, e := range wasm.JoinedErrors(err) {
			sink.OnError(diag.Location{}, diag.KindValidate, "%s", e.Error())
		}
	}
	if declared, actual, mismatched := m.DataCountMismatch(); mismatched {
		sink.OnSoftError(diag.Location{}, diag.KindValidate,
			"data count section declares %d segment(s), but data section has %d", declared, actual)
	}

	numImported := uint32(m.NumImportedFuncs())
	telemetry.Logger().Debug("validating module", zap.Int("functions", len(m.Code)), zap.Uint32("features", uint32(fset)))
	for i := range m.Code {
		funcIdx := numImported + uint32(i)
		g := sink.Push(fmt.Sprintf("function %d", funcIdx))
		validateFunc(m, funcIdx, &m.Code[i], fset, sink)
		g.Close()
	}

	return sink.Diagnostics()
}
