package parser

import (
	"fmt"

	"github.com/watkit/watkit/wat/internal/ast"
)

// FunctionTypeMap reconciles a function or import signature that may name
// an explicit "(type $t)" reference, carry inline (param)/(result)
// clauses, or both. This mirrors the binary format's rule that every
// function ultimately resolves to exactly one type index, whether
// written out inline or declared by reference — the two representations
// that WAT allows to coexist at a single signature.
type FunctionTypeMap struct{}

func newFunctionTypeMap() *FunctionTypeMap {
	return &FunctionTypeMap{}
}

// Use resolves the type index for a signature that may carry an explicit
// type reference (explicitIdx, from a "(type $t)" clause) and/or inline
// param/result clauses. When both are given their shapes must agree, so
// a typo'd inline signature next to "(type $t)" is caught rather than
// silently overwriting the type's real params with the inline ones. When
// only inline clauses are given, the shape is interned against types
// already declared in the module (see Parser.findOrAddType), reusing the
// first matching index instead of appending a structural duplicate.
func (tm *FunctionTypeMap) Use(p *Parser, explicitIdx *uint32, inline ast.FuncType, hasInline bool) (uint32, ast.FuncType, error) {
	if explicitIdx != nil {
		if int(*explicitIdx) >= len(p.mod.Types) {
			return 0, ast.FuncType{}, fmt.Errorf("undefined type index %d", *explicitIdx)
		}
		want := p.mod.Types[*explicitIdx]
		if hasInline && !want.Equal(inline) {
			return 0, ast.FuncType{}, fmt.Errorf("inline function type does not match type %d", *explicitIdx)
		}
		return *explicitIdx, want, nil
	}
	idx := p.findOrAddType(inline)
	return idx, inline, nil
}
