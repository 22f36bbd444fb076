package parser

import (
	"errors"
	"fmt"

	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/wat/internal/ast"
)

// checkFeatures walks the fully parsed module for text syntax gated by a
// proposal flag p.fset doesn't enable, the same "unknown opcode or
// encoding" family the binary decoder raises (see wasm/features_check.go).
// It runs once parsing has produced a complete ast.Module rather than at
// each token, since by then every opcode and type shape the source uses
// is already resolved to its concrete form.
func (p *Parser) checkFeatures(mod *ast.Module) error {
	var errs []error
	report := func(flag features.Flag, format string, args ...any) {
		errs = append(errs, fmt.Errorf("unknown opcode or encoding (requires %q): %s", flag, fmt.Sprintf(format, args...)))
	}

	for i, ft := range mod.Types {
		if len(ft.Results) > 1 && !p.fset.Has(features.MultiValue) {
			report(features.MultiValue, "type %d returns %d values", i, len(ft.Results))
		}
		checkWatValTypes(ft.Params, p.fset, report)
		checkWatValTypes(ft.Results, p.fset, report)
	}

	if len(mod.Tables) > 1 && !p.fset.Has(features.ReferenceTypes) {
		report(features.ReferenceTypes, "module declares %d tables", len(mod.Tables))
	}
	for i, t := range mod.Tables {
		if t.ElemType != ast.RefTypeFuncref && !p.fset.Has(features.ReferenceTypes) {
			report(features.ReferenceTypes, "table %d has non-funcref element type", i)
		}
	}

	for i, elem := range mod.Elems {
		if (elem.Mode == ast.ElemModePassive || elem.Mode == ast.ElemModeDeclarative) && !p.fset.Has(features.BulkMemory) {
			report(features.BulkMemory, "passive/declarative elem segment %d", i)
		}
		if elem.RefType == ast.RefTypeExternref && !p.fset.Has(features.ReferenceTypes) {
			report(features.ReferenceTypes, "elem segment %d uses externref", i)
		}
	}
	for i, d := range mod.Data {
		if d.Passive && !p.fset.Has(features.BulkMemory) {
			report(features.BulkMemory, "passive data segment %d", i)
		}
	}

	for i := range mod.Code {
		checkWatValTypes(mod.Code[i].Locals, p.fset, report)
		checkWatCode(mod.Code[i].Code, p.fset, report)
	}
	for i := range mod.Globals {
		checkWatCode(mod.Globals[i].Init, p.fset, report)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func checkWatValTypes(ts []ast.ValType, fset features.Set, report func(features.Flag, string, ...any)) {
	for _, t := range ts {
		if t == ast.ValTypeExternref && !fset.Has(features.ReferenceTypes) {
			report(features.ReferenceTypes, "externref value type used")
		}
	}
}

func checkWatCode(code []ast.Instr, fset features.Set, report func(features.Flag, string, ...any)) {
	for _, instr := range code {
		switch instr.Opcode {
		case ast.OpReturnCall, ast.OpReturnCallIndirect:
			if !fset.Has(features.TailCall) {
				report(features.TailCall, "opcode 0x%02x", instr.Opcode)
			}
		case ast.OpRefNull, ast.OpRefIsNull, ast.OpRefFunc, ast.OpTableGet, ast.OpTableSet:
			if !fset.Has(features.ReferenceTypes) {
				report(features.ReferenceTypes, "opcode 0x%02x", instr.Opcode)
			}
		case ast.OpLet:
			if !fset.Has(features.Let) {
				report(features.Let, "let instruction")
			}
			if imm, ok := instr.Imm.(ast.LetImm); ok {
				checkWatValTypes(imm.Locals, fset, report)
			}
		case 0xC0, 0xC1, 0xC2, 0xC3, 0xC4:
			if !fset.Has(features.SignExtension) {
				report(features.SignExtension, "sign-extension opcode 0x%02x", instr.Opcode)
			}
		}
	}
}
