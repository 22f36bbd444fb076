package wasm

import (
	"errors"
	"fmt"

	"github.com/watkit/watkit/features"
)

// checkFeatures walks every opcode and type encoding the module actually
// uses and rejects anything gated by a proposal flag not present in fset.
// It runs as a pass over the fully decoded module rather than inline
// during byte decoding: the binary shape of a gated opcode or type is
// unambiguous regardless of which features are enabled (DecodeInstructions
// never needs to guess), so gating is a single post-decode walk instead of
// threading fset through every section/instruction reader.
//
// Violations are collected rather than stopped-at-first, matching the
// "local recovery is the default" approach used by Module.Validate.
func (m *Module) checkFeatures(fset features.Set) error {
	var errs []error
	report := func(flag features.Flag, format string, args ...any) {
		errs = append(errs, fmt.Errorf("unknown opcode or encoding (requires %q): %s", flag, fmt.Sprintf(format, args...)))
	}

	for i := range m.Types {
		checkValTypes(m.Types[i].Params, fset, report)
		checkValTypes(m.Types[i].Results, fset, report)
		if len(m.Types[i].Results) > 1 && !fset.Has(features.MultiValue) {
			report(features.MultiValue, "type %d returns %d values", i, len(m.Types[i].Results))
		}
	}

	if len(m.TypeDefs) > 0 && !fset.Has(features.GC) {
		report(features.GC, "module declares %d GC type definition(s)", len(m.TypeDefs))
	}

	for i, tag := range m.Tags {
		_ = tag
		if !fset.Has(features.Exceptions) {
			report(features.Exceptions, "tag %d declared", i)
		}
	}

	for i, mem := range m.Memories {
		checkMemoryFeatures(mem, i, false, fset, report)
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			checkMemoryFeatures(*imp.Desc.Memory, i, true, fset, report)
		}
		if imp.Desc.Kind == KindGlobal && imp.Desc.Global != nil && imp.Desc.Global.Mutable && !fset.Has(features.MutableGlobals) {
			report(features.MutableGlobals, "imported global %d is mutable", i)
		}
		if imp.Desc.Kind == KindTag && !fset.Has(features.Exceptions) {
			report(features.Exceptions, "imported tag %d", i)
		}
	}

	if len(m.Tables) > 1 && !fset.Has(features.ReferenceTypes) {
		report(features.ReferenceTypes, "module declares %d tables", len(m.Tables))
	}
	for i, t := range m.Tables {
		if t.ElemType != byte(ValFuncRef) && !fset.Has(features.ReferenceTypes) {
			report(features.ReferenceTypes, "table %d has non-funcref element type 0x%02x", i, t.ElemType)
		}
		if t.Init != nil {
			checkInstructions(t.Init, fset, report)
		}
	}

	for i := range m.Globals {
		checkInstructions(m.Globals[i].Init, fset, report)
	}
	for i, elem := range m.Elements {
		if elem.Offset != nil {
			checkInstructions(elem.Offset, fset, report)
		}
		for j := range elem.Exprs {
			checkInstructions(elem.Exprs[j], fset, report)
		}
		if elem.Flags&0x04 != 0 && !fset.Has(features.BulkMemory) && elem.Flags&0x01 != 0 {
			report(features.BulkMemory, "passive/declarative element segment %d", i)
		}
	}
	for i, d := range m.Data {
		if d.Flags == 1 && !fset.Has(features.BulkMemory) {
			report(features.BulkMemory, "passive data segment %d", i)
		}
		if d.Offset != nil {
			checkInstructions(d.Offset, fset, report)
		}
	}

	for i := range m.Code {
		checkInstructions(m.Code[i].Code, fset, report)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func checkMemoryFeatures(mem MemoryType, idx int, isImport bool, fset features.Set, report func(features.Flag, string, ...any)) {
	kind := "memory"
	if isImport {
		kind = "imported memory"
	}
	if mem.Limits.Memory64 && !fset.Has(features.Memory64) {
		report(features.Memory64, "%s %d declared as memory64", kind, idx)
	}
	if mem.Limits.Shared && !fset.Has(features.Threads) {
		report(features.Threads, "%s %d declared shared", kind, idx)
	}
}

func checkValTypes(ts []ValType, fset features.Set, report func(features.Flag, string, ...any)) {
	for _, t := range ts {
		switch t {
		case ValV128:
			if !fset.Has(features.SIMD) {
				report(features.SIMD, "v128 value type used")
			}
		case ValExtern, ValRefNull, ValRef, ValNullFuncRef, ValNullExternRef, ValNullRef,
			ValEqRef, ValI31Ref, ValStructRef, ValArrayRef, ValAnyRef:
			if !fset.Has(features.ReferenceTypes) {
				report(features.ReferenceTypes, "reference type 0x%02x used", byte(t))
			}
		}
	}
}

// checkInstructions rejects any opcode gated by a proposal flag that fset
// does not enable. For let it also checks the value types of the extra
// local declarations; value types in other immediates (block types, typed
// select) are not checked here.
func checkInstructions(code []Instruction, fset features.Set, report func(features.Flag, string, ...any)) {
	for _, instr := range code {
		switch instr.Opcode {
		case OpTry, OpCatch, OpThrow, OpRethrow, OpDelegate, OpCatchAll, OpThrowRef, OpTryTable:
			if !fset.Has(features.Exceptions) {
				report(features.Exceptions, "opcode 0x%02x", instr.Opcode)
			}
		case OpReturnCall, OpReturnCallIndirect:
			if !fset.Has(features.TailCall) {
				report(features.TailCall, "opcode 0x%02x", instr.Opcode)
			}
		case OpCallRef, OpReturnCallRef, OpRefAsNonNull, OpBrOnNull, OpBrOnNonNull:
			if !fset.Has(features.TypedFunctionReferences) {
				report(features.TypedFunctionReferences, "opcode 0x%02x", instr.Opcode)
			}
		case OpLet:
			if !fset.Has(features.Let) {
				report(features.Let, "opcode 0x%02x", instr.Opcode)
			}
			if imm, ok := instr.Imm.(LetImm); ok {
				for _, le := range imm.Locals {
					checkValTypes([]ValType{le.ValType}, fset, report)
				}
			}
		case OpRefNull, OpRefIsNull, OpRefFunc, OpTableGet, OpTableSet, OpRefEq:
			if !fset.Has(features.ReferenceTypes) {
				report(features.ReferenceTypes, "opcode 0x%02x", instr.Opcode)
			}
		case OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
			if !fset.Has(features.SignExtension) {
				report(features.SignExtension, "opcode 0x%02x", instr.Opcode)
			}
		case OpPrefixSIMD:
			if !fset.Has(features.SIMD) {
				report(features.SIMD, "SIMD prefix opcode")
			}
		case OpPrefixAtomic:
			if !fset.Has(features.Threads) {
				report(features.Threads, "atomic prefix opcode")
			}
		case OpPrefixGC:
			if !fset.Has(features.GC) {
				report(features.GC, "GC prefix opcode")
			}
		case OpPrefixMisc:
			if imm, ok := instr.Imm.(MiscImm); ok {
				switch imm.SubOpcode {
				case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
					MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
					if !fset.Has(features.SatFloatToInt) {
						report(features.SatFloatToInt, "saturating truncation sub-opcode 0x%02x", imm.SubOpcode)
					}
				default:
					if !fset.Has(features.BulkMemory) {
						report(features.BulkMemory, "bulk memory sub-opcode 0x%02x", imm.SubOpcode)
					}
				}
			}
		}
	}
}
