package validate

import (
	"github.com/watkit/watkit/diag"
	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/wasm"
)

// requireFeature reports an error and returns false when an opcode from
// a gated proposal shows up with that proposal's flag off. The binary reader
// and text resolver both reject these earlier via features_check.go; this is
// the validator's own check so a Validate call against a raw *wasm.Module
// (skipping those front ends) still enforces the same gate.
func (fc *funcChecker) requireFeature(flag features.Flag) bool {
	if fc.fset.Has(flag) {
		return true
	}
	fc.onError("instruction requires the %q proposal to be enabled", flag)
	return false
}

// storageValType widens a struct/array field's storage type to the value
// type it occupies on the operand stack: packed i8/i16 fields always widen
// to i32 (get_s/get_u only affect the sign-extension semantics, not the
// pushed type), and a ref field maps through refTypeForHeapType the same way
// ref.null does.
func storageValType(st wasm.StorageType) wasm.ValType {
	switch st.Kind {
	case wasm.StorageKindPacked:
		return i32
	case wasm.StorageKindRef:
		return refTypeForHeapType(st.RefType.HeapType)
	default:
		return st.ValType
	}
}

// compTypeAt resolves a type index to its composite type definition,
// flattening recursive type groups (TypeDefKindRec holds several SubTypes
// under one TypeDefs slot, so the flat type index space doesn't line up
// 1:1 with len(TypeDefs) once a rec group has more than one member).
func (fc *funcChecker) compTypeAt(typeIdx uint32) *wasm.CompType {
	idx := uint32(0)
	for _, td := range fc.m.TypeDefs {
		switch td.Kind {
		case wasm.TypeDefKindFunc:
			if idx == typeIdx {
				return nil
			}
			idx++
		case wasm.TypeDefKindSub:
			if idx == typeIdx {
				return &td.Sub.CompType
			}
			idx++
		case wasm.TypeDefKindRec:
			for i := range td.Rec.Types {
				if idx == typeIdx {
					return &td.Rec.Types[i].CompType
				}
				idx++
			}
		}
	}
	return nil
}

// tagType resolves an exception tag index to the parameter types its
// catch clause carries, the tag's referenced func type.
func (fc *funcChecker) tagType(idx uint32) *wasm.FuncType {
	if int(idx) >= len(fc.m.Tags) {
		fc.onError("tag index %d out of range", idx)
		return nil
	}
	typeIdx := fc.m.Tags[idx].TypeIdx
	if int(typeIdx) >= len(fc.m.Types) {
		fc.onError("tag %d has invalid type index %d", idx, typeIdx)
		return nil
	}
	return &fc.m.Types[typeIdx]
}

// stepSIMD type-checks one 0xFD-prefixed vector instruction, bucketed by the
// shape of operands and results its sub-opcode family shares.
func (fc *funcChecker) stepSIMD(imm wasm.SIMDImm) {
	v128 := wasm.ValV128
	apply := func(params, results []wasm.ValType) {
		fc.popVals(params)
		fc.pushVals(results)
	}

	switch imm.SubOpcode {
	case wasm.SimdV128Load, wasm.SimdV128Load8x8S, wasm.SimdV128Load8x8U,
		wasm.SimdV128Load16x4S, wasm.SimdV128Load16x4U,
		wasm.SimdV128Load32x2S, wasm.SimdV128Load32x2U,
		wasm.SimdV128Load8Splat, wasm.SimdV128Load16Splat,
		wasm.SimdV128Load32Splat, wasm.SimdV128Load64Splat,
		wasm.SimdV128Load32Zero, wasm.SimdV128Load64Zero:
		apply(cvtop(i32, v128))
	case wasm.SimdV128Store:
		apply([]wasm.ValType{i32, v128}, nil)

	case wasm.SimdV128Load8Lane, wasm.SimdV128Load16Lane,
		wasm.SimdV128Load32Lane, wasm.SimdV128Load64Lane:
		apply([]wasm.ValType{i32, v128}, []wasm.ValType{v128})
	case wasm.SimdV128Store8Lane, wasm.SimdV128Store16Lane,
		wasm.SimdV128Store32Lane, wasm.SimdV128Store64Lane:
		apply([]wasm.ValType{i32, v128}, nil)

	case wasm.SimdV128Const:
		fc.push(v128)

	case wasm.SimdI8x16Shuffle, wasm.SimdI8x16Swizzle,
		wasm.SimdI8x16NarrowI16x8S, wasm.SimdI8x16NarrowI16x8U,
		wasm.SimdI8x16Add, wasm.SimdI8x16AddSatS, wasm.SimdI8x16AddSatU,
		wasm.SimdI8x16Sub, wasm.SimdI8x16SubSatS, wasm.SimdI8x16SubSatU,
		wasm.SimdV128And, wasm.SimdV128AndNot, wasm.SimdV128Or, wasm.SimdV128Xor:
		apply(binop(v128))
	case wasm.SimdV128Bitselect:
		apply([]wasm.ValType{v128, v128, v128}, []wasm.ValType{v128})

	case wasm.SimdI8x16Splat, wasm.SimdI16x8Splat, wasm.SimdI32x4Splat:
		apply(cvtop(i32, v128))
	case wasm.SimdI64x2Splat:
		apply(cvtop(i64, v128))
	case wasm.SimdF32x4Splat:
		apply(cvtop(f32, v128))
	case wasm.SimdF64x2Splat:
		apply(cvtop(f64, v128))

	case wasm.SimdI8x16ExtractLaneS, wasm.SimdI8x16ExtractLaneU,
		wasm.SimdI16x8ExtractLaneS, wasm.SimdI16x8ExtractLaneU,
		wasm.SimdI32x4ExtractLane:
		apply(cvtop(v128, i32))
	case wasm.SimdI64x2ExtractLane:
		apply(cvtop(v128, i64))
	case wasm.SimdF32x4ExtractLane:
		apply(cvtop(v128, f32))
	case wasm.SimdF64x2ExtractLane:
		apply(cvtop(v128, f64))

	case wasm.SimdI8x16ReplaceLane, wasm.SimdI16x8ReplaceLane, wasm.SimdI32x4ReplaceLane:
		apply([]wasm.ValType{v128, i32}, []wasm.ValType{v128})
	case wasm.SimdI64x2ReplaceLane:
		apply([]wasm.ValType{v128, i64}, []wasm.ValType{v128})
	case wasm.SimdF32x4ReplaceLane:
		apply([]wasm.ValType{v128, f32}, []wasm.ValType{v128})
	case wasm.SimdF64x2ReplaceLane:
		apply([]wasm.ValType{v128, f64}, []wasm.ValType{v128})

	case wasm.SimdI8x16Abs, wasm.SimdI8x16Neg, wasm.SimdI8x16Popcnt,
		wasm.SimdF32x4Abs, wasm.SimdF32x4Neg, wasm.SimdF32x4Sqrt,
		wasm.SimdF32x4Ceil, wasm.SimdF32x4Floor, wasm.SimdF32x4Trunc, wasm.SimdF32x4Nearest,
		wasm.SimdF64x2Abs, wasm.SimdF64x2Neg, wasm.SimdF64x2Sqrt,
		wasm.SimdF64x2Ceil, wasm.SimdF64x2Floor, wasm.SimdF64x2Trunc, wasm.SimdF64x2Nearest,
		wasm.SimdV128Not,
		wasm.SimdI16x8ExtAddPairwiseI8x16S, wasm.SimdI16x8ExtAddPairwiseI8x16U:
		apply(unop(v128))

	case wasm.SimdI8x16AllTrue, wasm.SimdI8x16Bitmask,
		wasm.SimdI16x8AllTrue, wasm.SimdI16x8Bitmask,
		wasm.SimdI32x4AllTrue, wasm.SimdI32x4Bitmask,
		wasm.SimdI64x2AllTrue, wasm.SimdI64x2Bitmask,
		wasm.SimdV128AnyTrue:
		apply(cvtop(v128, i32))

	case wasm.SimdI8x16Shl, wasm.SimdI8x16ShrS, wasm.SimdI8x16ShrU:
		apply([]wasm.ValType{v128, i32}, []wasm.ValType{v128})

	default:
		fc.sink.OnSoftError(diag.Location{}, diag.KindValidate,
			"no type rule for SIMD sub-opcode 0x%02x, skipping", imm.SubOpcode)
	}
}

// stepAtomic type-checks one 0xFE-prefixed threads instruction.
func (fc *funcChecker) stepAtomic(imm wasm.AtomicImm) {
	apply := func(params, results []wasm.ValType) {
		fc.popVals(params)
		fc.pushVals(results)
	}

	switch imm.SubOpcode {
	case wasm.AtomicFence:

	case wasm.AtomicNotify:
		apply([]wasm.ValType{i32, i32}, []wasm.ValType{i32})
	case wasm.AtomicWait32:
		apply([]wasm.ValType{i32, i32, i64}, []wasm.ValType{i32})
	case wasm.AtomicWait64:
		apply([]wasm.ValType{i32, i64, i64}, []wasm.ValType{i32})

	case wasm.AtomicI32Load, wasm.AtomicI32Load8U, wasm.AtomicI32Load16U:
		apply(cvtop(i32, i32))
	case wasm.AtomicI64Load, wasm.AtomicI64Load8U, wasm.AtomicI64Load16U, wasm.AtomicI64Load32U:
		apply(cvtop(i32, i64))
	case wasm.AtomicI32Store, wasm.AtomicI32Store8, wasm.AtomicI32Store16:
		apply([]wasm.ValType{i32, i32}, nil)
	case wasm.AtomicI64Store, wasm.AtomicI64Store8, wasm.AtomicI64Store16, wasm.AtomicI64Store32:
		apply([]wasm.ValType{i32, i64}, nil)

	case wasm.AtomicI32RmwAdd, wasm.AtomicI32Rmw8AddU, wasm.AtomicI32Rmw16AddU,
		wasm.AtomicI32RmwSub, wasm.AtomicI32Rmw8SubU, wasm.AtomicI32Rmw16SubU,
		wasm.AtomicI32RmwAnd, wasm.AtomicI32Rmw8AndU, wasm.AtomicI32Rmw16AndU,
		wasm.AtomicI32RmwOr, wasm.AtomicI32Rmw8OrU, wasm.AtomicI32Rmw16OrU,
		wasm.AtomicI32RmwXor, wasm.AtomicI32Rmw8XorU, wasm.AtomicI32Rmw16XorU,
		wasm.AtomicI32RmwXchg, wasm.AtomicI32Rmw8XchgU, wasm.AtomicI32Rmw16XchgU:
		apply([]wasm.ValType{i32, i32}, []wasm.ValType{i32})
	case wasm.AtomicI64RmwAdd, wasm.AtomicI64Rmw8AddU, wasm.AtomicI64Rmw16AddU, wasm.AtomicI64Rmw32AddU,
		wasm.AtomicI64RmwSub, wasm.AtomicI64Rmw8SubU, wasm.AtomicI64Rmw16SubU, wasm.AtomicI64Rmw32SubU,
		wasm.AtomicI64RmwAnd, wasm.AtomicI64Rmw8AndU, wasm.AtomicI64Rmw16AndU, wasm.AtomicI64Rmw32AndU,
		wasm.AtomicI64RmwOr, wasm.AtomicI64Rmw8OrU, wasm.AtomicI64Rmw16OrU, wasm.AtomicI64Rmw32OrU,
		wasm.AtomicI64RmwXor, wasm.AtomicI64Rmw8XorU, wasm.AtomicI64Rmw16XorU, wasm.AtomicI64Rmw32XorU,
		wasm.AtomicI64RmwXchg, wasm.AtomicI64Rmw8XchgU, wasm.AtomicI64Rmw16XchgU, wasm.AtomicI64Rmw32XchgU:
		apply([]wasm.ValType{i32, i64}, []wasm.ValType{i64})

	case wasm.AtomicI32RmwCmpxchg, wasm.AtomicI32Rmw8CmpxchgU, wasm.AtomicI32Rmw16CmpxchgU:
		apply([]wasm.ValType{i32, i32, i32}, []wasm.ValType{i32})
	case wasm.AtomicI64RmwCmpxchg, wasm.AtomicI64Rmw8CmpxchgU, wasm.AtomicI64Rmw16CmpxchgU, wasm.AtomicI64Rmw32CmpxchgU:
		apply([]wasm.ValType{i32, i64, i64}, []wasm.ValType{i64})

	default:
		fc.sink.OnSoftError(diag.Location{}, diag.KindValidate,
			"no type rule for atomic sub-opcode 0x%02x, skipping", imm.SubOpcode)
	}
}

// stepGC type-checks one 0xFB-prefixed struct/array/ref instruction,
// resolving struct field and array element types from the module's type
// definitions rather than assuming a fixed shape.
func (fc *funcChecker) stepGC(imm wasm.GCImm) {
	switch imm.SubOpcode {
	case wasm.GCStructNew:
		ct := fc.compTypeAt(imm.TypeIdx)
		if ct == nil || ct.Struct == nil {
			fc.onError("struct.new: type %d is not a struct type", imm.TypeIdx)
			fc.push(wasm.ValStructRef)
			return
		}
		for i := len(ct.Struct.Fields) - 1; i >= 0; i-- {
			fc.popExpect(storageValType(ct.Struct.Fields[i].Type))
		}
		fc.push(wasm.ValStructRef)
	case wasm.GCStructNewDefault:
		fc.push(wasm.ValStructRef)
	case wasm.GCStructGet, wasm.GCStructGetS, wasm.GCStructGetU:
		fc.popExpect(wasm.ValStructRef)
		ct := fc.compTypeAt(imm.TypeIdx)
		if ct == nil || ct.Struct == nil || int(imm.FieldIdx) >= len(ct.Struct.Fields) {
			fc.onError("struct.get: invalid field %d of type %d", imm.FieldIdx, imm.TypeIdx)
			fc.push(unknownType)
			return
		}
		fc.push(storageValType(ct.Struct.Fields[imm.FieldIdx].Type))
	case wasm.GCStructSet:
		ct := fc.compTypeAt(imm.TypeIdx)
		if ct == nil || ct.Struct == nil || int(imm.FieldIdx) >= len(ct.Struct.Fields) {
			fc.onError("struct.set: invalid field %d of type %d", imm.FieldIdx, imm.TypeIdx)
			fc.pop()
			fc.popExpect(wasm.ValStructRef)
			return
		}
		fc.popExpect(storageValType(ct.Struct.Fields[imm.FieldIdx].Type))
		fc.popExpect(wasm.ValStructRef)

	case wasm.GCArrayNew:
		et := fc.arrayElemType(imm.TypeIdx, "array.new")
		fc.popExpect(i32)
		fc.popExpect(et)
		fc.push(wasm.ValArrayRef)
	case wasm.GCArrayNewDefault:
		fc.popExpect(i32)
		fc.push(wasm.ValArrayRef)
	case wasm.GCArrayNewFixed:
		et := fc.arrayElemType(imm.TypeIdx, "array.new_fixed")
		for i := uint32(0); i < imm.Size; i++ {
			fc.popExpect(et)
		}
		fc.push(wasm.ValArrayRef)
	case wasm.GCArrayNewData, wasm.GCArrayNewElem:
		fc.popExpect(i32)
		fc.popExpect(i32)
		fc.push(wasm.ValArrayRef)

	case wasm.GCArrayGet, wasm.GCArrayGetS, wasm.GCArrayGetU:
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)
		ct := fc.compTypeAt(imm.TypeIdx)
		if ct == nil || ct.Array == nil {
			fc.onError("array.get: type %d is not an array type", imm.TypeIdx)
			fc.push(unknownType)
			return
		}
		fc.push(storageValType(ct.Array.Element.Type))
	case wasm.GCArraySet:
		et := fc.arrayElemType(imm.TypeIdx, "array.set")
		fc.popExpect(et)
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)
	case wasm.GCArrayLen:
		fc.popExpect(wasm.ValArrayRef)
		fc.push(i32)
	case wasm.GCArrayFill:
		et := fc.arrayElemType(imm.TypeIdx, "array.fill")
		fc.popExpect(i32)
		fc.popExpect(et)
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)
	case wasm.GCArrayCopy:
		fc.popExpect(i32)
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)
	case wasm.GCArrayInitData, wasm.GCArrayInitElem:
		fc.popExpect(i32)
		fc.popExpect(i32)
		fc.popExpect(i32)
		fc.popExpect(wasm.ValArrayRef)

	case wasm.GCRefTest, wasm.GCRefTestNull:
		fc.pop()
		fc.push(i32)
	case wasm.GCRefCast, wasm.GCRefCastNull:
		fc.pop()
		fc.push(refTypeForHeapType(imm.HeapType))
	case wasm.GCBrOnCast, wasm.GCBrOnCastFail:
		t := fc.pop()
		fc.branchTo(imm.LabelIdx)
		fc.push(t)

	case wasm.GCAnyConvertExtern:
		fc.popExpect(wasm.ValExtern)
		fc.push(wasm.ValAnyRef)
	case wasm.GCExternConvertAny:
		fc.popExpect(wasm.ValAnyRef)
		fc.push(wasm.ValExtern)
	case wasm.GCRefI31:
		fc.popExpect(i32)
		fc.push(wasm.ValI31Ref)
	case wasm.GCI31GetS, wasm.GCI31GetU:
		fc.popExpect(wasm.ValI31Ref)
		fc.push(i32)

	default:
		fc.sink.OnSoftError(diag.Location{}, diag.KindValidate,
			"no type rule for GC sub-opcode 0x%02x, skipping", imm.SubOpcode)
	}
}

// arrayElemType resolves an array type's element storage type, reporting an
// error through op's name and falling back to the wildcard type so the
// caller can still balance its pop/push pairs.
func (fc *funcChecker) arrayElemType(typeIdx uint32, op string) wasm.ValType {
	ct := fc.compTypeAt(typeIdx)
	if ct == nil || ct.Array == nil {
		fc.onError("%s: type %d is not an array type", op, typeIdx)
		return unknownType
	}
	return storageValType(ct.Array.Element.Type)
}
