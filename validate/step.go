package validate

import (
	"github.com/watkit/watkit/diag"
	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
	f64 = wasm.ValF64
)

func binop(t wasm.ValType) ([]wasm.ValType, []wasm.ValType) { return []wasm.ValType{t, t}, []wasm.ValType{t} }
func unop(t wasm.ValType) ([]wasm.ValType, []wasm.ValType)  { return []wasm.ValType{t}, []wasm.ValType{t} }
func testop(t wasm.ValType) ([]wasm.ValType, []wasm.ValType) {
	return []wasm.ValType{t}, []wasm.ValType{i32}
}
func relop(t wasm.ValType) ([]wasm.ValType, []wasm.ValType) {
	return []wasm.ValType{t, t}, []wasm.ValType{i32}
}
func cvtop(from, to wasm.ValType) ([]wasm.ValType, []wasm.ValType) {
	return []wasm.ValType{from}, []wasm.ValType{to}
}

// refTypeForHeapType maps a ref.null immediate's heap type to the value
// type it pushes. Abstract heap types (funcref, externref, and their
// GC-proposal relatives) map to a fixed ValType; a non-negative heap type
// is a defined type index, which ref.null treats as a nullable reference
// to that type and so also pushes funcref-shaped (its only representable
// form here, since this toolkit doesn't model typed function references
// as distinct stack types).
func refTypeForHeapType(ht int64) wasm.ValType {
	switch ht {
	case wasm.HeapTypeExtern, wasm.HeapTypeNoExtern:
		return wasm.ValExtern
	case wasm.HeapTypeFunc, wasm.HeapTypeNoFunc:
		return wasm.ValFuncRef
	case wasm.HeapTypeAny, wasm.HeapTypeNone:
		return wasm.ValNullRef
	case wasm.HeapTypeEq:
		return wasm.ValEqRef
	case wasm.HeapTypeI31:
		return wasm.ValI31Ref
	case wasm.HeapTypeStruct:
		return wasm.ValStructRef
	case wasm.HeapTypeArray:
		return wasm.ValArrayRef
	default:
		return wasm.ValFuncRef
	}
}

// step type-checks one instruction against the current operand/label stack.
// It follows the WebAssembly core validation algorithm: most instructions
// simply pop their declared operand types and push their declared results;
// control instructions additionally push or pop control frames.
func (fc *funcChecker) step(instr *wasm.Instruction) {
	switch instr.Opcode {
	case wasm.OpUnreachable:
		fc.markUnreachable()
	case wasm.OpNop:

	case wasm.OpBlock:
		imm := instr.Imm.(wasm.BlockImm)
		params, results := fc.blockTypes(imm.Type)
		fc.pushFrame(wasm.OpBlock, params, results)
	case wasm.OpLoop:
		imm := instr.Imm.(wasm.BlockImm)
		params, results := fc.blockTypes(imm.Type)
		fc.pushFrame(wasm.OpLoop, params, results)
	case wasm.OpIf:
		imm := instr.Imm.(wasm.BlockImm)
		fc.popExpect(i32)
		params, results := fc.blockTypes(imm.Type)
		fc.pushFrame(wasm.OpIf, params, results)
	case wasm.OpElse:
		f := fc.top()
		if f.opcode != wasm.OpIf {
			fc.onError("else without matching if")
			return
		}
		fc.popVals(f.endTypes)
		if fc.stack.height() != f.height {
			fc.onError("type mismatch: if-branch leaves %d extra value(s)", fc.stack.height()-f.height)
		}
		fc.stack.pushAll(f.startTypes)
		f.unreachable = false
		f.sawElse = true
		f.opcode = wasm.OpElse
	case wasm.OpEnd:
		fc.popFrame()
	case wasm.OpBr:
		imm := instr.Imm.(wasm.BranchImm)
		fc.branchTo(imm.LabelIdx)
		fc.markUnreachable()
	case wasm.OpBrIf:
		imm := instr.Imm.(wasm.BranchImm)
		fc.popExpect(i32)
		fc.branchTo(imm.LabelIdx)
	case wasm.OpBrTable:
		imm := instr.Imm.(wasm.BrTableImm)
		fc.popExpect(i32)
		for _, l := range imm.Labels {
			fc.branchTo(l)
		}
		fc.branchTo(imm.Default)
		fc.markUnreachable()
	case wasm.OpReturn:
		fc.returnFrame()
		fc.markUnreachable()
	case wasm.OpCall:
		imm := instr.Imm.(wasm.CallImm)
		ft := fc.m.GetFuncType(imm.FuncIdx)
		if ft == nil {
			fc.onError("call to invalid function index %d", imm.FuncIdx)
			return
		}
		fc.popVals(ft.Params)
		fc.pushVals(ft.Results)
	case wasm.OpCallIndirect:
		imm := instr.Imm.(wasm.CallIndirectImm)
		fc.popExpect(i32)
		if int(imm.TypeIdx) >= len(fc.m.Types) {
			fc.onError("call_indirect type index %d out of range", imm.TypeIdx)
			return
		}
		ft := fc.m.Types[imm.TypeIdx]
		fc.popVals(ft.Params)
		fc.pushVals(ft.Results)
	case wasm.OpReturnCall:
		imm := instr.Imm.(wasm.CallImm)
		ft := fc.m.GetFuncType(imm.FuncIdx)
		if ft != nil {
			fc.popVals(ft.Params)
		}
		fc.markUnreachable()
	case wasm.OpReturnCallIndirect:
		fc.popExpect(i32)
		fc.markUnreachable()

	case wasm.OpDrop:
		fc.pop()
	case wasm.OpSelect:
		fc.popExpect(i32)
		t2 := fc.pop()
		t1 := fc.pop()
		if t1 != unknownType && t2 != unknownType && t1 != t2 {
			fc.onError("type mismatch: select operands %s and %s differ", t1, t2)
		}
		if t1 != unknownType {
			fc.push(t1)
		} else {
			fc.push(t2)
		}
	case wasm.OpSelectType:
		imm := instr.Imm.(wasm.SelectTypeImm)
		fc.popExpect(i32)
		for range imm.Types {
			fc.pop()
		}
		fc.pop()
		if len(imm.Types) > 0 {
			fc.push(imm.Types[0])
		}

	case wasm.OpLocalGet:
		imm := instr.Imm.(wasm.LocalImm)
		fc.push(fc.localType(imm.LocalIdx))
	case wasm.OpLocalSet:
		imm := instr.Imm.(wasm.LocalImm)
		fc.popExpect(fc.localType(imm.LocalIdx))
	case wasm.OpLocalTee:
		imm := instr.Imm.(wasm.LocalImm)
		t := fc.localType(imm.LocalIdx)
		fc.popExpect(t)
		fc.push(t)
	case wasm.OpGlobalGet:
		imm := instr.Imm.(wasm.GlobalImm)
		t, _ := fc.globalType(imm.GlobalIdx)
		fc.push(t)
	case wasm.OpGlobalSet:
		imm := instr.Imm.(wasm.GlobalImm)
		t, mutable := fc.globalType(imm.GlobalIdx)
		if !mutable {
			fc.onError("global.set on immutable global %d", imm.GlobalIdx)
		}
		fc.popExpect(t)

	case wasm.OpMemorySize:
		fc.push(i32)
	case wasm.OpMemoryGrow:
		fc.popExpect(i32)
		fc.push(i32)

	case wasm.OpI32Const:
		fc.push(i32)
	case wasm.OpI64Const:
		fc.push(i64)
	case wasm.OpF32Const:
		fc.push(f32)
	case wasm.OpF64Const:
		fc.push(f64)

	case wasm.OpCallRef:
		imm := instr.Imm.(wasm.CallRefImm)
		fc.pop()
		if !fc.requireFeature(features.FunctionReferences) {
			return
		}
		if int(imm.TypeIdx) >= len(fc.m.Types) {
			fc.onError("call_ref type index %d out of range", imm.TypeIdx)
			return
		}
		ft := fc.m.Types[imm.TypeIdx]
		fc.popVals(ft.Params)
		fc.pushVals(ft.Results)
	case wasm.OpReturnCallRef:
		imm := instr.Imm.(wasm.CallRefImm)
		fc.pop()
		if fc.requireFeature(features.FunctionReferences) && int(imm.TypeIdx) < len(fc.m.Types) {
			fc.popVals(fc.m.Types[imm.TypeIdx].Params)
		}
		fc.markUnreachable()
	case wasm.OpRefAsNonNull:
		if !fc.requireFeature(features.FunctionReferences) {
			fc.pop()
			return
		}
		fc.push(fc.pop())
	case wasm.OpRefEq:
		fc.requireFeature(features.GC)
		fc.pop()
		fc.pop()
		fc.push(i32)
	case wasm.OpBrOnNull:
		imm := instr.Imm.(wasm.BranchImm)
		fc.requireFeature(features.FunctionReferences)
		t := fc.pop()
		fc.branchTo(imm.LabelIdx)
		fc.push(t)
	case wasm.OpBrOnNonNull:
		imm := instr.Imm.(wasm.BranchImm)
		fc.requireFeature(features.FunctionReferences)
		fc.pop()
		fc.branchTo(imm.LabelIdx)

	case wasm.OpTry:
		if !fc.requireFeature(features.Exceptions) {
			return
		}
		imm := instr.Imm.(wasm.BlockImm)
		params, results := fc.blockTypes(imm.Type)
		fc.pushFrame(wasm.OpTry, params, results)
	case wasm.OpCatch, wasm.OpCatchAll:
		f := fc.top()
		if f.opcode != wasm.OpTry && f.opcode != wasm.OpCatch {
			fc.onError("catch without matching try")
			return
		}
		fc.popVals(f.endTypes)
		if fc.stack.height() != f.height {
			fc.onError("type mismatch: try-branch leaves %d extra value(s)", fc.stack.height()-f.height)
		}
		fc.stack.pushAll(f.startTypes)
		if instr.Opcode == wasm.OpCatch {
			imm := instr.Imm.(wasm.ThrowImm)
			if ft := fc.tagType(imm.TagIdx); ft != nil {
				fc.pushVals(ft.Params)
			}
		}
		f.unreachable = false
		f.opcode = wasm.OpCatch
	case wasm.OpDelegate:
		fc.popFrame()
	case wasm.OpThrow:
		imm := instr.Imm.(wasm.ThrowImm)
		fc.requireFeature(features.Exceptions)
		if ft := fc.tagType(imm.TagIdx); ft != nil {
			fc.popVals(ft.Params)
		}
		fc.markUnreachable()
	case wasm.OpThrowRef:
		fc.requireFeature(features.Exceptions)
		fc.pop()
		fc.markUnreachable()
	case wasm.OpRethrow:
		fc.requireFeature(features.Exceptions)
		fc.markUnreachable()
	case wasm.OpTryTable:
		if !fc.requireFeature(features.Exceptions) {
			return
		}
		imm := instr.Imm.(wasm.TryTableImm)
		params, results := fc.blockTypes(imm.BlockType)
		fc.pushFrame(wasm.OpTryTable, params, results)
		for _, c := range imm.Catches {
			if c.Kind == wasm.CatchKindCatch || c.Kind == wasm.CatchKindCatchRef {
				if ft := fc.tagType(c.TagIdx); ft != nil {
					fc.pushVals(ft.Params)
				}
			}
			fc.branchTo(c.LabelIdx)
			if c.Kind == wasm.CatchKindCatch || c.Kind == wasm.CatchKindCatchRef {
				if ft := fc.tagType(c.TagIdx); ft != nil {
					fc.popVals(ft.Params)
				}
			}
		}

	default:
		fc.stepNumericOrMemory(instr)
	}
}

func (fc *funcChecker) returnFrame() {
	f := &fc.frames[0]
	fc.popVals(f.endTypes)
}

// stepNumericOrMemory handles the large, regular families of comparison,
// arithmetic, conversion, and load/store opcodes, grouped by the shape of
// operands and results they share rather than enumerated one at a time.
func (fc *funcChecker) stepNumericOrMemory(instr *wasm.Instruction) {
	apply := func(params, results []wasm.ValType) {
		fc.popVals(params)
		fc.pushVals(results)
	}

	switch instr.Opcode {
	case wasm.OpI32Eqz:
		apply(testop(i32))
	case wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI32GtS, wasm.OpI32GtU,
		wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU:
		apply(relop(i32))
	case wasm.OpI64Eqz:
		apply(cvtop(i64, i32))
	case wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU, wasm.OpI64GtS, wasm.OpI64GtU,
		wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU:
		apply(relop(i64))
	case wasm.OpF32Eq, wasm.OpF32Ne, wasm.OpF32Lt, wasm.OpF32Gt, wasm.OpF32Le, wasm.OpF32Ge:
		apply(relop(f32))
	case wasm.OpF64Eq, wasm.OpF64Ne, wasm.OpF64Lt, wasm.OpF64Gt, wasm.OpF64Le, wasm.OpF64Ge:
		apply(relop(f64))

	case wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt,
		wasm.OpI32Extend8S, wasm.OpI32Extend16S:
		apply(unop(i32))
	case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr:
		apply(binop(i32))

	case wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt,
		wasm.OpI64Extend8S, wasm.OpI64Extend16S, wasm.OpI64Extend32S:
		apply(unop(i64))
	case wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr:
		apply(binop(i64))

	case wasm.OpF32Abs, wasm.OpF32Neg, wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc,
		wasm.OpF32Nearest, wasm.OpF32Sqrt:
		apply(unop(f32))
	case wasm.OpF32Add, wasm.OpF32Sub, wasm.OpF32Mul, wasm.OpF32Div, wasm.OpF32Min,
		wasm.OpF32Max, wasm.OpF32Copysign:
		apply(binop(f32))

	case wasm.OpF64Abs, wasm.OpF64Neg, wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc,
		wasm.OpF64Nearest, wasm.OpF64Sqrt:
		apply(unop(f64))
	case wasm.OpF64Add, wasm.OpF64Sub, wasm.OpF64Mul, wasm.OpF64Div, wasm.OpF64Min,
		wasm.OpF64Max, wasm.OpF64Copysign:
		apply(binop(f64))

	case wasm.OpI32WrapI64:
		apply(cvtop(i64, i32))
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF32U:
		apply(cvtop(f32, i32))
	case wasm.OpI32TruncF64S, wasm.OpI32TruncF64U:
		apply(cvtop(f64, i32))
	case wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		apply(cvtop(i32, i64))
	case wasm.OpI64TruncF32S, wasm.OpI64TruncF32U:
		apply(cvtop(f32, i64))
	case wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		apply(cvtop(f64, i64))
	case wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U:
		apply(cvtop(i32, f32))
	case wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U:
		apply(cvtop(i64, f32))
	case wasm.OpF32DemoteF64:
		apply(cvtop(f64, f32))
	case wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U:
		apply(cvtop(i32, f64))
	case wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U:
		apply(cvtop(i64, f64))
	case wasm.OpF64PromoteF32:
		apply(cvtop(f32, f64))
	case wasm.OpI32ReinterpretF32:
		apply(cvtop(f32, i32))
	case wasm.OpI64ReinterpretF64:
		apply(cvtop(f64, i64))
	case wasm.OpF32ReinterpretI32:
		apply(cvtop(i32, f32))
	case wasm.OpF64ReinterpretI64:
		apply(cvtop(i64, f64))

	case wasm.OpI32Load, wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U:
		apply(cvtop(i32, i32))
	case wasm.OpI64Load, wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U:
		apply(cvtop(i32, i64))
	case wasm.OpF32Load:
		apply(cvtop(i32, f32))
	case wasm.OpF64Load:
		apply(cvtop(i32, f64))
	case wasm.OpI32Store, wasm.OpI32Store8, wasm.OpI32Store16:
		fc.popExpect(i32)
		fc.popExpect(i32)
	case wasm.OpI64Store, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		fc.popExpect(i64)
		fc.popExpect(i32)
	case wasm.OpF32Store:
		fc.popExpect(f32)
		fc.popExpect(i32)
	case wasm.OpF64Store:
		fc.popExpect(f64)
		fc.popExpect(i32)

	case wasm.OpRefNull:
		imm := instr.Imm.(wasm.RefNullImm)
		fc.push(refTypeForHeapType(imm.HeapType))
	case wasm.OpRefIsNull:
		fc.pop()
		fc.push(i32)
	case wasm.OpRefFunc:
		fc.push(wasm.ValFuncRef)

	case wasm.OpPrefixSIMD:
		imm := instr.Imm.(wasm.SIMDImm)
		if fc.requireFeature(features.SIMD) {
			fc.stepSIMD(imm)
		}
	case wasm.OpPrefixAtomic:
		imm := instr.Imm.(wasm.AtomicImm)
		if fc.requireFeature(features.Threads) {
			fc.stepAtomic(imm)
		}
	case wasm.OpPrefixGC:
		imm := instr.Imm.(wasm.GCImm)
		if fc.requireFeature(features.GC) {
			fc.stepGC(imm)
		}

	default:
		fc.sink.OnSoftError(diag.Location{}, diag.KindValidate,
			"no type rule for opcode 0x%02x, skipping", instr.Opcode)
	}
}
