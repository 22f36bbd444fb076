package validate

import (
	"github.com/watkit/watkit/diag"
	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/wasm"
)

// unknownType stands for the wildcard value the operand stack algorithm
// produces once a control frame becomes unreachable: it matches any
// expectation until the frame's stack height is restored by a branch or
// by falling through to the frame's end.
const unknownType wasm.ValType = 0

type operandStack struct {
	vals []wasm.ValType
}

func (s *operandStack) push(t wasm.ValType) {
	s.vals = append(s.vals, t)
}

func (s *operandStack) pushAll(ts []wasm.ValType) {
	for _, t := range ts {
		s.push(t)
	}
}

func (s *operandStack) height() int {
	return len(s.vals)
}

func (s *operandStack) truncate(height int) {
	s.vals = s.vals[:height]
}

// controlFrame tracks one nested block/loop/if/function scope.
type controlFrame struct {
	opcode      byte
	startTypes  []wasm.ValType // branch target types for a loop (its params)
	endTypes    []wasm.ValType // branch target types for block/if/function (its results)
	height      int            // operand stack height when the frame was entered
	unreachable bool
	sawElse     bool
}

// labelTypes returns the value types a branch to this frame must supply:
// a loop branches to its own start (it re-executes from the top), every
// other construct branches to its end.
func (f *controlFrame) labelTypes() []wasm.ValType {
	if f.opcode == wasm.OpLoop {
		return f.startTypes
	}
	return f.endTypes
}

type funcChecker struct {
	m       *wasm.Module
	fset    features.Set
	sink    *diag.Sink
	funcIdx uint32
	locals  []wasm.ValType
	stack   operandStack
	frames  []controlFrame
}

func validateFunc(m *wasm.Module, funcIdx uint32, body *wasm.FuncBody, fset features.Set, sink *diag.Sink) {
	ft := m.GetFuncType(funcIdx)
	if ft == nil {
		sink.OnError(diag.Location{}, diag.KindValidate, "function %d has no resolvable type", funcIdx)
		return
	}

	fc := &funcChecker{m: m, fset: fset, sink: sink, funcIdx: funcIdx}
	fc.locals = append(fc.locals, ft.Params...)
	for _, le := range body.Locals {
		for i := uint32(0); i < le.Count; i++ {
			fc.locals = append(fc.locals, le.ValType)
		}
	}

	fc.frames = append(fc.frames, controlFrame{
		opcode:     0, // synthetic outermost frame stands for the function itself
		startTypes: ft.Params,
		endTypes:   ft.Results,
		height:     0,
	})

	for i := range body.Code {
		fc.step(&body.Code[i])
		if len(fc.frames) == 0 {
			// an `end` closed the function frame; trailing instructions
			// (there should be none past the final end) are ignored.
			break
		}
	}

	if len(fc.frames) > 0 {
		fc.onError("function %d: missing end, %d block(s) still open", funcIdx, len(fc.frames))
	}
}

func (fc *funcChecker) onError(format string, args ...any) {
	fc.sink.OnError(diag.Location{}, diag.KindValidate, format, args...)
}

func (fc *funcChecker) top() *controlFrame {
	return &fc.frames[len(fc.frames)-1]
}

func (fc *funcChecker) pushVals(ts []wasm.ValType) {
	fc.stack.pushAll(ts)
}

func (fc *funcChecker) push(t wasm.ValType) {
	fc.stack.push(t)
}

// pop returns the type on top of the operand stack, respecting the current
// frame's polymorphism: once a frame is marked unreachable, popping past
// its entry height yields the wildcard instead of underflowing.
func (fc *funcChecker) pop() wasm.ValType {
	f := fc.top()
	if fc.stack.height() == f.height {
		if f.unreachable {
			return unknownType
		}
		fc.onError("type mismatch: expected a value, stack is empty")
		return unknownType
	}
	v := fc.stack.vals[len(fc.stack.vals)-1]
	fc.stack.vals = fc.stack.vals[:len(fc.stack.vals)-1]
	return v
}

func (fc *funcChecker) popExpect(want wasm.ValType) {
	got := fc.pop()
	if got != unknownType && want != unknownType && got != want {
		fc.onError("type mismatch: expected %s, got %s", want, got)
	}
}

func (fc *funcChecker) popVals(ts []wasm.ValType) {
	for i := len(ts) - 1; i >= 0; i-- {
		fc.popExpect(ts[i])
	}
}

// markUnreachable truncates the operand stack to the current frame's entry
// height and marks it polymorphic, the effect of `unreachable` and of
// falling off a `br`/`return`/`br_table` default target.
func (fc *funcChecker) markUnreachable() {
	f := fc.top()
	fc.stack.truncate(f.height)
	f.unreachable = true
}

func (fc *funcChecker) pushFrame(opcode byte, params, results []wasm.ValType) {
	fc.popVals(params)
	fc.frames = append(fc.frames, controlFrame{
		opcode:     opcode,
		startTypes: params,
		endTypes:   results,
		height:     fc.stack.height(),
	})
	fc.stack.pushAll(params)
}

// popFrame closes the current frame, checking its declared results are on
// the stack, and (unless it is the function's outermost frame) pushes
// those results back for the enclosing scope.
func (fc *funcChecker) popFrame() {
	f := fc.top()
	fc.popVals(f.endTypes)
	if fc.stack.height() != f.height {
		fc.onError("type mismatch: %d extra value(s) at end of block", fc.stack.height()-f.height)
	}
	fc.frames = fc.frames[:len(fc.frames)-1]
	if len(fc.frames) > 0 {
		fc.stack.pushAll(f.endTypes)
	}
}

func (fc *funcChecker) branchTo(labelIdx uint32) {
	if int(labelIdx) >= len(fc.frames) {
		fc.onError("invalid branch depth %d", labelIdx)
		return
	}
	target := &fc.frames[len(fc.frames)-1-int(labelIdx)]
	fc.popVals(target.labelTypes())
	fc.pushVals(target.labelTypes())
}

func (fc *funcChecker) blockTypes(bt int32) (params, results []wasm.ValType) {
	switch bt {
	case -64:
		return nil, nil
	case -1:
		return nil, []wasm.ValType{wasm.ValI32}
	case -2:
		return nil, []wasm.ValType{wasm.ValI64}
	case -3:
		return nil, []wasm.ValType{wasm.ValF32}
	case -4:
		return nil, []wasm.ValType{wasm.ValF64}
	}
	if bt < 0 {
		fc.onError("invalid block type %d", bt)
		return nil, nil
	}
	t := fc.m.Types
	if int(bt) >= len(t) {
		fc.onError("block type index %d out of range", bt)
		return nil, nil
	}
	return t[bt].Params, t[bt].Results
}

func (fc *funcChecker) localType(idx uint32) wasm.ValType {
	if int(idx) >= len(fc.locals) {
		fc.onError("local index %d out of range", idx)
		return unknownType
	}
	return fc.locals[idx]
}

func (fc *funcChecker) globalType(idx uint32) (wasm.ValType, bool) {
	numImported := fc.m.NumImportedGlobals()
	if int(idx) < numImported {
		n := 0
		for _, im := range fc.m.Imports {
			if im.Desc.Kind == wasm.KindGlobal {
				if n == int(idx) {
					return im.Desc.Global.ValType, im.Desc.Global.Mutable
				}
				n++
			}
		}
	}
	li := int(idx) - numImported
	if li < 0 || li >= len(fc.m.Globals) {
		fc.onError("global index %d out of range", idx)
		return unknownType, false
	}
	return fc.m.Globals[li].Type.ValType, fc.m.Globals[li].Type.Mutable
}

