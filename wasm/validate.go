package wasm

import (
	"errors"
	"fmt"

	"github.com/watkit/watkit/features"
)

// Validate checks the module for structural validity. Per-check and
// per-element problems are all collected and joined rather than stopping
// at the first one found: a module with five bad indices reports all
// five. Use JoinedErrors to recover the individual problems rather than
// one flattened message.
func (m *Module) Validate() error {
	var errs []error
	errs = append(errs, m.validateTypeIndices()...)
	errs = append(errs, m.validateFunctionIndices()...)
	errs = append(errs, m.validateTableIndices()...)
	errs = append(errs, m.validateMemoryIndices()...)
	errs = append(errs, m.validateGlobalIndices()...)
	errs = append(errs, m.validateTagIndices()...)
	errs = append(errs, m.validateExports()...)
	errs = append(errs, m.validateStart()...)
	errs = append(errs, m.validateCodeCount()...)
	errs = append(errs, m.validateMemoryLimits()...)
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte, fset ...features.Set) (*Module, error) {
	m, err := ParseModule(data, fset...)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() []error {
	var errs []error
	numTypes := uint32(m.NumTypes())
	if numTypes == 0 {
		if len(m.Funcs) > 0 {
			errs = append(errs, fmt.Errorf("function references type but no types defined"))
		}
		return errs
	}

	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			errs = append(errs, fmt.Errorf("function %d references invalid type index %d (max %d)", i, typeIdx, numTypes-1))
		}
	}

	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			if imp.Desc.TypeIdx >= numTypes {
				errs = append(errs, fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx))
			}
		}
		if imp.Desc.Kind == KindTag && imp.Desc.Tag != nil {
			if imp.Desc.Tag.TypeIdx >= numTypes {
				errs = append(errs, fmt.Errorf("import %d (%s.%s) tag references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.Tag.TypeIdx))
			}
		}
	}

	for i, tag := range m.Tags {
		if tag.TypeIdx >= numTypes {
			errs = append(errs, fmt.Errorf("tag %d references invalid type index %d", i, tag.TypeIdx))
		}
	}

	return errs
}

func (m *Module) validateFunctionIndices() []error {
	var errs []error
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))

	if m.Start != nil && *m.Start >= numFuncs {
		errs = append(errs, fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs))
	}

	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				errs = append(errs, fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx))
			}
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			errs = append(errs, fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx))
		}
	}

	return errs
}

func (m *Module) validateTableIndices() []error {
	var errs []error
	numTables := uint32(m.NumImportedTables() + len(m.Tables))

	for i, elem := range m.Elements {
		isPassive := elem.Flags&0x01 != 0
		if !isPassive && elem.TableIdx >= numTables {
			errs = append(errs, fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx))
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			errs = append(errs, fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx))
		}
	}

	return errs
}

func (m *Module) validateMemoryIndices() []error {
	var errs []error
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))

	for i, data := range m.Data {
		if data.Flags != 1 && data.MemIdx >= numMemories {
			errs = append(errs, fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx))
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			errs = append(errs, fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx))
		}
	}

	return errs
}

func (m *Module) validateGlobalIndices() []error {
	var errs []error
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))

	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			errs = append(errs, fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx))
		}
	}

	return errs
}

func (m *Module) validateTagIndices() []error {
	var errs []error
	numTags := uint32(m.NumImportedTags() + len(m.Tags))

	for i, exp := range m.Exports {
		if exp.Kind == KindTag && exp.Idx >= numTags {
			errs = append(errs, fmt.Errorf("export %d (%s) references invalid tag index %d", i, exp.Name, exp.Idx))
		}
	}

	return errs
}

func (m *Module) validateExports() []error {
	var errs []error
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			errs = append(errs, fmt.Errorf("duplicate export name %q at index %d", exp.Name, i))
			continue
		}
		seen[exp.Name] = true
	}
	return errs
}

func (m *Module) validateStart() []error {
	if m.Start == nil {
		return nil
	}

	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return []error{fmt.Errorf("start function %d has no type", *m.Start)}
	}

	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return []error{fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(funcType.Params), len(funcType.Results))}
	}

	return nil
}

// DataCountMismatch reports whether the module's DataCount section (if
// present) disagrees with the number of data segments actually present.
// Callers decide how to treat this — see validate.Validate, which reports
// it as a soft diagnostic rather than a hard validation failure.
func (m *Module) DataCountMismatch() (declared, actual uint32, mismatched bool) {
	if m.DataCount == nil {
		return 0, uint32(len(m.Data)), false
	}
	actual = uint32(len(m.Data))
	return *m.DataCount, actual, *m.DataCount != actual
}

func (m *Module) validateCodeCount() []error {
	if len(m.Code) > 0 && len(m.Code) != len(m.Funcs) {
		return []error{fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))}
	}
	return nil
}

func (m *Module) validateMemoryLimits() []error {
	var errs []error
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			if err := validateMemoryType(imp.Desc.Memory, i, true); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for i := range m.Memories {
		if err := validateMemoryType(&m.Memories[i], i, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateMemoryType(mem *MemoryType, idx int, isImport bool) error {
	var maxPages uint64
	if mem.Limits.Memory64 {
		maxPages = MemoryMaxPages64
	} else {
		maxPages = MemoryMaxPages32
	}

	prefix := "memory"
	if isImport {
		prefix = "imported memory"
	}

	if mem.Limits.Shared && mem.Limits.Max == nil {
		return fmt.Errorf("%s %d: shared memory must have maximum limit", prefix, idx)
	}

	if mem.Limits.Min > maxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d",
			prefix, idx, mem.Limits.Min, maxPages)
	}
	if mem.Limits.Max != nil && *mem.Limits.Max > maxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d",
			prefix, idx, *mem.Limits.Max, maxPages)
	}
	return nil
}

// JoinedErrors splits an error returned by Validate back into its
// individual causes, so a caller (see validate.Validate) can report one
// diagnostic per problem instead of a single flattened message.
func JoinedErrors(err error) []error {
	if err == nil {
		return nil
	}
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		return u.Unwrap()
	}
	return []error{err}
}
