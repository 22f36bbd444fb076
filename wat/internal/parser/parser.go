package parser

import (
	"fmt"
	"strings"

	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/wat/internal/ast"
	"github.com/watkit/watkit/wat/internal/token"
)

type Parser struct {
	mod       *ast.Module
	fset      features.Set
	typeMap   *NameMap
	funcMap   *NameMap
	globalMap *NameMap
	memMap    *NameMap
	tableMap  *NameMap
	elemMap   *NameMap
	dataMap   *NameMap
	typeUses  *FunctionTypeMap
	tokens    []token.Token
	labels    []string
	pos       int
	err       error
	// nextLocal tracks the next free local index while parsing a single
	// function body, so a nested "let" block (see instr.go) can append its
	// own locals after the function's params and declared locals without
	// threading an index counter through every parseInstrs call site.
	nextLocal uint32
}

func New(tokens []token.Token, fset features.Set) *Parser {
	return &Parser{
		tokens:    tokens,
		fset:      fset,
		typeMap:   newNameMap(),
		funcMap:   newNameMap(),
		globalMap: newNameMap(),
		memMap:    newNameMap(),
		tableMap:  newNameMap(),
		elemMap:   newNameMap(),
		dataMap:   newNameMap(),
		typeUses:  newFunctionTypeMap(),
	}
}

// recordErr keeps the first error seen during the forward-reference
// pre-scan passes, which don't otherwise have an error return path deep
// in their token-skipping loops; parseModule checks it once the main
// pass completes.
func (p *Parser) recordErr(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}

func (p *Parser) Parse() (*ast.Module, error) {
	mod, err := p.parseModule()
	if err != nil {
		return nil, err
	}
	if err := p.checkFeatures(mod); err != nil {
		return nil, err
	}
	return mod, nil
}

func (p *Parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *Parser) next() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

func (p *Parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of input")
	}
	if t.Type != typ {
		return nil, fmt.Errorf("line %d: expected %v, got %q", t.Line, typ, t.Value)
	}
	return t, nil
}

func (p *Parser) pushLabel(name string) {
	p.labels = append(p.labels, name)
}

func (p *Parser) popLabel() {
	if len(p.labels) > 0 {
		p.labels = p.labels[:len(p.labels)-1]
	}
}

func (p *Parser) resolveLabel(name string) (uint32, bool) {
	for i := len(p.labels) - 1; i >= 0; i-- {
		if p.labels[i] == name {
			return uint32(len(p.labels) - 1 - i), true
		}
	}
	return 0, false
}

func (p *Parser) parseValType() (ast.ValType, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return 0, err
	}
	switch t.Value {
	case "i32":
		return ast.ValTypeI32, nil
	case "i64":
		return ast.ValTypeI64, nil
	case "f32":
		return ast.ValTypeF32, nil
	case "f64":
		return ast.ValTypeF64, nil
	case "funcref":
		return ast.ValTypeFuncref, nil
	case "externref":
		return ast.ValTypeExternref, nil
	default:
		return 0, fmt.Errorf("unknown value type: %s", t.Value)
	}
}

func (p *Parser) parseIdx(nameMap *NameMap) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, fmt.Errorf("expected index")
	}

	if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.next()
		if nameMap != nil {
			if idx, ok := nameMap.Get(t.Value); ok {
				return idx, nil
			}
			return 0, fmt.Errorf("undefined identifier: %s", t.Value)
		}
		return 0, fmt.Errorf("unexpected identifier: %s", t.Value)
	}

	return p.parseU32()
}

// parseLocalIdx resolves a local variable reference against a function
// body's own param/local namespace, which is scoped to a single function
// rather than the module and so isn't one of Parser's NameMap fields.
func (p *Parser) parseLocalIdx(localMap map[string]uint32) (uint32, error) {
	t := p.peek()
	if t == nil {
		return 0, fmt.Errorf("expected index")
	}
	if t.Type == token.Ident && strings.HasPrefix(t.Value, "$") {
		p.next()
		if idx, ok := localMap[t.Value]; ok {
			return idx, nil
		}
		return 0, fmt.Errorf("undefined identifier: %s", t.Value)
	}
	return p.parseU32()
}

func (p *Parser) findOrAddType(ft ast.FuncType) uint32 {
	for i, t := range p.mod.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(p.mod.Types))
	p.mod.Types = append(p.mod.Types, ft)
	return idx
}
