package wat

import (
	"github.com/watkit/watkit/features"
	"github.com/watkit/watkit/internal/telemetry"
	"github.com/watkit/watkit/wat/internal/encoder"
	"github.com/watkit/watkit/wat/internal/parser"
	"github.com/watkit/watkit/wat/internal/token"
	"go.uber.org/zap"
)

// Compile lexes, parses, and encodes a WAT text module into its binary
// form. The resolver consults fset while resolving identifiers and
// folded instructions, rejecting text for a proposal not enabled with the
// same "unknown identifier"/"unknown opcode" error family the binary
// reader uses. Callers that don't pass fset get features.All().
func Compile(source string, fset ...features.Set) ([]byte, error) {
	f := features.All()
	if len(fset) > 0 {
		f = fset[0]
	}
	tokens := token.Tokenize(source)
	telemetry.Logger().Debug("tokenized wat source", zap.Int("tokens", len(tokens)))
	p := parser.New(tokens, f)
	mod, err := p.Parse()
	if err != nil {
		telemetry.Logger().Debug("wat parse failed", zap.Error(err))
		return nil, err
	}
	return encoder.Encode(mod), nil
}
