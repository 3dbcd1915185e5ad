package strategy

import (
	"fmt"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// biblioMode is one entry of the bibliographic mode table: which column the
// lexical channel matches, with which pg_trgm operator, above which
// threshold. Mode-switched searches are lexical only; embeddings exist for
// the default label column alone.
type biblioMode struct {
	column    string
	op        authority.TrgmOp
	threshold float64
}

// biblioModes resolves the explicit mode parameter of bibliographic
// searches. Modes are never inferred from the query text.
var biblioModes = map[string]biblioMode{
	"full_reference": {column: "full_reference_norm", op: authority.OpSimilarity, threshold: 0.3},
	"title":          {column: "title_norm", op: authority.OpSimilarity, threshold: 0.3},
	"authors":        {column: "authors_norm", op: authority.OpSimilarity, threshold: 0.3},
	"bugs_reference": {column: "bugs_reference_norm", op: authority.OpSimilarity, threshold: 0.3},
	"word":           {column: "full_reference_norm", op: authority.OpWordSimilarity, threshold: 0.6},
	"strict_word":    {column: "full_reference_norm", op: authority.OpStrictWordSimilarity, threshold: 0.5},
}

// resolveMode maps a query mode to its column and operator. The empty mode
// means the default label match with the configured threshold.
func resolveMode(mode string, defaultThreshold float64) (biblioMode, error) {
	if mode == "" {
		return biblioMode{op: authority.OpSimilarity, threshold: defaultThreshold}, nil
	}
	m, ok := biblioModes[mode]
	if !ok {
		return biblioMode{}, fmt.Errorf("%w: unknown search mode %q", reconcile.ErrInvalidQuery, mode)
	}
	return m, nil
}
