// Package mapper converts extents into H3 cells.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

type Interface interface {
	CellsForBound(b orb.Bound, res int) (model.Cells, error)
}
