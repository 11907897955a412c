package h3mapper

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const DefaultMaxCells = 4096

// average hexagon area per resolution, km^2
var hexAreaKm2 = [16]float64{
	4357449.416078381, 609788.441794133, 86801.780398997, 12393.434655088,
	1770.347654491, 252.903858182, 36.129062164, 5.161293360,
	0.737327598, 0.105332513, 0.015047502, 0.002149643,
	0.000307092, 0.000043870, 0.000006267, 0.000000895,
}

type Mapper struct {
	maxCells int
}

func New() *Mapper { return NewWithLimit(DefaultMaxCells) }

// NewWithLimit caps how many cells one bound may expand to; non-positive
// limits use DefaultMaxCells.
func NewWithLimit(maxCells int) *Mapper {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	return &Mapper{maxCells: maxCells}
}

// ResolutionFor returns res, or the finest coarser resolution whose estimated
// cell count for b stays within the limit.
func (m *Mapper) ResolutionFor(b orb.Bound, res int) int {
	limit := m.maxCells
	if limit <= 0 {
		limit = DefaultMaxCells
	}
	res = max(0, min(res, len(hexAreaKm2)-1))
	km2 := geo.Area(b) / 1e6
	for res > 0 && km2/hexAreaKm2[res] > float64(limit) {
		res--
	}
	return res
}

// CellsForBound returns the sorted, unique cells covering b. Bounds smaller
// than one cell resolve to the cell holding their center. Large bounds are
// filled at a coarser resolution (see ResolutionFor).
func (m *Mapper) CellsForBound(b orb.Bound, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if b.Max.Lon() < b.Min.Lon() || b.Max.Lat() < b.Min.Lat() {
		return nil, fmt.Errorf("inverted bound %v", b)
	}
	// h3 reads wider loops as crossing the antimeridian
	if b.Max.Lon()-b.Min.Lon() >= 180 {
		return nil, fmt.Errorf("bound %v spans 180 degrees of longitude or more", b)
	}
	res = m.ResolutionFor(b, res)

	cells := model.Cells{}
	if b.Max.Lon() > b.Min.Lon() && b.Max.Lat() > b.Min.Lat() {
		// v4 wants degrees, counter-clockwise loop
		outer := h3.GeoLoop{
			{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
			{Lat: b.Min.Lat(), Lng: b.Max.Lon()},
			{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
			{Lat: b.Max.Lat(), Lng: b.Min.Lon()},
		}
		var err error
		cells, err = polyfill(outer, res)
		if err != nil {
			return nil, err
		}
	}
	if len(cells) > 0 {
		return cells, nil
	}

	c := b.Center()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 center cell: %w", err)
	}
	return model.Cells{cell.String()}, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func polyfill(outer h3.GeoLoop, res int) (model.Cells, error) {
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make(model.Cells, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
