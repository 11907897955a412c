// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	SRID4326 = "EPSG:4326"
	SRID3857 = "EPSG:3857"
)

// Extent is a bounding box in map coordinates: minX, minY, maxX, maxY.
type Extent [4]float64

func (e *Extent) UnmarshalJSON(b []byte) error {
	var raw []float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("extent: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("extent: expected 4 numbers, got %d", len(raw))
	}
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("extent: value %d is not finite", i)
		}
	}
	copy(e[:], raw)
	return nil
}

// Bound converts the extent into a lon/lat bound. Extents drawn on a web
// mercator map are unprojected first.
func (e Extent) Bound(srid string) (orb.Bound, error) {
	minPt := orb.Point{math.Min(e[0], e[2]), math.Min(e[1], e[3])}
	maxPt := orb.Point{math.Max(e[0], e[2]), math.Max(e[1], e[3])}

	switch strings.ToUpper(strings.TrimSpace(srid)) {
	case "", SRID4326:
	case SRID3857:
		minPt = project.Mercator.ToWGS84(minPt)
		maxPt = project.Mercator.ToWGS84(maxPt)
	default:
		return orb.Bound{}, fmt.Errorf("unsupported srid %q", srid)
	}

	b := orb.Bound{Min: minPt, Max: maxPt}
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 {
		return orb.Bound{}, errors.New("longitude must be in [-180,180]")
	}
	if b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return orb.Bound{}, errors.New("latitude must be in [-90,90]")
	}
	return b, nil
}

// ImageRequest is the filter payload handed to the store.
type ImageRequest struct {
	Extent        *Extent `json:"extent,omitempty"`
	DateFrom      Date    `json:"dateFrom"`
	DateTo        Date    `json:"dateTo"`
	CloudCoverage int     `json:"cloudCoverage"`
}

type MapSourceSelection struct {
	Name string `json:"name"`
}

const (
	MapSourceOSM  = "OSM"
	MapSourceBing = "BING"
	MapSourceEsri = "ESRI"
)

const (
	DataSourceSTAC     = "STAC"
	DataSourceSentinel = "SentinelProcessingApi"
	DataSourceBing     = "BING"
)

// EncodedImage is a data URL such as "data:image/png;base64,...".
type EncodedImage string

// Region is a pixel rectangle inside a captured element.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

type Cells []string
