package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Match is the administrative area a coordinate falls in. Either field may
// be nil, e.g. for points at sea.
type Match struct {
	CountryID *int64
	RegionID  *int64
}

// Geocoder resolves a coordinate to the country and region containing it.
// Implementations return an empty Match, not an error, for points outside
// every known boundary.
type Geocoder interface {
	Locate(ctx context.Context, lat, lon float64) (Match, error)
}

// NoopGeocoder never matches anything. It is used when no boundary catalog
// is available, so ingestion keeps working with null country and region.
type NoopGeocoder struct{}

func (NoopGeocoder) Locate(ctx context.Context, lat, lon float64) (Match, error) {
	return Match{}, nil
}

// Boundary is one catalog polygon with its bounding box precomputed.
type Boundary struct {
	ID       int64
	Geometry orb.Geometry
	bound    orb.Bound
}

// ParseBoundary decodes a GeoJSON geometry (or a Feature wrapping one).
// Only Polygon and MultiPolygon are accepted.
func ParseBoundary(id int64, geoJSON string) (Boundary, error) {
	data := []byte(geoJSON)
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Boundary{}, fmt.Errorf("boundary %d: %w", id, err)
	}

	var g orb.Geometry
	if head.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return Boundary{}, fmt.Errorf("boundary %d: %w", id, err)
		}
		g = f.Geometry
	} else {
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return Boundary{}, fmt.Errorf("boundary %d: %w", id, err)
		}
		g = geom.Geometry()
	}

	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return Boundary{}, fmt.Errorf("boundary %d: unsupported geometry %T", id, g)
	}
	return Boundary{ID: id, Geometry: g, bound: g.Bound()}, nil
}

func (b Boundary) contains(p orb.Point) bool {
	if !b.bound.Contains(p) {
		return false
	}
	switch g := b.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	default:
		return false
	}
}

// PolygonIndex is an in-memory point-in-polygon index over the country and
// region catalogs.
//
// Strategy: Coarse filter → Fine filter
//  1. Coarse: skip every boundary whose bounding box does not contain the point.
//  2. Fine: run an exact planar containment test (holes excluded) on the rest.
//
// Countries and regions are resolved independently; the first boundary in
// load order wins when several overlap.
//
// Go Learning Note — sync.RWMutex:
// Lookups vastly outnumber reloads, so readers share an RLock and Replace
// takes the exclusive lock only while swapping the slices.
type PolygonIndex struct {
	mu        sync.RWMutex
	countries []Boundary
	regions   []Boundary
}

// NewPolygonIndex builds an index from already parsed boundaries.
func NewPolygonIndex(countries, regions []Boundary) *PolygonIndex {
	idx := &PolygonIndex{}
	idx.Replace(countries, regions)
	return idx
}

// Replace swaps the indexed boundaries. The catalog watcher calls it on
// every refresh.
func (idx *PolygonIndex) Replace(countries, regions []Boundary) {
	c := make([]Boundary, len(countries))
	copy(c, countries)
	r := make([]Boundary, len(regions))
	copy(r, regions)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.countries = c
	idx.regions = r
}

// Locate never fails; the error return satisfies Geocoder.
func (idx *PolygonIndex) Locate(ctx context.Context, lat, lon float64) (Match, error) {
	p := orb.Point{lon, lat}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var m Match
	for i := range idx.countries {
		if idx.countries[i].contains(p) {
			id := idx.countries[i].ID
			m.CountryID = &id
			break
		}
	}
	for i := range idx.regions {
		if idx.regions[i].contains(p) {
			id := idx.regions[i].ID
			m.RegionID = &id
			break
		}
	}
	return m, nil
}

// Size returns the number of indexed countries and regions.
func (idx *PolygonIndex) Size() (countries, regions int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.countries), len(idx.regions)
}
