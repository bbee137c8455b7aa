// Package geo wraps the H3 hierarchical grid and the reverse geocoder used by
// the ingest pipeline.
//
// Go Learning Note — What is H3?
// H3 tiles the globe with hexagons at 16 resolutions. Every hexagon has a
// 64-bit index, usually written as 15 lowercase hex characters. Each cell has
// exactly one parent at every coarser resolution, and a ring of six
// neighbors (five around the twelve pentagons). That makes it a natural fit
// for "fog of war" exploration: a GPS fix maps to one cell, and cells can be
// rolled up into coarser areas.
//
// Resolution determines the average cell area:
//
//	5 → ~253 km²    7 → ~5.2 km²    9 → ~0.1 km²
//	6 → ~36 km²     8 → ~0.74 km²   10 → ~0.015 km²
//
// This project uses resolution 8 as the unit of exploration and resolution 6
// to group nearby fine cells.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/uber/h3-go/v4"
	"trekkr/internal/domain/entities"
)

var (
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrInvalidCell       = errors.New("invalid cell id")
	ErrWrongResolution   = errors.New("cell has wrong resolution")
)

// Grid converts coordinates to cells at the two resolutions the pipeline
// uses. It holds no state besides the resolutions and is safe for
// concurrent use.
type Grid struct {
	fine   entities.Resolution
	coarse entities.Resolution
}

// NewGrid creates a grid with the standard fine and coarse resolutions.
func NewGrid() *Grid {
	return &Grid{fine: entities.ResolutionFine, coarse: entities.ResolutionCoarse}
}

func (g *Grid) FineResolution() entities.Resolution   { return g.fine }
func (g *Grid) CoarseResolution() entities.Resolution { return g.coarse }

// ValidateCoordinate checks that lat/lon are finite and within WGS84 bounds.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return nil
}

// CellAt returns the cell containing (lat, lon) at the given resolution.
func (g *Grid) CellAt(lat, lon float64, res entities.Resolution) (string, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return "", err
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), int(res))
	if err != nil {
		return "", fmt.Errorf("locate cell: %w", err)
	}
	return cell.String(), nil
}

// FineCell returns the fine-resolution cell containing (lat, lon).
func (g *Grid) FineCell(lat, lon float64) (string, error) {
	return g.CellAt(lat, lon, g.fine)
}

// Resolution parses cellID and returns its resolution.
func (g *Grid) Resolution(cellID string) (entities.Resolution, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, err
	}
	return entities.Resolution(cell.Resolution()), nil
}

// Parent returns the ancestor of cellID at res. res must not be finer than
// the cell itself.
func (g *Grid) Parent(cellID string, res entities.Resolution) (string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return "", err
	}
	if int(res) > cell.Resolution() {
		return "", fmt.Errorf("%w: parent resolution %d finer than %d", ErrWrongResolution, res, cell.Resolution())
	}
	parent, err := cell.Parent(int(res))
	if err != nil {
		return "", fmt.Errorf("cell parent: %w", err)
	}
	return parent.String(), nil
}

// CoarseParent returns the coarse ancestor of a fine cell.
func (g *Grid) CoarseParent(cellID string) (string, error) {
	return g.Parent(cellID, g.coarse)
}

// Neighbors returns the cells sharing an edge with cellID: six for hexagons,
// five for pentagons. cellID itself is not included.
func (g *Grid) Neighbors(cellID string) ([]string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return nil, err
	}
	disk, err := cell.GridDisk(1)
	if err != nil {
		return nil, fmt.Errorf("cell neighbors: %w", err)
	}
	out := make([]string, 0, len(disk))
	for _, c := range disk {
		if c == cell || c == 0 {
			continue
		}
		out = append(out, c.String())
	}
	return out, nil
}

// Center returns the center coordinate of cellID.
func (g *Grid) Center(cellID string) (entities.Coordinate, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return entities.Coordinate{}, err
	}
	ll, err := cell.LatLng()
	if err != nil {
		return entities.Coordinate{}, fmt.Errorf("cell center: %w", err)
	}
	return entities.NewCoordinate(ll.Lat, ll.Lng), nil
}

// parseCell accepts only the canonical lowercase hex form, so the string
// can serve as a storage key.
func parseCell(cellID string) (h3.Cell, error) {
	id := strings.ToLower(strings.TrimSpace(cellID))
	if id == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidCell)
	}
	cell := h3.Cell(h3.IndexFromString(id))
	if !cell.IsValid() || cell.String() != id {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, cellID)
	}
	return cell, nil
}

// Canonical returns the storage form of cellID.
func Canonical(cellID string) string {
	return strings.ToLower(strings.TrimSpace(cellID))
}
