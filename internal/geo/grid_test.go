package geo

import (
	"errors"
	"math"
	"testing"

	"trekkr/internal/domain/entities"
)

func TestCellAt_KnownCell(t *testing.T) {
	g := NewGrid()

	got, err := g.CellAt(37.775938728915946, -122.41795063018799, 9)
	if err != nil {
		t.Fatalf("CellAt() error = %v", err)
	}
	if got != "8928308280fffff" {
		t.Errorf("CellAt() = %v, want %v", got, "8928308280fffff")
	}
}

func TestFineCell_Deterministic(t *testing.T) {
	g := NewGrid()

	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"San Francisco", 37.7749, -122.4194},
		{"New York", 40.7128, -74.0060},
		{"London", 51.5074, -0.1278},
		{"Sydney", -33.8688, 151.2093},
		{"Tokyo", 35.6762, 139.6503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := g.FineCell(tt.lat, tt.lon)
			if err != nil {
				t.Fatalf("FineCell() error = %v", err)
			}
			second, _ := g.FineCell(tt.lat, tt.lon)
			if first != second {
				t.Errorf("FineCell() not deterministic: %v vs %v", first, second)
			}

			res, err := g.Resolution(first)
			if err != nil {
				t.Fatalf("Resolution() error = %v", err)
			}
			if res != entities.ResolutionFine {
				t.Errorf("Resolution() = %v, want %v", res, entities.ResolutionFine)
			}

			coarse, err := g.CoarseParent(first)
			if err != nil {
				t.Fatalf("CoarseParent() error = %v", err)
			}
			again, _ := g.CoarseParent(first)
			if coarse != again {
				t.Errorf("CoarseParent() not deterministic: %v vs %v", coarse, again)
			}
			if res, _ := g.Resolution(coarse); res != entities.ResolutionCoarse {
				t.Errorf("coarse resolution = %v, want %v", res, entities.ResolutionCoarse)
			}
		})
	}
}

func TestCellAt_InvalidCoordinate(t *testing.T) {
	g := NewGrid()

	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"latitude too high", 90.5, 0},
		{"latitude too low", -91, 0},
		{"longitude too high", 0, 180.1},
		{"longitude too low", 0, -181},
		{"NaN", math.NaN(), 0},
		{"infinite", 0, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.CellAt(tt.lat, tt.lon, entities.ResolutionFine)
			if !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("CellAt() error = %v, want ErrInvalidCoordinate", err)
			}
		})
	}
}

func TestCenter_RoundTrip(t *testing.T) {
	g := NewGrid()

	cell, _ := g.FineCell(-33.8688, 151.2093)
	center, err := g.Center(cell)
	if err != nil {
		t.Fatalf("Center() error = %v", err)
	}
	if math.Abs(center.Latitude-(-33.8688)) > 0.01 || math.Abs(center.Longitude-151.2093) > 0.01 {
		t.Errorf("Center() = %+v, too far from source point", center)
	}

	back, _ := g.FineCell(center.Latitude, center.Longitude)
	if back != cell {
		t.Errorf("cell of center = %v, want %v", back, cell)
	}
}

func TestNeighbors(t *testing.T) {
	g := NewGrid()
	center, _ := g.FineCell(37.7749, -122.4194)

	neighbors, err := g.Neighbors(center)
	if err != nil {
		t.Fatalf("Neighbors() error = %v", err)
	}
	if len(neighbors) != 6 {
		t.Errorf("Expected 6 neighbors, got %d", len(neighbors))
	}

	seen := make(map[string]bool)
	for _, n := range neighbors {
		if n == center {
			t.Error("Neighbors should not include the center cell")
		}
		if seen[n] {
			t.Errorf("Duplicate neighbor %s", n)
		}
		seen[n] = true
		if res, _ := g.Resolution(n); res != entities.ResolutionFine {
			t.Errorf("neighbor %s resolution = %v", n, res)
		}
	}
}

func TestParent_Errors(t *testing.T) {
	g := NewGrid()
	coarse, _ := g.CellAt(37.7749, -122.4194, entities.ResolutionCoarse)

	if _, err := g.Parent(coarse, entities.ResolutionFine); !errors.Is(err, ErrWrongResolution) {
		t.Errorf("Parent() finer than cell error = %v, want ErrWrongResolution", err)
	}
	if _, err := g.Parent("not-a-cell", entities.ResolutionCoarse); !errors.Is(err, ErrInvalidCell) {
		t.Errorf("Parent() invalid cell error = %v, want ErrInvalidCell", err)
	}
}

func TestResolution_RejectsGarbage(t *testing.T) {
	g := NewGrid()

	for _, id := range []string{"", "zzz", "0", "ffffffffffffffff", "8928308280fffff0"} {
		if _, err := g.Resolution(id); !errors.Is(err, ErrInvalidCell) {
			t.Errorf("Resolution(%q) error = %v, want ErrInvalidCell", id, err)
		}
	}
}
