package geo

import (
	"fmt"
)

// MismatchError is returned when a client-computed cell is neither the cell
// containing the reported coordinate nor one of its direct neighbors.
type MismatchError struct {
	Expected string
	Received string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("cell mismatch: expected %s (or a neighbor), received %s", e.Expected, e.Received)
}

// ValidateFineCell checks a reported fix before anything is persisted and
// returns the canonical form of the claimed cell.
//
// The claimed cell is accepted when it equals the cell computed for (lat, lon)
// or is one of its ring-1 neighbors, which absorbs GPS jitter across cell
// edges. Malformed input yields ErrInvalidCoordinate, ErrInvalidCell or
// ErrWrongResolution; a well-formed but distant cell yields *MismatchError.
func (g *Grid) ValidateFineCell(lat, lon float64, claimed string) (string, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return "", err
	}
	cellID := Canonical(claimed)
	res, err := g.Resolution(cellID)
	if err != nil {
		return "", err
	}
	if res != g.fine {
		return "", fmt.Errorf("%w: got %d, want %d", ErrWrongResolution, res, g.fine)
	}

	expected, err := g.FineCell(lat, lon)
	if err != nil {
		return "", err
	}
	if expected == cellID {
		return cellID, nil
	}

	neighbors, err := g.Neighbors(expected)
	if err != nil {
		return "", err
	}
	for _, n := range neighbors {
		if n == cellID {
			return cellID, nil
		}
	}
	return "", &MismatchError{Expected: expected, Received: cellID}
}
