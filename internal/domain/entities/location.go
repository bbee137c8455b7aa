package entities

import "time"

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
//
// Go Learning Note — Value Types vs Reference Types:
// Coordinate is a small, immutable data holder. NewCoordinate returns it by value
// (not a pointer), which is idiomatic for small structs. Value types are copied
// on assignment, which is fine here since Coordinate is only 16 bytes.
// Larger persisted rows (SpatialCell, UserCellVisit) are handled through pointers.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate creates a Coordinate value from latitude and longitude.
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{
		Latitude:  lat,
		Longitude: lon,
	}
}

// LocationPoint is a single GPS fix reported by a device together with the
// fine cell the client computed for it.
type LocationPoint struct {
	Coordinate
	FineCellID string
	Timestamp  *time.Time
}

// VisitedAt returns the reported timestamp in UTC, or now when the client
// did not send one.
func (p LocationPoint) VisitedAt(now time.Time) time.Time {
	if p.Timestamp == nil || p.Timestamp.IsZero() {
		return now.UTC()
	}
	return p.Timestamp.UTC()
}
