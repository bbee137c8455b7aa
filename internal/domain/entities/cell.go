package entities

import "time"

// Resolution is an H3 grid resolution. Only two are used by the pipeline.
type Resolution int

const (
	// ResolutionCoarse cells average ~36 km² and group nearby fine cells.
	ResolutionCoarse Resolution = 6
	// ResolutionFine cells average ~0.74 km² and are the unit of exploration.
	ResolutionFine Resolution = 8
)

// String returns "fine", "coarse" or "other".
func (r Resolution) String() string {
	switch r {
	case ResolutionFine:
		return "fine"
	case ResolutionCoarse:
		return "coarse"
	default:
		return "other"
	}
}

// SpatialCell is the shared, global record of a grid cell. Rows are created by
// the first visitor of any user and never deleted. Country and region are
// filled once and never downgraded to null.
type SpatialCell struct {
	CellID      string     `gorm:"column:cell_id;primaryKey;size:20" json:"cell_id"`
	Resolution  Resolution `gorm:"column:res;not null;index" json:"res"`
	CountryID   *int64     `gorm:"column:country_id;index" json:"country_id,omitempty"`
	RegionID    *int64     `gorm:"column:region_id;index" json:"region_id,omitempty"`
	CenterLat   float64    `gorm:"column:center_lat;not null" json:"center_lat"`
	CenterLon   float64    `gorm:"column:center_lon;not null" json:"center_lon"`
	FirstSeenAt time.Time  `gorm:"column:first_seen_at;not null" json:"first_seen_at"`
	LastSeenAt  time.Time  `gorm:"column:last_seen_at;not null" json:"last_seen_at"`
	VisitCount  int64      `gorm:"column:visit_count;not null;default:1" json:"visit_count"`
}

func (SpatialCell) TableName() string { return "spatial_cells" }

// UserCellVisit aggregates every fix a user reported inside one cell.
// FirstVisitedAt never changes after insert; LastVisitedAt and VisitCount
// only move forward.
type UserCellVisit struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64      `gorm:"column:user_id;not null;uniqueIndex:uq_user_cell,priority:1;index:idx_user_res,priority:1" json:"user_id"`
	CellID         string     `gorm:"column:cell_id;not null;size:20;uniqueIndex:uq_user_cell,priority:2;index" json:"cell_id"`
	Resolution     Resolution `gorm:"column:res;not null;index:idx_user_res,priority:2" json:"res"`
	DeviceID       *int64     `gorm:"column:device_id" json:"device_id,omitempty"`
	FirstVisitedAt time.Time  `gorm:"column:first_visited_at;not null" json:"first_visited_at"`
	LastVisitedAt  time.Time  `gorm:"column:last_visited_at;not null" json:"last_visited_at"`
	VisitCount     int64      `gorm:"column:visit_count;not null;default:1" json:"visit_count"`
}

func (UserCellVisit) TableName() string { return "user_cell_visits" }

// VisitUpsert carries everything needed to record one fix in one cell, for
// both the global cell row and the user's visit row.
type VisitUpsert struct {
	UserID     int64
	DeviceID   *int64
	CellID     string
	Resolution Resolution
	Center     Coordinate
	CountryID  *int64
	RegionID   *int64
	FirstSeen  time.Time
	LastSeen   time.Time
}

// VisitResult reports the state of the user's visit row after an upsert.
// IsNew is true only for the writer that inserted the row.
type VisitResult struct {
	CellID     string
	Resolution Resolution
	VisitCount int64
	IsNew      bool
}
