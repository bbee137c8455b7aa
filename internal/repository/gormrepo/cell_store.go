package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

// The upserts below use only syntax shared by PostgreSQL and SQLite:
// ON CONFLICT ... DO UPDATE, the excluded pseudo-table, CASE instead of
// GREATEST, and RETURNING.

const upsertCellSQL = `
INSERT INTO spatial_cells (cell_id, res, country_id, region_id, center_lat, center_lon, first_seen_at, last_seen_at, visit_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (cell_id) DO UPDATE SET
	last_seen_at = CASE WHEN excluded.last_seen_at > spatial_cells.last_seen_at
		THEN excluded.last_seen_at ELSE spatial_cells.last_seen_at END,
	visit_count = spatial_cells.visit_count + 1,
	country_id = COALESCE(spatial_cells.country_id, excluded.country_id),
	region_id = COALESCE(spatial_cells.region_id, excluded.region_id)`

// visit_count is 1 only for the statement that inserted the row; every
// conflicting writer sees at least 2.
const upsertVisitSQL = `
INSERT INTO user_cell_visits (user_id, cell_id, res, device_id, first_visited_at, last_visited_at, visit_count)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (user_id, cell_id) DO UPDATE SET
	last_visited_at = CASE WHEN excluded.last_visited_at > user_cell_visits.last_visited_at
		THEN excluded.last_visited_at ELSE user_cell_visits.last_visited_at END,
	visit_count = user_cell_visits.visit_count + 1,
	device_id = COALESCE(excluded.device_id, user_cell_visits.device_id)
RETURNING visit_count`

type CellStore struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.CellVisitStore = (*CellStore)(nil)

func NewCellStore(db *gorm.DB, baseLog *logger.Logger) *CellStore {
	return &CellStore{db: db, log: baseLog.With("repo", "CellStore")}
}

// UpsertVisit records one fix in one cell: the shared cell row first, then
// the user's visit row. Both statements are atomic on their own; callers
// group them in a transaction.
func (s *CellStore) UpsertVisit(ctx context.Context, tx *gorm.DB, in entities.VisitUpsert) (*entities.VisitResult, error) {
	if in.CellID == "" {
		return nil, errors.New("upsert visit: empty cell id")
	}
	db := conn(tx, s.db).WithContext(ctx)

	first := normalizeTime(in.FirstSeen)
	last := normalizeTime(in.LastSeen)
	if last.Before(first) {
		first, last = last, first
	}

	if err := db.Exec(upsertCellSQL,
		in.CellID, int(in.Resolution), in.CountryID, in.RegionID,
		in.Center.Latitude, in.Center.Longitude, first, last,
	).Error; err != nil {
		return nil, err
	}

	var count int64
	if err := db.Raw(upsertVisitSQL,
		in.UserID, in.CellID, int(in.Resolution), in.DeviceID, first, last,
	).Row().Scan(&count); err != nil {
		return nil, err
	}

	return &entities.VisitResult{
		CellID:     in.CellID,
		Resolution: in.Resolution,
		VisitCount: count,
		IsNew:      count == 1,
	}, nil
}

func (s *CellStore) GetVisit(ctx context.Context, tx *gorm.DB, userID int64, cellID string) (*entities.UserCellVisit, error) {
	var visit entities.UserCellVisit
	err := conn(tx, s.db).WithContext(ctx).
		Where("user_id = ? AND cell_id = ?", userID, cellID).
		Take(&visit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

func (s *CellStore) GetCell(ctx context.Context, tx *gorm.DB, cellID string) (*entities.SpatialCell, error) {
	var cell entities.SpatialCell
	err := conn(tx, s.db).WithContext(ctx).Where("cell_id = ?", cellID).Take(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cell, nil
}

// HasOtherFineVisitInCountry reports whether the user has a fine visit in a
// cell attributed to countryID, other than excludeCellID.
func (s *CellStore) HasOtherFineVisitInCountry(ctx context.Context, tx *gorm.DB, userID, countryID int64, excludeCellID string) (bool, error) {
	return s.hasOtherFineVisit(ctx, tx, "country_id", userID, countryID, excludeCellID)
}

// HasOtherFineVisitInRegion is HasOtherFineVisitInCountry for regions.
func (s *CellStore) HasOtherFineVisitInRegion(ctx context.Context, tx *gorm.DB, userID, regionID int64, excludeCellID string) (bool, error) {
	return s.hasOtherFineVisit(ctx, tx, "region_id", userID, regionID, excludeCellID)
}

// column is one of two constants above, never user input.
func (s *CellStore) hasOtherFineVisit(ctx context.Context, tx *gorm.DB, column string, userID, placeID int64, excludeCellID string) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM user_cell_visits v
		JOIN spatial_cells c ON c.cell_id = v.cell_id
		WHERE v.user_id = ? AND v.res = ? AND c.` + column + ` = ? AND v.cell_id <> ?
	)`
	var exists bool
	err := conn(tx, s.db).WithContext(ctx).
		Raw(q, userID, int(entities.ResolutionFine), placeID, excludeCellID).
		Row().Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// VisitedCountryIDs returns every country the user has a fine visit in.
func (s *CellStore) VisitedCountryIDs(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error) {
	return s.visitedPlaceIDs(ctx, tx, "country_id", userID)
}

// VisitedRegionIDs returns every region the user has a fine visit in.
func (s *CellStore) VisitedRegionIDs(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error) {
	return s.visitedPlaceIDs(ctx, tx, "region_id", userID)
}

func (s *CellStore) visitedPlaceIDs(ctx context.Context, tx *gorm.DB, column string, userID int64) ([]int64, error) {
	q := `SELECT DISTINCT c.` + column + `
		FROM user_cell_visits v
		JOIN spatial_cells c ON c.cell_id = v.cell_id
		WHERE v.user_id = ? AND v.res = ? AND c.` + column + ` IS NOT NULL`
	ids := []int64{}
	if err := conn(tx, s.db).WithContext(ctx).
		Raw(q, userID, int(entities.ResolutionFine)).
		Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// normalizeTime stores everything in UTC at the precision PostgreSQL keeps.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
