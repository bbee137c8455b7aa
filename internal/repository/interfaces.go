// Package repository declares the storage contracts used by the services.
//
// Methods that take a *gorm.DB run on that transaction when it is non-nil
// and on the repository's own connection otherwise, so a service can group
// several calls into one commit.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
)

type CellVisitStore interface {
	UpsertVisit(ctx context.Context, tx *gorm.DB, in entities.VisitUpsert) (*entities.VisitResult, error)
	GetVisit(ctx context.Context, tx *gorm.DB, userID int64, cellID string) (*entities.UserCellVisit, error)
	GetCell(ctx context.Context, tx *gorm.DB, cellID string) (*entities.SpatialCell, error)
	HasOtherFineVisitInCountry(ctx context.Context, tx *gorm.DB, userID, countryID int64, excludeCellID string) (bool, error)
	HasOtherFineVisitInRegion(ctx context.Context, tx *gorm.DB, userID, regionID int64, excludeCellID string) (bool, error)
	VisitedCountryIDs(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error)
	VisitedRegionIDs(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error)
}

type DeviceRepository interface {
	EnsureForUser(ctx context.Context, tx *gorm.DB, userID int64, meta entities.DeviceMeta) (*entities.Device, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*entities.Device, error)
}

type CatalogRepository interface {
	GetCountry(ctx context.Context, tx *gorm.DB, id int64) (*entities.Country, error)
	GetRegion(ctx context.Context, tx *gorm.DB, id int64) (*entities.Region, error)
	ListCountries(ctx context.Context, tx *gorm.DB) ([]*entities.Country, error)
	ListRegions(ctx context.Context, tx *gorm.DB) ([]*entities.Region, error)
}

type AchievementRepository interface {
	List(ctx context.Context, tx *gorm.DB) ([]*entities.Achievement, error)
	UnlockedIDs(ctx context.Context, tx *gorm.DB, userID int64) (map[int64]bool, error)
	Unlock(ctx context.Context, tx *gorm.DB, userID, achievementID int64, at time.Time) (bool, error)
	ListWithStatus(ctx context.Context, tx *gorm.DB, userID int64) ([]entities.AchievementStatus, error)
	ListUnlocked(ctx context.Context, tx *gorm.DB, userID int64) ([]entities.AchievementStatus, error)
	Upsert(ctx context.Context, tx *gorm.DB, achievements []*entities.Achievement) error
}

type StatsRepository interface {
	UserStats(ctx context.Context, tx *gorm.DB, userID int64) (*entities.UserStats, error)
}

type IngestBatchRepository interface {
	Create(ctx context.Context, tx *gorm.DB, batch *entities.IngestBatch) error
}

// WindowCounter counts events per key in fixed windows. Incr returns the
// count including this event and the time left in the current window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
