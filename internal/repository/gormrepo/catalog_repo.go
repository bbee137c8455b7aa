package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

// CatalogRepo reads the country and region catalogs. They are maintained by
// a separate import tool; this service never writes them.
type CatalogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.CatalogRepository = (*CatalogRepo)(nil)

func NewCatalogRepo(db *gorm.DB, baseLog *logger.Logger) *CatalogRepo {
	return &CatalogRepo{db: db, log: baseLog.With("repo", "CatalogRepo")}
}

func (r *CatalogRepo) GetCountry(ctx context.Context, tx *gorm.DB, id int64) (*entities.Country, error) {
	var country entities.Country
	err := conn(tx, r.db).WithContext(ctx).
		Omit("geometry").
		Where("id = ?", id).
		Take(&country).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &country, nil
}

func (r *CatalogRepo) GetRegion(ctx context.Context, tx *gorm.DB, id int64) (*entities.Region, error) {
	var region entities.Region
	err := conn(tx, r.db).WithContext(ctx).
		Omit("geometry").
		Where("id = ?", id).
		Take(&region).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &region, nil
}

// ListCountries returns every country with its geometry, ordered by id.
func (r *CatalogRepo) ListCountries(ctx context.Context, tx *gorm.DB) ([]*entities.Country, error) {
	var out []*entities.Country
	if err := conn(tx, r.db).WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListRegions returns every region with its geometry, ordered by id.
func (r *CatalogRepo) ListRegions(ctx context.Context, tx *gorm.DB) ([]*entities.Region, error) {
	var out []*entities.Region
	if err := conn(tx, r.db).WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
