package gormrepo

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

// StatsRepo computes the per-user aggregates achievements are measured
// against. Every query is restricted to fine-resolution visits.
type StatsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.StatsRepository = (*StatsRepo)(nil)

func NewStatsRepo(db *gorm.DB, baseLog *logger.Logger) *StatsRepo {
	return &StatsRepo{db: db, log: baseLog.With("repo", "StatsRepo")}
}

const (
	statCellsTotal = `
		SELECT COUNT(*) FROM user_cell_visits
		WHERE user_id = @user AND res = @res`

	statCountries = `
		SELECT COUNT(DISTINCT c.country_id)
		FROM user_cell_visits v JOIN spatial_cells c ON c.cell_id = v.cell_id
		WHERE v.user_id = @user AND v.res = @res AND c.country_id IS NOT NULL`

	statRegions = `
		SELECT COUNT(DISTINCT c.region_id)
		FROM user_cell_visits v JOIN spatial_cells c ON c.cell_id = v.cell_id
		WHERE v.user_id = @user AND v.res = @res AND c.region_id IS NOT NULL`

	statContinents = `
		SELECT COUNT(DISTINCT k.continent)
		FROM user_cell_visits v
		JOIN spatial_cells c ON c.cell_id = v.cell_id
		JOIN countries k ON k.id = c.country_id
		WHERE v.user_id = @user AND v.res = @res AND k.continent IS NOT NULL AND k.continent <> ''`

	statMaxRegionsInCountry = `
		SELECT COALESCE(MAX(n), 0) FROM (
			SELECT c.country_id, COUNT(DISTINCT c.region_id) AS n
			FROM user_cell_visits v JOIN spatial_cells c ON c.cell_id = v.cell_id
			WHERE v.user_id = @user AND v.res = @res
				AND c.country_id IS NOT NULL AND c.region_id IS NOT NULL
			GROUP BY c.country_id
		) sub`

	// North is center_lat >= 0, south is center_lat < 0.
	statHemispheres = `
		SELECT
			(CASE WHEN EXISTS (
				SELECT 1 FROM user_cell_visits v JOIN spatial_cells c ON c.cell_id = v.cell_id
				WHERE v.user_id = @user AND v.res = @res AND c.center_lat >= 0
			) THEN 1 ELSE 0 END)
			+
			(CASE WHEN EXISTS (
				SELECT 1 FROM user_cell_visits v JOIN spatial_cells c ON c.cell_id = v.cell_id
				WHERE v.user_id = @user AND v.res = @res AND c.center_lat < 0
			) THEN 1 ELSE 0 END)`

	statUniqueDays = `
		SELECT COUNT(DISTINCT DATE(first_visited_at)) FROM user_cell_visits
		WHERE user_id = @user AND res = @res`

	statMaxCountryCoverage = `
		SELECT COALESCE(MAX(coverage), 0) FROM (
			SELECT COUNT(DISTINCT v.cell_id) * 1.0 / k.fine_cell_total AS coverage
			FROM user_cell_visits v
			JOIN spatial_cells c ON c.cell_id = v.cell_id
			JOIN countries k ON k.id = c.country_id
			WHERE v.user_id = @user AND v.res = @res AND k.fine_cell_total > 0
			GROUP BY c.country_id, k.fine_cell_total
		) sub`

	statMaxRegionCoverage = `
		SELECT COALESCE(MAX(coverage), 0) FROM (
			SELECT COUNT(DISTINCT v.cell_id) * 1.0 / r.fine_cell_total AS coverage
			FROM user_cell_visits v
			JOIN spatial_cells c ON c.cell_id = v.cell_id
			JOIN regions r ON r.id = c.region_id
			WHERE v.user_id = @user AND v.res = @res AND r.fine_cell_total > 0
			GROUP BY c.region_id, r.fine_cell_total
		) sub`
)

// UserStats runs one query per statistic. Any failure aborts the whole
// computation so a caller never evaluates against partial numbers.
func (r *StatsRepo) UserStats(ctx context.Context, tx *gorm.DB, userID int64) (*entities.UserStats, error) {
	db := conn(tx, r.db).WithContext(ctx)
	args := map[string]interface{}{"user": userID, "res": int(entities.ResolutionFine)}

	stats := &entities.UserStats{}
	counts := []struct {
		name string
		sql  string
		dst  *int64
	}{
		{"cells_total", statCellsTotal, &stats.CellsTotal},
		{"countries", statCountries, &stats.Countries},
		{"regions", statRegions, &stats.Regions},
		{"continents", statContinents, &stats.Continents},
		{"max_regions_in_country", statMaxRegionsInCountry, &stats.MaxRegionsInCountry},
		{"hemispheres", statHemispheres, &stats.Hemispheres},
		{"unique_days", statUniqueDays, &stats.UniqueDays},
	}
	for _, c := range counts {
		var v sql.NullInt64
		if err := db.Raw(c.sql, args).Row().Scan(&v); err != nil {
			return nil, fmt.Errorf("stat %s: %w", c.name, err)
		}
		*c.dst = v.Int64
	}

	ratios := []struct {
		name string
		sql  string
		dst  *float64
	}{
		{"max_country_coverage", statMaxCountryCoverage, &stats.MaxCountryCoverage},
		{"max_region_coverage", statMaxRegionCoverage, &stats.MaxRegionCoverage},
	}
	for _, c := range ratios {
		var v sql.NullFloat64
		if err := db.Raw(c.sql, args).Row().Scan(&v); err != nil {
			return nil, fmt.Errorf("stat %s: %w", c.name, err)
		}
		*c.dst = v.Float64
	}

	return stats, nil
}
