package gormrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"trekkr/internal/geo"
	"trekkr/internal/logger"
)

// PostGISGeocoder resolves coordinates with ST_Contains against an indexed
// geometry column derived from the catalog's GeoJSON. It needs the postgis
// extension and is meant for catalogs too large to keep in memory. Call
// Prepare once before the first lookup.
type PostGISGeocoder struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ geo.Geocoder = (*PostGISGeocoder)(nil)

func NewPostGISGeocoder(db *gorm.DB, baseLog *logger.Logger) *PostGISGeocoder {
	return &PostGISGeocoder{db: db, log: baseLog.With("repo", "PostGISGeocoder")}
}

// Boundary tables that get a geom column.
var postgisTables = []string{"countries", "regions"}

const (
	postgisSyncFuncSQL = `
		CREATE OR REPLACE FUNCTION trekkr_sync_geom() RETURNS trigger AS $$
		BEGIN
			IF NEW.geometry IS NULL OR NEW.geometry = '' THEN
				NEW.geom := NULL;
			ELSE
				NEW.geom := ST_SetSRID(ST_GeomFromGeoJSON(NEW.geometry), 4326);
			END IF;
			RETURN NEW;
		END
		$$ LANGUAGE plpgsql`

	postgisCountrySQL = `
		SELECT id FROM countries
		WHERE geom IS NOT NULL AND ST_Contains(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))
		ORDER BY id LIMIT 1`
	postgisRegionSQL = `
		SELECT id FROM regions
		WHERE geom IS NOT NULL AND ST_Contains(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))
		ORDER BY id LIMIT 1`
)

func postgisTableSQL(table string) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS geom geometry(Geometry, 4326)`, table),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS trg_%s_geom ON %s`, table, table),
		fmt.Sprintf(`CREATE TRIGGER trg_%s_geom BEFORE INSERT OR UPDATE OF geometry ON %s
			FOR EACH ROW EXECUTE FUNCTION trekkr_sync_geom()`, table, table),
		fmt.Sprintf(`UPDATE %s SET geom = ST_SetSRID(ST_GeomFromGeoJSON(geometry), 4326)
			WHERE geom IS NULL AND geometry IS NOT NULL AND geometry <> ''`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_geom ON %s USING GIST (geom)`, table, table),
	}
}

// Prepare adds a geom column with a GiST index to the boundary tables and
// fills it from the GeoJSON text. A trigger keeps geom in step with later
// catalog writes. Running it again is harmless.
func (g *PostGISGeocoder) Prepare(ctx context.Context) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(postgisSyncFuncSQL).Error; err != nil {
			return fmt.Errorf("create geom trigger function: %w", err)
		}
		for _, table := range postgisTables {
			for _, stmt := range postgisTableSQL(table) {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("prepare %s geom: %w", table, err)
				}
			}
		}
		g.log.Info("postgis boundaries prepared", "tables", postgisTables)
		return nil
	})
}

func (g *PostGISGeocoder) Locate(ctx context.Context, lat, lon float64) (geo.Match, error) {
	db := g.db.WithContext(ctx)
	var m geo.Match

	countryID, err := g.lookup(db, postgisCountrySQL, lat, lon)
	if err != nil {
		return geo.Match{}, err
	}
	m.CountryID = countryID

	regionID, err := g.lookup(db, postgisRegionSQL, lat, lon)
	if err != nil {
		return geo.Match{}, err
	}
	m.RegionID = regionID
	return m, nil
}

// Available reports whether the connected database has PostGIS installed.
func (g *PostGISGeocoder) Available(ctx context.Context) bool {
	var version sql.NullString
	if err := g.db.WithContext(ctx).Raw("SELECT PostGIS_Version()").Row().Scan(&version); err != nil {
		g.log.Warn("postgis not available", "error", err)
		return false
	}
	return version.Valid
}

func (g *PostGISGeocoder) lookup(db *gorm.DB, q string, lat, lon float64) (*int64, error) {
	var id sql.NullInt64
	err := db.Raw(q, lon, lat).Row().Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !id.Valid {
		return nil, nil
	}
	v := id.Int64
	return &v, nil
}
