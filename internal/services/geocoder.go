package services

import (
	"context"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/config"
	"trekkr/internal/geo"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
	"trekkr/internal/repository"
	"trekkr/internal/repository/gormrepo"
)

// Geocoder modes accepted by NewGeocoder.
const (
	GeocoderMemory  = "memory"
	GeocoderPostGIS = "postgis"
	GeocoderNone    = "none"
)

// NewGeocoder builds the reverse geocoder for cfg.GeocoderMode. Every
// failure to set up the requested backend falls back to geo.NoopGeocoder:
// ingestion keeps recording cells, only without country and region.
//
// With cfg.CatalogRefresh set, the in-memory index is reloaded on that
// interval until ctx is done, so a catalog import takes effect without a
// restart. An empty catalog is then kept rather than disabled.
func NewGeocoder(ctx context.Context, cfg config.GeoConfig, db *gorm.DB, catalog repository.CatalogRepository, baseLog *logger.Logger) geo.Geocoder {
	log := baseLog.With("component", "geocoder")

	switch cfg.GeocoderMode {
	case GeocoderPostGIS:
		pg := gormrepo.NewPostGISGeocoder(db, baseLog)
		if pg.Available(ctx) {
			if err := pg.Prepare(ctx); err != nil {
				log.Warn("could not prepare postgis boundaries, geocoding disabled", "error", err)
				break
			}
			log.Info("using postgis geocoder")
			return countingGeocoder{pg}
		}
		log.Warn("postgis not available, geocoding disabled")
	case GeocoderMemory:
		idx, err := LoadPolygonIndex(ctx, catalog, log)
		if err != nil {
			log.Warn("could not load boundary catalog, geocoding disabled", "error", err)
			break
		}
		countries, regions := idx.Size()
		if cfg.CatalogRefresh > 0 {
			go WatchCatalog(ctx, idx, catalog, cfg.CatalogRefresh, log)
		} else if countries == 0 && regions == 0 {
			log.Warn("boundary catalog is empty, geocoding disabled")
			break
		}
		log.Info("using in-memory polygon geocoder",
			"countries", countries, "regions", regions, "refresh", cfg.CatalogRefresh)
		return countingGeocoder{idx}
	}
	return countingGeocoder{geo.NoopGeocoder{}}
}

// LoadPolygonIndex parses every catalog geometry into a PolygonIndex. Rows
// with missing or unreadable geometry are skipped with a warning.
func LoadPolygonIndex(ctx context.Context, catalog repository.CatalogRepository, log *logger.Logger) (*geo.PolygonIndex, error) {
	countries, regions, err := loadBoundaries(ctx, catalog, log)
	if err != nil {
		return nil, err
	}
	return geo.NewPolygonIndex(countries, regions), nil
}

// RefreshPolygonIndex swaps the catalog's current boundaries into idx. On
// error idx is left as it was.
func RefreshPolygonIndex(ctx context.Context, idx *geo.PolygonIndex, catalog repository.CatalogRepository, log *logger.Logger) error {
	countries, regions, err := loadBoundaries(ctx, catalog, log)
	if err != nil {
		return err
	}
	idx.Replace(countries, regions)
	log.Debug("boundary catalog refreshed", "countries", len(countries), "regions", len(regions))
	return nil
}

// WatchCatalog refreshes idx every interval until ctx is done.
func WatchCatalog(ctx context.Context, idx *geo.PolygonIndex, catalog repository.CatalogRepository, every time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := RefreshPolygonIndex(ctx, idx, catalog, log); err != nil && ctx.Err() == nil {
				log.Warn("boundary catalog refresh failed, keeping previous index", "error", err)
			}
		}
	}
}

func loadBoundaries(ctx context.Context, catalog repository.CatalogRepository, log *logger.Logger) ([]geo.Boundary, []geo.Boundary, error) {
	countries, err := catalog.ListCountries(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	regions, err := catalog.ListRegions(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	countryBounds := make([]geo.Boundary, 0, len(countries))
	for _, c := range countries {
		if c.Geometry == "" {
			continue
		}
		b, err := geo.ParseBoundary(c.ID, c.Geometry)
		if err != nil {
			log.Warn("skipping country boundary", "iso2", c.ISO2, "error", err)
			continue
		}
		countryBounds = append(countryBounds, b)
	}

	regionBounds := make([]geo.Boundary, 0, len(regions))
	for _, r := range regions {
		if r.Geometry == "" {
			continue
		}
		b, err := geo.ParseBoundary(r.ID, r.Geometry)
		if err != nil {
			log.Warn("skipping region boundary", "code", r.Code, "error", err)
			continue
		}
		regionBounds = append(regionBounds, b)
	}
	return countryBounds, regionBounds, nil
}

type countingGeocoder struct {
	next geo.Geocoder
}

func (c countingGeocoder) Locate(ctx context.Context, lat, lon float64) (geo.Match, error) {
	m, err := c.next.Locate(ctx, lat, lon)
	switch {
	case err != nil:
		metrics.GeocodeLookupsTotal.WithLabelValues("error").Inc()
	case m.CountryID == nil && m.RegionID == nil:
		metrics.GeocodeLookupsTotal.WithLabelValues("unmatched").Inc()
	default:
		metrics.GeocodeLookupsTotal.WithLabelValues("matched").Inc()
	}
	return m, err
}
