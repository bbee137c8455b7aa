package testutil

import (
	"fmt"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"trekkr/internal/domain/entities"
)

// Well-known points inside the fixture catalog.
var (
	SanFrancisco  = entities.NewCoordinate(37.7749, -122.4194)
	LosAngeles    = entities.NewCoordinate(34.0522, -118.2437)
	SaltLakeCity  = entities.NewCoordinate(40.7608, -111.8910)
	NewYork       = entities.NewCoordinate(40.7128, -74.0060)
	Sydney        = entities.NewCoordinate(-33.8688, 151.2093)
	AtlanticOcean = entities.NewCoordinate(0, -30)
)

// Catalog is the seeded fixture catalog. Boundaries are simple boxes, so
// containment is easy to reason about in tests.
type Catalog struct {
	UnitedStates  *entities.Country
	Australia     *entities.Country
	California    *entities.Region
	Utah          *entities.Region
	NewSouthWales *entities.Region
}

func box(minLon, minLat, maxLon, maxLat float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		minLon, minLat, maxLon, minLat, maxLon, maxLat, minLon, maxLat, minLon, minLat)
}

func total(n int64) *int64 { return &n }

// SeedCatalog inserts two countries and three regions. Rows that already
// exist are left alone, so a shared database can be seeded by every test.
func SeedCatalog(tb testing.TB, db *gorm.DB) *Catalog {
	tb.Helper()

	c := &Catalog{
		UnitedStates: &entities.Country{
			ID: 1, ISO2: "US", ISO3: "USA", Name: "United States", Continent: "North America",
			Geometry: box(-125, 24, -66, 50), FineCellTotal: total(1000), CoarseCellTotal: total(50),
		},
		Australia: &entities.Country{
			ID: 2, ISO2: "AU", ISO3: "AUS", Name: "Australia", Continent: "Oceania",
			Geometry: box(113, -44, 154, -10), FineCellTotal: total(1000), CoarseCellTotal: total(50),
		},
		California: &entities.Region{
			ID: 10, CountryID: 1, Code: "US-CA", Name: "California",
			Geometry: box(-124.5, 32.5, -114, 42), FineCellTotal: total(1000),
		},
		Utah: &entities.Region{
			ID: 11, CountryID: 1, Code: "US-UT", Name: "Utah",
			Geometry: box(-114, 37, -109, 42), FineCellTotal: total(1000),
		},
		NewSouthWales: &entities.Region{
			ID: 20, CountryID: 2, Code: "AU-NSW", Name: "New South Wales",
			Geometry: box(141, -37.5, 154, -28), FineCellTotal: total(1000),
		},
	}

	for _, country := range []*entities.Country{c.UnitedStates, c.Australia} {
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(country).Error; err != nil {
			tb.Fatalf("seed country %s: %v", country.ISO2, err)
		}
	}
	for _, region := range []*entities.Region{c.California, c.Utah, c.NewSouthWales} {
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(region).Error; err != nil {
			tb.Fatalf("seed region %s: %v", region.Code, err)
		}
	}
	return c
}
