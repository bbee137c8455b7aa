package services

import (
	"context"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/geo"
	"trekkr/internal/repository"
)

// PlaceDiscovery holds the country and region a point revealed for the
// first time. Either may be nil.
type PlaceDiscovery struct {
	Country *entities.PlaceRef
	Region  *entities.PlaceRef
}

// DiscoveryDetector decides whether a fine-cell visit was the user's first
// anywhere in its country or region.
type DiscoveryDetector struct {
	cells   repository.CellVisitStore
	catalog repository.CatalogRepository
}

func NewDiscoveryDetector(cells repository.CellVisitStore, catalog repository.CatalogRepository) *DiscoveryDetector {
	return &DiscoveryDetector{cells: cells, catalog: catalog}
}

// Detect checks country and region discovery for one fine-cell visit. Only a
// new fine cell can reveal a place; a revisit returns an empty discovery
// without querying, even when the coarse cell was new.
//
// A place counts as discovered when the user has no other fine visit whose
// cell belongs to it. Must run after the fine upsert, inside the same
// transaction, so the just-inserted cell is the one excluded.
func (d *DiscoveryDetector) Detect(ctx context.Context, tx *gorm.DB, userID int64, fine *entities.VisitResult, match geo.Match) (PlaceDiscovery, error) {
	var out PlaceDiscovery
	if fine == nil || !fine.IsNew {
		return out, nil
	}

	if match.CountryID != nil {
		seen, err := d.cells.HasOtherFineVisitInCountry(ctx, tx, userID, *match.CountryID, fine.CellID)
		if err != nil {
			return out, err
		}
		if !seen {
			country, err := d.catalog.GetCountry(ctx, tx, *match.CountryID)
			if err != nil {
				return out, err
			}
			if country != nil {
				ref := country.Ref()
				out.Country = &ref
			}
		}
	}

	if match.RegionID != nil {
		seen, err := d.cells.HasOtherFineVisitInRegion(ctx, tx, userID, *match.RegionID, fine.CellID)
		if err != nil {
			return out, err
		}
		if !seen {
			region, err := d.catalog.GetRegion(ctx, tx, *match.RegionID)
			if err != nil {
				return out, err
			}
			if region != nil {
				ref := region.Ref()
				out.Region = &ref
			}
		}
	}
	return out, nil
}

// Classify turns the two upsert results of one point into the ingest
// response: each cell lands in discoveries or revisits, and the place
// discovery is copied through.
func Classify(coarse, fine *entities.VisitResult, places PlaceDiscovery) *entities.IngestResult {
	res := entities.NewIngestResult()

	if coarse.IsNew {
		res.Discoveries.NewCellsCoarse = append(res.Discoveries.NewCellsCoarse, coarse.CellID)
	} else {
		res.Revisits.CellsCoarse = append(res.Revisits.CellsCoarse, coarse.CellID)
	}
	if fine.IsNew {
		res.Discoveries.NewCellsFine = append(res.Discoveries.NewCellsFine, fine.CellID)
	} else {
		res.Revisits.CellsFine = append(res.Revisits.CellsFine, fine.CellID)
	}

	res.Discoveries.NewCountry = places.Country
	res.Discoveries.NewState = places.Region
	res.VisitCounts = entities.VisitCounts{Coarse: coarse.VisitCount, Fine: fine.VisitCount}
	return res
}
