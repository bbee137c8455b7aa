package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"trekkr/internal/config"
	"trekkr/internal/domain/entities"
	"trekkr/internal/geo"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
	"trekkr/internal/repository"
	"trekkr/internal/telemetry"
)

// IngestRequest is one location reported by a client.
type IngestRequest struct {
	Point  entities.LocationPoint
	Device entities.DeviceMeta
}

// BatchRequest is a list of locations reported in one call.
type BatchRequest struct {
	Locations []entities.LocationPoint
	Device    entities.DeviceMeta
}

// IngestDeps are the collaborators of IngestService.
type IngestDeps struct {
	DB           *gorm.DB
	Grid         *geo.Grid
	Geocoder     geo.Geocoder
	Cells        repository.CellVisitStore
	Devices      repository.DeviceRepository
	Catalog      repository.CatalogRepository
	Batches      repository.IngestBatchRepository
	Achievements *AchievementService
	Notifier     *NotificationService
}

// IngestService turns GPS fixes into cell visits, discoveries and
// achievement unlocks.
//
// Every call runs as one database transaction: the device row, the coarse
// and fine visits, the audit row and any unlocks commit together or not at
// all. Geocoding happens before the transaction opens so no lock is held
// while waiting on it.
type IngestService struct {
	db           *gorm.DB
	grid         *geo.Grid
	geocoder     geo.Geocoder
	cells        repository.CellVisitStore
	devices      repository.DeviceRepository
	catalog      repository.CatalogRepository
	batches      repository.IngestBatchRepository
	detector     *DiscoveryDetector
	achievements *AchievementService
	notifier     *NotificationService

	maxBatch    int
	parallelism int
	log         *logger.Logger
	now         func() time.Time
}

func NewIngestService(deps IngestDeps, cfg *config.Config, baseLog *logger.Logger) *IngestService {
	parallelism := cfg.Geo.GeocodeParallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &IngestService{
		db:           deps.DB,
		grid:         deps.Grid,
		geocoder:     deps.Geocoder,
		cells:        deps.Cells,
		devices:      deps.Devices,
		catalog:      deps.Catalog,
		batches:      deps.Batches,
		detector:     NewDiscoveryDetector(deps.Cells, deps.Catalog),
		achievements: deps.Achievements,
		notifier:     deps.Notifier,
		maxBatch:     cfg.Ingest.MaxBatchSize,
		parallelism:  parallelism,
		log:          baseLog.With("service", "IngestService"),
		now:          time.Now,
	}
}

// Ingest records a single location. A claimed cell that does not match the
// coordinate fails the whole call with *geo.MismatchError.
func (s *IngestService) Ingest(ctx context.Context, userID int64, req IngestRequest) (*entities.IngestResult, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "IngestService.Ingest",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	res, err := s.ingest(ctx, userID, req)
	s.observe("single", start, err)
	telemetry.RecordError(span, err)
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			s.log.Error("ingest failed", "user_id", userID, "retryable", Retryable(err), "error", err)
		}
		return nil, err
	}
	s.notifier.NotifyIngest(userID, res)
	return res, nil
}

func (s *IngestService) ingest(ctx context.Context, userID int64, req IngestRequest) (*entities.IngestResult, error) {
	p := req.Point
	fineID, err := s.grid.ValidateFineCell(p.Latitude, p.Longitude, p.FineCellID)
	if err != nil {
		var mismatch *geo.MismatchError
		if errors.As(err, &mismatch) {
			return nil, mismatch
		}
		return nil, invalidInput(err)
	}
	coarseID, err := s.grid.CoarseParent(fineID)
	if err != nil {
		return nil, invalidInput(err)
	}
	fineCenter, err := s.grid.Center(fineID)
	if err != nil {
		return nil, invalidInput(err)
	}
	coarseCenter, err := s.grid.Center(coarseID)
	if err != nil {
		return nil, invalidInput(err)
	}

	match, err := s.geocoder.Locate(ctx, p.Latitude, p.Longitude)
	if err != nil {
		return nil, persistence(fmt.Errorf("geocode: %w", err))
	}

	now := s.now().UTC()
	visitedAt := p.VisitedAt(now)

	var result *entities.IngestResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device, err := s.devices.EnsureForUser(ctx, tx, userID, req.Device)
		if err != nil {
			return fmt.Errorf("ensure device: %w", err)
		}

		visit := entities.VisitUpsert{
			UserID:    userID,
			DeviceID:  &device.ID,
			CountryID: match.CountryID,
			RegionID:  match.RegionID,
			FirstSeen: visitedAt,
			LastSeen:  visitedAt,
		}

		visit.CellID, visit.Resolution, visit.Center = coarseID, s.grid.CoarseResolution(), coarseCenter
		coarse, err := s.cells.UpsertVisit(ctx, tx, visit)
		if err != nil {
			return fmt.Errorf("upsert coarse visit: %w", err)
		}

		visit.CellID, visit.Resolution, visit.Center = fineID, s.grid.FineResolution(), fineCenter
		fine, err := s.cells.UpsertVisit(ctx, tx, visit)
		if err != nil {
			return fmt.Errorf("upsert fine visit: %w", err)
		}

		places, err := s.detector.Detect(ctx, tx, userID, fine, match)
		if err != nil {
			return fmt.Errorf("detect discoveries: %w", err)
		}

		if err := s.batches.Create(ctx, tx, &entities.IngestBatch{
			UserID:     userID,
			DeviceID:   &device.ID,
			ReceivedAt: now,
			Points:     1,
			CellsCount: 2,
			ResMin:     int(s.grid.CoarseResolution()),
			ResMax:     int(s.grid.FineResolution()),
		}); err != nil {
			return fmt.Errorf("record ingest batch: %w", err)
		}

		unlocked, err := s.achievements.Evaluate(ctx, tx, userID, now)
		if err != nil {
			return fmt.Errorf("evaluate achievements: %w", err)
		}

		result = Classify(coarse, fine, places)
		result.AchievementsUnlocked = unlocked
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return result, nil
}

// batchItem is one validated, deduplicated location of a batch.
type batchItem struct {
	fineID string
	center entities.Coordinate
	at     time.Time
	group  *coarseGroup
}

// coarseGroup collects the batch items sharing a coarse cell. The group is
// geocoded once, from the first item's coordinate, and its match applies to
// every fine cell in it.
type coarseGroup struct {
	cellID string
	center entities.Coordinate
	point  entities.Coordinate
	first  time.Time
	last   time.Time
	match  geo.Match
}

// IngestBatch records up to the configured maximum of locations in one
// transaction.
//
// Items whose cell does not match their coordinate are skipped and reported
// by index; any other malformed item rejects the whole batch. Repeated fine
// cells are dropped silently after their first occurrence. A storage error
// rolls back everything.
func (s *IngestService) IngestBatch(ctx context.Context, userID int64, req BatchRequest) (*entities.BatchResult, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "IngestService.IngestBatch",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("batch.size", len(req.Locations)),
		))
	defer span.End()

	res, err := s.ingestBatch(ctx, userID, req)
	s.observe("batch", start, err)
	telemetry.RecordError(span, err)
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			s.log.Error("batch ingest failed", "user_id", userID, "size", len(req.Locations),
				"retryable", Retryable(err), "error", err)
		}
		return nil, err
	}

	metrics.BatchSize.Observe(float64(len(req.Locations)))
	for _, skipped := range res.SkippedReasons {
		metrics.BatchSkippedTotal.WithLabelValues(skipped.Reason).Inc()
	}
	span.SetAttributes(
		attribute.Int("batch.processed", res.Processed),
		attribute.Int("batch.skipped", res.Skipped),
	)
	s.notifier.NotifyBatch(userID, res)
	return res, nil
}

func (s *IngestService) ingestBatch(ctx context.Context, userID int64, req BatchRequest) (*entities.BatchResult, error) {
	if n := len(req.Locations); n == 0 || n > s.maxBatch {
		return nil, invalidInput(fmt.Errorf("locations must contain between 1 and %d items, got %d", s.maxBatch, n))
	}

	now := s.now().UTC()
	result := entities.NewBatchResult()

	items, groups, err := s.prepareBatch(req.Locations, now, result)
	if err != nil {
		return nil, err
	}
	result.Skipped = len(result.SkippedReasons)
	result.Processed = len(items)

	// A batch where every item was skipped still registers the device and
	// leaves a zero-point audit row.
	if err := s.geocodeGroups(ctx, groups); err != nil {
		return nil, persistence(err)
	}

	// Upserts run in cell id order so concurrent batches touching the same
	// cells take row locks in the same order.
	sort.Slice(groups, func(i, j int) bool { return groups[i].cellID < groups[j].cellID })
	sort.Slice(items, func(i, j int) bool { return items[i].fineID < items[j].fineID })

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device, err := s.devices.EnsureForUser(ctx, tx, userID, req.Device)
		if err != nil {
			return fmt.Errorf("ensure device: %w", err)
		}

		countryIDs, err := s.cells.VisitedCountryIDs(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load visited countries: %w", err)
		}
		regionIDs, err := s.cells.VisitedRegionIDs(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load visited regions: %w", err)
		}
		knownCountries := idSet(countryIDs)
		knownRegions := idSet(regionIDs)

		for _, g := range groups {
			res, err := s.cells.UpsertVisit(ctx, tx, entities.VisitUpsert{
				UserID:     userID,
				DeviceID:   &device.ID,
				CellID:     g.cellID,
				Resolution: s.grid.CoarseResolution(),
				Center:     g.center,
				CountryID:  g.match.CountryID,
				RegionID:   g.match.RegionID,
				FirstSeen:  g.first,
				LastSeen:   g.last,
			})
			if err != nil {
				return fmt.Errorf("upsert coarse visit %s: %w", g.cellID, err)
			}
			if res.IsNew {
				result.Discoveries.NewCellsCoarse++
			}
		}

		for _, it := range items {
			match := it.group.match
			res, err := s.cells.UpsertVisit(ctx, tx, entities.VisitUpsert{
				UserID:     userID,
				DeviceID:   &device.ID,
				CellID:     it.fineID,
				Resolution: s.grid.FineResolution(),
				Center:     it.center,
				CountryID:  match.CountryID,
				RegionID:   match.RegionID,
				FirstSeen:  it.at,
				LastSeen:   it.at,
			})
			if err != nil {
				return fmt.Errorf("upsert fine visit %s: %w", it.fineID, err)
			}
			if !res.IsNew {
				continue
			}
			result.Discoveries.NewCellsFine++

			if id := match.CountryID; id != nil && !knownCountries[*id] {
				knownCountries[*id] = true
				country, err := s.catalog.GetCountry(ctx, tx, *id)
				if err != nil {
					return fmt.Errorf("load country %d: %w", *id, err)
				}
				if country != nil {
					result.Discoveries.NewCountries = append(result.Discoveries.NewCountries, country.Ref())
				}
			}
			if id := match.RegionID; id != nil && !knownRegions[*id] {
				knownRegions[*id] = true
				region, err := s.catalog.GetRegion(ctx, tx, *id)
				if err != nil {
					return fmt.Errorf("load region %d: %w", *id, err)
				}
				if region != nil {
					result.Discoveries.NewRegions = append(result.Discoveries.NewRegions, region.Ref())
				}
			}
		}

		if err := s.batches.Create(ctx, tx, &entities.IngestBatch{
			UserID:     userID,
			DeviceID:   &device.ID,
			ReceivedAt: now,
			Points:     len(items),
			CellsCount: len(groups) + len(items),
			ResMin:     int(s.grid.CoarseResolution()),
			ResMax:     int(s.grid.FineResolution()),
		}); err != nil {
			return fmt.Errorf("record ingest batch: %w", err)
		}

		if len(items) == 0 {
			return nil
		}
		unlocked, err := s.achievements.Evaluate(ctx, tx, userID, now)
		if err != nil {
			return fmt.Errorf("evaluate achievements: %w", err)
		}
		result.AchievementsUnlocked = unlocked
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return result, nil
}

// prepareBatch validates and deduplicates the locations and groups the
// survivors by coarse cell. Mismatched items are appended to
// result.SkippedReasons.
func (s *IngestService) prepareBatch(locations []entities.LocationPoint, now time.Time, result *entities.BatchResult) ([]*batchItem, []*coarseGroup, error) {
	var (
		items  []*batchItem
		groups []*coarseGroup
		seen   = make(map[string]bool, len(locations))
		byCell = make(map[string]*coarseGroup)
	)

	for i, p := range locations {
		fineID, err := s.grid.ValidateFineCell(p.Latitude, p.Longitude, p.FineCellID)
		if err != nil {
			var mismatch *geo.MismatchError
			if errors.As(err, &mismatch) {
				result.SkippedReasons = append(result.SkippedReasons, entities.SkippedItem{
					Index:  i,
					Reason: entities.SkipReasonCellMismatch,
				})
				continue
			}
			return nil, nil, invalidInput(fmt.Errorf("locations[%d]: %w", i, err))
		}
		if seen[fineID] {
			continue
		}
		seen[fineID] = true

		coarseID, err := s.grid.CoarseParent(fineID)
		if err != nil {
			return nil, nil, invalidInput(fmt.Errorf("locations[%d]: %w", i, err))
		}
		center, err := s.grid.Center(fineID)
		if err != nil {
			return nil, nil, invalidInput(fmt.Errorf("locations[%d]: %w", i, err))
		}
		at := p.VisitedAt(now)

		g, ok := byCell[coarseID]
		if !ok {
			coarseCenter, err := s.grid.Center(coarseID)
			if err != nil {
				return nil, nil, invalidInput(fmt.Errorf("locations[%d]: %w", i, err))
			}
			g = &coarseGroup{cellID: coarseID, center: coarseCenter, point: p.Coordinate, first: at, last: at}
			byCell[coarseID] = g
			groups = append(groups, g)
		}
		if at.Before(g.first) {
			g.first = at
		}
		if at.After(g.last) {
			g.last = at
		}

		items = append(items, &batchItem{fineID: fineID, center: center, at: at, group: g})
	}
	return items, groups, nil
}

// geocodeGroups resolves every coarse group concurrently.
//
// Go Learning Note — errgroup:
// errgroup.Group runs functions in goroutines and Wait returns the first
// error. SetLimit caps how many run at once, and the derived context is
// cancelled as soon as one fails so the rest stop early. Each goroutine
// writes only to its own group, so no mutex is needed.
func (s *IngestService) geocodeGroups(ctx context.Context, groups []*coarseGroup) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, grp := range groups {
		g.Go(func() error {
			m, err := s.geocoder.Locate(gctx, grp.point.Latitude, grp.point.Longitude)
			if err != nil {
				return fmt.Errorf("geocode %s: %w", grp.cellID, err)
			}
			grp.match = m
			return nil
		})
	}
	return g.Wait()
}

func (s *IngestService) observe(mode string, start time.Time, err error) {
	var mismatch *geo.MismatchError
	outcome := "ok"
	switch {
	case err == nil:
	case errors.As(err, &mismatch):
		outcome = "mismatch"
	case errors.Is(err, ErrInvalidInput):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.IngestRequestsTotal.WithLabelValues(mode, outcome).Inc()
	metrics.IngestDurationMs.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
}

func idSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
