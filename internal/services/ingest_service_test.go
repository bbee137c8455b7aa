package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/config"
	"trekkr/internal/domain/entities"
	"trekkr/internal/geo"
	"trekkr/internal/repository"
	"trekkr/internal/repository/gormrepo"
	"trekkr/internal/testutil"
)

const testUser int64 = 42

type fixture struct {
	db           *gorm.DB
	catalog      *testutil.Catalog
	grid         *geo.Grid
	cells        *gormrepo.CellStore
	achievements *AchievementService
	ingest       *IngestService
}

// newFixture wires the services against a fresh SQLite database with the
// fixture catalog and the built-in achievements. mutate may swap
// collaborators before the ingest service is built.
func newFixture(t *testing.T, mutate ...func(*IngestDeps)) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.SQLiteDB(t), mutate...)
}

func newFixtureOn(t *testing.T, db *gorm.DB, mutate ...func(*IngestDeps)) *fixture {
	t.Helper()
	ctx := context.Background()
	log := testutil.Logger(t)
	catalog := testutil.SeedCatalog(t, db)

	cells := gormrepo.NewCellStore(db, log)
	catalogRepo := gormrepo.NewCatalogRepo(db, log)
	achievements := NewAchievementService(db,
		gormrepo.NewAchievementRepo(db, log), gormrepo.NewStatsRepo(db, log), log)

	defs, err := LoadAchievementCatalog("")
	if err != nil {
		t.Fatalf("LoadAchievementCatalog() error = %v", err)
	}
	if err := achievements.SeedCatalog(ctx, defs); err != nil {
		t.Fatalf("SeedCatalog() error = %v", err)
	}

	idx, err := LoadPolygonIndex(ctx, catalogRepo, log)
	if err != nil {
		t.Fatalf("LoadPolygonIndex() error = %v", err)
	}

	grid := geo.NewGrid()
	deps := IngestDeps{
		DB:           db,
		Grid:         grid,
		Geocoder:     idx,
		Cells:        cells,
		Devices:      gormrepo.NewDeviceRepo(db, log),
		Catalog:      catalogRepo,
		Batches:      gormrepo.NewIngestBatchRepo(db, log),
		Achievements: achievements,
		Notifier:     NewNotificationService(log),
	}
	for _, m := range mutate {
		m(&deps)
	}

	svc := NewIngestService(deps, config.NewDefaultConfig(), log)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{
		db:           db,
		catalog:      catalog,
		grid:         grid,
		cells:        cells,
		achievements: achievements,
		ingest:       svc,
	}
}

func (f *fixture) point(t *testing.T, c entities.Coordinate) entities.LocationPoint {
	t.Helper()
	cell, err := f.grid.FineCell(c.Latitude, c.Longitude)
	if err != nil {
		t.Fatalf("FineCell() error = %v", err)
	}
	return entities.LocationPoint{Coordinate: c, FineCellID: cell}
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func hasAchievement(list []entities.UnlockedAchievement, code string) bool {
	for _, a := range list {
		if a.Code == code {
			return true
		}
	}
	return false
}

func TestIngest_SanFranciscoFirstVisit(t *testing.T) {
	f := newFixture(t)
	p := f.point(t, testutil.SanFrancisco)

	res, err := f.ingest.Ingest(context.Background(), testUser, IngestRequest{Point: p})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if res.Discoveries.NewCountry == nil || res.Discoveries.NewCountry.Name != "United States" {
		t.Errorf("NewCountry = %+v, want United States", res.Discoveries.NewCountry)
	}
	if res.Discoveries.NewState == nil || res.Discoveries.NewState.Name != "California" {
		t.Errorf("NewState = %+v, want California", res.Discoveries.NewState)
	}
	if len(res.Discoveries.NewCellsFine) != 1 || res.Discoveries.NewCellsFine[0] != p.FineCellID {
		t.Errorf("NewCellsFine = %v, want [%s]", res.Discoveries.NewCellsFine, p.FineCellID)
	}
	if len(res.Discoveries.NewCellsCoarse) != 1 {
		t.Errorf("NewCellsCoarse = %v, want one cell", res.Discoveries.NewCellsCoarse)
	}
	if res.VisitCounts != (entities.VisitCounts{Coarse: 1, Fine: 1}) {
		t.Errorf("VisitCounts = %+v, want {1 1}", res.VisitCounts)
	}
	if !hasAchievement(res.AchievementsUnlocked, "first_steps") {
		t.Errorf("AchievementsUnlocked = %+v, want first_steps", res.AchievementsUnlocked)
	}
	if n := f.count(t, &entities.IngestBatch{}); n != 1 {
		t.Errorf("ingest_batches rows = %d, want 1", n)
	}
	if n := f.count(t, &entities.Device{}); n != 1 {
		t.Errorf("devices rows = %d, want 1", n)
	}
}

func TestIngest_RevisitSameCell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.point(t, testutil.SanFrancisco)

	if _, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: p}); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	res, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: p})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if res.Discoveries.NewCountry != nil || res.Discoveries.NewState != nil {
		t.Errorf("revisit fired place discovery: %+v", res.Discoveries)
	}
	if len(res.Discoveries.NewCellsFine) != 0 || len(res.Discoveries.NewCellsCoarse) != 0 {
		t.Errorf("revisit reported new cells: %+v", res.Discoveries)
	}
	if len(res.Revisits.CellsFine) != 1 || len(res.Revisits.CellsCoarse) != 1 {
		t.Errorf("Revisits = %+v, want one cell per resolution", res.Revisits)
	}
	if res.VisitCounts != (entities.VisitCounts{Coarse: 2, Fine: 2}) {
		t.Errorf("VisitCounts = %+v, want {2 2}", res.VisitCounts)
	}
	if len(res.AchievementsUnlocked) != 0 {
		t.Errorf("AchievementsUnlocked = %+v, want none", res.AchievementsUnlocked)
	}

	cell, err := f.cells.GetCell(ctx, nil, p.FineCellID)
	if err != nil || cell == nil {
		t.Fatalf("GetCell() = %v, %v", cell, err)
	}
	if cell.VisitCount != 2 {
		t.Errorf("global visit count = %d, want 2", cell.VisitCount)
	}
}

func TestIngest_SecondCellSameCountry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: f.point(t, testutil.SanFrancisco)}); err != nil {
		t.Fatalf("Ingest(SF) error = %v", err)
	}

	res, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: f.point(t, testutil.SaltLakeCity)})
	if err != nil {
		t.Fatalf("Ingest(SLC) error = %v", err)
	}
	if res.Discoveries.NewCountry != nil {
		t.Errorf("NewCountry = %+v, want nil", res.Discoveries.NewCountry)
	}
	if res.Discoveries.NewState == nil || res.Discoveries.NewState.Code != "US-UT" {
		t.Errorf("NewState = %+v, want Utah", res.Discoveries.NewState)
	}
	if len(res.Discoveries.NewCellsFine) != 1 {
		t.Errorf("NewCellsFine = %v, want one", res.Discoveries.NewCellsFine)
	}

	res, err = f.ingest.Ingest(ctx, testUser, IngestRequest{Point: f.point(t, testutil.LosAngeles)})
	if err != nil {
		t.Fatalf("Ingest(LA) error = %v", err)
	}
	if res.Discoveries.NewCountry != nil || res.Discoveries.NewState != nil {
		t.Errorf("LA after SF fired place discovery: %+v", res.Discoveries)
	}
}

func TestIngest_OceanPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.point(t, testutil.AtlanticOcean)

	res, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: p})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Discoveries.NewCountry != nil || res.Discoveries.NewState != nil {
		t.Errorf("ocean point matched a place: %+v", res.Discoveries)
	}
	if len(res.Discoveries.NewCellsFine) != 1 || len(res.Discoveries.NewCellsCoarse) != 1 {
		t.Errorf("ocean point cells = %+v, want one new per resolution", res.Discoveries)
	}

	cell, err := f.cells.GetCell(ctx, nil, p.FineCellID)
	if err != nil || cell == nil {
		t.Fatalf("GetCell() = %v, %v", cell, err)
	}
	if cell.CountryID != nil || cell.RegionID != nil {
		t.Errorf("ocean cell place = %v/%v, want nil/nil", cell.CountryID, cell.RegionID)
	}
}

func TestIngest_CellMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.point(t, testutil.SanFrancisco)
	ny := f.point(t, testutil.NewYork)

	_, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: entities.LocationPoint{
		Coordinate: sf.Coordinate,
		FineCellID: ny.FineCellID,
	}})

	var mismatch *geo.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Ingest() error = %v, want *geo.MismatchError", err)
	}
	if mismatch.Expected != sf.FineCellID || mismatch.Received != ny.FineCellID {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if n := f.count(t, &entities.UserCellVisit{}); n != 0 {
		t.Errorf("visits after mismatch = %d, want 0", n)
	}
	if n := f.count(t, &entities.IngestBatch{}); n != 0 {
		t.Errorf("ingest_batches after mismatch = %d, want 0", n)
	}
}

func TestIngest_NeighborCellAccepted(t *testing.T) {
	f := newFixture(t)
	sf := f.point(t, testutil.SanFrancisco)
	neighbors, err := f.grid.Neighbors(sf.FineCellID)
	if err != nil || len(neighbors) == 0 {
		t.Fatalf("Neighbors() = %v, %v", neighbors, err)
	}

	res, err := f.ingest.Ingest(context.Background(), testUser, IngestRequest{Point: entities.LocationPoint{
		Coordinate: sf.Coordinate,
		FineCellID: neighbors[0],
	}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(res.Discoveries.NewCellsFine) != 1 || res.Discoveries.NewCellsFine[0] != neighbors[0] {
		t.Errorf("NewCellsFine = %v, want the claimed neighbor %s", res.Discoveries.NewCellsFine, neighbors[0])
	}
}

func TestIngest_InvalidInput(t *testing.T) {
	f := newFixture(t)
	sf := f.point(t, testutil.SanFrancisco)
	coarse, _ := f.grid.CoarseParent(sf.FineCellID)

	tests := []struct {
		name  string
		point entities.LocationPoint
	}{
		{"latitude out of range", entities.LocationPoint{Coordinate: entities.NewCoordinate(91, 0), FineCellID: sf.FineCellID}},
		{"longitude out of range", entities.LocationPoint{Coordinate: entities.NewCoordinate(0, 181), FineCellID: sf.FineCellID}},
		{"garbage cell", entities.LocationPoint{Coordinate: sf.Coordinate, FineCellID: "not-a-cell"}},
		{"coarse cell", entities.LocationPoint{Coordinate: sf.Coordinate, FineCellID: coarse}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingest.Ingest(context.Background(), testUser, IngestRequest{Point: tt.point})
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Ingest() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestIngest_ClientTimestampKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.point(t, testutil.SanFrancisco)
	at := time.Date(2024, 7, 4, 18, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	p.Timestamp = &at

	if _, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: p}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	visit, err := f.cells.GetVisit(ctx, nil, testUser, p.FineCellID)
	if err != nil || visit == nil {
		t.Fatalf("GetVisit() = %v, %v", visit, err)
	}
	if !visit.FirstVisitedAt.Equal(at) {
		t.Errorf("FirstVisitedAt = %v, want %v", visit.FirstVisitedAt, at.UTC())
	}
}

func TestIngest_DeviceMetadataLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.point(t, testutil.SanFrancisco)
	uuid, name := "dev-1", "Pixel"

	if _, err := f.ingest.Ingest(ctx, testUser, IngestRequest{Point: p}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := f.ingest.Ingest(ctx, testUser, IngestRequest{
		Point:  p,
		Device: entities.DeviceMeta{DeviceUUID: &uuid, DeviceName: &name},
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var d entities.Device
	if err := f.db.Where("user_id = ?", testUser).First(&d).Error; err != nil {
		t.Fatalf("load device: %v", err)
	}
	if d.DeviceUUID == nil || *d.DeviceUUID != uuid || d.DeviceName != name || d.Platform != entities.DefaultPlatform {
		t.Errorf("device = %+v", d)
	}
	if n := f.count(t, &entities.Device{}); n != 1 {
		t.Errorf("devices rows = %d, want 1", n)
	}
}

// SQLite queues whole transactions; PostgreSQL lets both requests run
// side by side on their own connections, racing the device insert and the
// visit upsert.
func TestIngest_ConcurrentSameNewCell(t *testing.T) {
	backends := []struct {
		name string
		open func(testing.TB) *gorm.DB
	}{
		{"sqlite", testutil.SQLiteDB},
		{"postgres", testutil.PostgresDB},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			f := newFixtureOn(t, b.open(t))
			ctx := context.Background()
			p := f.point(t, testutil.SanFrancisco)
			userID := testutil.UniqueUserID()
			testutil.CleanupUser(t, f.db, userID)

			var (
				wg       sync.WaitGroup
				newCount atomic.Int32
				start    = make(chan struct{})
				errs     = make(chan error, 2)
			)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := f.ingest.Ingest(ctx, userID, IngestRequest{Point: p})
					if err != nil {
						errs <- err
						return
					}
					if len(res.Discoveries.NewCellsFine) == 1 {
						newCount.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent Ingest() error = %v", err)
			}

			if got := newCount.Load(); got != 1 {
				t.Errorf("callers that saw a new fine cell = %d, want 1", got)
			}
			visit, err := f.cells.GetVisit(ctx, nil, userID, p.FineCellID)
			if err != nil || visit == nil {
				t.Fatalf("GetVisit() = %v, %v", visit, err)
			}
			if visit.VisitCount != 2 {
				t.Errorf("VisitCount = %d, want 2", visit.VisitCount)
			}
			var rows, devices int64
			f.db.Model(&entities.UserCellVisit{}).Where("user_id = ? AND cell_id = ?", userID, p.FineCellID).Count(&rows)
			if rows != 1 {
				t.Errorf("visit rows = %d, want 1", rows)
			}
			f.db.Model(&entities.Device{}).Where("user_id = ?", userID).Count(&devices)
			if devices != 1 {
				t.Errorf("devices rows = %d, want 1", devices)
			}
		})
	}
}

// failingCellStore fails every upsert at one resolution.
type failingCellStore struct {
	repository.CellVisitStore
	failOn entities.Resolution
}

func (s failingCellStore) UpsertVisit(ctx context.Context, tx *gorm.DB, in entities.VisitUpsert) (*entities.VisitResult, error) {
	if in.Resolution == s.failOn {
		return nil, errors.New("disk I/O error")
	}
	return s.CellVisitStore.UpsertVisit(ctx, tx, in)
}

func TestIngest_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, func(d *IngestDeps) {
		d.Cells = failingCellStore{CellVisitStore: d.Cells, failOn: entities.ResolutionFine}
	})

	_, err := f.ingest.Ingest(context.Background(), testUser, IngestRequest{Point: f.point(t, testutil.SanFrancisco)})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Ingest() error = %v, want ErrPersistence", err)
	}
	for name, model := range map[string]interface{}{
		"visits":  &entities.UserCellVisit{},
		"cells":   &entities.SpatialCell{},
		"devices": &entities.Device{},
		"batches": &entities.IngestBatch{},
	} {
		if n := f.count(t, model); n != 0 {
			t.Errorf("%s rows after rollback = %d, want 0", name, n)
		}
	}
}

// countingGeocoderStub counts lookups made through it.
type countingGeocoderStub struct {
	calls atomic.Int32
	next  geo.Geocoder
}

func (c *countingGeocoderStub) Locate(ctx context.Context, lat, lon float64) (geo.Match, error) {
	c.calls.Add(1)
	return c.next.Locate(ctx, lat, lon)
}

type erroringGeocoder struct{}

func (erroringGeocoder) Locate(ctx context.Context, lat, lon float64) (geo.Match, error) {
	return geo.Match{}, errors.New("connection refused")
}

func TestIngest_GeocoderErrorIsPersistenceFailure(t *testing.T) {
	f := newFixture(t, func(d *IngestDeps) { d.Geocoder = erroringGeocoder{} })

	_, err := f.ingest.Ingest(context.Background(), testUser, IngestRequest{Point: f.point(t, testutil.SanFrancisco)})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Ingest() error = %v, want ErrPersistence", err)
	}
}
