package gormrepo_test

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/geo"
	"trekkr/internal/repository/gormrepo"
	"trekkr/internal/testutil"
)

// forEachBackend runs fn on a fresh SQLite database and, when configured,
// inside a rolled-back PostgreSQL transaction.
func forEachBackend(t *testing.T, fn func(t *testing.T, db *gorm.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, testutil.SQLiteDB(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, testutil.Tx(t, testutil.PostgresDB(t)))
	})
}

func ptr[T any](v T) *T { return &v }

func fineCell(t *testing.T, c entities.Coordinate) (fine, coarse string, center entities.Coordinate) {
	t.Helper()
	g := geo.NewGrid()
	fine, err := g.FineCell(c.Latitude, c.Longitude)
	if err != nil {
		t.Fatalf("FineCell() error = %v", err)
	}
	coarse, _ = g.CoarseParent(fine)
	center, _ = g.Center(fine)
	return fine, coarse, center
}

func TestCellStore_UpsertVisit_NewThenRevisit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		store := gormrepo.NewCellStore(db, testutil.Logger(t))
		cell, _, center := fineCell(t, testutil.SanFrancisco)

		t0 := time.Date(2024, 12, 28, 10, 0, 0, 0, time.UTC)
		in := entities.VisitUpsert{
			UserID: 1, CellID: cell, Resolution: entities.ResolutionFine, Center: center,
			DeviceID: ptr(int64(5)), FirstSeen: t0, LastSeen: t0,
		}

		first, err := store.UpsertVisit(ctx, nil, in)
		if err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}
		if !first.IsNew || first.VisitCount != 1 {
			t.Errorf("first upsert = %+v, want new with count 1", first)
		}

		// An older fix must not move last_visited_at backwards.
		older := in
		older.DeviceID = nil
		older.FirstSeen, older.LastSeen = t0.Add(-time.Hour), t0.Add(-time.Hour)
		second, err := store.UpsertVisit(ctx, nil, older)
		if err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}
		if second.IsNew || second.VisitCount != 2 {
			t.Errorf("second upsert = %+v, want revisit with count 2", second)
		}

		newer := in
		newer.DeviceID = ptr(int64(6))
		newer.FirstSeen, newer.LastSeen = t0.Add(time.Hour), t0.Add(time.Hour)
		if _, err := store.UpsertVisit(ctx, nil, newer); err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}

		visit, err := store.GetVisit(ctx, nil, 1, cell)
		if err != nil || visit == nil {
			t.Fatalf("GetVisit() = %v, %v", visit, err)
		}
		if visit.VisitCount != 3 {
			t.Errorf("VisitCount = %d, want 3", visit.VisitCount)
		}
		if !visit.FirstVisitedAt.Equal(t0) {
			t.Errorf("FirstVisitedAt = %v, want %v", visit.FirstVisitedAt, t0)
		}
		if !visit.LastVisitedAt.Equal(t0.Add(time.Hour)) {
			t.Errorf("LastVisitedAt = %v, want %v", visit.LastVisitedAt, t0.Add(time.Hour))
		}
		if visit.DeviceID == nil || *visit.DeviceID != 6 {
			t.Errorf("DeviceID = %v, want 6", visit.DeviceID)
		}

		global, err := store.GetCell(ctx, nil, cell)
		if err != nil || global == nil {
			t.Fatalf("GetCell() = %v, %v", global, err)
		}
		if global.VisitCount != 3 || global.Resolution != entities.ResolutionFine {
			t.Errorf("cell = %+v", global)
		}
	})
}

func TestCellStore_CountryNeverDowngraded(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		store := gormrepo.NewCellStore(db, testutil.Logger(t))
		cell, _, center := fineCell(t, testutil.NewYork)
		now := time.Now().UTC()

		in := entities.VisitUpsert{UserID: 1, CellID: cell, Resolution: entities.ResolutionFine, Center: center, FirstSeen: now, LastSeen: now}
		if _, err := store.UpsertVisit(ctx, nil, in); err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}

		in.UserID = 2
		in.CountryID, in.RegionID = ptr(int64(1)), ptr(int64(10))
		if _, err := store.UpsertVisit(ctx, nil, in); err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}

		in.UserID = 3
		in.CountryID, in.RegionID = nil, nil
		if _, err := store.UpsertVisit(ctx, nil, in); err != nil {
			t.Fatalf("UpsertVisit() error = %v", err)
		}

		global, _ := store.GetCell(ctx, nil, cell)
		if global.CountryID == nil || *global.CountryID != 1 || global.RegionID == nil || *global.RegionID != 10 {
			t.Errorf("cell country/region = %v/%v, want 1/10", global.CountryID, global.RegionID)
		}
		if global.VisitCount != 3 {
			t.Errorf("global VisitCount = %d, want 3", global.VisitCount)
		}
	})
}

func TestCellStore_PlaceQueries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		store := gormrepo.NewCellStore(db, testutil.Logger(t))
		now := time.Now().UTC()

		sf, sfCoarse, sfCenter := fineCell(t, testutil.SanFrancisco)
		la, _, laCenter := fineCell(t, testutil.LosAngeles)

		upsert := func(userID int64, cell string, res entities.Resolution, center entities.Coordinate) {
			t.Helper()
			_, err := store.UpsertVisit(ctx, nil, entities.VisitUpsert{
				UserID: userID, CellID: cell, Resolution: res, Center: center,
				CountryID: ptr(int64(1)), RegionID: ptr(int64(10)), FirstSeen: now, LastSeen: now,
			})
			if err != nil {
				t.Fatalf("UpsertVisit() error = %v", err)
			}
		}
		upsert(1, sf, entities.ResolutionFine, sfCenter)
		upsert(1, sfCoarse, entities.ResolutionCoarse, sfCenter)

		other, err := store.HasOtherFineVisitInCountry(ctx, nil, 1, 1, sf)
		if err != nil {
			t.Fatalf("HasOtherFineVisitInCountry() error = %v", err)
		}
		if other {
			t.Error("coarse visit or the excluded cell counted as another fine visit")
		}

		upsert(1, la, entities.ResolutionFine, laCenter)
		if other, _ := store.HasOtherFineVisitInCountry(ctx, nil, 1, 1, sf); !other {
			t.Error("expected another fine visit in country")
		}
		if other, _ := store.HasOtherFineVisitInRegion(ctx, nil, 1, 10, la); !other {
			t.Error("expected another fine visit in region")
		}
		if other, _ := store.HasOtherFineVisitInRegion(ctx, nil, 2, 10, la); other {
			t.Error("another user's visits must not count")
		}

		countries, err := store.VisitedCountryIDs(ctx, nil, 1)
		if err != nil {
			t.Fatalf("VisitedCountryIDs() error = %v", err)
		}
		if len(countries) != 1 || countries[0] != 1 {
			t.Errorf("VisitedCountryIDs() = %v, want [1]", countries)
		}
		regions, _ := store.VisitedRegionIDs(ctx, nil, 2)
		if len(regions) != 0 {
			t.Errorf("VisitedRegionIDs() for unknown user = %v", regions)
		}
	})
}

// Both writers are inside their transactions before either touches the
// row, so the upsert itself has to settle who saw the cell first.
func TestCellStore_ConcurrentFirstVisit(t *testing.T) {
	backends := []struct {
		name string
		open func(testing.TB) *gorm.DB
	}{
		{"sqlite", testutil.SQLiteDBDeferred},
		{"postgres", testutil.PostgresDB},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := b.open(t)
			store := gormrepo.NewCellStore(db, testutil.Logger(t))
			cell, _, center := fineCell(t, testutil.SanFrancisco)
			now := time.Now().UTC()
			userID := testutil.UniqueUserID()
			testutil.CleanupUser(t, db, userID)

			results := make([]*entities.VisitResult, 2)
			errs := testutil.ConcurrentTx(t, db, 2, func(i int, tx *gorm.DB) error {
				r, err := store.UpsertVisit(context.Background(), tx, entities.VisitUpsert{
					UserID: userID, CellID: cell, Resolution: entities.ResolutionFine, Center: center,
					FirstSeen: now, LastSeen: now,
				})
				results[i] = r
				return err
			})

			newCount := 0
			for i := range results {
				if errs[i] != nil {
					t.Fatalf("writer %d error = %v", i, errs[i])
				}
				if results[i].IsNew {
					newCount++
				}
			}
			if newCount != 1 {
				t.Errorf("writers reporting new = %d, want exactly 1", newCount)
			}

			var rows int64
			db.Model(&entities.UserCellVisit{}).Where("user_id = ? AND cell_id = ?", userID, cell).Count(&rows)
			if rows != 1 {
				t.Errorf("visit rows = %d, want 1", rows)
			}
			visit, _ := store.GetVisit(context.Background(), nil, userID, cell)
			if visit == nil || visit.VisitCount != 2 {
				t.Errorf("visit = %+v, want count 2", visit)
			}
		})
	}
}

func TestDeviceRepo_EnsureForUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		repo := gormrepo.NewDeviceRepo(db, testutil.Logger(t))

		d, err := repo.EnsureForUser(ctx, nil, 42, entities.DeviceMeta{})
		if err != nil {
			t.Fatalf("EnsureForUser() error = %v", err)
		}
		if d.DeviceName != entities.DefaultDeviceName || d.Platform != entities.DefaultPlatform {
			t.Errorf("defaults = %q/%q", d.DeviceName, d.Platform)
		}

		again, err := repo.EnsureForUser(ctx, nil, 42, entities.DeviceMeta{
			DeviceUUID: ptr("abc-123"), DeviceName: ptr("Pixel"), Platform: ptr("android"),
		})
		if err != nil {
			t.Fatalf("EnsureForUser() error = %v", err)
		}
		if again.ID != d.ID {
			t.Errorf("device id changed: %d -> %d", d.ID, again.ID)
		}

		stored, _ := repo.GetByUserID(ctx, nil, 42)
		if stored.DeviceName != "Pixel" || stored.Platform != "android" || stored.DeviceUUID == nil || *stored.DeviceUUID != "abc-123" {
			t.Errorf("stored device = %+v", stored)
		}
	})
}

func TestDeviceRepo_LostInsertRaceRecovers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		repo := gormrepo.NewDeviceRepo(db, testutil.Logger(t))

		winner, err := repo.EnsureForUser(ctx, nil, 7, entities.DeviceMeta{DeviceName: ptr("Winner")})
		if err != nil {
			t.Fatalf("EnsureForUser() error = %v", err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			loser, err := repo.CreateAfterMissedRead(ctx, tx, 7, entities.DeviceMeta{})
			if err != nil {
				return err
			}
			if loser.ID != winner.ID {
				t.Errorf("loser got device %d, want winner %d", loser.ID, winner.ID)
			}
			// The transaction must still be usable after the failed insert.
			_, err = repo.GetByUserID(ctx, tx, 7)
			return err
		})
		if err != nil {
			t.Fatalf("transaction error = %v", err)
		}

		var count int64
		db.Model(&entities.Device{}).Where("user_id = ?", 7).Count(&count)
		if count != 1 {
			t.Errorf("devices for user = %d, want 1", count)
		}
	})
}

func TestAchievementRepo_UnlockOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		repo := gormrepo.NewAchievementRepo(db, testutil.Logger(t))

		err := repo.Upsert(ctx, nil, []*entities.Achievement{
			{Code: "first_steps", Name: "First Steps", Description: "Visit your first cell", Criteria: []byte(`{"type":"cells_total","threshold":1}`)},
			{Code: "explorer", Name: "Explorer", Description: "Visit 100 cells", Criteria: []byte(`{"type":"cells_total","threshold":100}`)},
		})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		// Re-seeding is idempotent and refreshes text.
		err = repo.Upsert(ctx, nil, []*entities.Achievement{
			{Code: "first_steps", Name: "First Steps!", Description: "Visit your first cell", Criteria: []byte(`{"type":"cells_total","threshold":1}`)},
		})
		if err != nil {
			t.Fatalf("Upsert() again error = %v", err)
		}

		all, err := repo.List(ctx, nil)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 2 || all[0].Name != "First Steps!" {
			t.Fatalf("List() = %+v", all)
		}

		at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		inserted, err := repo.Unlock(ctx, nil, 9, all[0].ID, at)
		if err != nil || !inserted {
			t.Fatalf("Unlock() = %v, %v, want true", inserted, err)
		}
		inserted, err = repo.Unlock(ctx, nil, 9, all[0].ID, at.Add(time.Hour))
		if err != nil || inserted {
			t.Fatalf("second Unlock() = %v, %v, want false", inserted, err)
		}

		ids, _ := repo.UnlockedIDs(ctx, nil, 9)
		if !ids[all[0].ID] || ids[all[1].ID] {
			t.Errorf("UnlockedIDs() = %v", ids)
		}

		statuses, err := repo.ListWithStatus(ctx, nil, 9)
		if err != nil {
			t.Fatalf("ListWithStatus() error = %v", err)
		}
		if len(statuses) != 2 || !statuses[0].Unlocked || statuses[1].Unlocked {
			t.Errorf("ListWithStatus() = %+v", statuses)
		}
		if statuses[0].UnlockedAt == nil || !statuses[0].UnlockedAt.Equal(at) {
			t.Errorf("UnlockedAt = %v, want %v", statuses[0].UnlockedAt, at)
		}

		unlocked, _ := repo.ListUnlocked(ctx, nil, 9)
		if len(unlocked) != 1 || unlocked[0].Code != "first_steps" {
			t.Errorf("ListUnlocked() = %+v", unlocked)
		}
	})
}

func TestStatsRepo_UserStats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *gorm.DB) {
		ctx := context.Background()
		catalog := testutil.SeedCatalog(t, db)
		store := gormrepo.NewCellStore(db, testutil.Logger(t))
		stats := gormrepo.NewStatsRepo(db, testutil.Logger(t))

		day1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)
		visits := []struct {
			at      entities.Coordinate
			country *entities.Country
			region  *entities.Region
			when    time.Time
		}{
			{testutil.SanFrancisco, catalog.UnitedStates, catalog.California, day1},
			{testutil.LosAngeles, catalog.UnitedStates, catalog.California, day1},
			{testutil.SaltLakeCity, catalog.UnitedStates, catalog.Utah, day2},
			{testutil.Sydney, catalog.Australia, catalog.NewSouthWales, day2},
			{testutil.AtlanticOcean, nil, nil, day2},
		}
		for _, v := range visits {
			cell, coarse, center := fineCell(t, v.at)
			in := entities.VisitUpsert{UserID: 1, Center: center, FirstSeen: v.when, LastSeen: v.when}
			if v.country != nil {
				in.CountryID = &v.country.ID
				in.RegionID = &v.region.ID
			}
			for _, c := range []struct {
				id  string
				res entities.Resolution
			}{{coarse, entities.ResolutionCoarse}, {cell, entities.ResolutionFine}} {
				in.CellID, in.Resolution = c.id, c.res
				if _, err := store.UpsertVisit(ctx, nil, in); err != nil {
					t.Fatalf("UpsertVisit() error = %v", err)
				}
			}
		}

		got, err := stats.UserStats(ctx, nil, 1)
		if err != nil {
			t.Fatalf("UserStats() error = %v", err)
		}
		want := entities.UserStats{
			CellsTotal:          5,
			Countries:           2,
			Regions:             3,
			Continents:          2,
			MaxRegionsInCountry: 2,
			Hemispheres:         2,
			UniqueDays:          2,
			MaxCountryCoverage:  3.0 / 1000,
			MaxRegionCoverage:   2.0 / 1000,
		}
		if got.CellsTotal != want.CellsTotal || got.Countries != want.Countries || got.Regions != want.Regions ||
			got.Continents != want.Continents || got.MaxRegionsInCountry != want.MaxRegionsInCountry ||
			got.Hemispheres != want.Hemispheres || got.UniqueDays != want.UniqueDays {
			t.Errorf("UserStats() = %+v, want %+v", got, want)
		}
		if diff := got.MaxCountryCoverage - want.MaxCountryCoverage; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("MaxCountryCoverage = %v, want %v", got.MaxCountryCoverage, want.MaxCountryCoverage)
		}
		if diff := got.MaxRegionCoverage - want.MaxRegionCoverage; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("MaxRegionCoverage = %v, want %v", got.MaxRegionCoverage, want.MaxRegionCoverage)
		}

		empty, err := stats.UserStats(ctx, nil, 999)
		if err != nil {
			t.Fatalf("UserStats() empty error = %v", err)
		}
		if *empty != (entities.UserStats{}) {
			t.Errorf("UserStats() for new user = %+v, want zeros", empty)
		}
	})
}
