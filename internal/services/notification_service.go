package services

import (
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
)

// NotificationService reports discoveries once an ingest has committed.
// There is no push channel to clients; discoveries are logged and counted.
type NotificationService struct {
	log *logger.Logger
}

func NewNotificationService(baseLog *logger.Logger) *NotificationService {
	return &NotificationService{log: baseLog.With("service", "NotificationService")}
}

// NotifyIngest reports the outcome of a single-location ingest.
func (s *NotificationService) NotifyIngest(userID int64, res *entities.IngestResult) {
	s.notify(userID,
		len(res.Discoveries.NewCellsFine), len(res.Discoveries.NewCellsCoarse),
		optionalRef(res.Discoveries.NewCountry), optionalRef(res.Discoveries.NewState),
		res.AchievementsUnlocked,
	)
}

// NotifyBatch reports the outcome of a batch ingest.
func (s *NotificationService) NotifyBatch(userID int64, res *entities.BatchResult) {
	s.notify(userID,
		res.Discoveries.NewCellsFine, res.Discoveries.NewCellsCoarse,
		res.Discoveries.NewCountries, res.Discoveries.NewRegions,
		res.AchievementsUnlocked,
	)
}

func (s *NotificationService) notify(userID int64, newFine, newCoarse int, countries, regions []entities.PlaceRef, unlocked []entities.UnlockedAchievement) {
	metrics.CellsDiscoveredTotal.WithLabelValues(entities.ResolutionFine.String()).Add(float64(newFine))
	metrics.CellsDiscoveredTotal.WithLabelValues(entities.ResolutionCoarse.String()).Add(float64(newCoarse))
	metrics.PlacesDiscoveredTotal.WithLabelValues("country").Add(float64(len(countries)))
	metrics.PlacesDiscoveredTotal.WithLabelValues("region").Add(float64(len(regions)))
	recordUnlocks(unlocked)

	for _, c := range countries {
		s.log.Info("country discovered", "user_id", userID, "country", c.Code, "name", c.Name)
	}
	for _, r := range regions {
		s.log.Info("region discovered", "user_id", userID, "region", r.Code, "name", r.Name)
	}
	for _, a := range unlocked {
		s.log.Info("achievement unlocked", "user_id", userID, "code", a.Code)
	}
	if newFine > 0 || newCoarse > 0 {
		s.log.Debug("cells discovered", "user_id", userID, "fine", newFine, "coarse", newCoarse)
	}
}

func optionalRef(ref *entities.PlaceRef) []entities.PlaceRef {
	if ref == nil {
		return nil
	}
	return []entities.PlaceRef{*ref}
}
