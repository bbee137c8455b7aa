package services

import (
	"context"
	"time"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
	"trekkr/internal/repository"
)

// AchievementService evaluates achievement criteria against a user's visit
// statistics and records unlocks.
type AchievementService struct {
	db    *gorm.DB
	repo  repository.AchievementRepository
	stats repository.StatsRepository
	log   *logger.Logger
}

func NewAchievementService(
	db *gorm.DB,
	repo repository.AchievementRepository,
	stats repository.StatsRepository,
	baseLog *logger.Logger,
) *AchievementService {
	return &AchievementService{
		db:    db,
		repo:  repo,
		stats: stats,
		log:   baseLog.With("service", "AchievementService"),
	}
}

// Evaluate unlocks every achievement the user now qualifies for and returns
// only the ones this call unlocked. It runs inside the caller's transaction,
// so unlocks commit or roll back together with the visits that earned them.
//
// Already unlocked achievements are not re-checked. Two evaluators racing
// on the same user both try the insert; only the one whose row lands
// reports the unlock.
func (s *AchievementService) Evaluate(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) ([]entities.UnlockedAchievement, error) {
	unlocked := []entities.UnlockedAchievement{}

	all, err := s.repo.List(ctx, tx)
	if err != nil {
		return nil, err
	}
	have, err := s.repo.UnlockedIDs(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	pending := make([]*entities.Achievement, 0, len(all))
	for _, a := range all {
		if !have[a.ID] {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return unlocked, nil
	}

	stats, err := s.stats.UserStats(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	for _, a := range pending {
		criteria, err := entities.ParseCriteria(a.Criteria)
		if err != nil {
			s.log.Warn("skipping achievement with unreadable criteria", "code", a.Code, "error", err)
			continue
		}
		if !criteria.SatisfiedBy(*stats) {
			continue
		}
		inserted, err := s.repo.Unlock(ctx, tx, userID, a.ID, now)
		if err != nil {
			return nil, err
		}
		if inserted {
			unlocked = append(unlocked, entities.UnlockedAchievement{
				Code:        a.Code,
				Name:        a.Name,
				Description: a.Description,
			})
		}
	}
	return unlocked, nil
}

// List returns the whole catalog with the user's unlock status.
func (s *AchievementService) List(ctx context.Context, userID int64) ([]entities.AchievementStatus, error) {
	out, err := s.repo.ListWithStatus(ctx, nil, userID)
	if err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

// Unlocked returns only the achievements the user has unlocked, newest first.
func (s *AchievementService) Unlocked(ctx context.Context, userID int64) ([]entities.AchievementStatus, error) {
	out, err := s.repo.ListUnlocked(ctx, nil, userID)
	if err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

// SeedCatalog upserts defs by code. Running it again with the same defs
// changes nothing.
func (s *AchievementService) SeedCatalog(ctx context.Context, defs []AchievementDef) error {
	rows := make([]*entities.Achievement, 0, len(defs))
	for _, def := range defs {
		a, err := def.Entity()
		if err != nil {
			return invalidInput(err)
		}
		rows = append(rows, a)
	}
	if err := s.repo.Upsert(ctx, s.db, rows); err != nil {
		return persistence(err)
	}
	s.log.Info("achievement catalog seeded", "count", len(rows))
	return nil
}

// recordUnlocks is called after commit.
func recordUnlocks(unlocked []entities.UnlockedAchievement) {
	for _, a := range unlocked {
		metrics.AchievementsUnlockedTotal.WithLabelValues(a.Code).Inc()
	}
}
