package gormrepo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

type AchievementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.AchievementRepository = (*AchievementRepo)(nil)

func NewAchievementRepo(db *gorm.DB, baseLog *logger.Logger) *AchievementRepo {
	return &AchievementRepo{db: db, log: baseLog.With("repo", "AchievementRepo")}
}

func (r *AchievementRepo) List(ctx context.Context, tx *gorm.DB) ([]*entities.Achievement, error) {
	var out []*entities.Achievement
	if err := conn(tx, r.db).WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AchievementRepo) UnlockedIDs(ctx context.Context, tx *gorm.DB, userID int64) (map[int64]bool, error) {
	var ids []int64
	if err := conn(tx, r.db).WithContext(ctx).
		Model(&entities.UserAchievement{}).
		Where("user_id = ?", userID).
		Pluck("achievement_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Unlock inserts the (user, achievement) pair unless it already exists and
// reports whether this call inserted it.
func (r *AchievementRepo) Unlock(ctx context.Context, tx *gorm.DB, userID, achievementID int64, at time.Time) (bool, error) {
	row := entities.UserAchievement{
		UserID:        userID,
		AchievementID: achievementID,
		UnlockedAt:    normalizeTime(at),
	}
	res := conn(tx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type statusRow struct {
	Code        string
	Name        string
	Description string
	UnlockedAt  *time.Time
}

// ListWithStatus returns the whole catalog, flagging the user's unlocks.
func (r *AchievementRepo) ListWithStatus(ctx context.Context, tx *gorm.DB, userID int64) ([]entities.AchievementStatus, error) {
	var rows []statusRow
	err := conn(tx, r.db).WithContext(ctx).Raw(`
		SELECT a.code, a.name, a.description, ua.unlocked_at
		FROM achievements a
		LEFT JOIN user_achievements ua ON ua.achievement_id = a.id AND ua.user_id = ?
		ORDER BY a.id`, userID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toStatuses(rows), nil
}

// ListUnlocked returns the user's unlocks, most recent first.
func (r *AchievementRepo) ListUnlocked(ctx context.Context, tx *gorm.DB, userID int64) ([]entities.AchievementStatus, error) {
	var rows []statusRow
	err := conn(tx, r.db).WithContext(ctx).Raw(`
		SELECT a.code, a.name, a.description, ua.unlocked_at
		FROM achievements a
		JOIN user_achievements ua ON ua.achievement_id = a.id
		WHERE ua.user_id = ?
		ORDER BY ua.unlocked_at DESC, a.id`, userID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toStatuses(rows), nil
}

// Upsert inserts catalog entries by code and refreshes the text and criteria
// of existing ones. Ids of existing rows never change.
func (r *AchievementRepo) Upsert(ctx context.Context, tx *gorm.DB, achievements []*entities.Achievement) error {
	if len(achievements) == 0 {
		return nil
	}
	return conn(tx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "criteria_json"}),
		}).
		Create(&achievements).Error
}

func toStatuses(rows []statusRow) []entities.AchievementStatus {
	out := make([]entities.AchievementStatus, 0, len(rows))
	for _, row := range rows {
		s := entities.AchievementStatus{
			Code:        row.Code,
			Name:        row.Name,
			Description: row.Description,
			Unlocked:    row.UnlockedAt != nil,
		}
		if row.UnlockedAt != nil {
			t := row.UnlockedAt.UTC()
			s.UnlockedAt = &t
		}
		out = append(out, s)
	}
	return out
}
