package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Achievement is a catalog entry. Criteria is stored as a JSON blob and
// decoded into a Criteria value at evaluation time.
type Achievement struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"-"`
	Code        string         `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Name        string         `gorm:"size:128;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Criteria    datatypes.JSON `gorm:"column:criteria_json" json:"-"`
	CreatedAt   time.Time      `json:"-"`
}

func (Achievement) TableName() string { return "achievements" }

// UserAchievement records that a user unlocked an achievement. The pair is
// unique, so an unlock can be inserted at most once.
type UserAchievement struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        int64     `gorm:"column:user_id;not null;uniqueIndex:uq_user_achievement,priority:1"`
	AchievementID int64     `gorm:"column:achievement_id;not null;uniqueIndex:uq_user_achievement,priority:2"`
	UnlockedAt    time.Time `gorm:"column:unlocked_at;not null"`
}

func (UserAchievement) TableName() string { return "user_achievements" }

// AchievementStatus is an achievement as seen by one user.
type AchievementStatus struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at"`
}

// UnlockedAchievement is reported in ingest responses when an achievement
// was unlocked by that call.
type UnlockedAchievement struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CriteriaKind names the statistic an achievement is measured against.
type CriteriaKind string

const (
	CriteriaCellsTotal         CriteriaKind = "cells_total"
	CriteriaCountries          CriteriaKind = "countries"
	CriteriaRegions            CriteriaKind = "regions"
	CriteriaContinents         CriteriaKind = "continents"
	CriteriaRegionsInCountry   CriteriaKind = "regions_in_country"
	CriteriaHemispheres        CriteriaKind = "hemispheres"
	CriteriaUniqueDays         CriteriaKind = "unique_days"
	CriteriaCountryCoveragePct CriteriaKind = "country_coverage_pct"
	CriteriaRegionCoveragePct  CriteriaKind = "region_coverage_pct"
)

var ErrUnknownCriteria = errors.New("unknown achievement criteria")

// Criteria is a decoded achievement rule: the user's statistic for Kind must
// reach Threshold. Coverage thresholds are fractions in [0, 1].
type Criteria struct {
	Kind      CriteriaKind
	Threshold float64
}

type criteriaJSON struct {
	Type      CriteriaKind `json:"type"`
	Threshold *float64     `json:"threshold,omitempty"`
	Count     *float64     `json:"count,omitempty"`
}

// ParseCriteria decodes the JSON blob stored on an achievement. Hemisphere
// rules carry their target in "count", every other kind in "threshold".
func ParseCriteria(raw []byte) (Criteria, error) {
	if len(raw) == 0 {
		return Criteria{}, fmt.Errorf("%w: empty", ErrUnknownCriteria)
	}
	var doc criteriaJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Criteria{}, fmt.Errorf("decode criteria: %w", err)
	}
	c := Criteria{Kind: doc.Type}
	switch doc.Type {
	case CriteriaHemispheres:
		if doc.Count != nil {
			c.Threshold = *doc.Count
		} else if doc.Threshold != nil {
			c.Threshold = *doc.Threshold
		}
	case CriteriaCellsTotal, CriteriaCountries, CriteriaRegions, CriteriaContinents,
		CriteriaRegionsInCountry, CriteriaUniqueDays,
		CriteriaCountryCoveragePct, CriteriaRegionCoveragePct:
		if doc.Threshold != nil {
			c.Threshold = *doc.Threshold
		}
	default:
		return Criteria{}, fmt.Errorf("%w: %q", ErrUnknownCriteria, doc.Type)
	}
	return c, nil
}

// MarshalJSON writes the criteria in its stored form.
func (c Criteria) MarshalJSON() ([]byte, error) {
	v := c.Threshold
	doc := criteriaJSON{Type: c.Kind}
	if c.Kind == CriteriaHemispheres {
		doc.Count = &v
	} else {
		doc.Threshold = &v
	}
	return json.Marshal(doc)
}

// UserStats are the aggregates achievements are evaluated against. All of
// them are computed over fine-resolution visits only.
type UserStats struct {
	CellsTotal          int64
	Countries           int64
	Regions             int64
	Continents          int64
	MaxRegionsInCountry int64
	Hemispheres         int64
	UniqueDays          int64
	MaxCountryCoverage  float64
	MaxRegionCoverage   float64
}

// SatisfiedBy reports whether stats meet the criteria.
func (c Criteria) SatisfiedBy(stats UserStats) bool {
	var value float64
	switch c.Kind {
	case CriteriaCellsTotal:
		value = float64(stats.CellsTotal)
	case CriteriaCountries:
		value = float64(stats.Countries)
	case CriteriaRegions:
		value = float64(stats.Regions)
	case CriteriaContinents:
		value = float64(stats.Continents)
	case CriteriaRegionsInCountry:
		value = float64(stats.MaxRegionsInCountry)
	case CriteriaHemispheres:
		value = float64(stats.Hemispheres)
	case CriteriaUniqueDays:
		value = float64(stats.UniqueDays)
	case CriteriaCountryCoveragePct:
		value = stats.MaxCountryCoverage
	case CriteriaRegionCoveragePct:
		value = stats.MaxRegionCoverage
	default:
		return false
	}
	return value >= c.Threshold
}
