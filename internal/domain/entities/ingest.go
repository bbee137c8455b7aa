package entities

import "time"

// IngestBatch is the audit row written once per ingest call.
type IngestBatch struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UserID     int64     `gorm:"column:user_id;not null;index"`
	DeviceID   *int64    `gorm:"column:device_id"`
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
	Points     int       `gorm:"column:points;not null"`
	CellsCount int       `gorm:"column:cells_count;not null"`
	ResMin     int       `gorm:"column:res_min;not null"`
	ResMax     int       `gorm:"column:res_max;not null"`
}

func (IngestBatch) TableName() string { return "ingest_batches" }

// Discoveries lists what a single ingest saw for the first time.
type Discoveries struct {
	NewCountry     *PlaceRef `json:"new_country"`
	NewState       *PlaceRef `json:"new_state"`
	NewCellsCoarse []string  `json:"new_cells_coarse"`
	NewCellsFine   []string  `json:"new_cells_fine"`
}

// Revisits lists the cells a single ingest had already seen.
type Revisits struct {
	CellsCoarse []string `json:"cells_coarse"`
	CellsFine   []string `json:"cells_fine"`
}

// VisitCounts are the user's counters for the two touched cells after the ingest.
type VisitCounts struct {
	Coarse int64 `json:"coarse"`
	Fine   int64 `json:"fine"`
}

// IngestResult is the outcome of ingesting one location.
type IngestResult struct {
	Discoveries          Discoveries           `json:"discoveries"`
	Revisits             Revisits              `json:"revisits"`
	VisitCounts          VisitCounts           `json:"visit_counts"`
	AchievementsUnlocked []UnlockedAchievement `json:"achievements_unlocked"`
}

// NewIngestResult returns a result with empty, non-nil lists.
func NewIngestResult() *IngestResult {
	return &IngestResult{
		Discoveries: Discoveries{
			NewCellsCoarse: []string{},
			NewCellsFine:   []string{},
		},
		Revisits: Revisits{
			CellsCoarse: []string{},
			CellsFine:   []string{},
		},
		AchievementsUnlocked: []UnlockedAchievement{},
	}
}

// SkipReasonCellMismatch marks a batch item whose cell disagreed with its coordinates.
const SkipReasonCellMismatch = "h3_mismatch"

type SkippedItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type BatchDiscoveries struct {
	NewCountries   []PlaceRef `json:"new_countries"`
	NewRegions     []PlaceRef `json:"new_regions"`
	NewCellsCoarse int        `json:"new_cells_coarse"`
	NewCellsFine   int        `json:"new_cells_fine"`
}

// BatchResult is the outcome of ingesting a batch of locations.
type BatchResult struct {
	Processed            int                   `json:"processed"`
	Skipped              int                   `json:"skipped"`
	SkippedReasons       []SkippedItem         `json:"skipped_reasons"`
	Discoveries          BatchDiscoveries      `json:"discoveries"`
	AchievementsUnlocked []UnlockedAchievement `json:"achievements_unlocked"`
}

// NewBatchResult returns a result with empty, non-nil lists.
func NewBatchResult() *BatchResult {
	return &BatchResult{
		SkippedReasons: []SkippedItem{},
		Discoveries: BatchDiscoveries{
			NewCountries: []PlaceRef{},
			NewRegions:   []PlaceRef{},
		},
		AchievementsUnlocked: []UnlockedAchievement{},
	}
}
