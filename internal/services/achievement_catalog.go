package services

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"trekkr/internal/domain/entities"
)

//go:embed achievements.yaml
var defaultAchievementsYAML []byte

// AchievementDef is one entry of the achievement catalog file.
type AchievementDef struct {
	Code        string       `yaml:"code"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Criteria    criteriaYAML `yaml:"criteria"`
}

type criteriaYAML struct {
	Type      string   `yaml:"type"`
	Threshold *float64 `yaml:"threshold"`
	Count     *float64 `yaml:"count"`
}

type achievementCatalogYAML struct {
	Achievements []AchievementDef `yaml:"achievements"`
}

// LoadAchievementCatalog reads the catalog at path, or the built-in catalog
// when path is empty.
func LoadAchievementCatalog(path string) ([]AchievementDef, error) {
	data := defaultAchievementsYAML
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read achievement catalog: %w", err)
		}
		data = raw
	}
	return ParseAchievementCatalog(data)
}

// ParseAchievementCatalog decodes and validates a YAML catalog. Codes must
// be unique and every criteria must be of a known kind.
func ParseAchievementCatalog(data []byte) ([]AchievementDef, error) {
	var doc achievementCatalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode achievement catalog: %w", err)
	}
	seen := make(map[string]bool, len(doc.Achievements))
	for i, def := range doc.Achievements {
		if strings.TrimSpace(def.Code) == "" {
			return nil, fmt.Errorf("achievement %d: missing code", i)
		}
		if seen[def.Code] {
			return nil, fmt.Errorf("achievement %s: duplicate code", def.Code)
		}
		seen[def.Code] = true
		if _, err := def.criteria(); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", def.Code, err)
		}
	}
	return doc.Achievements, nil
}

func (d AchievementDef) criteria() (entities.Criteria, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"type":      d.Criteria.Type,
		"threshold": d.Criteria.Threshold,
		"count":     d.Criteria.Count,
	})
	if err != nil {
		return entities.Criteria{}, err
	}
	return entities.ParseCriteria(raw)
}

// Entity converts the definition to its stored form.
func (d AchievementDef) Entity() (*entities.Achievement, error) {
	c, err := d.criteria()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &entities.Achievement{
		Code:        d.Code,
		Name:        d.Name,
		Description: d.Description,
		Criteria:    datatypes.JSON(raw),
	}, nil
}
