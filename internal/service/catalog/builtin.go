package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aimd54/gem-progression/internal/models"
)

//go:embed catalog.yaml
var builtinCatalog []byte

type catalogFile struct {
	Rewards []catalogEntry `yaml:"rewards"`
}

type catalogEntry struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Rarity      string `yaml:"rarity"`
	PointWeight int    `yaml:"point_weight"`
	ImageRef    string `yaml:"image_ref"`
}

// Builtin returns the embedded set of reward definitions.
func Builtin() ([]models.RewardDefinition, error) {
	return parseDefinitions(builtinCatalog)
}

func parseDefinitions(data []byte) ([]models.RewardDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Rewards) == 0 {
		return nil, fmt.Errorf("catalog defines no rewards")
	}

	seen := make(map[models.Slug]bool, len(file.Rewards))
	defs := make([]models.RewardDefinition, 0, len(file.Rewards))
	for i, e := range file.Rewards {
		slug, err := models.ParseSlug(e.Slug)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if seen[slug] {
			return nil, fmt.Errorf("catalog entry %d: duplicate slug %s", i, slug)
		}
		seen[slug] = true

		rarity, err := models.ParseRarity(e.Rarity)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", slug, err)
		}
		if e.PointWeight <= 0 {
			return nil, fmt.Errorf("catalog entry %s: point_weight must be positive", slug)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %s: name is required", slug)
		}

		defs = append(defs, models.RewardDefinition{
			Slug:        slug,
			Name:        e.Name,
			RarityTier:  rarity,
			PointWeight: e.PointWeight,
			ImageRef:    e.ImageRef,
		})
	}
	return defs, nil
}
