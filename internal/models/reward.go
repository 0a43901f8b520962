// Package models defines domain models for the gem progression engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// RarityTier is the ordered rarity of a reward kind.
type RarityTier int

// Rarity tiers, ordered from most to least common.
const (
	RarityCommon RarityTier = iota
	RarityUncommon
	RarityRare
	RarityEpic
	RarityLegendary
)

var rarityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary"}

// String returns the lowercase tier name.
func (r RarityTier) String() string {
	if r < RarityCommon || r > RarityLegendary {
		return fmt.Sprintf("rarity(%d)", int(r))
	}
	return rarityNames[r]
}

// MarshalText renders the tier by name in JSON payloads.
func (r RarityTier) MarshalText() ([]byte, error) {
	if r < RarityCommon || r > RarityLegendary {
		return nil, fmt.Errorf("unknown rarity tier %d", int(r))
	}
	return []byte(rarityNames[r]), nil
}

// UnmarshalText parses a tier name.
func (r *RarityTier) UnmarshalText(text []byte) error {
	tier, err := ParseRarity(string(text))
	if err != nil {
		return err
	}
	*r = tier
	return nil
}

// ParseRarity converts a tier name into a RarityTier.
func ParseRarity(name string) (RarityTier, error) {
	for i, n := range rarityNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return RarityTier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rarity tier %q", name)
}

// Slug identifies a reward kind. The set of slugs is closed; use ParseSlug at boundaries.
type Slug string

// Built-in reward kinds.
const (
	SlugQuartz    Slug = "quartz"
	SlugAmethyst  Slug = "amethyst"
	SlugTopaz     Slug = "topaz"
	SlugSapphire  Slug = "sapphire"
	SlugEmerald   Slug = "emerald"
	SlugRuby      Slug = "ruby"
	SlugMoonstone Slug = "moonstone"
	SlugDiamond   Slug = "diamond"
)

var knownSlugs = []Slug{
	SlugQuartz,
	SlugAmethyst,
	SlugTopaz,
	SlugSapphire,
	SlugEmerald,
	SlugRuby,
	SlugMoonstone,
	SlugDiamond,
}

// KnownSlugs returns every valid slug.
func KnownSlugs() []Slug {
	out := make([]Slug, len(knownSlugs))
	copy(out, knownSlugs)
	return out
}

// Valid reports whether s belongs to the closed slug set.
func (s Slug) Valid() bool {
	for _, k := range knownSlugs {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSlug validates raw input against the closed slug set.
func ParseSlug(raw string) (Slug, error) {
	s := Slug(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReward, raw)
	}
	return s, nil
}

// RewardDefinition is an immutable catalog entry for one reward kind.
type RewardDefinition struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        Slug       `gorm:"uniqueIndex;not null;size:50" json:"slug"`
	Name        string     `gorm:"not null;size:100" json:"name"`
	RarityTier  RarityTier `gorm:"not null" json:"rarity_tier"`
	PointWeight int        `gorm:"not null" json:"point_weight"`
	ImageRef    string     `gorm:"size:255" json:"image_ref"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName specifies the table name for RewardDefinition model.
func (RewardDefinition) TableName() string {
	return "reward_definitions"
}
