package chat

// LevelTier is one row of the fixed XP threshold table.
type LevelTier struct {
	Rank        int    `json:"rank"`
	Name        string `json:"name"`
	XPThreshold int    `json:"xp_threshold"`
}

// levelTiers is ordered ascending by threshold. LevelFor depends on that.
var levelTiers = []LevelTier{
	{Rank: 1, Name: "Rookie Ranter", XPThreshold: 0},
	{Rank: 2, Name: "Sideline Sniper", XPThreshold: 100},
	{Rank: 3, Name: "Halftime Heckler", XPThreshold: 300},
	{Rank: 4, Name: "Fourth-Quarter Fiend", XPThreshold: 600},
	{Rank: 5, Name: "Hall-of-Flame", XPThreshold: 1000},
}

// LevelTiers returns a copy of the full tier table, ascending by rank.
func LevelTiers() []LevelTier {
	tiers := make([]LevelTier, len(levelTiers))
	copy(tiers, levelTiers)
	return tiers
}

// LevelFor resolves the highest tier whose threshold does not exceed xp.
// Negative xp falls back to the lowest tier.
func LevelFor(xp int) LevelTier {
	for i := len(levelTiers) - 1; i >= 0; i-- {
		if xp >= levelTiers[i].XPThreshold {
			return levelTiers[i]
		}
	}
	return levelTiers[0]
}

// DetectLevelUp returns the newly reached tier when the xp change crosses
// a tier boundary, nil otherwise. It never re-fires for movement within a
// tier, so the celebratory notification is one-time per transition.
func DetectLevelUp(oldXP, newXP int) *LevelTier {
	before := LevelFor(oldXP)
	after := LevelFor(newXP)
	if after.Rank > before.Rank {
		tier := after
		return &tier
	}
	return nil
}
