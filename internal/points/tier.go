// Package points awards loyalty points and maps running totals to tiers.
package points

// Tier is a named loyalty level.
type Tier struct {
	Name      string `json:"name"`
	MinPoints int64  `json:"minPoints"`
}

// Tiers is ordered from highest threshold to lowest. The last entry is the
// default and must have MinPoints 0.
var Tiers = []Tier{
	{Name: "Legend", MinPoints: 25000},
	{Name: "Diamond", MinPoints: 10000},
	{Name: "Gold", MinPoints: 2500},
	{Name: "Silver", MinPoints: 500},
	{Name: "Bronze", MinPoints: 0},
}

// TierFor returns the first tier whose threshold total reaches. Zero and
// negative totals get the lowest tier.
func TierFor(total int64) Tier {
	for _, t := range Tiers {
		if total >= t.MinPoints {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// NextTier returns the tier above current and the points still needed.
// ok is false at the top tier.
func NextTier(total int64) (next Tier, needed int64, ok bool) {
	current := TierFor(total)
	for i, t := range Tiers {
		if t.Name == current.Name {
			if i == 0 {
				return Tier{}, 0, false
			}
			next = Tiers[i-1]
			return next, next.MinPoints - total, true
		}
	}
	return Tier{}, 0, false
}
