package recognition

import "math"

// RankSpecies returns the suggestion whose probability is closest to 1.
// The first occurrence wins ties. It returns nil for an empty list.
func RankSpecies(suggestions []Suggestion) *Suggestion {
	var top *Suggestion
	best := math.Inf(1)

	for i := range suggestions {
		d := math.Abs(suggestions[i].Probability - 1)
		if d < best {
			best = d
			top = &suggestions[i]
		}
	}

	return top
}

// RankDisease returns the suggestion with the highest probability.
// The first occurrence wins ties. It returns nil for an empty list.
func RankDisease(suggestions []Suggestion) *Suggestion {
	var top *Suggestion
	best := math.Inf(-1)

	for i := range suggestions {
		if p := suggestions[i].Probability; p > best {
			best = p
			top = &suggestions[i]
		}
	}

	return top
}

// Ranked pairs a suggestion list with its selected top entry.
type Ranked struct {
	Suggestions []Suggestion `json:"suggestions"`
	Top         *Suggestion  `json:"top_suggestion"`
}

// RankFunc selects a top suggestion.
type RankFunc func([]Suggestion) *Suggestion

// Rank applies fn to suggestions.
func Rank(suggestions []Suggestion, fn RankFunc) Ranked {
	return Ranked{
		Suggestions: suggestions,
		Top:         fn(suggestions),
	}
}
