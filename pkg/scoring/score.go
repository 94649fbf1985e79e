package scoring

import (
	"math"
)

// maxScore is the upper bound for per-POI and aggregate scores.
const maxScore = 10.0

// PoiDistance is a single POI observation fed into the scorer: an opaque id,
// a free-text category and the distance from the scored location.
type PoiDistance struct {
	PoiID      string  `json:"poiId"`
	Category   string  `json:"category"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distanceKm"`
}

// PoiScore is the scored counterpart of a PoiDistance. It is derived once
// and never mutated afterwards.
type PoiScore struct {
	PoiID      string  `json:"poiId"`
	Category   string  `json:"category"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distanceKm"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
}

// ScoreDistance converts a distance to a per-POI score using the linear
// shape. Score decreases strictly with distance, reaches zero at the cutoff
// and grants full credit at zero distance.
//
// The zero-distance branch intentionally returns the base score without
// re-clamping: with the seeded formulas the base score never exceeds 10,
// and a misconfigured base score above 10 leaks through here unchanged.
// Unrecognized shape tags behave as linear; non-linear shapes are an
// unfinished extension point, not implemented math.
func ScoreDistance(distanceKm float64, formula Formula) float64 {
	if distanceKm <= 0 {
		return formula.BaseScore
	}
	if distanceKm >= formula.MaxDistanceKm {
		return 0
	}

	score := formula.BaseScore * (1 - distanceKm/formula.MaxDistanceKm)
	return math.Max(0, math.Min(maxScore, score))
}

// ScorePois scores every observation against the registry's formula for its
// category.
func (r *Registry) ScorePois(pois []PoiDistance) []PoiScore {
	scores := make([]PoiScore, 0, len(pois))
	for _, p := range pois {
		formula := r.Lookup(p.Category)
		scores = append(scores, PoiScore{
			PoiID:      p.PoiID,
			Category:   p.Category,
			Name:       p.Name,
			DistanceKm: p.DistanceKm,
			Score:      ScoreDistance(p.DistanceKm, formula),
			Weight:     formula.Weight,
		})
	}
	return scores
}

// CategoryAverages computes the arithmetic mean score per category.
// Categories with no POIs in the input are absent from the result, never
// zero-filled: the overall aggregation only sees categories that actually
// had at least one POI nearby.
func CategoryAverages(scores []PoiScore) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range scores {
		sums[s.Category] += s.Score
		counts[s.Category]++
	}

	averages := make(map[string]float64, len(sums))
	for category, sum := range sums {
		averages[category] = sum / float64(counts[category])
	}
	return averages
}

// OverallScore combines category averages into one number using the
// registry weights: sum(score_i * weight_i) / sum(weight_i). An empty input
// or a zero weight sum yields 0.
func (r *Registry) OverallScore(categoryScores map[string]float64) float64 {
	if len(categoryScores) == 0 {
		return 0
	}

	var weightedSum, totalWeight float64
	for category, score := range categoryScores {
		weight := r.Weight(category)
		weightedSum += score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// Round2 rounds a score to two decimal places for the response boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
