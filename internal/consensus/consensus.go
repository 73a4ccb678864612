// Package consensus computes agreement statistics for Delphi rounds.
//
// All functions are pure: the same feedback always yields the same metrics.
package consensus

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/kpessa/delphi-webapp/internal/models"
)

// Weights of the combined consensus level
const (
	sdWeight        = 0.4
	averageWeight   = 0.3
	directionWeight = 0.3
)

// Calculate derives the round metrics from the round's feedback.
// memberCount is the panel's admin plus expert count; values below 1 are treated as 1.
func Calculate(feedback []models.Feedback, memberCount int) models.ConsensusMetrics {
	metrics := models.ConsensusMetrics{
		TotalFeedback:     len(feedback),
		TotalParticipants: countParticipants(feedback),
	}

	sample := flatten(feedback)
	if len(sample) == 0 {
		return metrics
	}

	mean, _ := stats.Mean(sample)
	sd, _ := stats.StandardDeviationPopulation(sample)

	metrics.StandardDeviation = sd
	metrics.AgreementScore = clampFloat(math.Abs(mean)/2, 0, 1)
	metrics.ConsensusLevel = level(sample, mean, sd)
	metrics.ParticipationRate = clampInt(
		int(math.Round(float64(metrics.TotalParticipants)/float64(max(memberCount, 1))*100)), 0, 100)

	return metrics
}

// level combines spread, magnitude and direction of the sample into a percentage
func level(sample []float64, mean, sd float64) int {
	if allEqual(sample) {
		return 100
	}

	sdConsensus := math.Max(0, (1-math.Min(sd, 1))*100)
	avgConsensus := math.Abs(mean) / 2 * 100
	directionConsensus := float64(majoritySign(sample)) / float64(len(sample)) * 100

	combined := sdWeight*sdConsensus + averageWeight*avgConsensus + directionWeight*directionConsensus
	return clampInt(int(math.Round(combined)), 0, 100)
}

func flatten(feedback []models.Feedback) []float64 {
	var sample []float64
	for _, fb := range feedback {
		for _, v := range fb.Agreements {
			sample = append(sample, float64(v))
		}
	}
	return sample
}

func countParticipants(feedback []models.Feedback) int {
	seen := make(map[string]struct{}, len(feedback))
	for _, fb := range feedback {
		if fb.ExpertID != "" {
			seen[fb.ExpertID] = struct{}{}
		}
	}
	return len(seen)
}

// majoritySign returns the size of the largest group among positive, negative and zero values
func majoritySign(sample []float64) int {
	var pos, neg, zero int
	for _, v := range sample {
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		default:
			zero++
		}
	}
	return max(pos, neg, zero)
}

func allEqual(sample []float64) bool {
	for _, v := range sample[1:] {
		if v != sample[0] {
			return false
		}
	}
	return true
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// ItemStats summarises the agreement levels given to one feedback item
type ItemStats struct {
	Mean              float64 `json:"mean"`
	Median            float64 `json:"median"`
	StandardDeviation float64 `json:"standardDeviation"`
	Participants      int     `json:"participants"`
	Consensus         int     `json:"consensus"`
	// Distribution counts levels -2..2, index 0 holding -2
	Distribution [5]int `json:"distribution"`
}

// Item computes per-item statistics for a feedback item's agreements
func Item(agreements models.Agreements) ItemStats {
	var s ItemStats
	if len(agreements) == 0 {
		return s
	}

	values := make([]float64, 0, len(agreements))
	for _, v := range agreements {
		values = append(values, float64(v))
		if v >= models.MinAgreement && v <= models.MaxAgreement {
			s.Distribution[v-models.MinAgreement]++
		}
	}

	s.Participants = len(values)
	s.Mean, s.StandardDeviation = stat.PopMeanStdDev(values, nil)
	s.Median, _ = stats.Median(values)
	s.Consensus = int(math.Round(math.Max(0, (1-math.Min(s.StandardDeviation, 1))*100)))
	return s
}
