package ranking

import (
	"sort"
	"time"

	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Summarize aggregates the results of a batch. It is informational only and
// never alters results.
func Summarize(batchID string, results []*pose.RankingResult, total time.Duration) *pose.Summary {
	s := &pose.Summary{
		BatchID:        batchID,
		Total:          len(results),
		FailuresByKind: make(map[pose.ErrorKind]int),
		TotalDuration:  total,
	}

	var interaction, strain, score []float64
	var sum time.Duration
	timed := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.IsSuccess() {
			s.Succeeded++
			if e, ok := r.Energies(); ok {
				interaction = append(interaction, e.Interaction)
				strain = append(strain, e.Strain)
				score = append(score, e.TotalScore)
			}
		} else {
			s.Failed++
			s.FailuresByKind[r.ErrorKind]++
		}
		if r.Attempts > 1 {
			s.Fallbacks++
		}
		if r.Cached {
			s.CacheHits++
		}

		d := r.Duration
		sum += d
		if timed == 0 || d < s.MinPoseDuration {
			s.MinPoseDuration = d
		}
		if d > s.MaxPoseDuration {
			s.MaxPoseDuration = d
		}
		timed++
	}
	if timed > 0 {
		s.MeanPoseDuration = sum / time.Duration(timed)
	}
	s.Interaction = distribution(interaction)
	s.Strain = distribution(strain)
	s.TotalScore = distribution(score)
	return s
}

func distribution(values []float64) pose.Distribution {
	d := pose.Distribution{Count: len(values)}
	if len(values) == 0 {
		return d
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]
	d.Mean = sum / float64(len(sorted))
	if n := len(sorted); n%2 == 1 {
		d.Median = sorted[n/2]
	} else {
		d.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return d
}
