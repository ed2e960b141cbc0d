package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/PoseRank/pkg/types/pose"
)

func success(id string, interaction, strain float64, d time.Duration) *pose.RankingResult {
	r := pose.Succeeded(id, pose.MethodGFN2, pose.DeviceCPU, pose.Energies{
		Interaction: interaction, Strain: strain, TotalScore: interaction + strain,
	})
	r.SetDuration(d)
	return r
}

func TestSummarize(t *testing.T) {
	fallback := success("c", -30, 6, 3*time.Second)
	fallback.Attempts = 2
	cached := success("d", -20, 4, time.Second)
	cached.Cached = true
	failed := pose.Failed("e", pose.KindDeviceFault, "cuda")
	failed.SetDuration(500 * time.Millisecond)

	results := []*pose.RankingResult{
		success("a", -10, 2, 2*time.Second),
		success("b", -40, 8, 4*time.Second),
		fallback,
		cached,
		failed,
		pose.Failed("f", pose.KindInputValidation, "no ligand"),
	}
	s := Summarize("batch_1", results, 11*time.Second)

	assert.Equal(t, "batch_1", s.BatchID)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 4, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, map[pose.ErrorKind]int{pose.KindDeviceFault: 1, pose.KindInputValidation: 1}, s.FailuresByKind)
	assert.Equal(t, 1, s.Fallbacks)
	assert.Equal(t, 1, s.CacheHits)

	assert.Equal(t, time.Duration(0), s.MinPoseDuration)
	assert.Equal(t, 4*time.Second, s.MaxPoseDuration)
	assert.Equal(t, 10500*time.Millisecond/6, s.MeanPoseDuration)
	assert.Equal(t, 11*time.Second, s.TotalDuration)

	assert.Equal(t, pose.Distribution{Count: 4, Min: -40, Max: -10, Mean: -25, Median: -25}, s.Interaction)
	assert.Equal(t, 4, s.Strain.Count)
	assert.InDelta(t, 5.0, s.Strain.Median, 1e-9)
	assert.InDelta(t, -20.0, s.TotalScore.Mean, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize("b", nil, 0)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.Succeeded)
	assert.NotNil(t, s.FailuresByKind)
	assert.Equal(t, pose.Distribution{}, s.Interaction)
}

func TestDistribution_OddCount(t *testing.T) {
	d := distribution([]float64{3, -1, 2})
	assert.Equal(t, pose.Distribution{Count: 3, Min: -1, Max: 3, Mean: 4.0 / 3, Median: 2}, d)
}
