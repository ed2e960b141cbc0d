package ranking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

type cacheKeyInput struct {
	PoseID          string      `json:"pose_id"`
	StructureCIF    string      `json:"structure_cif,omitempty"`
	ProteinPDB      string      `json:"protein_pdb,omitempty"`
	LigandSDF       string      `json:"ligand_sdf,omitempty"`
	EnergyMethod    pose.Method `json:"energy_method"`
	DistanceCutoff  float64     `json:"distance_cutoff"`
	UseChopping     bool        `json:"use_chopping"`
	OptimizeComplex bool        `json:"optimize_complex"`
	OptimizeLigand  bool        `json:"optimize_ligand"`
	LRCutoff        float64     `json:"lr_cutoff"`
}

// CacheKey identifies a pose evaluation by its input locators and every
// setting that changes the energies. Device selection is excluded: results
// do not depend on where they were computed.
func CacheKey(p *pose.Pose, eff pose.EffectiveConfig) string {
	in := cacheKeyInput{
		PoseID:          p.ID,
		StructureCIF:    p.StructureCIF,
		ProteinPDB:      p.ProteinPDB,
		LigandSDF:       p.LigandSDF,
		EnergyMethod:    eff.EnergyMethod,
		DistanceCutoff:  eff.DistanceCutoff,
		UseChopping:     eff.UseChopping,
		OptimizeComplex: eff.OptimizeComplex,
		OptimizeLigand:  eff.OptimizeLigand,
		LRCutoff:        eff.ResolvedLRCutoff(),
	}
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *Runner) lookup(ctx context.Context, key string, log logging.Logger) *pose.RankingResult {
	if r.cache == nil {
		return nil
	}
	cached, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Warn("result cache lookup failed", logging.Err(err))
		return nil
	}
	if !ok || !cached.IsSuccess() {
		return nil
	}
	r.metrics.ObserveCacheHit()
	log.Info("reusing cached result")
	cached.Cached = true
	cached.LocalArtifacts = pose.Artifacts{}
	return cached
}

func (r *Runner) store(ctx context.Context, key string, res *pose.RankingResult, log logging.Logger) {
	if r.cache == nil || res.Cached {
		return
	}
	if err := r.cache.Set(ctx, key, res); err != nil {
		log.Warn("result cache store failed", logging.Err(err))
	}
}
