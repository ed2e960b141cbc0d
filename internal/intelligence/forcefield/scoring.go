package forcefield

import (
	"fmt"
	"strings"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// Scoring policy names.
const (
	PolicySum      = "sum"
	PolicyWeighted = "weighted"
)

// ScoringPolicy combines interaction and strain energy (kcal/mol) into the
// composite score used for ranking. Lower is better.
type ScoringPolicy interface {
	Name() string
	Score(interaction, strain float64) float64
}

// SumPolicy scores interaction + strain.
type SumPolicy struct{}

func (SumPolicy) Name() string { return PolicySum }

func (SumPolicy) Score(interaction, strain float64) float64 {
	return interaction + strain
}

// WeightedPolicy scores wI·interaction + wS·strain.
type WeightedPolicy struct {
	InteractionWeight float64
	StrainWeight      float64
}

func (p WeightedPolicy) Name() string {
	return fmt.Sprintf("%s(%g,%g)", PolicyWeighted, p.InteractionWeight, p.StrainWeight)
}

func (p WeightedPolicy) Score(interaction, strain float64) float64 {
	return p.InteractionWeight*interaction + p.StrainWeight*strain
}

// NewScoringPolicy resolves a policy by name. Weights apply to the weighted
// policy only and must be positive.
func NewScoringPolicy(name string, interactionWeight, strainWeight float64) (ScoringPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicySum:
		return SumPolicy{}, nil
	case PolicyWeighted:
		if interactionWeight <= 0 || strainWeight <= 0 {
			return nil, errors.Newf(errors.ErrCodeValidation,
				"weighted scoring needs positive weights, got %g and %g", interactionWeight, strainWeight)
		}
		return WeightedPolicy{InteractionWeight: interactionWeight, StrainWeight: strainWeight}, nil
	}
	return nil, errors.Newf(errors.ErrCodeValidation, "unknown scoring policy %q", name)
}
