package forcefield

import (
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Conversion factors to kcal/mol.
const (
	HartreeToKcalMol = 627.5095
	EVToKcalMol      = 23.0609
)

// NativeEnergies are the four single-point energies of the decomposition in
// the engine's native unit.
type NativeEnergies struct {
	Complex     float64
	Protein     float64
	LigandBound float64
	LigandFree  float64
}

// Normalize scales every component by factor.
func (e NativeEnergies) Normalize(factor float64) NativeEnergies {
	return NativeEnergies{
		Complex:     e.Complex * factor,
		Protein:     e.Protein * factor,
		LigandBound: e.LigandBound * factor,
		LigandFree:  e.LigandFree * factor,
	}
}

// Interaction is E_complex − (E_protein + E_ligand,bound).
func (e NativeEnergies) Interaction() float64 {
	return e.Complex - (e.Protein + e.LigandBound)
}

// Strain is E_ligand,bound − E_ligand,free.
func (e NativeEnergies) Strain() float64 {
	return e.LigandBound - e.LigandFree
}

// Decompose converts native energies to kcal/mol and derives interaction,
// strain and the composite score.
func Decompose(native NativeEnergies, factor float64, policy ScoringPolicy) pose.Energies {
	if policy == nil {
		policy = SumPolicy{}
	}
	k := native.Normalize(factor)
	interaction, strain := k.Interaction(), k.Strain()
	return pose.Energies{
		Interaction: interaction,
		Strain:      strain,
		TotalScore:  policy.Score(interaction, strain),
		Complex:     k.Complex,
		Protein:     k.Protein,
		LigandBound: k.LigandBound,
		LigandFree:  k.LigandFree,
	}
}
