package structure

import (
	"github.com/turtacn/PoseRank/pkg/errors"
)

// ProteinAtomIndices returns the 1-based positions of protein atoms, i.e.
// atoms that belong neither to the ligand nor to solvent or ions. Hydrogens
// are skipped unless includeH is set.
//
// Positions equal serials for any structure written by WritePDB, which is the
// atom numbering semi-empirical engines expect in constraint input.
func ProteinAtomIndices(s *Structure, ligandResName string, includeH bool) []int {
	if ligandResName == "" {
		ligandResName = DefaultLigandResName
	}
	out := make([]int, 0, s.Len())
	for i := range s.Atoms {
		a := &s.Atoms[i]
		if a.ResName == ligandResName || IsIgnoredResidue(a.ResName) {
			continue
		}
		if !includeH && a.IsHydrogen() {
			continue
		}
		out = append(out, i+1)
	}
	return out
}

// Split separates a complex into its protein part (solvent and ions
// excluded) and its ligand part.
func Split(s *Structure, ligandResName string) (protein, ligand *Structure, err error) {
	if ligandResName == "" {
		ligandResName = DefaultLigandResName
	}
	protein = s.Select(func(a *Atom) bool {
		return a.ResName != ligandResName && !IsIgnoredResidue(a.ResName)
	})
	ligand = s.Select(func(a *Atom) bool { return a.ResName == ligandResName })

	if ligand.Len() == 0 {
		return nil, nil, errors.Newf(errors.ErrCodeLigandNotFound, "no residue named %s", ligandResName)
	}
	if protein.Len() == 0 {
		return nil, nil, errors.New(errors.ErrCodeStructureEmpty, "complex has no protein atoms")
	}
	return protein, ligand, nil
}
