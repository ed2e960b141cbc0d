package structure

import (
	"github.com/turtacn/PoseRank/pkg/errors"
)

// ligandChainCandidates is the order in which a free chain id is picked for
// the ligand.
const ligandChainCandidates = "LMNOPQRSTUVWXYZABCDEFGHIJKlmnopqrstuvwxyz0123456789"

// AssembleComplex appends the ligand atoms to a copy of protein as a new
// chain. Every ligand atom gets residue name ligandResName and residue number
// 1. Neither input is modified.
func AssembleComplex(protein *Structure, ligand []Atom, ligandResName string) (*Structure, error) {
	if protein.Len() == 0 {
		return nil, errors.New(errors.ErrCodeStructureEmpty, "protein structure is empty")
	}
	if len(ligand) == 0 {
		return nil, errors.New(errors.ErrCodeStructureEmpty, "ligand has no atoms")
	}
	if ligandResName == "" {
		ligandResName = DefaultLigandResName
	}
	if protein.HasResidue(ligandResName) {
		return nil, errors.Newf(errors.ErrCodeStructureParse,
			"protein already contains residue %s", ligandResName)
	}

	chain := freeChainID(protein.ChainIDs())

	out := &Structure{Atoms: make([]Atom, 0, protein.Len()+len(ligand))}
	out.Atoms = append(out.Atoms, protein.Atoms...)
	for _, a := range ligand {
		a.ResName = ligandResName
		a.ResSeq = 1
		a.ICode = ""
		a.ChainID = chain
		a.HetAtm = true
		out.Atoms = append(out.Atoms, a)
	}
	return out, nil
}

func freeChainID(used map[string]struct{}) string {
	for _, r := range ligandChainCandidates {
		id := string(r)
		if _, taken := used[id]; !taken {
			return id
		}
	}
	return "L"
}
