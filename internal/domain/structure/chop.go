package structure

import (
	"github.com/turtacn/PoseRank/pkg/errors"
)

// DefaultChopCutoff is the residue contact distance in Å.
const DefaultChopCutoff = 5.0

// ChopOptions controls binding-site extraction.
type ChopOptions struct {
	LigandResName string
	// Cutoff is the contact distance in Å; a residue is kept when any of its
	// atoms is closer than Cutoff to any ligand atom.
	Cutoff float64
	// FillGaps closes gaps of at most FillGaps residues between two kept
	// residues of the same chain. Zero disables gap filling.
	FillGaps int
}

// Chop returns the binding site: every protein residue in contact with the
// ligand plus the ligand itself, in original order. Solvent and ions are
// never kept.
func Chop(s *Structure, opts ChopOptions) (*Structure, error) {
	if opts.LigandResName == "" {
		opts.LigandResName = DefaultLigandResName
	}
	if opts.Cutoff <= 0 {
		opts.Cutoff = DefaultChopCutoff
	}
	if s.Len() == 0 {
		return nil, errors.New(errors.ErrCodeStructureEmpty, "cannot chop an empty structure")
	}

	residues := s.Residues()

	var ligandAtoms []int
	var protein []int // indices into residues
	for ri, res := range residues {
		switch {
		case res.Key.ResName == opts.LigandResName:
			ligandAtoms = append(ligandAtoms, res.Atoms...)
		case !IsIgnoredResidue(res.Key.ResName):
			protein = append(protein, ri)
		}
	}
	if len(ligandAtoms) == 0 {
		return nil, errors.Newf(errors.ErrCodeLigandNotFound, "no residue named %s", opts.LigandResName)
	}

	cutoffSq := opts.Cutoff * opts.Cutoff
	keep := make(map[int]bool, len(protein))
	for _, ri := range protein {
		if inContact(s, residues[ri].Atoms, ligandAtoms, cutoffSq) {
			keep[ri] = true
		}
	}

	if opts.FillGaps > 0 {
		fillChainGaps(residues, protein, keep, opts.FillGaps)
	}

	out := &Structure{}
	for ri, res := range residues {
		if res.Key.ResName != opts.LigandResName && !keep[ri] {
			continue
		}
		for _, ai := range res.Atoms {
			out.Atoms = append(out.Atoms, s.Atoms[ai])
		}
	}
	return out, nil
}

func inContact(s *Structure, residueAtoms, ligandAtoms []int, cutoffSq float64) bool {
	for _, ai := range residueAtoms {
		a := &s.Atoms[ai]
		for _, li := range ligandAtoms {
			if a.DistanceSq(&s.Atoms[li]) < cutoffSq {
				return true
			}
		}
	}
	return false
}

// fillChainGaps marks residues lying between two kept residues of the same
// chain when the run of unkept residues is no longer than maxGap.
func fillChainGaps(residues []Residue, protein []int, keep map[int]bool, maxGap int) {
	byChain := make(map[string][]int)
	var order []string
	for _, ri := range protein {
		c := residues[ri].Key.ChainID
		if _, ok := byChain[c]; !ok {
			order = append(order, c)
		}
		byChain[c] = append(byChain[c], ri)
	}
	for _, c := range order {
		chain := byChain[c]
		last := -1
		for pos, ri := range chain {
			if !keep[ri] {
				continue
			}
			if last >= 0 {
				gap := pos - last - 1
				if gap > 0 && gap <= maxGap {
					for _, fill := range chain[last+1 : pos] {
						keep[fill] = true
					}
				}
			}
			last = pos
		}
	}
}
