// Package structure provides the pure structure manipulation used by the
// force-field backends: reading and writing PDB/SDF records, assembling a
// protein–ligand complex, chopping it to the binding site, partitioning it into
// protein and ligand, and mapping atom indices between engine conventions.
//
// A Structure is an ordered list of atoms. Writing a Structure renumbers atom
// serials 1..n in order, so for any structure written by this package the
// 1-based index of an atom, its serial and its position in the file coincide.
package structure

import (
	"math"
	"strings"
	"unicode"
)

// DefaultLigandResName is the residue name given to ligand atoms.
const DefaultLigandResName = "UNL"

// ignoredResidues are never treated as protein: solvent and common ions.
var ignoredResidues = map[string]struct{}{
	"HOH": {},
	"WAT": {},
	"NA":  {},
	"CL":  {},
	"ZN":  {},
}

// IsIgnoredResidue reports whether resName is solvent or an ion that is
// excluded from the protein partition.
func IsIgnoredResidue(resName string) bool {
	_, ok := ignoredResidues[strings.ToUpper(strings.TrimSpace(resName))]
	return ok
}

// Atom is one ATOM/HETATM record.
type Atom struct {
	Serial     int
	Name       string
	AltLoc     string
	ResName    string
	ChainID    string
	ResSeq     int
	ICode      string
	X, Y, Z    float64
	Occupancy  float64
	TempFactor float64
	Element    string
	Charge     string
	HetAtm     bool
}

// ElementSymbol returns the element column, or a symbol derived from the atom
// name when the column is blank.
func (a *Atom) ElementSymbol() string {
	if e := strings.TrimSpace(a.Element); e != "" {
		return normalizeElement(e)
	}
	name := strings.TrimLeftFunc(strings.TrimSpace(a.Name), unicode.IsDigit)
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1])
}

// IsHydrogen reports whether the atom is a hydrogen (or deuterium). Without an
// element column an atom whose name starts with H is a hydrogen.
func (a *Atom) IsHydrogen() bool {
	if e := strings.TrimSpace(a.Element); e != "" {
		e = strings.ToUpper(e)
		return e == "H" || e == "D"
	}
	return strings.HasPrefix(strings.TrimLeftFunc(strings.TrimSpace(a.Name), unicode.IsDigit), "H")
}

// DistanceSq returns the squared distance between two atoms.
func (a *Atom) DistanceSq(b *Atom) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

// Distance returns the distance between two atoms in Å.
func (a *Atom) Distance(b *Atom) float64 {
	return math.Sqrt(a.DistanceSq(b))
}

// ResidueKey identifies a residue within a structure.
type ResidueKey struct {
	ChainID string
	ResSeq  int
	ICode   string
	ResName string
}

// Key returns the residue key of the atom.
func (a *Atom) Key() ResidueKey {
	return ResidueKey{ChainID: a.ChainID, ResSeq: a.ResSeq, ICode: a.ICode, ResName: a.ResName}
}

// Residue is a contiguous run of atoms sharing a ResidueKey.
type Residue struct {
	Key ResidueKey
	// Atoms holds positions into Structure.Atoms.
	Atoms []int
}

// Structure is an ordered collection of atoms.
type Structure struct {
	Atoms []Atom
}

// Len returns the number of atoms.
func (s *Structure) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Atoms)
}

// Residues groups consecutive atoms with the same key, preserving order.
func (s *Structure) Residues() []Residue {
	var out []Residue
	for i := range s.Atoms {
		k := s.Atoms[i].Key()
		if n := len(out); n > 0 && out[n-1].Key == k {
			out[n-1].Atoms = append(out[n-1].Atoms, i)
			continue
		}
		out = append(out, Residue{Key: k, Atoms: []int{i}})
	}
	return out
}

// ChainIDs returns the set of chain identifiers in use.
func (s *Structure) ChainIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for i := range s.Atoms {
		ids[s.Atoms[i].ChainID] = struct{}{}
	}
	return ids
}

// HasResidue reports whether any atom belongs to a residue named resName.
func (s *Structure) HasResidue(resName string) bool {
	for i := range s.Atoms {
		if s.Atoms[i].ResName == resName {
			return true
		}
	}
	return false
}

// Select returns a new structure containing the atoms for which keep
// returns true, in original order.
func (s *Structure) Select(keep func(a *Atom) bool) *Structure {
	out := &Structure{Atoms: make([]Atom, 0, len(s.Atoms))}
	for i := range s.Atoms {
		if keep(&s.Atoms[i]) {
			out.Atoms = append(out.Atoms, s.Atoms[i])
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *Structure) Clone() *Structure {
	out := &Structure{Atoms: make([]Atom, len(s.Atoms))}
	copy(out.Atoms, s.Atoms)
	return out
}

func normalizeElement(e string) string {
	e = strings.TrimSpace(e)
	if len(e) == 0 {
		return e
	}
	if len(e) == 1 {
		return strings.ToUpper(e)
	}
	return strings.ToUpper(e[:1]) + strings.ToLower(e[1:])
}
