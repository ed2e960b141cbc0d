package structure

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// ParseSDF reads the first molecule of an SDF/MOL file (V2000 or V3000 atom
// block) and returns its atoms as HETATM records of residue resName. Atom
// names are the element followed by a per-element counter (C1, C2, N1, ...).
// Hydrogens are taken as present in the file; none are added.
func ParseSDF(r io.Reader, resName string) ([]Atom, error) {
	if resName == "" {
		resName = DefaultLigandResName
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "$$$$") {
			break
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "reading SDF")
	}
	if len(lines) < 4 {
		return nil, errors.New(errors.ErrCodeStructureParse, "SDF header truncated")
	}

	var (
		raw []rawAtom
		err error
	)
	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		raw, err = parseV3000Atoms(lines[4:])
	} else {
		raw, err = parseV2000Atoms(counts, lines[4:])
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New(errors.ErrCodeStructureEmpty, "SDF contains no atoms")
	}

	perElement := make(map[string]int)
	atoms := make([]Atom, 0, len(raw))
	for _, ra := range raw {
		perElement[ra.element]++
		atoms = append(atoms, Atom{
			Name:      fmt.Sprintf("%s%d", strings.ToUpper(ra.element), perElement[ra.element]),
			ResName:   resName,
			ResSeq:    1,
			X:         ra.x,
			Y:         ra.y,
			Z:         ra.z,
			Occupancy: 1.0,
			Element:   ra.element,
			HetAtm:    true,
		})
	}
	return atoms, nil
}

type rawAtom struct {
	x, y, z float64
	element string
}

func parseV2000Atoms(counts string, body []string) ([]rawAtom, error) {
	n, err := strconv.Atoi(strings.TrimSpace(column(counts, 1, 3)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "SDF counts line")
	}
	if n > len(body) {
		return nil, errors.Newf(errors.ErrCodeStructureParse, "SDF declares %d atoms but has %d lines", n, len(body))
	}
	out := make([]rawAtom, 0, n)
	for i := 0; i < n; i++ {
		ra, err := parseAtomFields(strings.Fields(body[i]), 0)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStructureParse, fmt.Sprintf("SDF atom %d", i+1))
		}
		out = append(out, ra)
	}
	return out, nil
}

func parseV3000Atoms(body []string) ([]rawAtom, error) {
	var out []rawAtom
	inAtoms := false
	for _, line := range body {
		if !strings.HasPrefix(line, "M  V30") {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, "M  V30"))
		switch {
		case strings.HasPrefix(content, "BEGIN ATOM"):
			inAtoms = true
			continue
		case strings.HasPrefix(content, "END ATOM"):
			return out, nil
		}
		if !inAtoms {
			continue
		}
		// index type x y z aamap ...
		ra, err := parseAtomFields(strings.Fields(content), 1)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "SDF V3000 atom")
		}
		out = append(out, ra)
	}
	return out, nil
}

// parseAtomFields reads "x y z symbol" (V2000) or "idx symbol x y z" (V3000,
// offset 1).
func parseAtomFields(f []string, offset int) (rawAtom, error) {
	var ra rawAtom
	if len(f) < offset+4 {
		return ra, fmt.Errorf("expected at least %d fields, got %d", offset+4, len(f))
	}
	var coords []string
	if offset == 0 {
		coords, ra.element = f[0:3], f[3]
	} else {
		ra.element, coords = f[1], f[2:5]
	}
	vals := make([]float64, 3)
	for i, c := range coords {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return ra, err
		}
		vals[i] = v
	}
	ra.x, ra.y, ra.z = vals[0], vals[1], vals[2]
	ra.element = normalizeElement(ra.element)
	return ra, nil
}

// ReadSDF parses the SDF file at path.
func ReadSDF(path, resName string) ([]Atom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "open SDF").WithDetail(path)
	}
	defer f.Close()
	atoms, err := ParseSDF(f, resName)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "parse SDF").WithDetail(path)
	}
	return atoms, nil
}

// CountHydrogens returns the number of hydrogen atoms in atoms.
func CountHydrogens(atoms []Atom) int {
	n := 0
	for i := range atoms {
		if atoms[i].IsHydrogen() {
			n++
		}
	}
	return n
}
