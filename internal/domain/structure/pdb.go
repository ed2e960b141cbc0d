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

// column returns the 1-based inclusive column range [start,end] of line,
// trimmed. Short lines yield the available part.
func column(line string, start, end int) string {
	if start > len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start-1 : end])
}

// ParsePDB reads ATOM and HETATM records. Only the first MODEL is read.
func ParsePDB(r io.Reader) (*Structure, error) {
	s := &Structure{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		rec := column(line, 1, 6)
		switch rec {
		case "ATOM", "HETATM":
		case "ENDMDL":
			return finishParse(s)
		default:
			continue
		}
		a, err := parseAtomLine(line)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStructureParse,
				fmt.Sprintf("line %d", lineNo))
		}
		a.HetAtm = rec == "HETATM"
		s.Atoms = append(s.Atoms, a)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "reading PDB")
	}
	return finishParse(s)
}

func finishParse(s *Structure) (*Structure, error) {
	if len(s.Atoms) == 0 {
		return nil, errors.New(errors.ErrCodeStructureEmpty, "PDB contains no ATOM/HETATM records")
	}
	return s, nil
}

func parseAtomLine(line string) (Atom, error) {
	var a Atom
	var err error

	if a.Serial, err = atoiOrZero(column(line, 7, 11)); err != nil {
		return a, fmt.Errorf("serial: %w", err)
	}
	a.Name = column(line, 13, 16)
	a.AltLoc = column(line, 17, 17)
	a.ResName = column(line, 18, 20)
	a.ChainID = column(line, 22, 22)
	if a.ResSeq, err = atoiOrZero(column(line, 23, 26)); err != nil {
		return a, fmt.Errorf("resSeq: %w", err)
	}
	a.ICode = column(line, 27, 27)
	if a.X, err = strconv.ParseFloat(column(line, 31, 38), 64); err != nil {
		return a, fmt.Errorf("x: %w", err)
	}
	if a.Y, err = strconv.ParseFloat(column(line, 39, 46), 64); err != nil {
		return a, fmt.Errorf("y: %w", err)
	}
	if a.Z, err = strconv.ParseFloat(column(line, 47, 54), 64); err != nil {
		return a, fmt.Errorf("z: %w", err)
	}
	a.Occupancy = floatOr(column(line, 55, 60), 1.0)
	a.TempFactor = floatOr(column(line, 61, 66), 0.0)
	a.Element = normalizeElement(column(line, 77, 78))
	a.Charge = column(line, 79, 80)
	return a, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func floatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// ReadPDB parses the PDB file at path.
func ReadPDB(path string) (*Structure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStructureParse, "open PDB").WithDetail(path)
	}
	defer f.Close()
	s, err := ParsePDB(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "parse PDB").WithDetail(path)
	}
	return s, nil
}

// formatAtomName aligns the atom name the way PDB writers do: names shorter
// than four characters with a one-letter element start in column 14.
func formatAtomName(name, element string) string {
	if len(name) >= 4 || len(strings.TrimSpace(element)) == 2 {
		return fmt.Sprintf("%-4s", name)
	}
	return fmt.Sprintf(" %-3s", name)
}

// WritePDB writes the structure as ATOM/HETATM records followed by END.
// Serials are renumbered from 1 in order.
func (s *Structure) WritePDB(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i := range s.Atoms {
		a := &s.Atoms[i]
		rec := "ATOM"
		if a.HetAtm {
			rec = "HETATM"
		}
		elem := a.ElementSymbol()
		_, err := fmt.Fprintf(bw, "%-6s%5d %s%1s%3s %1s%4d%1s   %8.3f%8.3f%8.3f%6.2f%6.2f          %2s%2s\n",
			rec, (i+1)%100000, formatAtomName(a.Name, elem), a.AltLoc, a.ResName,
			a.ChainID, a.ResSeq, a.ICode, a.X, a.Y, a.Z, a.Occupancy, a.TempFactor,
			strings.ToUpper(elem), a.Charge)
		if err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("END\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// WritePDBFile writes the structure to path, replacing any existing file.
func (s *Structure) WritePDBFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "create PDB").WithDetail(path)
	}
	if err := s.WritePDB(f); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrCodeInternal, "write PDB").WithDetail(path)
	}
	return f.Close()
}
