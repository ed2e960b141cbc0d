package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ProteinPDB is a four-residue protein. GLY1 and THR3 lie within 5 Å of
// LigandSDF; SER2 and VAL4 are far away.
const ProteinPDB = `ATOM      1  N   GLY A   1       3.000   0.000   0.000  1.00  0.00           N
ATOM      2  CA  GLY A   1       4.000   0.000   0.000  1.00  0.00           C
ATOM      3  H   GLY A   1       4.000   1.000   0.000  1.00  0.00           H
ATOM      4  N   SER A   2      30.000   0.000   0.000  1.00  0.00           N
ATOM      5  CA  SER A   2      31.000   0.000   0.000  1.00  0.00           C
ATOM      6  N   THR A   3      12.000   0.000   0.000  1.00  0.00           N
ATOM      7  CA  THR A   3      13.000   0.000   0.000  1.00  0.00           C
ATOM      8  N   VAL A   4      40.000   0.000   0.000  1.00  0.00           N
ATOM      9  CA  VAL A   4      41.000   0.000   0.000  1.00  0.00           C
HETATM   10  O   HOH A   5       9.000   2.000   0.000  1.00  0.00           O
END
`

// LigandSDF is a three-atom ligand with explicit hydrogen.
const LigandSDF = `lig
  PoseRank       3D

  3  2  0  0  0  0  0  0  0  0999 V2000
    8.0000    0.0000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    9.0000    0.0000    0.0000 O   0  0  0  0  0  0  0  0  0  0  0  0
    8.0000    1.0000    0.0000 H   0  0  0  0  0  0  0  0  0  0  0  0
  1  2  2  0
  1  3  1  0
M  END
$$$$
`

// WritePoseFiles writes ProteinPDB and LigandSDF into dir.
func WritePoseFiles(t testing.TB, dir string) (proteinPath, ligandPath string) {
	t.Helper()
	proteinPath = filepath.Join(dir, "protein.pdb")
	ligandPath = filepath.Join(dir, "ligand.sdf")
	if err := os.WriteFile(proteinPath, []byte(ProteinPDB), 0o644); err != nil {
		t.Fatalf("write protein fixture: %v", err)
	}
	if err := os.WriteFile(ligandPath, []byte(LigandSDF), 0o644); err != nil {
		t.Fatalf("write ligand fixture: %v", err)
	}
	return proteinPath, ligandPath
}

// XTBOutput renders an xtb stdout summary block reporting energy (Eh).
func XTBOutput(energy float64) string {
	return strings.Join([]string{
		"   * xtb version 6.6.1",
		"          -------------------------------------------------",
		fmt.Sprintf("          | TOTAL ENERGY            %18.12f Eh   |", energy),
		"          | GRADIENT NORM               0.000412345678 Eh/α |",
		"          -------------------------------------------------",
		"   * finished run",
	}, "\n") + "\n"
}

// DirEntries lists the names directly under dir; a missing dir yields nil.
func DirEntries(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
