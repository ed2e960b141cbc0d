package forcefield

import (
	"os"
	"path/filepath"

	"github.com/turtacn/PoseRank/internal/domain/structure"
	"github.com/turtacn/PoseRank/pkg/errors"
)

// Workspace file names shared by the backends.
const (
	ComplexFile        = "complex.pdb"
	ChoppedComplexFile = "complex_chopped.pdb"
	OptimizedComplex   = "complex_opt.pdb"
	SplitProteinFile   = "prot_split.pdb"
	SplitLigandFile    = "lig_split.pdb"
	OptimizedLigand    = "lig_opt.pdb"
)

// PrepareOptions controls complex preparation.
type PrepareOptions struct {
	LigandResName string
	Chop          bool
	Cutoff        float64
	FillGaps      int
}

// Prepared is the starting point of a backend workflow.
type Prepared struct {
	// Path is the complex file the engine starts from, chopped or full.
	Path      string
	Structure *structure.Structure
	// ProteinIndices are 1-based positions of protein heavy atoms in Path.
	ProteinIndices []int
}

// PrepareComplex reads the pose input, assembles the complex in dir and
// optionally chops it to the binding site. Unreadable input is reported as
// an input validation failure.
func PrepareComplex(dir string, in Input, opts PrepareOptions) (*Prepared, error) {
	resName := opts.LigandResName
	if resName == "" {
		resName = structure.DefaultLigandResName
	}

	protein, err := structure.ReadPDB(in.ProteinPDB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "protein structure unreadable")
	}
	ligand, err := structure.ReadSDF(in.LigandSDF, resName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "ligand structure unreadable")
	}
	complex, err := structure.AssembleComplex(protein, ligand, resName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "complex assembly failed")
	}

	path := filepath.Join(dir, ComplexFile)
	if err := complex.WritePDBFile(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "write complex")
	}

	if opts.Chop {
		complex, err = structure.Chop(complex, structure.ChopOptions{
			LigandResName: resName,
			Cutoff:        opts.Cutoff,
			FillGaps:      opts.FillGaps,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeComputationFailure, "binding site extraction failed")
		}
		path = filepath.Join(dir, ChoppedComplexFile)
		if err := complex.WritePDBFile(path); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "write chopped complex")
		}
	}

	return &Prepared{
		Path:           path,
		Structure:      complex,
		ProteinIndices: structure.ProteinAtomIndices(complex, resName, false),
	}, nil
}

// SplitComplex splits the complex file at path into protein and ligand files
// in dir and returns their paths.
func SplitComplex(dir, path, ligandResName string) (proteinPath, ligandPath string, err error) {
	s, err := structure.ReadPDB(path)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeComputationFailure, "optimised complex unreadable")
	}
	protein, ligand, err := structure.Split(s, ligandResName)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeComputationFailure, "split complex")
	}
	proteinPath = filepath.Join(dir, SplitProteinFile)
	ligandPath = filepath.Join(dir, SplitLigandFile)
	if err := protein.WritePDBFile(proteinPath); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternalError, "write split protein")
	}
	if err := ligand.WritePDBFile(ligandPath); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternalError, "write split ligand")
	}
	return proteinPath, ligandPath, nil
}

// StepDir creates a private directory for one engine invocation. The
// returned cleanup removes it with everything the engine left behind.
func StepDir(parent, name string) (string, func(), error) {
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", func() {}, errors.Wrap(err, errors.ErrCodeInternalError, "create step directory").WithDetail(dir)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// CopyFile copies src to dst.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "read file").WithDetail(src)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "write file").WithDetail(dst)
	}
	return nil
}
