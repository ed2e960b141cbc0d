package ranking

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Input roles. Each fetched input lives in its own directory under the
// workspace inputs so locators sharing a base name cannot collide.
const (
	roleStructure = "structure"
	roleProtein   = "protein"
	roleLigand    = "ligand"
)

// materialise fetches the structural input of p into the workspace, completes
// the ligand hydrogens and returns the backend input. Retrieval and
// conversion failures are input validation errors.
func (r *Runner) materialise(ctx context.Context, p *pose.Pose, ws *Workspace) (forcefield.Input, error) {
	in := forcefield.Input{PoseID: p.ID, WorkDir: ws.WorkDir()}

	var err error
	if p.NeedsConversion() {
		var cif string
		if cif, err = r.fetch(ctx, roleStructure, p.StructureCIF, ws); err != nil {
			return in, err
		}
		if r.converter == nil {
			return in, errors.Wrap(ErrConversionNotImplemented, errors.ErrCodeInputValidation, "combined structure given")
		}
		in.ProteinPDB, in.LigandSDF, err = r.converter.Convert(ctx, cif, ws.InputsDir())
		if err != nil {
			return in, errors.Wrap(err, errors.ErrCodeInputValidation, "combined structure conversion failed")
		}
	} else {
		if in.ProteinPDB, err = r.fetch(ctx, roleProtein, p.ProteinPDB, ws); err != nil {
			return in, err
		}
		if in.LigandSDF, err = r.fetch(ctx, roleLigand, p.LigandSDF, ws); err != nil {
			return in, err
		}
	}

	if in.LigandSDF, err = r.completeHydrogens(ctx, in.LigandSDF, ws); err != nil {
		return in, err
	}
	return in, nil
}

func (r *Runner) fetch(ctx context.Context, role, locator string, ws *Workspace) (string, error) {
	dir := filepath.Join(ws.InputsDir(), role)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternalError, "create input directory").WithDetail(dir)
	}
	local, err := r.transfer.Fetch(ctx, locator, dir)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInputValidation, "input not retrievable").WithDetail(locator)
	}
	return local, nil
}

// completeHydrogens returns the ligand the backend evaluates. Without a
// completer the ligand must already carry explicit hydrogens.
func (r *Runner) completeHydrogens(ctx context.Context, ligand string, ws *Workspace) (string, error) {
	if r.hydrogens == nil {
		return ligand, forcefield.RequireExplicitHydrogens(ligand)
	}
	return r.hydrogens.Complete(ctx, ligand, ws.InputsDir())
}

// artifactSpec pairs a produced structure with its destination suffix.
type artifactSpec struct {
	local  *string
	remote *string
	suffix string
}

// publish uploads the local artifacts of a successful result. A failed
// upload is logged and leaves the reference empty; it never fails the pose.
func (r *Runner) publish(ctx context.Context, p *pose.Pose, target pose.UploadTarget, res *pose.RankingResult, log logging.Logger) {
	specs := []artifactSpec{
		{&res.LocalArtifacts.OptimizedComplex, &res.Artifacts.OptimizedComplex, "complex_opt.pdb"},
		{&res.LocalArtifacts.SplitProtein, &res.Artifacts.SplitProtein, "protein.pdb"},
		{&res.LocalArtifacts.SplitLigand, &res.Artifacts.SplitLigand, "ligand_bound.pdb"},
		{&res.LocalArtifacts.OptimizedLigand, &res.Artifacts.OptimizedLigand, "ligand_opt.pdb"},
	}
	for i, s := range specs {
		if *s.local == "" {
			continue
		}
		dest := ArtifactDestination(target, p.ID, s.suffix)
		if i == 0 && p.StructurePath != "" {
			dest = StructureDestination(target, p.StructurePath)
		}
		loc, err := r.transfer.Publish(ctx, *s.local, dest)
		if err != nil {
			log.Warn("artifact upload failed", logging.String("destination", dest), logging.Err(err))
			continue
		}
		*s.remote = loc
	}
}

// ArtifactDestination is s3://<bucket>/<folder>/<pose>_<suffix>.
func ArtifactDestination(target pose.UploadTarget, poseID, suffix string) string {
	folder := strings.Trim(target.Folder, "/")
	if folder == "" {
		folder = pose.DefaultUploadFolder
	}
	return fmt.Sprintf("s3://%s/%s", target.Bucket, path.Join(folder, poseID+"_"+suffix))
}

// StructureDestination resolves a per-pose structure path. Full s3:// or
// minio:// locators are used verbatim; anything else is a key in the target
// bucket.
func StructureDestination(target pose.UploadTarget, structurePath string) string {
	if strings.HasPrefix(structurePath, "s3://") || strings.HasPrefix(structurePath, "minio://") {
		return structurePath
	}
	return fmt.Sprintf("s3://%s/%s", target.Bucket, strings.TrimPrefix(structurePath, "/"))
}
