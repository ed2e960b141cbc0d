package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/testutil"
)

// fakeEngines answers like xtb: optimisations leave xtbopt.pdb next to the
// input and every run reports -1 Eh. Any other command succeeds silently.
func fakeEngines(_ context.Context, cmd common.Command) (*common.Output, error) {
	if cmd.Name == "obabel" {
		// The fixture ligand already carries hydrogens; copy it through.
		for i, a := range cmd.Args {
			if a == "-O" && i+1 < len(cmd.Args) {
				data, err := os.ReadFile(cmd.Args[0])
				if err != nil {
					return nil, err
				}
				return &common.Output{}, os.WriteFile(cmd.Args[i+1], data, 0o644)
			}
		}
	}
	if cmd.Name != "xtb" {
		return &common.Output{}, nil
	}
	if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
		return &common.Output{Stdout: []byte("xtb version 6.6.1\n")}, nil
	}
	for _, a := range cmd.Args {
		if a != "--opt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cmd.Dir, cmd.Args[0]))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(cmd.Dir, "xtbopt.pdb"), data, 0o644); err != nil {
			return nil, err
		}
	}
	return &common.Output{Stdout: []byte(testutil.XTBOutput(-1))}, nil
}

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readRecords(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestRankCmd_EndToEnd(t *testing.T) {
	protein, ligand := testutil.WritePoseFiles(t, t.TempDir())
	manifest := writeManifest(t, "poses.yaml", `
batch_id: e2e
params:
  energy_method: {value: gfn2}
poses:
  - pose_id: good
    protein_pdb: `+protein+`
    ligand_sdf: `+ligand+`
    docking_score: -7.2
  - pose_id: no-ligand
    protein_pdb: `+protein+`
`)
	out := filepath.Join(t.TempDir(), "ranked.json")
	summary := filepath.Join(t.TempDir(), "summary.json")
	exec := testutil.NewFakeExecutor(fakeEngines)

	_, _, err := executeCommand(t, exec, "rank",
		"--config", writeConfig(t, ""),
		"--manifest", manifest,
		"--output", out,
		"--summary-output", summary,
	)
	require.NoError(t, err)

	records := readRecords(t, out)
	require.Len(t, records, 2)

	good := records[0]
	assert.Equal(t, "good", good["pose_id"])
	assert.Equal(t, true, good["ranking_success"], good["error_message"])
	assert.Equal(t, -7.2, good["docking_score"])
	assert.Equal(t, "gfn2", good["energy_method"])
	assert.NotNil(t, good["interaction_energy"])
	assert.NotNil(t, good["total_score"])

	bad := records[1]
	assert.Equal(t, "no-ligand", bad["pose_id"])
	assert.Equal(t, false, bad["ranking_success"])
	assert.Equal(t, "input_validation", bad["error_kind"])
	assert.Nil(t, bad["interaction_energy"])

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var s map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "e2e", s["batch_id"])
	assert.EqualValues(t, 2, s["total"])
	assert.EqualValues(t, 1, s["succeeded"])

	assert.Positive(t, exec.CountRuns("xtb"))
	assert.Equal(t, 1, exec.CountRuns("obabel"), "hydrogens completed for the one ligand")
}

func TestRankCmd_InvalidMethodFailsEveryPose(t *testing.T) {
	protein, ligand := testutil.WritePoseFiles(t, t.TempDir())
	manifest := writeManifest(t, "poses.json", `{
  "params": {"energy_method": {"value": "amber"}},
  "poses": [
    {"pose_id": "a", "protein_pdb": "`+protein+`", "ligand_sdf": "`+ligand+`"},
    {"pose_id": "b", "protein_pdb": "`+protein+`", "ligand_sdf": "`+ligand+`"}
  ]
}`)
	out := filepath.Join(t.TempDir(), "ranked.json")
	exec := testutil.NewFakeExecutor(fakeEngines)

	_, _, err := executeCommand(t, exec, "rank",
		"--config", writeConfig(t, ""), "--manifest", manifest, "--output", out, "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 poses failed")

	records := readRecords(t, out)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, false, r["ranking_success"])
		assert.Equal(t, "input_validation", r["error_kind"])
	}
	assert.Zero(t, exec.CountRuns("xtb"))
}

func TestRankCmd_Stdout(t *testing.T) {
	manifest := writeManifest(t, "poses.yaml", "- pose_id: lonely\n")
	stdout, _, err := executeCommand(t, testutil.NewFakeExecutor(fakeEngines), "rank",
		"--config", writeConfig(t, ""), "--manifest", manifest, "--batch-id", "cli")
	require.NoError(t, err)

	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "lonely", records[0]["pose_id"])
	assert.Equal(t, false, records[0]["ranking_success"])
}

func TestRankCmd_RequiresManifest(t *testing.T) {
	_, _, err := executeCommand(t, testutil.NewFakeExecutor(nil), "rank", "--config", writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestRankCmd_MalformedRecordFailsOnlyItsPose(t *testing.T) {
	protein, ligand := testutil.WritePoseFiles(t, t.TempDir())
	manifest := writeManifest(t, "poses.yaml", `
poses:
  - pose_id: good
    protein_pdb: `+protein+`
    ligand_sdf: `+ligand+`
  - pose_id: bad
    protein_pdb: `+protein+`
    ligand_sdf: `+ligand+`
    use_chopping: maybe
`)
	out := filepath.Join(t.TempDir(), "ranked.json")
	exec := testutil.NewFakeExecutor(fakeEngines)

	_, _, err := executeCommand(t, exec, "rank",
		"--config", writeConfig(t, ""), "--manifest", manifest, "--output", out)
	require.NoError(t, err)

	records := readRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, true, records[0]["ranking_success"], records[0]["error_message"])
	assert.Equal(t, "bad", records[1]["pose_id"])
	assert.Equal(t, false, records[1]["ranking_success"])
	assert.Equal(t, "input_validation", records[1]["error_kind"])
	assert.Contains(t, records[1]["error_message"], "use_chopping")
	assert.Equal(t, "maybe", records[1]["use_chopping"], "input fields are kept")
}

func TestRankCmd_BadManifestParamFailsEveryPose(t *testing.T) {
	protein, ligand := testutil.WritePoseFiles(t, t.TempDir())
	manifest := writeManifest(t, "poses.yaml", `
params:
  distance_cutoff: far
poses:
  - {pose_id: a, protein_pdb: `+protein+`, ligand_sdf: `+ligand+`}
  - {pose_id: b, protein_pdb: `+protein+`, ligand_sdf: `+ligand+`}
`)
	out := filepath.Join(t.TempDir(), "ranked.json")
	exec := testutil.NewFakeExecutor(fakeEngines)

	_, _, err := executeCommand(t, exec, "rank",
		"--config", writeConfig(t, ""), "--manifest", manifest, "--output", out)
	require.NoError(t, err)

	records := readRecords(t, out)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, false, r["ranking_success"])
		assert.Equal(t, "input_validation", r["error_kind"])
		assert.Contains(t, r["error_message"], "distance_cutoff")
	}
	assert.Zero(t, exec.CountRuns("xtb"))
}
