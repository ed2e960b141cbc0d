package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/testutil"
)

func decodeReport(t *testing.T, stdout string) map[string]CheckResult {
	t.Helper()
	var report CheckReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	byName := map[string]CheckResult{}
	for _, r := range report.Results {
		byName[r.Component] = r
	}
	return byName
}

func TestCheckCmd_ReportsMissingDriver(t *testing.T) {
	exec := testutil.NewFakeExecutor(func(_ context.Context, cmd common.Command) (*common.Output, error) {
		if cmd.Name == "nvidia-smi" {
			return &common.Output{Stdout: []byte("GPU 0: NVIDIA A100-SXM4-40GB (UUID: GPU-1)\n")}, nil
		}
		return fakeEngines(context.Background(), cmd)
	})
	exec.Missing["so3lr-driver"] = true

	stdout, _, err := executeCommand(t, exec, "check", "--config", writeConfig(t, ""), "--json")
	require.Error(t, err, "an unavailable backend fails the check")

	results := decodeReport(t, stdout)
	assert.True(t, results["forcefield/gfn2"].Available)
	assert.Contains(t, results["forcefield/gfn2"].Message, "xtb version 6.6.1")
	assert.False(t, results["forcefield/so3lr"].Available)
	assert.Contains(t, results["forcefield/so3lr"].Message, "not found in PATH")
	assert.Contains(t, results["device"].Message, "cuda:0")
	assert.True(t, results["hydrogens"].Available)
	assert.Contains(t, results["hydrogens"].Message, "obabel")
	assert.NotContains(t, results, "cache")
}

func TestCheckCmd_Hydrogens(t *testing.T) {
	exec := testutil.NewFakeExecutor(fakeEngines)
	exec.Missing["obabel"] = true

	stdout, _, err := executeCommand(t, exec, "check", "--config", writeConfig(t, ""), "--json")
	require.Error(t, err)
	results := decodeReport(t, stdout)
	assert.False(t, results["hydrogens"].Available)
	assert.Contains(t, results["hydrogens"].Message, "not found in PATH")

	cfg := writeConfig(t, "engines:\n  hydrogens:\n    enabled: false\n")
	stdout, _, _ = executeCommand(t, exec, "check", "--config", cfg, "--json")
	results = decodeReport(t, stdout)
	assert.True(t, results["hydrogens"].Available)
	assert.Contains(t, results["hydrogens"].Message, "explicit hydrogens")
}

func TestCheckCmd_Table(t *testing.T) {
	exec := testutil.NewFakeExecutor(fakeEngines)
	exec.Missing["so3lr-driver"] = true
	exec.Missing["nvidia-smi"] = true

	stdout, _, err := executeCommand(t, exec, "check", "--config", writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, stdout, "COMPONENT")
	assert.Contains(t, stdout, "cpu only")
	assert.Contains(t, stdout, "forcefield/so3lr")
}

func TestCheckCmd_Cache(t *testing.T) {
	srv := miniredis.RunT(t)
	exec := testutil.NewFakeExecutor(fakeEngines)
	exec.Missing["so3lr-driver"] = true

	cfg := writeConfig(t, "cache:\n  enabled: true\n  addr: "+srv.Addr()+"\n")
	stdout, _, err := executeCommand(t, exec, "check", "--config", cfg, "--json")
	require.Error(t, err)

	results := decodeReport(t, stdout)
	require.Contains(t, results, "cache")
	assert.True(t, results["cache"].Available)

	srv.Close()
	stdout, _, _ = executeCommand(t, exec, "check", "--config", cfg, "--json")
	results = decodeReport(t, stdout)
	assert.False(t, results["cache"].Available)
}

func TestCheckReport(t *testing.T) {
	r := &CheckReport{}
	assert.True(t, r.Healthy())
	r.add("a", true, "ok")
	assert.True(t, r.Healthy())
	r.add("b", false, "down")
	assert.False(t, r.Healthy())
	assert.Equal(t, [][]string{{"a", "true", "ok"}, {"b", "false", "down"}}, r.TableRows())
}
