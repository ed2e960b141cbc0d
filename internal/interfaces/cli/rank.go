package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

type rankOptions struct {
	manifest      string
	output        string
	summaryOutput string
	batchID       string
	strict        bool
}

func newRankCmd() *cobra.Command {
	opts := &rankOptions{}

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank the poses of a manifest",
		Long: "Rank reads a YAML or JSON manifest of poses, evaluates every pose with the\n" +
			"configured force field and writes one output record per input record in the\n" +
			"same order. Each output record is the input record with the ranking fields\n" +
			"and ranking_success added.",
		Example: "  poserank rank --manifest poses.yaml --output ranked.json\n" +
			"  poserank rank -m poses.json -o - --summary-output summary.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRank(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.manifest, "manifest", "m", "", "pose manifest (.yaml, .yml or .json)")
	f.StringVarP(&opts.output, "output", "o", "-", "output file for ranked records; - writes to stdout")
	f.StringVar(&opts.summaryOutput, "summary-output", "", "optional file for the batch summary")
	f.StringVar(&opts.batchID, "batch-id", "", "batch identifier (default: manifest batch_id or a random UUID)")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when any pose fails")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func runRank(cmd *cobra.Command, opts *rankOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	log := cc.Logger

	m, err := LoadManifest(opts.manifest)
	if err != nil {
		return err
	}
	batchCfg := cc.Config.ToBatchConfig()
	if err := ApplyParams(&batchCfg, m.Params, log); err != nil {
		log.Error("manifest parameters rejected, every pose will fail", logging.Err(err))
		batchCfg.ParamsError = err
	}
	poses := m.BuildPoses()

	batchID := opts.batchID
	if batchID == "" {
		batchID = m.BatchID
	}
	if batchID == "" {
		batchID = uuid.New().String()
	}
	batch := pose.NewBatch(batchID, poses, batchCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(cc)
	if err != nil {
		return err
	}
	defer app.Close()

	results, summary := app.Runner.RankBatch(ctx, batch)

	records, err := MergeRecords(m.Poses, results)
	if err != nil {
		return err
	}
	if err := writeJSONFile(cmd, opts.output, records); err != nil {
		return err
	}
	if opts.summaryOutput != "" {
		if err := writeJSONFile(cmd, opts.summaryOutput, summary); err != nil {
			return err
		}
	}

	log.Info("ranking finished",
		logging.BatchID(summary.BatchID),
		logging.Int("total", summary.Total),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.String("output", opts.output),
	)
	if opts.strict && summary.Failed > 0 {
		return errors.Newf(errors.ErrCodeComputationFailure, "%d of %d poses failed", summary.Failed, summary.Total)
	}
	return nil
}
