package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/PoseRank/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
)

// CheckResult is one line of the check report.
type CheckResult struct {
	Component string `json:"component"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// CheckReport is the outcome of the check command.
type CheckReport struct {
	Results []CheckResult `json:"results"`
}

// Healthy reports whether every component is available.
func (r *CheckReport) Healthy() bool {
	for _, c := range r.Results {
		if !c.Available {
			return false
		}
	}
	return true
}

func (r *CheckReport) add(component string, ok bool, msg string) {
	r.Results = append(r.Results, CheckResult{Component: component, Available: ok, Message: msg})
}

// TableHeaders implements table output.
func (r *CheckReport) TableHeaders() []string {
	return []string{"COMPONENT", "AVAILABLE", "MESSAGE"}
}

// TableRows implements table output.
func (r *CheckReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Results))
	for _, c := range r.Results {
		rows = append(rows, []string{c.Component, strconv.FormatBool(c.Available), c.Message})
	}
	return rows
}

type checkOptions struct {
	json         bool
	createTopics bool
	timeout      time.Duration
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report which force fields and services are usable on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.json, "json", false, "print the report as JSON")
	f.BoolVar(&opts.createTopics, "create-topics", false, "create the event topics when events are enabled")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall time limit for the checks")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	report, err := collectChecks(ctx, cc, opts.createTopics)
	if err != nil {
		return err
	}

	if opts.json {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(report.TableHeaders(), report.TableRows()))
	}
	if !report.Healthy() {
		return errors.New(errors.ErrCodeBackendUnavailable, "one or more components are unavailable")
	}
	return nil
}

// collectChecks builds every backend and probes every configured service.
// Individual failures are reported, never returned.
func collectChecks(ctx context.Context, cc *CLIContext, createTopics bool) (*CheckReport, error) {
	cfg := cc.Config
	log := cc.Logger
	report := &CheckReport{}

	registry, probe, err := buildRegistry(cfg, cc.Executor, nil, log)
	if err != nil {
		return nil, err
	}

	dev := probe.Detect(ctx)
	if dev.Accelerated {
		report.add("device", true, fmt.Sprintf("%s (%s, %d visible)", dev.Device, dev.Name, dev.Count))
	} else {
		report.add("device", true, "cpu only")
	}

	for _, m := range registry.Methods() {
		factory, _ := registry.Factory(m)
		ff, err := factory(ctx)
		if err != nil {
			report.add("forcefield/"+string(m), false, err.Error())
			continue
		}
		ok, msg := ff.CheckAvailability(ctx)
		report.add("forcefield/"+string(m), ok, msg)
	}

	if hy := cfg.Engines.Hydrogens; hy.Enabled {
		h, err := forcefield.NewHydrogenCompleter(hy, cc.Executor, nil, log)
		if err != nil {
			report.add("hydrogens", false, err.Error())
		} else {
			ok, msg := h.CheckAvailability()
			report.add("hydrogens", ok, msg)
		}
	} else {
		report.add("hydrogens", true, "completion disabled, ligands must carry explicit hydrogens")
	}

	if cfg.Storage.Endpoint != "" || cfg.Cache.Enabled || cfg.Events.Enabled {
		checkServices(ctx, cc, report, createTopics)
	}

	log.Debug("checks complete", logging.Int("components", len(report.Results)), logging.Bool("healthy", report.Healthy()))
	return report, nil
}

func checkServices(ctx context.Context, cc *CLIContext, report *CheckReport, createTopics bool) {
	cfg := cc.Config
	log := cc.Logger

	if cfg.Storage.Endpoint != "" {
		c, err := newStorageClient(cfg, log)
		if err != nil {
			report.add("storage", false, err.Error())
		} else {
			status, err := c.HealthCheck(ctx)
			if err != nil {
				report.add("storage", false, status.Error)
			} else {
				report.add("storage", true, fmt.Sprintf("%s reachable in %s", cfg.Storage.Endpoint, status.Latency.Round(time.Millisecond)))
			}
			_ = c.Close()
		}
	}

	if cfg.Cache.Enabled {
		c, err := newCacheClient(cfg, log)
		if err != nil {
			report.add("cache", false, err.Error())
		} else {
			if err := c.Ping(ctx); err != nil {
				report.add("cache", false, err.Error())
			} else {
				report.add("cache", true, cfg.Cache.Addr+" reachable")
			}
			_ = c.Close()
		}
	}

	if cfg.Events.Enabled {
		tm, err := kafka.NewTopicManager(cfg.Events.Brokers, log)
		if err != nil {
			report.add("events", false, err.Error())
			return
		}
		defer tm.Close()

		topics := kafka.DefaultTopics(cfg.Events.ResultTopic, cfg.Events.SummaryTopic)
		if createTopics {
			if err := tm.EnsureTopics(ctx, topics); err != nil {
				report.add("events", false, err.Error())
				return
			}
		}
		for _, t := range topics {
			exists, _ := tm.TopicExists(ctx, t.Name)
			msg := "topic " + t.Name + " exists"
			if !exists {
				msg = "topic " + t.Name + " missing"
			}
			report.add("events/"+t.Name, exists, msg)
		}
	}
}
