package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nixlim/evalstats/internal/analytics"
	"github.com/nixlim/evalstats/internal/filter"
	"github.com/nixlim/evalstats/internal/schema"
	"github.com/nixlim/evalstats/internal/storage"
)

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "evalstats",
		Short: "Statistics and analytics for AI test suites",
		Long: `evalstats computes dashboard statistics over a test management store:
entity breakdowns and growth, related-entity stats, test-result pass rates
and test-run summaries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.loadConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.config/evalstats/config.toml)")
	pf.StringVarP(&a.format, "format", "f", formatJSON, "output format: json or table")
	pf.StringVar(&a.orgID, "org", "", "organization id every query is scoped to")

	root.AddCommand(
		newEntityCommand(a),
		newRelatedCommand(a),
		newResultsCommand(a),
		newRunsCommand(a),
		newSeedCommand(a),
		newVersionCommand(out),
	)
	return root
}

// windowFlags are the breakdown and history options shared by entity and
// related.
type windowFlags struct {
	top     int
	columns []string
	months  int
	start   string
	end     string
}

func (w *windowFlags) bind(fs *pflag.FlagSet) {
	fs.IntVar(&w.top, "top", 0, "keep the N largest labels per dimension, summing the rest into Others")
	fs.StringSliceVar(&w.columns, "columns", nil, "scalar columns to break down as well")
	fs.IntVar(&w.months, "months", 0, "history window in months when no dates are given")
	fs.StringVar(&w.start, "start", "", "history start date (YYYY-MM-DD)")
	fs.StringVar(&w.end, "end", "", "history end date (YYYY-MM-DD)")
}

func newEntityCommand(a *app) *cobra.Command {
	var w windowFlags
	cmd := &cobra.Command{
		Use:       "entity <type>",
		Short:     "Breakdowns and cumulative history of one entity type",
		Args:      cobra.ExactArgs(1),
		ValidArgs: schema.Entities(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc *analytics.Service) (any, error) {
				return svc.GetEntityStats(cmd.Context(), analytics.EntityRequest{
					Entity:          args[0],
					OrganizationID:  a.orgID,
					Top:             w.top,
					CategoryColumns: w.columns,
					Months:          w.months,
					StartDate:       w.start,
					EndDate:         w.end,
				})
			})
		},
	}
	w.bind(cmd.Flags())
	return cmd
}

func newRelatedCommand(a *app) *cobra.Command {
	var (
		w           windowFlags
		relatedType string
	)
	cmd := &cobra.Command{
		Use:   "related <type> <relationship> [id]",
		Short: "Entity stats over the related entities of one parent",
		Long: `Computes entity stats over the entities reachable through a relationship.
Without an id the whole related population is used.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := analytics.RelatedRequest{
				Entity:          args[0],
				Relation:        args[1],
				RelatedEntity:   relatedType,
				OrganizationID:  a.orgID,
				Top:             w.top,
				CategoryColumns: w.columns,
				Months:          w.months,
				StartDate:       w.start,
				EndDate:         w.end,
			}
			if len(args) == 3 {
				req.EntityID = args[2]
			}
			if req.RelatedEntity == "" {
				req.RelatedEntity = relationTarget(req.Entity, req.Relation)
			}
			return a.withService(func(svc *analytics.Service) (any, error) {
				return svc.GetRelatedStats(cmd.Context(), req)
			})
		},
	}
	w.bind(cmd.Flags())
	cmd.Flags().StringVar(&relatedType, "related-type", "", "expected entity type of the relationship (default: its target)")
	return cmd
}

// relationTarget returns the target of entity.relation, or "" so the
// service reports the unknown name.
func relationTarget(entity, relation string) string {
	d, ok := schema.Lookup(entity)
	if !ok {
		return ""
	}
	rel, ok := d.Relation(relation)
	if !ok {
		return ""
	}
	return rel.Target
}

// criteriaFlags binds the filter criteria shared by results and runs.
type criteriaFlags struct {
	c           filter.Criteria
	priorityMin int
	priorityMax int
}

func (f *criteriaFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.c.StartDate, "start", "", "created on or after (YYYY-MM-DD)")
	fs.StringVar(&f.c.EndDate, "end", "", "created on or before (YYYY-MM-DD)")
	fs.IntVar(&f.c.Months, "months", 0, "look back N months when dates are incomplete")
	fs.StringSliceVar(&f.c.TestSetIDs, "test-set", nil, "test set ids")
	fs.StringSliceVar(&f.c.BehaviorIDs, "behavior", nil, "behavior ids")
	fs.StringSliceVar(&f.c.CategoryIDs, "category", nil, "category ids")
	fs.StringSliceVar(&f.c.TopicIDs, "topic", nil, "topic ids")
	fs.StringSliceVar(&f.c.StatusIDs, "status", nil, "status ids")
	fs.StringSliceVar(&f.c.TestIDs, "test", nil, "test ids")
	fs.StringSliceVar(&f.c.TestTypeIDs, "test-type", nil, "test type ids")
	fs.StringSliceVar(&f.c.UserIDs, "user", nil, "user ids")
	fs.StringSliceVar(&f.c.AssigneeIDs, "assignee", nil, "assignee ids")
	fs.StringSliceVar(&f.c.OwnerIDs, "owner", nil, "owner ids")
	fs.StringSliceVar(&f.c.PromptIDs, "prompt", nil, "prompt ids")
	fs.StringSliceVar(&f.c.TestRunIDs, "test-run", nil, "test run ids")
	fs.IntVar(&f.priorityMin, "priority-min", 0, "minimum test priority")
	fs.IntVar(&f.priorityMax, "priority-max", 0, "maximum test priority")
	fs.StringSliceVar(&f.c.Tags, "tag", nil, "tag names")
}

// criteria returns the bound criteria. Priority bounds apply only when
// their flag was given, so zero stays a valid bound.
func (f *criteriaFlags) criteria(cmd *cobra.Command, orgID string) filter.Criteria {
	c := f.c
	c.OrganizationID = orgID
	if cmd.Flags().Changed("priority-min") {
		lo := f.priorityMin
		c.PriorityMin = &lo
	}
	if cmd.Flags().Changed("priority-max") {
		hi := f.priorityMax
		c.PriorityMax = &hi
	}
	return c
}

func newResultsCommand(a *app) *cobra.Command {
	var (
		f    criteriaFlags
		mode string
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Pass rates over test results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := f.criteria(cmd, a.orgID)
			return a.withService(func(svc *analytics.Service) (any, error) {
				return svc.GetTestResultStats(cmd.Context(), analytics.ResultRequest{Criteria: c, Mode: mode})
			})
		},
	}
	f.bind(cmd.Flags())
	cmd.Flags().StringVar(&mode, "mode", "all", "sections to compute: all, summary, metrics, behavior, category, topic, overall, timeline, test_runs")
	return cmd
}

func newRunsCommand(a *app) *cobra.Command {
	var (
		f    criteriaFlags
		mode string
		top  int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Summaries over test runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := f.criteria(cmd, a.orgID)
			return a.withService(func(svc *analytics.Service) (any, error) {
				return svc.GetTestRunStats(cmd.Context(), analytics.RunRequest{Criteria: c, Mode: mode, Top: top})
			})
		},
	}
	f.bind(cmd.Flags())
	cmd.Flags().StringVar(&mode, "mode", "all", "sections to compute: all, summary, status, results, test_sets, executors, timeline")
	cmd.Flags().IntVar(&top, "top", 0, "leaderboard length")
	return cmd
}

type seedReport struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <dataset.json>",
		Short: "Load a JSON dataset into the store in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.seed(cmd.Context(), args[0])
		},
	}
}

func (a *app) seed(ctx context.Context, path string) error {
	ds, err := storage.LoadDataset(path)
	if err != nil {
		return err
	}
	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := db.Seed(ctx, ds)
	if err != nil {
		return fmt.Errorf("seeding %s: %w", path, err)
	}
	a.logger.Info("dataset loaded", zap.String("path", path), zap.Int("rows", n))
	return render(a.out, a.format, seedReport{Path: path, Rows: n})
}

func newVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "evalstats %s\n", version)
		},
	}
}
