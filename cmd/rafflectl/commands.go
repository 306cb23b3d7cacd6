package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/raffle-ledger/engine/corrections"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/names"
	"github.com/WessleyAI/raffle-ledger/engine/parse"
	"github.com/WessleyAI/raffle-ledger/engine/reddit"
	"github.com/WessleyAI/raffle-ledger/engine/service"
	"github.com/WessleyAI/raffle-ledger/engine/store"
	"github.com/WessleyAI/raffle-ledger/pkg/config"
)

type app struct {
	cfgPath string
	jsonOut bool
	verbose bool

	out io.Writer
	p   *printer

	// build wires components from config; ledger requests a Neo4j connection.
	build func(ctx context.Context, cfg *config.Config, log *slog.Logger, ledger bool) (*service.Components, error)
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out: out,
		p:   &printer{out: out, errOut: errOut},
		build: func(ctx context.Context, cfg *config.Config, log *slog.Logger, ledger bool) (*service.Components, error) {
			if ledger {
				return service.Build(ctx, cfg, nil, log)
			}
			return service.BuildParser(ctx, cfg, nil, log)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rafflectl",
		Short:         "Operate the raffle ledger",
		Long:          "rafflectl scans Reddit raffle posts, tests claim classification, records parser corrections and manages tracked raffles.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default ./config.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of tables")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log pipeline details to stderr")

	root.AddCommand(a.scanCmd(), a.classifyCmd(), a.correctCmd(), a.namesCmd(), a.raffleCmd())
	return root
}

// components loads config and builds what a command needs. The caller closes
// the result.
func (a *app) components(ctx context.Context, ledger bool) (*service.Components, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(a.p.errOut, &slog.HandlerOptions{Level: level}))
	return a.build(ctx, cfg, log, ledger)
}

type scanOpts struct {
	total     int
	cost      string
	file      string
	processed []string
	pending   []string
	assigned  int
}

func (a *app) scanCmd() *cobra.Command {
	var o scanOpts
	cmd := &cobra.Command{
		Use:   "scan <post-url>",
		Short: "Parse a raffle post and print its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := domain.ParseAmount(o.cost)
			if err != nil {
				return fmt.Errorf("--cost: %w", err)
			}
			req := parse.Request{
				PostURL:       args[0],
				CostPerSpot:   cost,
				Processed:     o.processed,
				Pending:       o.pending,
				AssignedSpots: o.assigned,
			}
			if cmd.Flags().Changed("total") {
				req.TotalSpots = &o.total
			}

			ctx := cmd.Context()
			comps, err := a.components(ctx, false)
			if err != nil {
				return err
			}
			defer comps.Close()

			var res *parse.Result
			if o.file != "" {
				data, err := os.ReadFile(o.file)
				if err != nil {
					return err
				}
				th, err := reddit.ParseThread(data)
				if err != nil {
					return fmt.Errorf("%s: %w", o.file, err)
				}
				res, err = comps.Parser.ParseThread(ctx, th, req)
				if err != nil {
					return err
				}
			} else {
				res, err = comps.Parser.Parse(ctx, req)
				if err != nil {
					return err
				}
			}
			return a.printResult(res)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.total, "total", 0, "total spots in the raffle (omit for unlimited)")
	f.StringVar(&o.cost, "cost", "0", "price per spot, e.g. 2.50")
	f.StringVarP(&o.file, "file", "f", "", "parse a saved comments JSON payload instead of fetching")
	f.StringSliceVar(&o.processed, "processed", nil, "comment ids already recorded")
	f.StringSliceVar(&o.pending, "pending", nil, "recorded tab requests to re-check")
	f.IntVar(&o.assigned, "assigned", 0, "spots already assigned before this scan")
	return cmd
}

func (a *app) printResult(res *parse.Result) error {
	if a.jsonOut {
		return a.printJSON(res)
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headerColor("USER\tNAME\tSPOTS\tSTATUS\tOWED\tCOMMENT"))
	confirmed := 0
	for _, p := range res.Participants {
		spots := strconv.Itoa(p.Spots)
		if p.Open {
			spots += "+"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.User, p.DisplayName, spots, p.Status, p.Owed, p.Comment)
		if p.Status == domain.StatusConfirmed {
			confirmed += p.Spots
		}
	}
	tw.Flush()
	if len(res.Removed) > 0 {
		a.p.Warn("removed for non-payment: %s", strings.Join(res.Removed, ", "))
	}
	for _, fl := range res.Flags {
		a.p.Warn("%s: %s", fl.Kind, fl.Message)
	}
	a.p.Success("%d participants, %d spots confirmed (%d comments read)", len(res.Participants), confirmed, res.Stats.Comments)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <comment>...",
		Short: "Classify comment bodies with the configured classifier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := a.components(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer comps.Close()

			claims := comps.Classifier.Classify(cmd.Context(), args)
			if a.jsonOut {
				return a.printJSON(claims)
			}
			for i, c := range claims {
				switch {
				case !c.IsClaim:
					a.p.Info("%q: not a claim", args[i])
				case c.Unspecified:
					a.p.Info("%q: close-out (%s)", args[i], c.Kind)
				default:
					a.p.Info("%q: %d spot(s) (%s)", args[i], c.Spots, c.Kind)
				}
				if c.Ambiguous {
					a.p.Warn("%q is ambiguous: %s", args[i], c.Reason)
				}
			}
			return nil
		},
	}
}

func (a *app) correctCmd() *cobra.Command {
	var wrong, correct int
	cmd := &cobra.Command{
		Use:   "correct <comment>",
		Short: "Record the right spot count for a misparsed comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("correct") {
				return errors.New("--correct is required")
			}
			comps, err := a.components(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer comps.Close()
			if comps.Corrections == nil {
				return errors.New("corrections are disabled; set corrections.backend")
			}
			c := corrections.Correction{Comment: args[0], Wrong: wrong, Correct: correct}
			if err := comps.Corrections.Record(cmd.Context(), c); err != nil {
				return err
			}
			a.p.Success("recorded %q: %d -> %d", args[0], wrong, correct)
			return nil
		},
	}
	cmd.Flags().IntVar(&wrong, "wrong", 0, "spot count the parser produced")
	cmd.Flags().IntVar(&correct, "correct", 0, "spot count it should produce (0: not a claim)")
	return cmd
}

func (a *app) namesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "names", Short: "Manage display-name mappings"}

	withMapper := func(run func(cmd *cobra.Command, args []string, comps *service.Components) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			comps, err := a.components(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer comps.Close()
			if comps.Names == nil {
				return errors.New("name mapping is disabled; set postgres.url")
			}
			return run(cmd, args, comps)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <reddit-user> <first> [last]",
		Short: "Map a Reddit user to a display name",
		Args:  cobra.RangeArgs(2, 3),
		RunE: withMapper(func(cmd *cobra.Command, args []string, comps *service.Components) error {
			last := ""
			if len(args) == 3 {
				last = args[2]
			}
			if err := comps.Names.Set(cmd.Context(), args[0], args[1], last); err != nil {
				return err
			}
			a.p.Success("%s -> %s", args[0], names.Format(args[1], last))
			return nil
		}),
	}, &cobra.Command{
		Use:   "cleanup",
		Short: "Remove duplicate mappings, keeping the oldest per user",
		Args:  cobra.NoArgs,
		RunE: withMapper(func(cmd *cobra.Command, _ []string, comps *service.Components) error {
			n, err := comps.Names.CleanupDuplicates(cmd.Context())
			if err != nil {
				return err
			}
			a.p.Success("removed %d duplicate mapping(s)", n)
			return nil
		}),
	})
	return cmd
}

func (a *app) raffleCmd() *cobra.Command {
	raffle := &cobra.Command{Use: "raffle", Short: "Manage tracked raffles"}

	withLedger := func(run func(cmd *cobra.Command, args []string, comps *service.Components) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			comps, err := a.components(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer comps.Close()
			return run(cmd, args, comps)
		}
	}

	var total int
	var cost string
	add := &cobra.Command{
		Use:   "add <post-url>",
		Short: "Track a raffle post",
		Args:  cobra.ExactArgs(1),
		RunE: withLedger(func(cmd *cobra.Command, args []string, comps *service.Components) error {
			r, err := newRaffle(args[0], cost, total, cmd.Flags().Changed("total"))
			if err != nil {
				return err
			}
			if err := comps.Ledger.UpsertRaffle(cmd.Context(), r); err != nil {
				return err
			}
			a.p.Success("tracking raffle %s", r.ID)
			return nil
		}),
	}
	add.Flags().IntVar(&total, "total", 0, "total spots (omit for unlimited)")
	add.Flags().StringVar(&cost, "cost", "0", "price per spot")

	raffle.AddCommand(add, &cobra.Command{
		Use:   "deactivate <raffle-id>",
		Short: "Stop polling a raffle",
		Args:  cobra.ExactArgs(1),
		RunE: withLedger(func(cmd *cobra.Command, args []string, comps *service.Components) error {
			if err := comps.Ledger.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.p.Success("raffle %s deactivated", args[0])
			return nil
		}),
	}, &cobra.Command{
		Use:   "sync",
		Short: "Sync every active raffle once",
		Args:  cobra.NoArgs,
		RunE: withLedger(func(cmd *cobra.Command, _ []string, comps *service.Components) error {
			svc := service.New(comps.Parser, comps.Ledger, nil)
			raffles, results, err := svc.SyncAll(cmd.Context(), 2)
			if err != nil {
				return err
			}
			failed := 0
			for i, r := range results {
				up, err := r.Unwrap()
				if err != nil {
					failed++
					a.p.Warn("%s: %v", raffles[i].ID, err)
					continue
				}
				a.p.Info("%s: %d new entries, %d removed", up.RaffleID, len(up.Participants), up.RemovedApplied)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d raffles failed to sync", failed, len(raffles))
			}
			a.p.Success("synced %d raffle(s)", len(raffles))
			return nil
		}),
	}, &cobra.Command{
		Use:   "entries <raffle-id>",
		Short: "Print a raffle's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: withLedger(func(cmd *cobra.Command, args []string, comps *service.Components) error {
			ps, err := comps.Ledger.Entries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printResult(&parse.Result{PostID: args[0], Participants: ps})
		}),
	})
	return raffle
}

// newRaffle builds a tracked raffle from a post link; the post id is the
// raffle id.
func newRaffle(postURL, cost string, total int, hasTotal bool) (store.Raffle, error) {
	ref, err := reddit.ParsePostURL(postURL)
	if err != nil {
		return store.Raffle{}, err
	}
	c, err := domain.ParseAmount(cost)
	if err != nil {
		return store.Raffle{}, fmt.Errorf("--cost: %w", err)
	}
	r := store.Raffle{ID: ref.ID, PostURL: ref.Permalink(), CostPerSpot: c, Active: true}
	if hasTotal {
		if total <= 0 {
			return store.Raffle{}, fmt.Errorf("--total must be positive")
		}
		r.TotalSpots = &total
	}
	return r, nil
}
