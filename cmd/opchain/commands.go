package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opchain/internal/blocktest"
	"opchain/internal/ensemble"
	"opchain/internal/lifecycle"
	"opchain/plugins/builtin"
)

func (a *app) testCommand() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Prepare the chain and run the adjoint and inverse self-tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if _, err := a.prepare(ctx, s); err != nil {
				return err
			}
			h := blocktest.New(s.grid, a.cfg.Test, blocktest.WithLogger(a.logger), blocktest.WithMetrics(a.recorder))
			rep := h.Run(s.chain)
			w := a.stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("open report: %w", err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if format == "json" {
				err = rep.WriteJSON(w)
			} else {
				err = rep.WriteText(w)
			}
			if err != nil {
				return err
			}
			if rep.Failed() {
				return errSuiteFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "report format (text|json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func (a *app) calibrateCommand() *cobra.Command {
	var writeAll bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Read or calibrate the statistics of every block and persist them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			decisions, err := a.prepare(ctx, s)
			if err != nil {
				return err
			}
			if writeAll {
				if err := s.chain.Write(ctx, s.store); err != nil {
					return err
				}
				a.logger.Info("statistics written", zap.String("driver", string(s.store.Driver())))
			}
			return writeDecisions(a.stdout, decisions, writeAll)
		},
	}
	cmd.Flags().BoolVar(&writeAll, "write-all", false, "write every block's statistics after preparation")
	return cmd
}

func writeDecisions(w io.Writer, decisions []lifecycle.Decision, writeAll bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BLOCK\tMODE\tWROTE")
	for _, d := range decisions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\n", d.Block, d.Mode, d.Wrote || writeAll)
	}
	return tw.Flush()
}

func (a *app) ensembleCommand() *cobra.Command {
	var (
		members int
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Generate a synthetic ensemble and store it for later calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg.Ensemble
			cfg.Source = ensemble.SourceSynthetic
			if members > 0 {
				cfg.Members = members
			}
			if prefix != "" {
				cfg.Prefix = prefix
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			grid, err := a.cfg.Grid()
			if err != nil {
				return err
			}
			model, err := a.cfg.ModelVariables()
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			out, err := ensemble.Generate(grid, model, cfg)
			if err != nil {
				return err
			}
			if err := ensemble.Write(ctx, store, cfg.Prefix, out); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "wrote %d members of %s under %q\n", len(out), strings.Join(model.Names(), ", "), cfg.Prefix)
			return err
		},
	}
	cmd.Flags().IntVar(&members, "members", 0, "override ensemble.members")
	cmd.Flags().StringVar(&prefix, "prefix", "", "override ensemble.prefix")
	return cmd
}

func (a *app) blocksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List the registered block types",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error {
			reg, err := builtin.NewRegistry()
			a.registry = reg
			return err
		},
		RunE: func(*cobra.Command, []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PLUGIN\tVERSION\tTYPES")
			for _, p := range a.registry.Plugins() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Version, strings.Join(p.Types, ", "))
			}
			return tw.Flush()
		},
	}
}
