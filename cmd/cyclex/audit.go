package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"cyclex/internal/app"
	"cyclex/internal/config"
	"cyclex/internal/executive"
	"cyclex/internal/tasks"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var (
		ticks         uint64
		reference     bool
		maxCollisions int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report expected vs actual runs, collisions and starved slots of the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := tasks.ReferenceRows()
			if !reference {
				cfg, err := loadConfig(flagConfig)
				if err != nil {
					return err
				}
				if err := app.Validate(cfg); err != nil {
					return err
				}
				rows = app.Rows(cfg)
			}
			rep, err := executive.Audit(tasks.Shape(rows), ticks)
			if err != nil {
				return err
			}
			return printAudit(cmd.OutOrStdout(), rep, maxCollisions)
		},
	}
	cmd.Flags().Uint64Var(&ticks, "ticks", 0, "window in ticks (0 = one hyperperiod)")
	cmd.Flags().BoolVar(&reference, "reference", false, "audit the built-in reference table instead of the config")
	cmd.Flags().IntVar(&maxCollisions, "max-collisions", 20, "collisions to list (-1 = all)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found (use --reference to audit the built-in table)", path)
		}
		return nil, err
	}
	return config.Decode(path, b)
}

func printAudit(w io.Writer, rep executive.AuditReport, maxCollisions int) error {
	fmt.Fprintf(w, "hyperperiod: %d ticks\nwindow:      %d ticks\n\n", rep.Hyperperiod, rep.Window)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPERIOD\tPHASE\tDUE\tWON\tSTARVED\tRAN")
	for _, t := range rep.Tasks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", t.Name, t.Period, t.Phase, t.Due, t.Won, t.Starved, t.Ran)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nidle slots: %d  skipped slots: %d  simulated idle ticks: %d\n",
		rep.IdleSlots, rep.SkippedSlots, rep.SimIdleTicks)
	fmt.Fprintf(w, "collisions: %d\n", len(rep.Collisions))
	for i, c := range rep.Collisions {
		if maxCollisions >= 0 && i >= maxCollisions {
			fmt.Fprintf(w, "  ... %d more\n", len(rep.Collisions)-i)
			break
		}
		fmt.Fprintf(w, "  slot %d: %s wins over %s\n", c.Slot, c.Winner, strings.Join(c.Losers, ", "))
	}
	return nil
}
