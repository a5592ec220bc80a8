package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"piazza-lending/library"
)

func newStatsCommand(e *env) *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Lending statistics",
	}
	cmd.PersistentFlags().StringVar(&order, "order", "borrowed", "borrowed|recent|alpha")

	cmd.AddCommand(&cobra.Command{
		Use:   "users",
		Short: "Loans per user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := library.ParseStatsOrder(order)
			if err != nil {
				return err
			}
			stats, err := e.mgr.UserStats(cmd.Context(), o)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "Nothing has been borrowed yet.")
				return nil
			}
			fmt.Fprintf(out, "%-10s %-8s %-6s %s\n", "User", "Borrows", "Open", "Last borrow")
			fmt.Fprintln(out, strings.Repeat("-", 45))
			for _, s := range stats {
				fmt.Fprintf(out, "%-10d %-8d %-6d %s\n", s.User, s.Borrows, s.Open, formatTime(s.LastBorrow))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "items",
		Short: "Loans per item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := library.ParseStatsOrder(order)
			if err != nil {
				return err
			}
			stats, err := e.mgr.ItemStats(cmd.Context(), o)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "Nothing has been borrowed yet.")
				return nil
			}
			nw := nameWidth(out, 45)
			fmt.Fprintf(out, "%-6s %-*s %-8s %-6s %s\n", "ID", nw, "Item", "Borrows", "Open", "Last borrow")
			fmt.Fprintln(out, strings.Repeat("-", nw+45))
			for _, s := range stats {
				name := s.ItemName
				if name == "" {
					name = "(deleted)"
				}
				fmt.Fprintf(out, "%-6d %-*s %-8d %-6d %s\n", s.ItemID, nw, truncateString(name, nw), s.Borrows, s.Open, formatTime(s.LastBorrow))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "overdue",
		Short: "Open loans past their planned return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			late, err := e.mgr.Overdue(cmd.Context())
			if err != nil {
				return err
			}
			printDue(cmd, late, e.now(), "Nothing is overdue.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "Open loans due within the reminder window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			soon, err := e.mgr.DueSoon(cmd.Context())
			if err != nil {
				return err
			}
			printDue(cmd, soon, e.now(), fmt.Sprintf("Nothing is due within %s.", e.cfg.Lending.ReminderWindow))
			return nil
		},
	})
	return cmd
}

func printDue(cmd *cobra.Command, borrows []library.Borrow, now time.Time, empty string) {
	out := cmd.OutOrStdout()
	if len(borrows) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	nw := nameWidth(out, 40)
	fmt.Fprintf(out, "%-10s %-*s %-11s %s\n", "User", nw, "Item", "Due", "")
	fmt.Fprintln(out, strings.Repeat("-", nw+40))
	for _, b := range borrows {
		fmt.Fprintf(out, "%-10d %-*s %-11s %s\n", b.User, nw, truncateString(b.ItemName, nw), formatDate(b.PlannedReturn), dueLabel(b.PlannedReturn, now))
	}
}
