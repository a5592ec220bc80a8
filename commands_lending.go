package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"piazza-lending/library"
)

func newBorrowCommand(e *env) *cobra.Command {
	var returnDate, retrieved string
	cmd := &cobra.Command{
		Use:   "borrow <item>",
		Short: "Take a copy of an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			user, err := e.actor()
			if err != nil {
				return err
			}
			item, err := e.resolveItem(ctx, strings.Join(args, " "), "")
			if err != nil {
				return err
			}

			req := library.BorrowRequest{User: user, ItemID: item.ID}
			if returnDate != "" {
				t, err := library.ParseDate(returnDate, e.cfg.Lending.DateFormat)
				if err != nil {
					return err
				}
				req.PlannedReturn = &t
			}
			if retrieved != "" {
				t, err := library.ParseDate(retrieved, e.cfg.Lending.DateFormat)
				if err != nil {
					return err
				}
				req.Retrieval = &t
			}

			res, err := e.mgr.Borrow(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s borrowed %q, %d copies left\n", userLabel(user), res.Item.Name, max(res.CopiesAvailable, 0))
			if req.PlannedReturn != nil {
				fmt.Fprintf(out, "Please bring it back by %s\n", formatDate(req.PlannedReturn))
			}
			if res.ClearedInterest {
				fmt.Fprintln(out, "You were removed from its waitlist.")
			}
			e.deliver(cmd, res.Notices)
			return nil
		},
	}
	cmd.Flags().StringVar(&returnDate, "return-date", "", "planned return date")
	cmd.Flags().StringVar(&retrieved, "retrieved", "", "when the item was picked up, if not now")
	return cmd
}

func newReturnCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "return <item>",
		Short: "Bring a borrowed item back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			user, err := e.actor()
			if err != nil {
				return err
			}
			item, err := e.resolveItem(ctx, strings.Join(args, " "), "")
			if err != nil {
				return err
			}
			res, err := e.mgr.Return(ctx, user, item.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s returned %q, %d copies available\n", userLabel(user), res.Item.Name, max(res.CopiesAvailable, 0))
			if len(res.Interested) > 0 {
				fmt.Fprintf(out, "Notifying %d interested users\n", len(res.Interested))
			}
			e.deliver(cmd, res.Notices)
			return nil
		},
	}
}

func newBorrowsCommand(e *env) *cobra.Command {
	var (
		mine, open, all bool
		itemArg         string
		limit, offset   int
	)
	cmd := &cobra.Command{
		Use:   "borrows",
		Short: "List loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			q := library.BorrowQuery{OpenOnly: open && !all, Limit: limit, Offset: offset}
			if mine {
				user, err := e.actor()
				if err != nil {
					return err
				}
				q.User = &user
			}
			if itemArg != "" {
				item, err := e.resolveItem(ctx, itemArg, "")
				if err != nil {
					return err
				}
				q.ItemID = &item.ID
			}
			borrows, err := e.mgr.ListBorrows(ctx, q)
			if err != nil {
				return err
			}
			total, err := e.mgr.CountBorrows(ctx, q)
			if err != nil {
				return err
			}
			if total == 0 {
				fmt.Fprintln(out, "No loans.")
				return nil
			}
			printBorrows(out, borrows)
			fmt.Fprintf(out, "\nShowing %d of %d loans\n", len(borrows), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only loans of the acting user")
	cmd.Flags().BoolVar(&open, "open", true, "only loans not yet returned")
	cmd.Flags().BoolVar(&all, "all", false, "include returned loans")
	cmd.Flags().StringVar(&itemArg, "item", "", "only loans of this item")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}

func newInterestCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Manage waitlists",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "declare <item>",
		Short: "Ask to be notified when a copy comes back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			user, err := e.actor()
			if err != nil {
				return err
			}
			item, err := e.resolveItem(ctx, strings.Join(args, " "), "")
			if err != nil {
				return err
			}
			res, err := e.mgr.DeclareInterest(ctx, user, item.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s is now waiting for %q", userLabel(user), res.Item.Name)
			if len(res.Others) > 0 {
				fmt.Fprintf(out, " (%d others are waiting too)", len(res.Others))
			}
			fmt.Fprintln(out)
			e.deliver(cmd, res.Notices)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <item id>",
		Short: "Leave a waitlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := e.actor()
			if err != nil {
				return err
			}
			// The id form works for items that have been deleted since.
			itemID, err := parseID(args[0], "item id")
			if err != nil {
				item, rerr := e.resolveItem(cmd.Context(), args[0], "")
				if rerr != nil {
					return rerr
				}
				itemID = item.ID
			}
			if err := e.mgr.CancelInterest(cmd.Context(), user, itemID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s left the waitlist of item %d\n", userLabel(user), itemID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [item]",
		Short: "Show who waits for an item, or what the acting user waits for",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			var (
				interests []library.Interest
				err       error
			)
			if len(args) == 1 {
				item, rerr := e.resolveItem(ctx, args[0], "")
				if rerr != nil {
					return rerr
				}
				interests, err = e.mgr.Interests(ctx, item.ID)
			} else {
				user, uerr := e.actor()
				if uerr != nil {
					return uerr
				}
				interests, err = e.mgr.UserInterests(ctx, user)
			}
			if err != nil {
				return err
			}
			if len(interests) == 0 {
				fmt.Fprintln(out, "Nobody is waiting.")
				return nil
			}
			nw := nameWidth(out, 40)
			fmt.Fprintf(out, "%-10s %-*s %s\n", "User", nw, "Item", "Since")
			fmt.Fprintln(out, strings.Repeat("-", nw+30))
			for _, in := range interests {
				fmt.Fprintf(out, "%-10d %-*s %s\n", in.User, nw, truncateString(in.ItemName, nw), formatTime(in.DeclaredAt))
			}
			return nil
		},
	})
	return cmd
}

func newRemindersCommand(e *env) *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List loans due soon that were not reminded yet, or send the reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			if send {
				report, err := e.mgr.SendReminders(ctx, noticePrinter(out))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Sent %d reminders, %d failed\n", len(report.Sent), len(report.Failed))
				return nil
			}
			due, err := e.mgr.DueReminders(ctx)
			if err != nil {
				return err
			}
			if len(due) == 0 {
				fmt.Fprintf(out, "No reminders due within %s.\n", e.cfg.Lending.ReminderWindow)
				return nil
			}
			printBorrows(out, due)
			return nil
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "deliver the reminders and mark them sent")
	return cmd
}

// dueLabel describes how far t is from now.
func dueLabel(t *time.Time, now time.Time) string {
	if t == nil {
		return ""
	}
	d := t.Sub(now).Round(time.Hour)
	if d < 0 {
		return fmt.Sprintf("%s late", -d)
	}
	return fmt.Sprintf("in %s", d)
}
