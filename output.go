package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"piazza-lending/library"
)

const defaultWidth = 100

// terminalWidth is the width of w when it is a terminal, else defaultWidth.
func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 40 {
			return width
		}
	}
	return defaultWidth
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}

func userLabel(u library.UserID) string { return fmt.Sprintf("user %d", u) }

func formatTime(t time.Time) string { return t.Local().Format("2006-01-02 15:04") }

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateOnly)
}

func noticeText(n library.Notice) string {
	switch n.Kind {
	case library.NoticeItemBorrowed:
		return fmt.Sprintf("%s just borrowed %q, %d copies left", userLabel(n.Actor), n.ItemName, max(n.CopiesAvailable, 0))
	case library.NoticeItemReturned:
		return fmt.Sprintf("%q was returned, %d copies available now", n.ItemName, max(n.CopiesAvailable, 0))
	case library.NoticeInterestDeclared:
		return fmt.Sprintf("%s is also interested in %q", userLabel(n.Actor), n.ItemName)
	case library.NoticeReturnReminder:
		return fmt.Sprintf("reminder: %q is due back on %s", n.ItemName, formatDate(n.DueAt))
	}
	return string(n.Kind)
}

// noticePrinter delivers notices by writing them to w.
func noticePrinter(w io.Writer) library.Sender {
	return library.SenderFunc(func(_ context.Context, n library.Notice) error {
		_, err := fmt.Fprintf(w, "  -> %s: %s\n", userLabel(n.Recipient), noticeText(n))
		return err
	})
}

// nameWidth is what is left of width once fixed columns are printed.
func nameWidth(w io.Writer, fixed int) int {
	return max(terminalWidth(w)-fixed, 20)
}

func printItems(w io.Writer, items []*library.Item) {
	nw := nameWidth(w, 40)
	fmt.Fprintf(w, "%-6s %-*s %-10s %s\n", "ID", nw, "Name", "Kind", "Available")
	fmt.Fprintln(w, strings.Repeat("-", nw+30))
	for _, it := range items {
		fmt.Fprintf(w, "%-6d %-*s %-10s %d/%d\n",
			it.ID, nw, truncateString(it.Name, nw), it.Kind, it.DisplayCopies(), it.TotalCopies)
	}
}

func printBorrows(w io.Writer, borrows []library.Borrow) {
	nw := nameWidth(w, 60)
	fmt.Fprintf(w, "%-10s %-*s %-17s %-11s %s\n", "User", nw, "Item", "Retrieved", "Due", "Returned")
	fmt.Fprintln(w, strings.Repeat("-", nw+55))
	for _, b := range borrows {
		name := b.ItemName
		if name == "" {
			name = fmt.Sprintf("(deleted item %d)", b.ItemID)
		}
		fmt.Fprintf(w, "%-10d %-*s %-17s %-11s %s\n",
			b.User, nw, truncateString(name, nw), formatTime(b.RetrievedAt), formatDate(b.PlannedReturn), formatDate(b.ReturnedAt))
	}
}

func printDropped(w io.Writer, dropped []library.DroppedToken) {
	for _, d := range dropped {
		fmt.Fprintf(w, "ignored filter %q: %s\n", d.Token, d.Reason)
	}
}
