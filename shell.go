package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"piazza-lending/library"
)

func newShellCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session reusing one database connection",
		Long: "Reads one command per line, using the same syntax as the command line.\n" +
			"Extra commands: 'as <user id>' switches the acting user, 'whoami', 'exit'.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, e)
		},
	}
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w, "Welcome to the piazza shelf!")
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  Catalog:     item list|search|show|add-boardgame|add-videogame|add-book|import-bgg|copies|delete")
	fmt.Fprintln(w, "  Lending:     borrow, return, borrows, interest declare|cancel|list, reminders")
	fmt.Fprintln(w, "  Suggestions: suggest, vote, unvote, suggestions list|show|similar|status|merge|delete")
	fmt.Fprintln(w, "  Stats:       stats users|items|overdue|due")
	fmt.Fprintln(w, "  Session:     as <user id>, whoami, help, exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tips:")
	fmt.Fprintln(w, "  • Items can be named by id or by (part of) their name, e.g. borrow \"Ticket to Ride\"")
}

func runShell(cmd *cobra.Command, e *env) error {
	in, out := cmd.InOrStdin(), cmd.OutOrStdout()
	interactive := isInteractive(in)
	if e.user > 0 {
		e.shellUser = library.UserID(e.user)
	}
	if interactive {
		printBanner(out)
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "\n> ")
		}
		if !scanner.Scan() {
			break
		}
		if err := cmd.Context().Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}

		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "as":
			if len(args) != 2 {
				fmt.Fprintln(out, "Usage: as <user id>")
				continue
			}
			id, err := parseID(args[1], "user id")
			if err == nil && id == 0 {
				err = fmt.Errorf("invalid user id: %s", args[1])
			}
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			e.shellUser = library.UserID(id)
			fmt.Fprintf(out, "Acting as %s\n", userLabel(e.shellUser))
			continue
		case "whoami":
			if e.shellUser == 0 {
				fmt.Fprintln(out, "No acting user, use 'as <user id>'")
			} else {
				fmt.Fprintf(out, "Acting as %s\n", userLabel(e.shellUser))
			}
			continue
		case "shell":
			fmt.Fprintln(out, "Already in the shell.")
			continue
		}

		child := &env{now: e.now, cfg: e.cfg, log: e.log, mgr: e.mgr, shellUser: e.shellUser, nested: true}
		sub := newRootCommand(child)
		sub.SetArgs(args)
		sub.SetOut(out)
		sub.SetErr(cmd.ErrOrStderr())
		if err := sub.ExecuteContext(cmd.Context()); err != nil {
			fmt.Fprintf(out, "Error: %s\n", errorMessage(err))
		}
	}
	return scanner.Err()
}

// splitArgs splits a shell line on blanks. Single or double quotes group
// words; there are no escapes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inToken = r, true
		case r == ' ' || r == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
