package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"piazza-lending/library"
)

func printMatches(w io.Writer, header string, matches []library.Match) {
	if len(matches) == 0 {
		return
	}
	fmt.Fprintln(w, header)
	for _, m := range matches {
		fmt.Fprintf(w, "  %s (%d%%)\n", m.Name, m.Score)
	}
}

func newSuggestCommand(e *env) *cobra.Command {
	var (
		typ string
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "suggest <name>",
		Short: "Propose an item for the community to get",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			user, err := e.actor()
			if err != nil {
				return err
			}
			t, err := library.ParseSuggestionType(typ)
			if err != nil {
				return err
			}
			res, err := e.mgr.Suggest(cmd.Context(), user, strings.Join(args, " "), t, yes)
			if err != nil {
				return err
			}
			if !res.Created {
				printMatches(out, fmt.Sprintf("%s looks like an existing suggestion:", res.Name), res.Similar)
				fmt.Fprintln(out, "Vote for one of them, or run again with --yes to add it anyway.")
				return nil
			}
			fmt.Fprintf(out, "Suggested %s, your vote is counted\n", res.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(library.SuggestBoardGame), "BOARD|BOOK|SWITCH|PS4|PS5|XBOX|DECK")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "add even if similar suggestions exist")
	return cmd
}

func newVoteCommand(e *env) *cobra.Command {
	var best bool
	cmd := &cobra.Command{
		Use:   "vote <suggestion>",
		Short: "Vote for a suggestion",
		Long:  "The name must match exactly (case-insensitive). With --best the closest suggestion is voted instead.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			user, err := e.actor()
			if err != nil {
				return err
			}
			name := strings.Join(args, " ")
			var res *library.VoteResult
			if best {
				res, err = e.mgr.VoteBestMatch(cmd.Context(), user, name)
			} else {
				res, err = e.mgr.Vote(cmd.Context(), user, name)
			}
			if err != nil {
				return err
			}
			if res.Voted == "" {
				if len(res.Candidates) == 0 {
					fmt.Fprintf(out, "No suggestion resembles %q.\n", name)
					return nil
				}
				printMatches(out, fmt.Sprintf("No suggestion is called %q. Did you mean:", name), res.Candidates)
				return nil
			}
			fmt.Fprintf(out, "Voted for %s (%d votes)\n", res.Voted, res.Votes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&best, "best", false, "vote the closest match when the name is not exact")
	return cmd
}

func newUnvoteCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "unvote <suggestion>",
		Short: "Withdraw a vote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := e.actor()
			if err != nil {
				return err
			}
			name := strings.Join(args, " ")
			deleted, err := e.mgr.Unvote(cmd.Context(), user, name)
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Vote withdrawn, %q had no votes left and was removed\n", name)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Vote withdrawn")
			}
			return nil
		},
	}
}

func newSuggestionsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Review suggestions",
	}

	var typ, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List suggestions by votes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var (
				t   library.SuggestionType
				st  library.SuggestionStatus
				err error
			)
			if typ != "" {
				if t, err = library.ParseSuggestionType(typ); err != nil {
					return err
				}
			}
			if status != "" {
				if st, err = library.ParseSuggestionStatus(status); err != nil {
					return err
				}
			}
			items, err := e.mgr.ListSuggestions(cmd.Context(), t, st)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No suggestions yet.")
				return nil
			}
			nw := nameWidth(out, 30)
			fmt.Fprintf(out, "%-6s %-*s %-9s %s\n", "Votes", nw, "Name", "Status", "Proposed by")
			fmt.Fprintln(out, strings.Repeat("-", nw+35))
			for _, s := range items {
				fmt.Fprintf(out, "%-6d %-*s %-9s %s\n", s.Votes, nw, truncateString(s.Name, nw), s.Status, userLabel(s.Proposer))
			}
			return nil
		},
	}
	list.Flags().StringVarP(&typ, "type", "t", "", "only this type")
	list.Flags().StringVar(&status, "status", "", "only this status")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <suggestion>",
		Short: "Show a suggestion and its voters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.mgr.GetSuggestion(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n  Status:   %s\n  Proposed: %s by %s\n  Votes:    %d\n",
				s.Name, s.Status, formatTime(s.CreatedAt), userLabel(s.Proposer), s.Votes)
			voters := make([]string, 0, len(s.Voters))
			for _, v := range s.Voters {
				voters = append(voters, userLabel(v))
			}
			fmt.Fprintf(out, "  Voters:   %s\n", strings.Join(voters, ", "))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "similar <text>",
		Short: "Show the suggestions closest to a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			matches, err := e.mgr.SuggestionAlternatives(cmd.Context(), text)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing resembles %q.\n", text)
				return nil
			}
			printMatches(cmd.OutOrStdout(), "Closest suggestions:", matches)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <suggestion> <PENDING|ACCEPTED|REJECTED|BOUGHT>",
		Short: "Set the review status of a suggestion",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := library.ParseSuggestionStatus(args[len(args)-1])
			if err != nil {
				return err
			}
			name := strings.Join(args[:len(args)-1], " ")
			if err := e.mgr.UpdateSuggestionStatus(cmd.Context(), name, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", name, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "merge <into> <from>",
		Short: "Fold a duplicate suggestion into another, keeping its votes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.mgr.MergeSuggestions(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged into %s: %d votes moved, %d votes total\n", res.Into, res.Transferred, res.Votes)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <suggestion>",
		Short: "Remove a suggestion and its votes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := e.mgr.DeleteSuggestion(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			return nil
		},
	})
	return cmd
}
