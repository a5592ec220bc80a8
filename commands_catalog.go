package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"piazza-lending/library"
)

func newItemCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage the catalog",
	}
	cmd.AddCommand(newAddBoardGameCommand(e))
	cmd.AddCommand(newAddVideoGameCommand(e))
	cmd.AddCommand(newAddBookCommand(e))
	cmd.AddCommand(newImportBGGCommand(e))
	cmd.AddCommand(newDeleteItemCommand(e))
	cmd.AddCommand(newCopiesCommand(e))
	cmd.AddCommand(newShowItemCommand(e))
	cmd.AddCommand(newSearchCommand(e))
	cmd.AddCommand(newListItemsCommand(e))
	return cmd
}

// commonItemFlags are shared by every add-* command.
type commonItemFlags struct {
	copies      int
	description string
	thumbnail   string
	categories  []string
}

func (f *commonItemFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.copies, "copies", 1, "number of copies on the shelf")
	cmd.Flags().StringVar(&f.description, "description", "", "short description")
	cmd.Flags().StringVar(&f.thumbnail, "thumbnail", "", "image URL")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "category tag (repeatable)")
}

func (f *commonItemFlags) draft(name string, details library.Details) library.ItemDraft {
	return library.ItemDraft{
		Name:        name,
		Description: f.description,
		Thumbnail:   f.thumbnail,
		Categories:  f.categories,
		TotalCopies: f.copies,
		Details:     details,
	}
}

func (e *env) addItem(cmd *cobra.Command, draft library.ItemDraft) error {
	id, err := e.mgr.AddItem(cmd.Context(), draft)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s %q with ID %d (%d copies)\n", draft.Details.Kind(), draft.Name, id, draft.TotalCopies)
	return nil
}

func newAddBoardGameCommand(e *env) *cobra.Command {
	var (
		common              commonItemFlags
		minP, maxP, minutes int
		learn, play         string
	)
	cmd := &cobra.Command{
		Use:   "add-boardgame <name>",
		Short: "Add a board game",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learnD, err := library.ParseDifficulty(learn)
			if err != nil {
				return err
			}
			playD, err := library.ParseDifficulty(play)
			if err != nil {
				return err
			}
			return e.addItem(cmd, common.draft(strings.Join(args, " "), library.BoardGameDetails{
				MinPlayers:      minP,
				MaxPlayers:      maxP,
				PlayingTime:     minutes,
				LearnDifficulty: learnD,
				PlayDifficulty:  playD,
			}))
		},
	}
	common.bind(cmd)
	cmd.Flags().IntVar(&minP, "min", 1, "minimum players")
	cmd.Flags().IntVar(&maxP, "max", 1, "maximum players")
	cmd.Flags().IntVar(&minutes, "time", 0, "playing time in minutes")
	cmd.Flags().StringVar(&learn, "learn", "", "learning difficulty (party|easy|normal|hard|campaign)")
	cmd.Flags().StringVar(&play, "play", "", "playing difficulty (party|easy|normal|hard|campaign)")
	return cmd
}

func newAddVideoGameCommand(e *env) *cobra.Command {
	var (
		common              commonItemFlags
		minP, maxP, minutes int
		difficulty          string
		platform            string
	)
	cmd := &cobra.Command{
		Use:   "add-videogame <name>",
		Short: "Add a video game",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := library.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}
			p, err := library.ParsePlatform(platform)
			if err != nil {
				return err
			}
			return e.addItem(cmd, common.draft(strings.Join(args, " "), library.VideoGameDetails{
				MinPlayers:  minP,
				MaxPlayers:  maxP,
				PlayingTime: minutes,
				Difficulty:  d,
				Platform:    p,
			}))
		},
	}
	common.bind(cmd)
	cmd.Flags().IntVar(&minP, "min", 1, "minimum players")
	cmd.Flags().IntVar(&maxP, "max", 1, "maximum players")
	cmd.Flags().IntVar(&minutes, "time", 0, "playing time in minutes")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "difficulty (party|easy|normal|hard|campaign)")
	cmd.Flags().StringVar(&platform, "platform", "", "pc|ps4|ps5|xbox|switch")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newAddBookCommand(e *env) *cobra.Command {
	var (
		common        commonItemFlags
		author, genre string
		pages         int
	)
	cmd := &cobra.Command{
		Use:   "add-book <title>",
		Short: "Add a book",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.addItem(cmd, common.draft(strings.Join(args, " "), library.BookDetails{
				Author: author,
				Pages:  pages,
				Genre:  genre,
			}))
		},
	}
	common.bind(cmd)
	cmd.Flags().StringVar(&author, "author", "", "author")
	cmd.Flags().StringVar(&genre, "genre", "", "genre")
	cmd.Flags().IntVar(&pages, "pages", 0, "page count")
	return cmd
}

func newImportBGGCommand(e *env) *cobra.Command {
	var (
		ov          library.BoardGameOverrides
		learn, play string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "import-bgg <bgg id | search text>",
		Short: "Add a board game with BoardGameGeek metadata, or search BoardGameGeek",
		Long: "With a numeric id the game is fetched and inserted; flags override the fetched values.\n" +
			"If BoardGameGeek cannot be reached and --name is given, the game is inserted from the flags alone.\n" +
			"With any other text the matching games are listed so you can pick an id.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			query := strings.Join(args, " ")

			externalID, err := strconv.ParseInt(query, 10, 64)
			if err != nil {
				drafts, err := e.mgr.LookupMetadata(ctx, query, limit)
				if err != nil {
					return err
				}
				if len(drafts) == 0 {
					fmt.Fprintf(out, "No board games found for %q.\n", query)
					return nil
				}
				nw := nameWidth(out, 30)
				fmt.Fprintf(out, "%-8s %-*s %s\n", "BGG ID", nw, "Name", "Players")
				fmt.Fprintln(out, strings.Repeat("-", nw+20))
				for _, d := range drafts {
					bg, _ := d.Details.(library.BoardGameDetails)
					var ref int64
					if bg.ExternalRef != nil {
						ref = *bg.ExternalRef
					}
					fmt.Fprintf(out, "%-8d %-*s %d-%d\n", ref, nw, truncateString(d.Name, nw), bg.MinPlayers, bg.MaxPlayers)
				}
				return nil
			}

			if ov.LearnDifficulty, err = library.ParseDifficulty(learn); err != nil {
				return err
			}
			if ov.PlayDifficulty, err = library.ParseDifficulty(play); err != nil {
				return err
			}
			id, degraded, err := e.mgr.InsertBoardGameFromMetadata(ctx, externalID, ov)
			if err != nil {
				return err
			}
			item, err := e.mgr.GetItem(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Added board game %q with ID %d (%d copies)\n", item.Name, item.ID, item.TotalCopies)
			if degraded {
				fmt.Fprintln(out, "BoardGameGeek was unreachable, rank and rating are unknown for now.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ov.Name, "name", "", "name to store instead of the BoardGameGeek one")
	cmd.Flags().IntVar(&ov.TotalCopies, "copies", 0, "number of copies (default 1)")
	cmd.Flags().StringSliceVar(&ov.Categories, "category", nil, "category tag (repeatable)")
	cmd.Flags().StringVar(&learn, "learn", "", "learning difficulty")
	cmd.Flags().StringVar(&play, "play", "", "playing difficulty")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum search results")
	return cmd
}

func newDeleteItemCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item>",
		Short: "Remove an item from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := e.resolveItem(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			name, err := e.mgr.DeleteItem(cmd.Context(), item.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q (ID %d)\n", name, item.ID)
			return nil
		},
	}
}

func newCopiesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "copies <item> <count>",
		Short: "Change how many copies of an item exist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := e.resolveItem(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid copy count: %s", args[1])
			}
			if err := e.mgr.EditCopies(cmd.Context(), item.ID, n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%q now has %d copies\n", item.Name, n)
			return nil
		},
	}
}

func newShowItemCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item>",
		Short: "Show an item with its loans and waitlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			item, err := e.resolveItem(ctx, strings.Join(args, " "), "")
			if err != nil {
				return err
			}
			view, err := e.mgr.GetItemView(ctx, item.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s (ID %d, %s)\n", view.Name, view.ID, view.Kind)
			fmt.Fprintf(out, "  Copies:      %d of %d available\n", view.DisplayCopies(), view.TotalCopies)
			if len(view.Categories) > 0 {
				fmt.Fprintf(out, "  Categories:  %s\n", strings.Join(view.Categories, ", "))
			}
			switch d := view.Details.(type) {
			case library.BoardGameDetails:
				fmt.Fprintf(out, "  Players:     %d-%d, %d min\n", d.MinPlayers, d.MaxPlayers, d.PlayingTime)
				fmt.Fprintf(out, "  Difficulty:  learn %s, play %s\n", d.LearnDifficulty, d.PlayDifficulty)
				if d.Rank != nil {
					fmt.Fprintf(out, "  BGG rank:    %d\n", *d.Rank)
				}
				if d.AvgRating != nil {
					fmt.Fprintf(out, "  Rating:      %.2f\n", *d.AvgRating)
				}
			case library.VideoGameDetails:
				fmt.Fprintf(out, "  Players:     %d-%d, %d min\n", d.MinPlayers, d.MaxPlayers, d.PlayingTime)
				fmt.Fprintf(out, "  Platform:    %s, difficulty %s\n", d.Platform, d.Difficulty)
			case library.BookDetails:
				fmt.Fprintf(out, "  Author:      %s\n", d.Author)
				fmt.Fprintf(out, "  Pages:       %d, genre %s\n", d.Pages, d.Genre)
			}
			if view.Description != "" {
				fmt.Fprintf(out, "  %s\n", truncateString(view.Description, terminalWidth(out)-2))
			}

			borrows, err := e.mgr.ListBorrows(ctx, library.BorrowQuery{ItemID: &item.ID, OpenOnly: true})
			if err != nil {
				return err
			}
			if len(borrows) > 0 {
				fmt.Fprintln(out, "\nBorrowed by:")
				for _, b := range borrows {
					fmt.Fprintf(out, "  %s since %s, due %s\n", userLabel(b.User), formatTime(b.RetrievedAt), formatDate(b.PlannedReturn))
				}
			}
			interests, err := e.mgr.Interests(ctx, item.ID)
			if err != nil {
				return err
			}
			if len(interests) > 0 {
				fmt.Fprintln(out, "\nWaiting:")
				for i, in := range interests {
					fmt.Fprintf(out, "  %d. %s since %s\n", i+1, userLabel(in.User), formatTime(in.DeclaredAt))
				}
			}
			return nil
		},
	}
}

func newSearchCommand(e *env) *cobra.Command {
	var (
		req  library.SearchRequest
		kind string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Filter the catalog",
		Long: "Filters are comma separated key<op>value tokens, e.g. --and \"min<=2, max>=4\".\n" +
			"Keys: id, name, play, learn, difficulty, min, max, platform, genre, pages, length.\n" +
			"Operators: == != >= <= > <. Tokens that cannot be used are reported and ignored.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				k, err := library.ParseKind(kind)
				if err != nil {
					return err
				}
				req.Kind = k
			}
			res, err := e.mgr.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printDropped(out, res.Dropped)
			if len(res.Items) == 0 {
				fmt.Fprintln(out, "No items match.")
				return nil
			}
			printItems(out, res.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Or, "or", "", "tokens of which any must hold")
	cmd.Flags().StringVar(&req.And, "and", "", "tokens which must all hold")
	cmd.Flags().StringVar(&kind, "kind", "", "boardgame|videogame|book")
	cmd.Flags().BoolVar(&req.OrderByName, "sort-name", false, "sort by name instead of id")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum results")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "results to skip")
	return cmd
}

func newListItemsCommand(e *env) *cobra.Command {
	var (
		kind          string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			var k library.Kind
			if kind != "" {
				var err error
				if k, err = library.ParseKind(kind); err != nil {
					return err
				}
			}
			items, err := e.mgr.ListItems(ctx, k, limit, offset)
			if err != nil {
				return err
			}
			total, err := e.mgr.CountItems(ctx, k)
			if err != nil {
				return err
			}
			if total == 0 {
				fmt.Fprintln(out, "No items in the catalog.")
				return nil
			}
			printItems(out, items)
			fmt.Fprintf(out, "\nShowing %d of %d items\n", len(items), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "boardgame|videogame|book")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}
